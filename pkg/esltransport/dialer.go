// Package esltransport opens the byte streams an event socket session runs over:
// plain TCP, TLS, a websocket bridge, a tunnel through an ssh jump host, or a
// SOCKS5 proxy.
package esltransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	esshare "github.com/sammck-go/eventsocket/share"
)

// DefaultPort is the port the event socket listens on unless configured otherwise
const DefaultPort = 8021

const defaultDialTimeout = 30 * time.Second

// Dialer opens a connection to the event socket at address ("host:port")
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer dials plain TCP
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// DialContext implements Dialer
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: timeoutOrDefault(d.Timeout), KeepAlive: d.KeepAlive}
	return nd.DialContext(ctx, "tcp", address)
}

// TLSDialer dials TCP and runs a TLS handshake. A nil Config verifies the
// server against the system roots using the host part of the address.
type TLSDialer struct {
	Config  *tls.Config
	Timeout time.Duration
}

// DialContext implements Dialer
func (d *TLSDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	td := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeoutOrDefault(d.Timeout)},
		Config:    d.Config,
	}
	return td.DialContext(ctx, "tcp", address)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultDialTimeout
	}
	return d
}

// Address is a parsed event socket address
type Address struct {
	// Scheme is one of "tcp", "tls", "ws" or "wss"
	Scheme string
	// Host is "host:port"
	Host string
	// Path is the websocket request path
	Path string
}

// ParseAddress parses "host[:port]" or "scheme://host[:port][/path]". The port
// defaults to DefaultPort for tcp and tls, and to 80 or 443 for ws and wss.
func ParseAddress(address string) (*Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("empty address")
	}
	a := &Address{Scheme: "tcp"}
	host := address
	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", address, err)
		}
		a.Scheme = strings.ToLower(u.Scheme)
		host = u.Host
		a.Path = u.Path
	}
	port := DefaultPort
	switch a.Scheme {
	case "tcp", "tls":
	case "ws":
		port = 80
	case "wss":
		port = 443
	default:
		return nil, fmt.Errorf("unsupported scheme %q in address %q", a.Scheme, address)
	}
	if host == "" {
		return nil, fmt.Errorf("missing host in address %q", address)
	}
	a.Host = esshare.JoinHostPort(host, port)
	return a, nil
}

func (a *Address) String() string {
	return a.Scheme + "://" + a.Host + a.Path
}

// Dialer returns the Dialer for the address scheme
func (a *Address) Dialer() Dialer {
	switch a.Scheme {
	case "tls":
		return &TLSDialer{}
	case "ws", "wss":
		return &WebSocketDialer{Secure: a.Scheme == "wss", Path: a.Path}
	default:
		return &TCPDialer{KeepAlive: 30 * time.Second}
	}
}
