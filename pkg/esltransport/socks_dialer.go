package esltransport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"

	esshare "github.com/sammck-go/eventsocket/share"
)

// SOCKS5Dialer reaches the event socket through a SOCKS5 proxy
type SOCKS5Dialer struct {
	// Proxy is "[user[:password]@]host[:port]"; the port defaults to 1080
	Proxy string
}

// DialContext implements Dialer
func (d *SOCKS5Dialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	user, pass, hostPort := esshare.ParseUserHost(d.Proxy, 1080)
	var auth *proxy.Auth
	if user != "" {
		auth = &proxy.Auth{User: user, Password: pass}
	}
	pd, err := proxy.SOCKS5("tcp", hostPort, auth, &net.Dialer{Timeout: defaultDialTimeout})
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", hostPort, err)
	}
	var conn net.Conn
	if cd, ok := pd.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", address)
	} else {
		conn, err = pd.Dial("tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", hostPort, err)
	}
	return conn, nil
}
