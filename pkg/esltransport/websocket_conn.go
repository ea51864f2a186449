package esltransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer reaches the event socket through a websocket to TCP bridge.
// Each binary message carries a chunk of the byte stream.
type WebSocketDialer struct {
	// Secure selects wss instead of ws
	Secure bool
	// Path is the request path; "/" when empty
	Path string

	TLSConfig        *tls.Config
	Header           http.Header
	HandshakeTimeout time.Duration
}

// DialContext implements Dialer
func (d *WebSocketDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: d.Path}
	if d.Secure {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	wd := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: timeoutOrDefault(d.HandshakeTimeout),
		TLSClientConfig:  d.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := wd.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (HTTP %s)", u.String(), err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", u.String(), err)
	}
	return NewWebSocketConn(ws), nil
}

// wsConn adapts a websocket to a net.Conn
type wsConn struct {
	*websocket.Conn
	readMu  sync.Mutex
	buf     []byte
	writeMu sync.Mutex
}

// NewWebSocketConn wraps a websocket so that it can be read and written as a
// byte stream. Text and binary messages are both accepted on read; writes are
// sent as binary messages.
func NewWebSocketConn(ws *websocket.Conn) net.Conn {
	return &wsConn{Conn: ws}
}

// Read implements the Reader interface
func (c *wsConn) Read(dst []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for len(c.buf) == 0 {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.buf = msg
	}
	n := copy(dst, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write implements the Writer interface
func (c *wsConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}
