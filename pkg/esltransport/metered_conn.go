package esltransport

import (
	"fmt"
	"net"
	"sync/atomic"
)

// MeteredConn is a net.Conn that counts the bytes moved in each direction
type MeteredConn struct {
	net.Conn
	id           int32
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// NewMeteredConn wraps conn. id is only used to name the connection in logs.
func NewMeteredConn(id int32, conn net.Conn) *MeteredConn {
	return &MeteredConn{Conn: conn, id: id}
}

// ID returns the id the connection was created with
func (c *MeteredConn) ID() int32 {
	return c.id
}

// Read implements the Reader interface
func (c *MeteredConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.bytesRead.Add(int64(n))
	return n, err
}

// Write implements the Writer interface
func (c *MeteredConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.bytesWritten.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes read so far
func (c *MeteredConn) BytesRead() int64 {
	return c.bytesRead.Load()
}

// BytesWritten returns the number of bytes written so far
func (c *MeteredConn) BytesWritten() int64 {
	return c.bytesWritten.Load()
}

func (c *MeteredConn) String() string {
	return fmt.Sprintf("conn#%d(%s)", c.id, c.Conn.RemoteAddr())
}
