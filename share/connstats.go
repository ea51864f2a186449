package esshare

import (
	"fmt"
	"sync/atomic"
)

// ConnStats keeps track of both currently open and total connection counts for an
// entity, along with the number of connection attempts that failed before a
// session was established.
type ConnStats struct {
	count  atomic.Int32
	open   atomic.Int32
	failed atomic.Int32
}

// New adds one to the total connection count in a ConnStats, returning the new total
func (c *ConnStats) New() int32 {
	return c.count.Add(1)
}

// Open adds one to the current open connection count in a ConnStats
func (c *ConnStats) Open() {
	c.open.Add(1)
}

// Close subtracts one from the current open connection count in a ConnStats
func (c *ConnStats) Close() {
	c.open.Add(-1)
}

// Fail records a connection attempt that never became a session
func (c *ConnStats) Fail() {
	c.failed.Add(1)
}

// Total returns the number of connections ever opened
func (c *ConnStats) Total() int32 {
	return c.count.Load()
}

// Failed returns the number of failed connection attempts
func (c *ConnStats) Failed() int32 {
	return c.failed.Load()
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", c.open.Load(), c.count.Load())
}
