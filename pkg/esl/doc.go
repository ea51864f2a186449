// Package esl is a client for the switch's event socket in inbound mode.
//
// A Client dials the socket, answers the auth/request challenge, and then keeps
// a session alive: foreground commands (api) are correlated with their replies
// in strict FIFO order, background commands (bgapi) are correlated with the
// BACKGROUND_JOB event carrying their Job-UUID, and every plain-text event is
// fanned out to the handlers subscribed to it. When the transport drops, every
// outstanding Future is rejected with ErrConnectionLost and the Client dials
// again with exponential backoff until it is closed or authentication is refused.
//
// All frames of one session are read and processed by a single goroutine, so
// handlers run in arrival order. A handler may send commands and change
// subscriptions, but must not block on a Future from inside the handler: the
// reply it is waiting for is read by the goroutine that is running it.
//
// Handlers and the OnAuthenticated and OnDisconnected callbacks run on that
// same goroutine. Close called from one of them starts the shutdown and returns
// at once; the shutdown finishes when the callback returns.
package esl
