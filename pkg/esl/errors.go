package esl

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed is the terminal error when the switch rejects the password
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRejected is the terminal error when the switch refuses the client (ACL)
	ErrRejected = errors.New("connection rejected by peer")

	// ErrConnectionLost rejects work that was outstanding when a session ended.
	// The transport error, if any, is wrapped alongside it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosed rejects work outstanding or submitted after Close
	ErrClosed = errors.New("client closed")

	// ErrNotConnected rejects commands sent while the client is not authenticated
	ErrNotConnected = errors.New("not connected")

	// ErrProtocolViolation ends a session whose peer sent a frame out of turn
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrAuthTimeout ends a session that did not complete authentication in time
	ErrAuthTimeout = errors.New("authentication timed out")
)

// CommandError is the rejection of a single command whose reply was an -ERR.
// The connection is unaffected.
type CommandError struct {
	// Command is the command line as sent, with secrets redacted
	Command string
	// Reply is the full reply text, including the -ERR prefix
	Reply string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reply)
}

func connectionLost(cause error) error {
	if cause == nil || errors.Is(cause, ErrConnectionLost) {
		return ErrConnectionLost
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
}
