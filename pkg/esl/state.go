package esl

import "fmt"

// State is the lifecycle state of a Client
type State int32

const (
	// StateDisconnected means no transport is open
	StateDisconnected State = iota
	// StateConnecting means the transport is open and the auth/request is awaited
	StateConnecting
	// StateAwaitingAuth means the password was sent and its reply is awaited
	StateAwaitingAuth
	// StateAuthenticated means commands and events are flowing
	StateAuthenticated
	// StateClosing means Close was called or a terminal error occurred
	StateClosing
)

var stateNames = [...]string{"disconnected", "connecting", "awaiting-auth", "authenticated", "closing"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}
