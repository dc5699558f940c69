package conn

import (
	"errors"
	"fmt"
)

// Transport-level errors a pending request's promise can fail with.
var (
	ErrConnectionClosed                 = errors.New("conn: connection closed")
	ErrConnectionClosing                = errors.New("conn: connection closing")
	ErrConnectionClosedDueToCancellation = errors.New("conn: connection closed due to cancellation")
	ErrCancelled                        = errors.New("conn: request cancelled")
	ErrTimeout                          = errors.New("conn: request deadline exceeded")
	ErrUnsolicitedToken                 = errors.New("conn: received a response with no pending request")
)

// ErrInvalidTransition reports an event delivered in a state that does not
// accept it — an invariant violation in the handler's own state machine,
// not a condition the wire or the caller can trigger in normal operation.
type ErrInvalidTransition struct {
	Event string
	State State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("conn: event %s is invalid in state %s", e.Event, e.State)
}

// CommandError wraps a server-reported simple-error or bulk-error response.
// It is delivered as a value to the caller, not a connection failure,
// except when it answers the HELLO handshake.
type CommandError struct {
	Prefix  string
	Message string
}

func (e *CommandError) Error() string {
	if e.Prefix == "" {
		return fmt.Sprintf("conn: command error: %s", e.Message)
	}
	return fmt.Sprintf("conn: command error: %s %s", e.Prefix, e.Message)
}
