package conn

import "time"

// ActionKind enumerates the side effects a Handler event method asks its
// caller to perform. The handler itself never touches the transport or a
// timer directly — it runs on whatever executor owns the connection, and
// reports what that executor must now do.
type ActionKind int

const (
	// ActionFlush asks the caller to write Bytes to the transport.
	ActionFlush ActionKind = iota
	// ActionCloseTransport asks the caller to close the underlying connection.
	ActionCloseTransport
	// ActionRescheduleTimer asks the caller to arm its single deadline timer
	// to fire At.
	ActionRescheduleTimer
	// ActionClearTimer asks the caller to disarm its deadline timer.
	ActionClearTimer
)

// Action is one instruction returned from a Handler event method. Event
// methods return a slice of these, in the order they must be applied.
type Action struct {
	Kind  ActionKind
	Bytes []byte
	At    time.Time
}
