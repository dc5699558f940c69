package conn

import (
	"time"

	"github.com/mickamy/govalkey/resp3"
)

// Kind classifies how a PendingRequest's response should be routed.
type Kind int

const (
	// KindSingle is an ordinary request/response pair.
	KindSingle Kind = iota
	// KindPipelineEntry is one of several requests flushed together; it is
	// still paired FIFO like KindSingle, the distinction exists so a
	// pipeline's caller can tell its entries apart from a bare Execute.
	KindPipelineEntry
	// KindForgettable is sent but has no caller awaiting the response — used
	// for the SUBSCRIBE-family and UNSUBSCRIBE-family frames, whose
	// acknowledgements arrive as push tokens.
	KindForgettable
)

// Result is delivered to a PendingRequest's Done channel exactly once.
type Result struct {
	Value resp3.Value
	Err   error
}

// PendingRequest tracks one in-flight request through the handler's FIFO
// deque. Deadline is absolute; Done receives exactly one Result unless Kind
// is KindForgettable, in which case Done may be nil.
type PendingRequest struct {
	ID       int64
	Deadline time.Time
	Kind     Kind
	Done     chan Result

	settled bool
}

// NewPendingRequest builds a PendingRequest with a buffered, single-value
// Done channel, ready to be hung off SendCommand.
func NewPendingRequest(id int64, deadline time.Time, kind Kind) *PendingRequest {
	var done chan Result
	if kind != KindForgettable {
		done = make(chan Result, 1)
	}
	return &PendingRequest{ID: id, Deadline: deadline, Kind: kind, Done: done}
}

func (p *PendingRequest) succeed(v resp3.Value) {
	p.settle(Result{Value: v})
}

func (p *PendingRequest) fail(err error) {
	p.settle(Result{Err: err})
}

func (p *PendingRequest) settle(r Result) {
	if p.settled {
		return
	}
	p.settled = true
	if p.Done != nil {
		p.Done <- r
	}
}
