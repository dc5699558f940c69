// Package conn implements the connection handler state machine: a
// non-blocking, pipelined, single-connection handler that multiplexes
// in-flight requests over one transport, enforces per-request deadlines,
// and carries out graceful shutdown and cancellation.
//
// Handler is not safe for concurrent use. Per the cooperative scheduling
// model, all event methods run on the one executor that owns the
// connection; every method returns a []Action describing the side effects
// (flush bytes, close the transport, arm/disarm the deadline timer) that
// executor must now carry out. The handler settles PendingRequest promises
// itself but never performs I/O.
package conn

import (
	"time"

	"github.com/mickamy/govalkey/resp3"
)

// Push receives inbound push-kind tokens, demultiplexed from the response
// FIFO by wire kind rather than by request-id.
type Push func(resp3.Value)

// Handler is the per-connection state machine.
type Handler struct {
	state State
	deque []*PendingRequest

	// helloReq is the single pending request tracked while in StateConnected.
	helloReq *PendingRequest

	onPush Push
}

// NewHandler returns a Handler in StateInitialized. onPush, if non-nil, is
// invoked for every inbound push-kind token once the connection is active.
func NewHandler(onPush Push) *Handler {
	return &Handler{state: StateInitialized, onPush: onPush}
}

// State reports the handler's current lifecycle stage.
func (h *Handler) State() State { return h.state }

// Pending reports the number of requests currently tracked in the FIFO
// deque (StateActive/StateClosing only; zero otherwise).
func (h *Handler) Pending() int { return len(h.deque) }

func (h *Handler) invalid(event string) ([]Action, error) {
	return nil, &ErrInvalidTransition{Event: event, State: h.state}
}

// SetConnected transitions Initialized→Connected, tracking helloReq as the
// sole pending request until HELLO's response arrives.
func (h *Handler) SetConnected(helloReq *PendingRequest) ([]Action, error) {
	if h.state != StateInitialized {
		return h.invalid("setConnected")
	}
	h.helloReq = helloReq
	h.state = StateConnected
	return nil, nil
}

// SendCommand enqueues req and asks the caller to flush frame. Only legal
// in StateActive; in StateClosing/StateClosed it fails req instead of
// enqueueing it.
func (h *Handler) SendCommand(req *PendingRequest, frame []byte) ([]Action, error) {
	switch h.state {
	case StateActive:
		h.deque = append(h.deque, req)
		actions := []Action{{Kind: ActionFlush, Bytes: frame}}
		if len(h.deque) == 1 {
			actions = append(actions, Action{Kind: ActionRescheduleTimer, At: req.Deadline})
		}
		return actions, nil
	case StateClosing:
		req.fail(ErrConnectionClosing)
		return nil, nil
	case StateClosed:
		req.fail(ErrConnectionClosed)
		return nil, nil
	default:
		return h.invalid("sendCommand")
	}
}

// ReceivedResponse pairs one inbound token with the head of the FIFO deque
// (or the outstanding HELLO request in StateConnected), or routes it to
// onPush if it is a push-kind token.
func (h *Handler) ReceivedResponse(tok resp3.Token) ([]Action, error) {
	v := resp3.ValueOf(tok)

	switch h.state {
	case StateConnected:
		return h.receivedHelloResponse(v)
	case StateActive:
		return h.receivedQueuedResponse(v, false)
	case StateClosing:
		return h.receivedQueuedResponse(v, true)
	default:
		return h.invalid("receivedResponse")
	}
}

func (h *Handler) receivedHelloResponse(v resp3.Value) ([]Action, error) {
	req := h.helloReq
	h.helloReq = nil

	if isErrorKind(v.Kind()) {
		req.fail(commandErrorFrom(v))
		h.state = StateClosed
		return []Action{{Kind: ActionCloseTransport}}, nil
	}

	req.succeed(v)
	h.state = StateActive
	return nil, nil
}

func (h *Handler) receivedQueuedResponse(v resp3.Value, closing bool) ([]Action, error) {
	if v.Kind() == resp3.KindPush {
		if h.onPush != nil {
			h.onPush(v)
		}
		return nil, nil
	}

	if len(h.deque) == 0 {
		h.state = StateClosed
		return []Action{{Kind: ActionCloseTransport}}, ErrUnsolicitedToken
	}

	req := h.deque[0]
	h.deque = h.deque[1:]

	if isErrorKind(v.Kind()) {
		req.fail(commandErrorFrom(v))
	} else {
		req.succeed(v)
	}

	var actions []Action
	if len(h.deque) == 0 {
		if closing {
			h.state = StateClosed
			return []Action{{Kind: ActionCloseTransport}}, nil
		}
		actions = append(actions, Action{Kind: ActionClearTimer})
	} else {
		actions = append(actions, Action{Kind: ActionRescheduleTimer, At: h.deque[0].Deadline})
	}
	return actions, nil
}

// HitDeadline checks the head of the relevant deque (the HELLO request in
// StateConnected, or the FIFO head otherwise) against now, failing and
// closing the connection if it has expired, or rescheduling the timer to
// the still-live deadline otherwise.
func (h *Handler) HitDeadline(now time.Time) ([]Action, error) {
	switch h.state {
	case StateConnected:
		if !h.helloReq.Deadline.After(now) {
			h.helloReq.fail(ErrTimeout)
			h.helloReq = nil
			h.state = StateClosed
			return []Action{{Kind: ActionCloseTransport}}, nil
		}
		return []Action{{Kind: ActionRescheduleTimer, At: h.helloReq.Deadline}}, nil

	case StateActive, StateClosing:
		if len(h.deque) == 0 {
			return []Action{{Kind: ActionClearTimer}}, nil
		}
		if !h.deque[0].Deadline.After(now) {
			h.failAll(ErrTimeout)
			h.deque = nil
			h.state = StateClosed
			return []Action{{Kind: ActionCloseTransport}}, nil
		}
		return []Action{{Kind: ActionRescheduleTimer, At: h.deque[0].Deadline}}, nil

	case StateClosed:
		return []Action{{Kind: ActionClearTimer}}, nil

	default:
		return h.invalid("hitDeadline")
	}
}

// Cancel fails the request matching requestID and closes the connection,
// since the wire protocol has no selective cancel: every other in-flight
// request on this connection is failed with
// ErrConnectionClosedDueToCancellation so callers know to retry fresh.
func (h *Handler) Cancel(requestID int64) ([]Action, error) {
	switch h.state {
	case StateConnected:
		if h.helloReq == nil || h.helloReq.ID != requestID {
			return h.invalid("cancel")
		}
		h.helloReq.fail(ErrCancelled)
		h.helloReq = nil
		h.state = StateClosed
		return []Action{{Kind: ActionCloseTransport}}, nil

	case StateActive, StateClosing:
		found := false
		for _, req := range h.deque {
			if req.ID == requestID {
				req.fail(ErrCancelled)
				found = true
			} else {
				req.fail(ErrConnectionClosedDueToCancellation)
			}
		}
		h.deque = nil
		h.state = StateClosed
		if !found {
			return []Action{{Kind: ActionCloseTransport}}, nil
		}
		return []Action{{Kind: ActionCloseTransport}}, nil

	case StateClosed:
		return nil, nil

	default:
		return h.invalid("cancel")
	}
}

// GracefulShutdown drains in-flight requests before closing: if nothing is
// pending it closes immediately, otherwise it transitions to StateClosing
// and lets ReceivedResponse/HitDeadline complete the drain.
func (h *Handler) GracefulShutdown() ([]Action, error) {
	switch h.state {
	case StateInitialized:
		h.state = StateClosed
		return nil, nil
	case StateConnected:
		h.deque = append(h.deque, h.helloReq)
		h.helloReq = nil
		h.state = StateClosing
		return nil, nil
	case StateActive:
		if len(h.deque) == 0 {
			h.state = StateClosed
			return []Action{{Kind: ActionCloseTransport}}, nil
		}
		h.state = StateClosing
		return nil, nil
	case StateClosing, StateClosed:
		return nil, nil
	default:
		return h.invalid("gracefulShutdown")
	}
}

// Close is the hard-close path: fail everything outstanding immediately and
// close the transport, regardless of state.
func (h *Handler) Close() ([]Action, error) {
	switch h.state {
	case StateInitialized:
		h.state = StateClosed
		return nil, nil
	case StateConnected:
		if h.helloReq != nil {
			h.helloReq.fail(ErrConnectionClosed)
			h.helloReq = nil
		}
		h.state = StateClosed
		return []Action{{Kind: ActionCloseTransport}}, nil
	case StateActive, StateClosing:
		h.failAll(ErrConnectionClosed)
		h.deque = nil
		h.state = StateClosed
		return []Action{{Kind: ActionCloseTransport}}, nil
	case StateClosed:
		return nil, nil
	default:
		return h.invalid("close")
	}
}

// SetClosed reacts to the transport itself going away (EOF, reset): fail
// everything outstanding with ErrConnectionClosed without issuing
// ActionCloseTransport, since the transport is already gone.
func (h *Handler) SetClosed() ([]Action, error) {
	switch h.state {
	case StateInitialized:
		h.state = StateClosed
		return nil, nil
	case StateConnected:
		if h.helloReq != nil {
			h.helloReq.fail(ErrConnectionClosed)
			h.helloReq = nil
		}
		h.state = StateClosed
		return nil, nil
	case StateActive, StateClosing:
		h.failAll(ErrConnectionClosed)
		h.deque = nil
		h.state = StateClosed
		return nil, nil
	case StateClosed:
		return nil, nil
	default:
		return h.invalid("setClosed")
	}
}

func (h *Handler) failAll(err error) {
	for _, req := range h.deque {
		req.fail(err)
	}
}

func isErrorKind(k resp3.Kind) bool {
	return k == resp3.KindSimpleError || k == resp3.KindBulkError
}

func commandErrorFrom(v resp3.Value) error {
	switch v.Kind() {
	case resp3.KindSimpleError:
		msg, _ := v.AsSimpleError()
		return commandErrorFromMessage(msg)
	case resp3.KindBulkError:
		b, _ := v.AsBulkError()
		return commandErrorFromMessage(string(b))
	default:
		return nil
	}
}

// commandErrorFromMessage splits a server error message into its leading
// uppercase-word prefix (e.g. "ERR", "WRONGTYPE") and the remaining text,
// the way Redis-family servers format simple errors.
func commandErrorFromMessage(msg string) *CommandError {
	for i := 0; i < len(msg); i++ {
		if msg[i] == ' ' {
			return &CommandError{Prefix: msg[:i], Message: msg[i+1:]}
		}
		if msg[i] < 'A' || msg[i] > 'Z' {
			break
		}
	}
	return &CommandError{Message: msg}
}
