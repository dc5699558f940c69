package conn

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/govalkey/command"
	"github.com/mickamy/govalkey/metrics"
	"github.com/mickamy/govalkey/resp3"
	"github.com/mickamy/govalkey/transport"
)

// readBufferSize is the chunk size requested from the transport on each
// Read; ParseAll is fed whatever arrives and re-buffers the trailing
// partial frame itself.
const readBufferSize = 64 * 1024

// Connection is the public, async-style facade over Handler: it owns the
// transport and runs Handler's single-threaded executor on its own
// goroutine. Execute, Pipeline, and Subscribe hop onto that goroutine and
// suspend until their result is ready.
//
// ID is a per-connection correlation id surfaced to Logger.
type Connection struct {
	ID string

	nc      net.Conn
	handler *Handler
	cfg     *Config
	metrics metrics.Metrics
	logger  *log.Logger
	subs    *subscriptionRegistry

	nextID atomic.Int64

	taskCh   chan func()
	tokenCh  chan resp3.Token
	readErrs chan error
	done     chan struct{}

	// nextDeadline is the absolute time run()'s timer should next fire at;
	// only ever touched from the owner goroutine.
	nextDeadline time.Time
}

// Dial opens addr, runs the HELLO handshake, and returns an active
// Connection. ctx bounds the dial and handshake only; the connection's own
// commandTimeout/blockingCommandTimeout govern requests made afterwards.
func Dial(ctx context.Context, addr transport.Address, logger *log.Logger, m metrics.Metrics, opts ...Option) (*Connection, error) {
	nc, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("conn: dial: %w", err)
	}
	return DialConn(ctx, nc, logger, m, opts...)
}

// DialConn runs the HELLO handshake over an already-established net.Conn
// and returns an active Connection. It is the entry point Dial builds on;
// callers that already own a transport (e.g. the cluster client's pool
// constructor, or a test harness) use it directly.
func DialConn(ctx context.Context, nc net.Conn, logger *log.Logger, m metrics.Metrics, opts ...Option) (*Connection, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	c := &Connection{
		ID:       uuid.NewString(),
		nc:       nc,
		cfg:      cfg,
		metrics:  metrics.OrNoop(m),
		logger:   logger,
		subs:     newSubscriptionRegistry(),
		taskCh:   make(chan func()),
		tokenCh:  make(chan resp3.Token, 64),
		readErrs: make(chan error, 1),
		done:     make(chan struct{}),
	}
	c.handler = NewHandler(c.onPush)

	go c.readLoop()
	go c.run()

	if err := c.handshake(ctx); err != nil {
		c.CloseNow()
		return nil, err
	}
	return c, nil
}

func (c *Connection) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("conn[%s]: "+format, append([]any{c.ID}, args...)...)
	}
}

// handshake enqueues HELLO (and any follow-up AUTH/READONLY/SELECT frames
// the config calls for) and waits for the connection to reach StateActive.
func (c *Connection) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.commandTimeout)
	req := NewPendingRequest(c.nextID.Add(1), deadline, KindSingle)

	result := make(chan error, 1)
	c.taskCh <- func() {
		actions, err := c.handler.SetConnected(req)
		if err != nil {
			result <- err
			return
		}
		c.applyActions(actions)
		c.applyActions([]Action{{Kind: ActionFlush, Bytes: helloFrame(c.cfg)}})
		result <- nil
	}
	if err := <-result; err != nil {
		return err
	}

	select {
	case res := <-req.Done:
		if res.Err != nil {
			return fmt.Errorf("conn: hello: %w", res.Err)
		}
		return c.postHandshake(ctx, res.Value)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postHandshake issues the optional AUTH fallback, READONLY, and SELECT
// frames once HELLO itself has succeeded.
func (c *Connection) postHandshake(ctx context.Context, hello resp3.Value) error {
	if needsAuthFallback(hello) && c.cfg.authentication != nil {
		if _, err := c.executeFrame(ctx, authFrame(c.cfg.authentication), c.cfg.commandTimeout); err != nil {
			return fmt.Errorf("conn: auth fallback: %w", err)
		}
	}
	if c.cfg.readOnly {
		if _, err := c.executeFrame(ctx, readOnlyFrame(), c.cfg.commandTimeout); err != nil {
			return fmt.Errorf("conn: readonly: %w", err)
		}
	}
	if c.cfg.databaseNumber != 0 {
		if _, err := c.executeFrame(ctx, selectFrame(c.cfg.databaseNumber), c.cfg.commandTimeout); err != nil {
			return fmt.Errorf("conn: select: %w", err)
		}
	}
	return nil
}

// needsAuthFallback reports whether HELLO's success reply looks like a
// server that ignored the inline AUTH argument (pre-6.0 servers reply with
// a plain array rather than the RESP3 HELLO map and never authenticate via
// HELLO at all).
func needsAuthFallback(hello resp3.Value) bool {
	return hello.Kind() != resp3.KindMap
}

// State reports the handler's current lifecycle stage.
func (c *Connection) State() State { return c.handler.State() }

// Execute sends one command and returns its decoded response.
func (c *Connection) Execute(ctx context.Context, frame []byte) (resp3.Value, error) {
	return c.executeFrame(ctx, frame, c.cfg.commandTimeout)
}

// ExecuteBlocking is Execute with the longer blockingCommandTimeout default,
// for commands known to block server-side (BLPOP and friends).
func (c *Connection) ExecuteBlocking(ctx context.Context, frame []byte) (resp3.Value, error) {
	return c.executeFrame(ctx, frame, c.cfg.blockingCommandTimeout)
}

func (c *Connection) executeFrame(ctx context.Context, frame []byte, timeout time.Duration) (resp3.Value, error) {
	req := NewPendingRequest(c.nextID.Add(1), time.Now().Add(timeout), KindSingle)
	if err := c.enqueue(req, frame); err != nil {
		return resp3.Value{}, err
	}
	return c.await(ctx, req)
}

// Pipeline sends every frame in frames without waiting on intervening
// responses, then returns their results in the same order they were sent.
func (c *Connection) Pipeline(ctx context.Context, frames ...[]byte) ([]resp3.Value, error) {
	reqs := make([]*PendingRequest, len(frames))
	deadline := time.Now().Add(c.cfg.commandTimeout)
	for i, frame := range frames {
		req := NewPendingRequest(c.nextID.Add(1), deadline, KindPipelineEntry)
		if err := c.enqueue(req, frame); err != nil {
			return nil, err
		}
		reqs[i] = req
	}

	out := make([]resp3.Value, len(reqs))
	for i, req := range reqs {
		v, err := c.await(ctx, req)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Subscribe opens a Subscription over one or more channels, issuing
// SUBSCRIBE for all of them, whether or not another Subscription on this
// connection already covers some.
func (c *Connection) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	return c.subscribe(ctx, channels, command.Command("SUBSCRIBE", func(e *command.Encoder) {
		for _, ch := range channels {
			e.BulkString(ch)
		}
	}), false, false)
}

// PSubscribe opens a Subscription over one or more glob patterns.
func (c *Connection) PSubscribe(ctx context.Context, patterns ...string) (*Subscription, error) {
	return c.subscribe(ctx, patterns, command.Command("PSUBSCRIBE", func(e *command.Encoder) {
		for _, p := range patterns {
			e.BulkString(p)
		}
	}), true, false)
}

// SSubscribe opens a Subscription over one or more shard channels.
func (c *Connection) SSubscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	return c.subscribe(ctx, channels, command.Command("SSUBSCRIBE", func(e *command.Encoder) {
		for _, ch := range channels {
			e.BulkString(ch)
		}
	}), false, true)
}

func (c *Connection) subscribe(ctx context.Context, keys []string, frame []byte, pattern, shard bool) (*Subscription, error) {
	sub := &Subscription{conn: c, keys: keys, pattern: pattern, shard: shard, messages: make(chan Message, 64)}
	// A SUBSCRIBE/PSUBSCRIBE/SSUBSCRIBE reply is one push frame per key, not
	// a single response pairing with the FIFO head, so the request is sent
	// forgettable: the handler leaves it at the head until the acks drain
	// as push tokens.
	req := NewPendingRequest(c.nextID.Add(1), time.Now().Add(c.cfg.commandTimeout), KindForgettable)
	if err := c.enqueue(req, frame); err != nil {
		return nil, err
	}
	c.subs.add(sub)
	return sub, nil
}

// Unsubscribe leaves sub's channels/patterns. The actual UNSUBSCRIBE frame
// is only sent for keys whose last logical subscriber is sub, deferring it
// for keys other subscriptions on this connection still care about.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	drained := s.conn.subs.remove(s)
	close(s.messages)
	if len(drained) == 0 {
		return nil
	}

	name := "UNSUBSCRIBE"
	if s.pattern {
		name = "PUNSUBSCRIBE"
	} else if s.shard {
		name = "SUNSUBSCRIBE"
	}
	frame := command.Command(name, func(e *command.Encoder) {
		for _, key := range drained {
			e.BulkString(key)
		}
	})
	req := NewPendingRequest(s.conn.nextID.Add(1), time.Now().Add(s.conn.cfg.commandTimeout), KindForgettable)
	return s.conn.enqueue(req, frame)
}

func (c *Connection) onPush(v resp3.Value) {
	c.subs.dispatch(v)
}

// enqueue posts req and frame onto the owner goroutine and returns once
// SendCommand itself has run (not once the response arrives).
func (c *Connection) enqueue(req *PendingRequest, frame []byte) error {
	sent := make(chan error, 1)
	select {
	case c.taskCh <- func() {
		actions, err := c.handler.SendCommand(req, frame)
		if err != nil {
			sent <- err
			return
		}
		c.applyActions(actions)
		if req.Kind != KindForgettable {
			c.metrics.IncrementCommandsSent()
		}
		sent <- nil
	}:
		return <-sent
	case <-c.done:
		return ErrConnectionClosed
	}
}

// await blocks for req's result, honoring ctx cancellation:
// cancelling an in-flight request tears down the whole connection since
// the wire protocol has no selective cancel.
func (c *Connection) await(ctx context.Context, req *PendingRequest) (resp3.Value, error) {
	select {
	case res := <-req.Done:
		if res.Err != nil {
			c.metrics.IncrementCommandsFailed()
		}
		return res.Value, res.Err
	case <-ctx.Done():
		c.cancel(req.ID)
		res := <-req.Done // Cancel always settles req before returning.
		return res.Value, res.Err
	case <-c.done:
		return resp3.Value{}, ErrConnectionClosed
	}
}

func (c *Connection) cancel(requestID int64) {
	done := make(chan struct{})
	select {
	case c.taskCh <- func() {
		actions, _ := c.handler.Cancel(requestID)
		c.applyActions(actions)
		close(done)
	}:
		<-done
	case <-c.done:
	}
}

// Close performs a graceful shutdown: in-flight requests are allowed to
// drain before the transport closes.
func (c *Connection) Close() error {
	return c.shutdown(func() ([]Action, error) { return c.handler.GracefulShutdown() })
}

// CloseNow fails every in-flight request immediately and closes the
// transport without waiting for a drain.
func (c *Connection) CloseNow() error {
	return c.shutdown(func() ([]Action, error) { return c.handler.Close() })
}

func (c *Connection) shutdown(event func() ([]Action, error)) error {
	select {
	case c.taskCh <- func() {
		actions, _ := event()
		c.applyActions(actions)
	}:
	case <-c.done:
		return nil
	}
	<-c.done
	return nil
}

// applyActions carries out the side effects a Handler event method asked
// for. It always runs on the owner goroutine, so writes stay ordered with
// the enqueue that produced them.
func (c *Connection) applyActions(actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionFlush:
			if _, err := c.nc.Write(a.Bytes); err != nil {
				c.logf("write: %v", err)
				_, _ = c.handler.SetClosed()
				_ = c.nc.Close()
				return
			}
			c.metrics.IncrementBytesSent(int64(len(a.Bytes)))
		case ActionCloseTransport:
			_ = c.nc.Close()
		case ActionRescheduleTimer, ActionClearTimer:
			c.rearmTimer(a)
		}
	}
}

func (c *Connection) rearmTimer(a Action) {
	if a.Kind == ActionClearTimer {
		c.nextDeadline = time.Time{}
		return
	}
	c.nextDeadline = a.At
}

// run is the owner goroutine: it is the only goroutine that ever touches
// handler, so every Handler event method call is serialized through taskCh
// or tokenCh. After every event it rearms the single deadline timer from
// whatever rearmTimer last recorded, so one timer always tracks the
// earliest-expiring pending request.
func (c *Connection) run() {
	defer close(c.done)
	defer c.subs.closeAll(ErrConnectionClosed)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	armed := false

	syncTimer := func() {
		if armed && !timer.Stop() {
			<-timer.C
		}
		armed = false
		if c.nextDeadline.IsZero() {
			return
		}
		d := time.Until(c.nextDeadline)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
		armed = true
	}

	for {
		select {
		case task := <-c.taskCh:
			task()
			syncTimer()

		case tok := <-c.tokenCh:
			c.metrics.IncrementBytesReceived(int64(tok.Len()))
			actions, err := c.handler.ReceivedResponse(tok)
			if err != nil {
				c.logf("received response: %v", err)
			}
			c.applyActions(actions)
			syncTimer()

		case <-timer.C:
			armed = false
			actions, _ := c.handler.HitDeadline(time.Now())
			c.applyActions(actions)
			syncTimer()

		case err := <-c.readErrs:
			c.logf("read: %v", err)
			actions, _ := c.handler.SetClosed()
			c.applyActions(actions)
			return
		}

		if c.handler.State() == StateClosed {
			return
		}
	}
}

// readLoop is the sole reader goroutine: it never touches handler directly,
// only ever posting fully-framed tokens to tokenCh for the owner goroutine
// to pair.
func (c *Connection) readLoop() {
	buf := make([]byte, 0, readBufferSize)
	chunk := make([]byte, readBufferSize)
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var perr error
			buf, perr = resp3.ParseAll(buf, func(tok resp3.Token) error {
				select {
				case c.tokenCh <- tok:
					return nil
				case <-c.done:
					return ErrConnectionClosed
				}
			})
			if perr != nil {
				select {
				case c.readErrs <- perr:
				case <-c.done:
				}
				return
			}
		}
		if err != nil {
			select {
			case c.readErrs <- err:
			case <-c.done:
			}
			return
		}
	}
}
