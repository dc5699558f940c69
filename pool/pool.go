// Package pool manages a set of pooled connections on top of
// jackc/puddle/v2's generic resource pool, adding a hard size limit, a
// consecutive-failure circuit breaker, and keep-alive pings on top of
// puddle's bare acquire/release primitive. The minimum, soft-limit, and
// maximum-concurrent-requests settings are stored but not applied.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// ErrCircuitOpen is returned by Acquire when consecutive constructor
// failures have tripped the circuit breaker.
var ErrCircuitOpen = errors.New("pool: circuit breaker open")

// Option configures a Pool. Zero value Config yields library defaults via
// defaultConfig().
type Option func(*Config)

// Config holds the pool's sizing and lifecycle policy.
type Config struct {
	minimum                int32
	softLimit              int32
	hardLimit              int32
	idleTimeout            time.Duration
	circuitBreakerTripAfter int
	maxConcurrentRequests  int32
	keepAliveFrequency     time.Duration
}

func defaultConfig() *Config {
	return &Config{
		minimum:                 0,
		softLimit:               10,
		hardLimit:               20,
		idleTimeout:             5 * time.Minute,
		circuitBreakerTripAfter: 5,
		maxConcurrentRequests:   100,
		keepAliveFrequency:      30 * time.Second,
	}
}

// WithMinimum records a minimum pool size. Pool stores it but does not
// pre-create or keep warm any connections.
func WithMinimum(n int32) Option {
	return func(c *Config) {
		if n >= 0 {
			c.minimum = n
		}
	}
}

// WithSoftLimit records a soft size limit. Pool stores it but does not act
// on it; only the hard limit bounds how many connections are opened.
func WithSoftLimit(n int32) Option {
	return func(c *Config) {
		if n > 0 {
			c.softLimit = n
		}
	}
}

// WithHardLimit sets the maximum number of connections the pool will ever
// hold concurrently.
func WithHardLimit(n int32) Option {
	return func(c *Config) {
		if n > 0 {
			c.hardLimit = n
		}
	}
}

// WithIdleTimeout sets how long the circuit breaker stays open once it has
// tripped. Pool does not destroy idle connections after any timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithCircuitBreakerTripAfter sets how many consecutive constructor
// failures trip the breaker.
func WithCircuitBreakerTripAfter(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.circuitBreakerTripAfter = n
		}
	}
}

// WithMaximumConcurrentConnectionRequests records a bound on concurrent
// Acquire calls. Pool stores it but does not enforce it: waiting Acquire
// callers are not limited or failed early.
func WithMaximumConcurrentConnectionRequests(n int32) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxConcurrentRequests = n
		}
	}
}

// WithKeepAliveFrequency sets how often the pool's janitor pings idle
// connections to keep them warm.
func WithKeepAliveFrequency(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.keepAliveFrequency = d
		}
	}
}

// Constructor creates one new pooled resource.
type Constructor[T any] func(ctx context.Context) (T, error)

// Destructor releases a resource the pool no longer wants.
type Destructor[T any] func(res T)

// Pool manages pooled resources of type T.
type Pool[T any] struct {
	cfg     *Config
	inner   *puddle.Pool[T]
	destroy Destructor[T]

	consecutiveFailures atomic.Int64
	circuitOpenUntil    atomic.Int64 // unix nanos

	keepAliveStop chan struct{}
	keepAliveOnce sync.Once
}

// New builds a Pool backed by a puddle.Pool. ping, if non-nil, is invoked by
// the keep-alive janitor against otherwise-idle resources.
func New[T any](constructor Constructor[T], destructor Destructor[T], ping func(T) error, opts ...Option) (*Pool[T], error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	p := &Pool[T]{cfg: cfg, destroy: destructor, keepAliveStop: make(chan struct{})}

	inner, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: func(ctx context.Context) (T, error) {
			res, err := constructor(ctx)
			if err != nil {
				p.recordFailure()
				var zero T
				return zero, err
			}
			p.recordSuccess()
			return res, nil
		},
		Destructor: func(res T) {
			if destructor != nil {
				destructor(res)
			}
		},
		MaxSize: cfg.hardLimit,
	})
	if err != nil {
		return nil, err
	}
	p.inner = inner

	if ping != nil && cfg.keepAliveFrequency > 0 {
		go p.runKeepAlive(ping)
	}

	return p, nil
}

// Acquire returns a pooled resource, constructing one if below the hard
// limit. It fails fast with ErrCircuitOpen while the breaker is tripped.
func (p *Pool[T]) Acquire(ctx context.Context) (*puddle.Resource[T], error) {
	if until := p.circuitOpenUntil.Load(); until != 0 && time.Now().UnixNano() < until {
		return nil, ErrCircuitOpen
	}
	return p.inner.Acquire(ctx)
}

// Stat reports the pool's current size and idle/constructing counts.
func (p *Pool[T]) Stat() *puddle.Stat { return p.inner.Stat() }

// Close destroys every resource and stops the pool's background janitor.
func (p *Pool[T]) Close() {
	p.keepAliveOnce.Do(func() { close(p.keepAliveStop) })
	p.inner.Close()
}

func (p *Pool[T]) recordFailure() {
	n := p.consecutiveFailures.Add(1)
	if int(n) >= p.cfg.circuitBreakerTripAfter {
		p.circuitOpenUntil.Store(time.Now().Add(p.cfg.idleTimeout).UnixNano())
	}
}

func (p *Pool[T]) recordSuccess() {
	p.consecutiveFailures.Store(0)
	p.circuitOpenUntil.Store(0)
}

func (p *Pool[T]) runKeepAlive(ping func(T) error) {
	ticker := time.NewTicker(p.cfg.keepAliveFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-p.keepAliveStop:
			return
		case <-ticker.C:
			for _, res := range p.inner.AcquireAllIdle() {
				if err := ping(res.Value()); err != nil {
					res.Destroy()
				} else {
					res.ReleaseUnused()
				}
			}
		}
	}
}
