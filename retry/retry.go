// Package retry wraps cenkalti/backoff/v4 with the exponential-backoff
// knobs the client's configuration surface exposes: a base and factor
// (combined into backoff's multiplier), minimum and maximum waits, plus a
// hard attempt cap.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Option configures a Policy.
type Option func(*Config)

// Config holds retry tuning. Zero value yields defaults via
// defaultConfig().
type Config struct {
	exponentBase float64
	factor       float64
	minWait      time.Duration
	maxWait      time.Duration
	maxAttempts  int
}

func defaultConfig() *Config {
	return &Config{
		exponentBase: 2,
		factor:       1,
		minWait:      50 * time.Millisecond,
		maxWait:      5 * time.Second,
		maxAttempts:  5,
	}
}

// WithExponentBase sets the base of the exponential backoff curve.
func WithExponentBase(base float64) Option {
	return func(c *Config) {
		if base > 1 {
			c.exponentBase = base
		}
	}
}

// WithFactor multiplies the growth rate: each wait after the first is the
// previous wait times exponentBase*factor. The first wait is minWait,
// unscaled.
func WithFactor(factor float64) Option {
	return func(c *Config) {
		if factor > 0 {
			c.factor = factor
		}
	}
}

// WithMinWait sets the first retry's wait.
func WithMinWait(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.minWait = d
		}
	}
}

// WithMaxWait caps any single computed wait.
func WithMaxWait(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.maxWait = d
		}
	}
}

// WithMaxAttempts bounds the number of attempts (including the first).
// Zero means unbounded.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// Policy runs an operation with exponential backoff between attempts.
type Policy struct {
	cfg *Config
}

// New builds a Policy from opts.
func New(opts ...Option) *Policy {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Policy{cfg: cfg}
}

// newBackOff builds the cenkalti/backoff/v4 primitive this Policy's Config
// maps onto: backoff grows each interval by a single Multiplier, so
// exponentBase and factor are folded into it as their product.
func (p *Policy) newBackOff() backoff.BackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.minWait,
		RandomizationFactor: 0.1,
		Multiplier:          p.cfg.exponentBase * p.cfg.factor,
		MaxInterval:         p.cfg.maxWait,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()

	var bo backoff.BackOff = eb
	if p.cfg.maxAttempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(p.cfg.maxAttempts-1))
	}
	return bo
}

// Do runs op, retrying with exponential backoff while op returns an error.
// A *Permanent error (wrap with Permanent) stops retrying immediately.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx))
}

// Permanent wraps err so Do stops retrying and returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
