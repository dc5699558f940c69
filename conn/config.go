package conn

import "time"

// DefaultCommandTimeout bounds an ordinary command's round trip.
const DefaultCommandTimeout = 30 * time.Second

// DefaultBlockingCommandTimeout bounds a command known to block
// server-side (BLPOP and friends).
const DefaultBlockingCommandTimeout = 120 * time.Second

// Authentication carries HELLO's AUTH argument.
type Authentication struct {
	Username string
	Password string
}

// Option configures a Connection. Zero value Config yields library
// defaults via defaultConfig().
type Option func(*Config)

// Config holds one connection's handshake and timeout policy.
type Config struct {
	authentication          *Authentication
	commandTimeout           time.Duration
	blockingCommandTimeout   time.Duration
	clientName               string
	readOnly                 bool
	databaseNumber           int
}

func defaultConfig() *Config {
	return &Config{
		commandTimeout:         DefaultCommandTimeout,
		blockingCommandTimeout: DefaultBlockingCommandTimeout,
	}
}

// WithAuthentication sets the username/password HELLO authenticates with.
func WithAuthentication(username, password string) Option {
	return func(c *Config) { c.authentication = &Authentication{Username: username, Password: password} }
}

// WithCommandTimeout overrides the default 30s command deadline.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.commandTimeout = d
		}
	}
}

// WithBlockingCommandTimeout overrides the default 120s deadline used for
// commands known to block server-side.
func WithBlockingCommandTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.blockingCommandTimeout = d
		}
	}
}

// WithClientName sets the name HELLO's SETNAME argument reports.
func WithClientName(name string) Option {
	return func(c *Config) { c.clientName = name }
}

// WithReadOnly marks the connection for READONLY mode against a cluster
// replica once active.
func WithReadOnly(readOnly bool) Option {
	return func(c *Config) { c.readOnly = readOnly }
}

// WithDatabaseNumber selects a database via SELECT once active. SELECT is
// sent whenever n is non-zero; the connection does not check whether the
// server is a cluster node.
func WithDatabaseNumber(n int) Option {
	return func(c *Config) { c.databaseNumber = n }
}
