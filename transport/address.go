// Package transport resolves an Address into a net.Conn, covering TCP with
// optional TLS and Unix domain sockets behind one Dial call.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
)

// DefaultPort is used when an Address's Port is zero.
const DefaultPort = 6379

// Address identifies either a TCP host/port pair or a Unix domain socket
// path. Exactly one of (Host, UnixSocket) should be set; Dial treats a
// non-empty UnixSocket as taking precedence.
type Address struct {
	Host       string
	Port       int
	UnixSocket string

	TLS *TLSConfig
}

// TLSConfig enables TLS on a TCP Address, with an optional SNI override for
// when the dialed host does not match the certificate's expected name (e.g.
// dialing a load balancer in front of a cluster node).
type TLSConfig struct {
	Config     *tls.Config
	ServerName string
}

// ErrNoAddress is returned by Dial when an Address has neither a host nor a
// Unix socket path set.
var ErrNoAddress = errors.New("transport: address has no host or unix socket path")

// String renders the address the way redirect errors and log lines expect:
// "host:port" for TCP, the raw path for a Unix socket.
func (a Address) String() string {
	if a.UnixSocket != "" {
		return a.UnixSocket
	}
	port := a.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(port))
}

// Dial opens a net.Conn to a, applying TLS if configured. ctx governs the
// dial itself, not the lifetime of the resulting connection.
func Dial(ctx context.Context, a Address) (net.Conn, error) {
	if a.UnixSocket != "" {
		var d net.Dialer
		return d.DialContext(ctx, "unix", a.UnixSocket)
	}
	if a.Host == "" {
		return nil, ErrNoAddress
	}

	port := a.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(a.Host, strconv.Itoa(port))

	var d net.Dialer
	if a.TLS == nil {
		return d.DialContext(ctx, "tcp", addr)
	}

	cfg := a.TLS.Config
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if a.TLS.ServerName != "" {
		cfg.ServerName = a.TLS.ServerName
	} else if cfg.ServerName == "" {
		cfg.ServerName = a.Host
	}

	td := tls.Dialer{NetDialer: &d, Config: cfg}
	return td.DialContext(ctx, "tcp", addr)
}

// ParseHostPort splits a "host:port" string as found in MOVED/ASK/REDIRECT
// error payloads into an Address. port must be numeric.
func ParseHostPort(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, err
	}
	return Address{Host: host, Port: port}, nil
}
