package conn

import "github.com/mickamy/govalkey/command"

// helloFrame renders the HELLO 3 handshake frame: protocol version,
// optional AUTH username/password, optional SETNAME client name.
func helloFrame(cfg *Config) []byte {
	return command.Command("HELLO", func(e *command.Encoder) {
		e.Int(3)
		e.WithToken("AUTH", func(c *command.Encoder) {
			if cfg.authentication == nil {
				return
			}
			c.BulkString(cfg.authentication.Username)
			c.BulkString(cfg.authentication.Password)
		})
		e.WithToken("SETNAME", func(c *command.Encoder) {
			if cfg.clientName == "" {
				return
			}
			c.BulkString(cfg.clientName)
		})
	})
}

// authFrame renders a bare AUTH command, used as a fallback when HELLO
// succeeds but its reply is not a map (see needsAuthFallback). A HELLO that
// fails with an error reply closes the connection without this fallback.
func authFrame(auth *Authentication) []byte {
	return command.Command("AUTH", func(e *command.Encoder) {
		e.BulkString(auth.Username)
		e.BulkString(auth.Password)
	})
}

// readOnlyFrame renders READONLY, sent once a connection configured with
// WithReadOnly becomes active against a cluster replica.
func readOnlyFrame() []byte {
	return command.Command("READONLY", nil)
}

// selectFrame renders SELECT <n>, sent once a connection configured with
// WithDatabaseNumber becomes active.
func selectFrame(n int) []byte {
	return command.Command("SELECT", func(e *command.Encoder) {
		e.Int(int64(n))
	})
}

// askingFrame renders the ASKING frame the cluster client prefixes to a
// one-shot ASK redirect retry.
func askingFrame() []byte {
	return command.Command("ASKING", nil)
}
