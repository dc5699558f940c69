// Package command builds RESP requests: one array of bulk strings per
// invocation, composed from a small set of argument shapes so callers never
// hand-assemble the "*N\r\n$len\r\n..." framing themselves.
package command

import "strconv"

// Encoder accumulates bulk-string arguments into a single RESP array. The
// zero value is ready to use. Reset lets a caller reuse one Encoder across
// many commands instead of allocating a fresh one per call.
type Encoder struct {
	body    []byte
	entries int
}

// Reset clears the encoder so it can be reused for the next command.
func (e *Encoder) Reset() {
	e.body = e.body[:0]
	e.entries = 0
}

// respEntries reports how many bulk strings have been appended so far.
// Aggregate forms (WithToken, ArrayWithCount) read a child encoder's count
// directly instead of re-walking its buffer.
func (e *Encoder) respEntries() int { return e.entries }

// BulkString appends s as a RESP bulk string argument.
func (e *Encoder) BulkString(s string) *Encoder {
	e.appendBulk([]byte(s))
	return e
}

// BulkBytes appends raw bytes as a RESP bulk string argument, for values
// that are not valid utf-8 (e.g. binary-safe SET values).
func (e *Encoder) BulkBytes(b []byte) *Encoder {
	e.appendBulk(b)
	return e
}

// Int appends an integer rendered as a decimal bulk string.
func (e *Encoder) Int(n int64) *Encoder {
	return e.BulkString(strconv.FormatInt(n, 10))
}

// Float appends a double rendered as a decimal bulk string, matching the
// server's own formatting for non-integral scores and increments.
func (e *Encoder) Float(f float64) *Encoder {
	return e.BulkString(strconv.FormatFloat(f, 'f', -1, 64))
}

// PureToken appends token as a standalone bulk string iff present is true,
// and is a no-op otherwise. Used for boolean command flags such as NX/XX.
func (e *Encoder) PureToken(token string, present bool) *Encoder {
	if present {
		e.BulkString(token)
	}
	return e
}

// WithToken runs build against a fresh child encoder and, iff it produced at
// least one entry, appends token followed by that child's entries inline.
// An empty build (e.g. an absent optional value) renders nothing at all, not
// even the token.
func (e *Encoder) WithToken(token string, build func(*Encoder)) *Encoder {
	var child Encoder
	if build != nil {
		build(&child)
	}
	if child.entries == 0 {
		return e
	}
	e.BulkString(token)
	e.body = append(e.body, child.body...)
	e.entries += child.entries
	return e
}

// ArrayWithCount runs build against a fresh child encoder and appends the
// child's entry count as a decimal bulk string, followed by the child's
// entries. Used for commands like LMPOP where a numkeys argument precedes a
// variable-length key list.
func (e *Encoder) ArrayWithCount(build func(*Encoder)) *Encoder {
	var child Encoder
	if build != nil {
		build(&child)
	}
	e.Int(int64(child.entries))
	e.body = append(e.body, child.body...)
	e.entries += child.entries
	return e
}

// ArrayWithRepeatedToken appends (token, value) for each value, in order.
// Used for commands like SORT whose BY/GET clauses repeat per pattern.
func (e *Encoder) ArrayWithRepeatedToken(token string, values []string) *Encoder {
	for _, v := range values {
		e.BulkString(token)
		e.BulkString(v)
	}
	return e
}

// ArrayWithRepeatedTokenBytes is ArrayWithRepeatedToken for binary-safe
// values.
func (e *Encoder) ArrayWithRepeatedTokenBytes(token string, values [][]byte) *Encoder {
	for _, v := range values {
		e.BulkString(token)
		e.BulkBytes(v)
	}
	return e
}

func (e *Encoder) appendBulk(b []byte) {
	e.body = append(e.body, '$')
	e.body = strconv.AppendInt(e.body, int64(len(b)), 10)
	e.body = append(e.body, '\r', '\n')
	e.body = append(e.body, b...)
	e.body = append(e.body, '\r', '\n')
	e.entries++
}

// Bytes renders the encoder's accumulated entries as a complete RESP array
// frame: "*<entries>\r\n" followed by each bulk string in order.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, 0, len(e.body)+16)
	out = append(out, '*')
	out = strconv.AppendInt(out, int64(e.entries), 10)
	out = append(out, '\r', '\n')
	out = append(out, e.body...)
	return out
}

// Command encodes name followed by build's arguments as one complete RESP
// array frame. It is the normal entry point: callers rarely construct an
// Encoder directly.
func Command(name string, build func(*Encoder)) []byte {
	var e Encoder
	e.BulkString(name)
	if build != nil {
		build(&e)
	}
	return e.Bytes()
}
