package cluster

import (
	"strconv"
	"strings"

	"github.com/mickamy/govalkey/conn"
	"github.com/mickamy/govalkey/hashslot"
	"github.com/mickamy/govalkey/transport"
)

// redirectKind classifies a server-initiated redirect hint's reply format.
type redirectKind int

const (
	redirectMoved redirectKind = iota
	redirectAsk
	redirectReplica
)

// redirect is a parsed MOVED/ASK/REDIRECT hint.
type redirect struct {
	Kind    redirectKind
	Slot    hashslot.Slot
	Address transport.Address
}

// parseRedirect recognizes a CommandError as one of the three strict
// redirect formats: "MOVED <slot> <host>:<port>", "ASK <slot> <host>:<port>",
// or "REDIRECT <host>:<port>" (no slot). Any other CommandError, or any
// other error entirely, is not a redirect.
func parseRedirect(err error) (*redirect, bool) {
	ce, ok := err.(*conn.CommandError)
	if !ok {
		return nil, false
	}

	switch ce.Prefix {
	case "MOVED":
		return parseSlotAndAddress(ce.Message, redirectMoved)
	case "ASK":
		return parseSlotAndAddress(ce.Message, redirectAsk)
	case "REDIRECT":
		addr, ok := parseHostPort(ce.Message)
		if !ok {
			return nil, false
		}
		return &redirect{Kind: redirectReplica, Slot: hashslot.Unknown, Address: addr}, true
	default:
		return nil, false
	}
}

func parseSlotAndAddress(message string, kind redirectKind) (*redirect, bool) {
	fields := strings.Fields(message)
	if len(fields) != 2 {
		return nil, false
	}
	slotN, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return nil, false
	}
	addr, ok := parseHostPort(fields[1])
	if !ok {
		return nil, false
	}
	return &redirect{Kind: kind, Slot: hashslot.Slot(slotN), Address: addr}, true
}

func parseHostPort(hostport string) (transport.Address, bool) {
	addr, err := transport.ParseHostPort(hostport)
	if err != nil {
		return transport.Address{}, false
	}
	return addr, true
}
