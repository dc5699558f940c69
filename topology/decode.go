package topology

import (
	"fmt"

	"github.com/mickamy/govalkey/resp3"
	"github.com/mickamy/govalkey/transport"
)

// ParseRole accepts both "master" and "primary" as spellings of RolePrimary,
// and "replica" as RoleReplica. Any other value is rejected as an
// UnexpectedToken-class error by the caller's decoder.
func ParseRole(s string) (Role, error) {
	switch s {
	case "primary", "master":
		return RolePrimary, nil
	case "replica":
		return RoleReplica, nil
	default:
		return "", fmt.Errorf("topology: unexpected role %q", s)
	}
}

// ParseHealth validates a CLUSTER SHARDS health string.
func ParseHealth(s string) (Health, error) {
	switch Health(s) {
	case HealthOnline, HealthLoading, HealthFail:
		return Health(s), nil
	default:
		return "", fmt.Errorf("topology: unexpected health %q", s)
	}
}

// DecodeShards decodes a CLUSTER SHARDS reply into RawShards ready for
// Canonicalize. The reply is an array of per-shard entries; each entry
// carries a "slots" array of [start,end,...] integers and a "nodes" array
// of per-node entries. Both the array-of-key-value-pairs and the map
// representation are accepted for a shard entry and for each node entry,
// since a server replies with whichever shape the connection negotiated
// (RESP3 maps vs. flat arrays).
func DecodeShards(v resp3.Value) ([]RawShard, error) {
	entries, err := collectElements(v)
	if err != nil {
		return nil, fmt.Errorf("topology: decode shards: %w", err)
	}

	shards := make([]RawShard, 0, len(entries))
	for _, entry := range entries {
		shard, err := decodeShard(entry)
		if err != nil {
			return nil, fmt.Errorf("topology: decode shard: %w", err)
		}
		shards = append(shards, shard)
	}
	return shards, nil
}

func decodeShard(v resp3.Value) (RawShard, error) {
	fields, err := fieldsOf(v)
	if err != nil {
		return RawShard{}, err
	}

	var shard RawShard
	if slotsVal, ok := fields["slots"]; ok {
		ranges, err := decodeSlotRanges(slotsVal)
		if err != nil {
			return RawShard{}, fmt.Errorf("slots: %w", err)
		}
		shard.Slots = ranges
	}

	nodesVal, ok := fields["nodes"]
	if !ok {
		return RawShard{}, &resp3.MissingToken{Key: "nodes"}
	}
	nodeEntries, err := collectElements(nodesVal)
	if err != nil {
		return RawShard{}, fmt.Errorf("nodes: %w", err)
	}
	for _, nodeEntry := range nodeEntries {
		node, err := decodeNode(nodeEntry)
		if err != nil {
			return RawShard{}, fmt.Errorf("node: %w", err)
		}
		shard.Nodes = append(shard.Nodes, node)
	}
	return shard, nil
}

// collectElements walks an array/set/push value's members into a slice;
// CLUSTER SHARDS entries are small so there is no benefit to the lazy
// iterator here.
func collectElements(v resp3.Value) ([]resp3.Value, error) {
	it, err := v.Elements()
	if err != nil {
		return nil, err
	}
	var out []resp3.Value
	for {
		elem, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, elem)
	}
	return out, nil
}

// fieldsOf reads a shard or node entry as a string-keyed field map,
// accepting either a RESP3 map value or a flat array of alternating
// key/value bulk strings (the array-of-key-value-pairs form CLUSTER SHARDS
// uses when the connection has not negotiated RESP3 maps).
func fieldsOf(v resp3.Value) (map[string]resp3.Value, error) {
	switch v.Kind() {
	case resp3.KindMap, resp3.KindAttribute:
		pairs, err := v.Pairs()
		if err != nil {
			return nil, err
		}
		out := make(map[string]resp3.Value)
		for {
			k, val, ok, err := pairs.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			key, err := k.AsString()
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	case resp3.KindArray, resp3.KindSet:
		elems, err := collectElements(v)
		if err != nil {
			return nil, err
		}
		if len(elems)%2 != 0 {
			return nil, &resp3.InvalidArraySize{Got: len(elems), Expected: len(elems) + 1}
		}
		out := make(map[string]resp3.Value, len(elems)/2)
		for i := 0; i < len(elems); i += 2 {
			key, err := elems[i].AsString()
			if err != nil {
				return nil, err
			}
			out[key] = elems[i+1]
		}
		return out, nil
	default:
		return nil, &resp3.TokenMismatch{Accepted: []resp3.Kind{resp3.KindMap, resp3.KindArray}, Got: v.Kind()}
	}
}

func decodeSlotRanges(v resp3.Value) ([]SlotRange, error) {
	elems, err := collectElements(v)
	if err != nil {
		return nil, err
	}
	if len(elems)%2 != 0 {
		return nil, &resp3.InvalidArraySize{Got: len(elems), Expected: len(elems) + 1}
	}
	ranges := make([]SlotRange, 0, len(elems)/2)
	for i := 0; i < len(elems); i += 2 {
		start, err := elems[i].AsInt64()
		if err != nil {
			return nil, err
		}
		end, err := elems[i+1].AsInt64()
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, SlotRange{Start: uint16(start), End: uint16(end)})
	}
	return ranges, nil
}

func decodeNode(v resp3.Value) (Node, error) {
	fields, err := fieldsOf(v)
	if err != nil {
		return Node{}, err
	}

	id, err := stringField(fields, "id")
	if err != nil {
		return Node{}, err
	}
	port, err := intField(fields, "port")
	if err != nil {
		return Node{}, err
	}
	ip, _ := stringField(fields, "ip")
	endpoint, _ := stringField(fields, "endpoint")
	host := endpoint
	if host == "" {
		host = ip
	}

	roleStr, err := stringField(fields, "role")
	if err != nil {
		return Node{}, err
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		return Node{}, &resp3.UnexpectedToken{Detail: err.Error()}
	}

	healthStr, err := stringField(fields, "health")
	if err != nil {
		return Node{}, err
	}
	health, err := ParseHealth(healthStr)
	if err != nil {
		return Node{}, &resp3.UnexpectedToken{Detail: err.Error()}
	}

	offset, err := intField(fields, "replication-offset")
	if err != nil {
		return Node{}, err
	}

	addr := transport.Address{Host: host, Port: int(port)}
	if tlsPort, ok := fields["tls-port"]; ok {
		if n, err := tlsPort.AsInt64(); err == nil && n != 0 {
			addr.Port = int(n)
		}
	}

	return Node{
		ID:                id,
		Address:           addr,
		Role:              role,
		ReplicationOffset: offset,
		Health:            health,
	}, nil
}

func stringField(fields map[string]resp3.Value, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", &resp3.MissingToken{Key: key}
	}
	return v.AsString()
}

func intField(fields map[string]resp3.Value, key string) (int64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, &resp3.MissingToken{Key: key}
	}
	return v.AsInt64()
}
