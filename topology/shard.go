// Package topology canonicalizes a cluster description into a comparable
// candidate, runs quorum election across voters, and publishes a dense
// slot→shard map for routing.
package topology

import (
	"errors"
	"sort"

	"github.com/mickamy/govalkey/transport"
)

// ErrShardIsMissingPrimaryNode is returned when a shard has no online
// primary.
var ErrShardIsMissingPrimaryNode = errors.New("topology: shard is missing a primary node")

// ErrShardHasMultiplePrimaryNodes is returned when a shard has more than
// one online primary. A failed primary alongside an online one is fine.
var ErrShardHasMultiplePrimaryNodes = errors.New("topology: shard has multiple online primary nodes")

// Health is a node's reported health.
type Health string

const (
	HealthOnline  Health = "online"
	HealthLoading Health = "loading"
	HealthFail    Health = "fail"
)

// Role is a node's reported role within its shard. Both "master" and
// "primary" are accepted spellings for the primary role.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// Node describes one cluster node as reported by CLUSTER SHARDS.
type Node struct {
	ID                string
	Address           transport.Address
	Role              Role
	ReplicationOffset int64
	Health            Health
}

// IsOnline reports whether the node is usable for routing.
func (n Node) IsOnline() bool { return n.Health == HealthOnline }

// SlotRange is an inclusive [Start, End] range over [0, 16383].
type SlotRange struct {
	Start uint16
	End   uint16
}

// RawShard is one shard entry exactly as reported, before canonicalization.
type RawShard struct {
	Slots []SlotRange
	Nodes []Node
}

// Shard is a canonicalized shard: exactly one online primary, slots as a
// sorted union of ranges, replicas sorted by (endpoint, port).
type Shard struct {
	Primary  Node
	Replicas []Node
	Slots    []SlotRange
}

// Canonicalize validates and sorts raw shards into the comparable form used
// as a Candidate's fingerprint.
func Canonicalize(raw []RawShard) ([]Shard, error) {
	shards := make([]Shard, 0, len(raw))
	for _, r := range raw {
		shard, err := canonicalizeOne(r)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	sort.Slice(shards, func(i, j int) bool {
		return nodeLess(shards[i].Primary, shards[j].Primary)
	})
	return shards, nil
}

func canonicalizeOne(r RawShard) (Shard, error) {
	var primary *Node
	var replicas []Node
	for _, n := range r.Nodes {
		if n.Role == RolePrimary && n.IsOnline() {
			if primary != nil {
				return Shard{}, ErrShardHasMultiplePrimaryNodes
			}
			nCopy := n
			primary = &nCopy
			continue
		}
		if n.Role == RoleReplica {
			replicas = append(replicas, n)
		}
	}
	if primary == nil {
		return Shard{}, ErrShardIsMissingPrimaryNode
	}

	sort.Slice(replicas, func(i, j int) bool { return nodeLess(replicas[i], replicas[j]) })

	slots := append([]SlotRange(nil), r.Slots...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
	slots = mergeRanges(slots)

	return Shard{Primary: *primary, Replicas: replicas, Slots: slots}, nil
}

func nodeLess(a, b Node) bool {
	if a.Address.Host != b.Address.Host {
		return a.Address.Host < b.Address.Host
	}
	return a.Address.Port < b.Address.Port
}

func mergeRanges(sorted []SlotRange) []SlotRange {
	if len(sorted) == 0 {
		return sorted
	}
	merged := []SlotRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
