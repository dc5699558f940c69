package topology

import (
	"errors"
	"math/rand"

	"github.com/mickamy/govalkey/hashslot"
)

// ErrClusterHasNoNodes is returned by Resolve for an empty slot set when no
// shard is known at all.
var ErrClusterHasNoNodes = errors.New("topology: cluster has no nodes")

// ErrKeysInCommandRequireMultipleNodes is returned by Resolve when the
// requested slots span more than one shard.
var ErrKeysInCommandRequireMultipleNodes = errors.New("topology: keys in command require multiple nodes")

// ErrClusterIsMissingSlotAssignment is returned by Resolve when any
// requested slot has no owning shard.
var ErrClusterIsMissingSlotAssignment = errors.New("topology: cluster is missing a slot assignment")

// ShardNodeIDs is the routing answer for one shard: its primary's node id
// plus its replicas', in the canonical order Canonicalize produced.
type ShardNodeIDs struct {
	Primary  string
	Replicas []string
}

// SlotMap is a dense 16384-entry table mapping each slot to its owning
// shard, or to no shard at all if unassigned. A SlotMap is never modified
// after construction (Update and WithPatchedSlot return new maps), so it is
// safe to read concurrently once published.
type SlotMap struct {
	table [hashslot.Count]*ShardNodeIDs
	ids   []string // all known shard primary ids, for random-pick on empty resolve
}

// Update builds a new slot→shard table from a canonicalized shard list and
// returns it; the caller publishes it in place of the old map, so concurrent
// Lookups never see a partially-updated map. Applying Update twice with the same shards
// produces identical tables, since the table is derived purely from shards.
func Update(shards []Shard) *SlotMap {
	m := &SlotMap{}
	for _, s := range shards {
		ids := &ShardNodeIDs{Primary: s.Primary.ID}
		for _, r := range s.Replicas {
			ids.Replicas = append(ids.Replicas, r.ID)
		}
		m.ids = append(m.ids, s.Primary.ID)
		for _, rng := range s.Slots {
			for slot := rng.Start; ; slot++ {
				m.table[slot] = ids
				if slot == rng.End {
					break
				}
			}
		}
	}
	return m
}

// WithPatchedSlot returns a copy of m with slot's owner overwritten to ids.
// It is used to apply a single MOVED redirect to the routing table
// immediately, without waiting for the next full discovery round to
// rebuild the whole table via Update.
func (m *SlotMap) WithPatchedSlot(slot hashslot.Slot, ids ShardNodeIDs) *SlotMap {
	patched := &SlotMap{table: m.table, ids: m.ids}
	patched.table[slot] = &ids

	for _, id := range patched.ids {
		if id == ids.Primary {
			return patched
		}
	}
	patched.ids = append(append([]string(nil), m.ids...), ids.Primary)
	return patched
}

// Lookup returns the shard owning slot, or nil if unassigned.
func (m *SlotMap) Lookup(slot hashslot.Slot) *ShardNodeIDs {
	if slot >= hashslot.Count {
		return nil
	}
	return m.table[slot]
}

// Resolve maps a set of slots to the single shard that owns all of them.
func (m *SlotMap) Resolve(slots []hashslot.Slot) (ShardNodeIDs, error) {
	if len(slots) == 0 {
		if len(m.ids) == 0 {
			return ShardNodeIDs{}, ErrClusterHasNoNodes
		}
		return ShardNodeIDs{Primary: m.ids[rand.Intn(len(m.ids))]}, nil
	}

	var owner *ShardNodeIDs
	for _, slot := range slots {
		ids := m.Lookup(slot)
		if ids == nil {
			return ShardNodeIDs{}, ErrClusterIsMissingSlotAssignment
		}
		if owner == nil {
			owner = ids
			continue
		}
		if owner.Primary != ids.Primary {
			return ShardNodeIDs{}, ErrKeysInCommandRequireMultipleNodes
		}
	}
	return *owner, nil
}
