package topology_test

import (
	"errors"
	"testing"

	"github.com/mickamy/govalkey/hashslot"
	"github.com/mickamy/govalkey/topology"
	"github.com/mickamy/govalkey/transport"
)

func node(id, host string, port int, role topology.Role, health topology.Health) topology.Node {
	return topology.Node{
		ID:      id,
		Address: transport.Address{Host: host, Port: port},
		Role:    role,
		Health:  health,
	}
}

func TestCanonicalize_SortsShardsAndReplicas(t *testing.T) {
	t.Parallel()

	raw := []topology.RawShard{
		{
			Slots: []topology.SlotRange{{Start: 8192, End: 16383}},
			Nodes: []topology.Node{
				node("b-primary", "hostB", 6379, topology.RolePrimary, topology.HealthOnline),
			},
		},
		{
			Slots: []topology.SlotRange{{Start: 0, End: 8191}},
			Nodes: []topology.Node{
				node("a-replica2", "hostA", 6381, topology.RoleReplica, topology.HealthOnline),
				node("a-primary", "hostA", 6379, topology.RolePrimary, topology.HealthOnline),
				node("a-replica1", "hostA", 6380, topology.RoleReplica, topology.HealthOnline),
			},
		},
	}

	shards, err := topology.Canonicalize(raw)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("len(shards) = %d, want 2", len(shards))
	}
	if shards[0].Primary.ID != "a-primary" || shards[1].Primary.ID != "b-primary" {
		t.Fatalf("shards not sorted by primary address: %+v", shards)
	}
	if len(shards[0].Replicas) != 2 || shards[0].Replicas[0].ID != "a-replica1" {
		t.Fatalf("replicas not sorted: %+v", shards[0].Replicas)
	}
}

func TestCanonicalize_MergesRanges(t *testing.T) {
	t.Parallel()

	raw := []topology.RawShard{
		{
			Slots: []topology.SlotRange{{Start: 100, End: 200}, {Start: 0, End: 99}},
			Nodes: []topology.Node{node("p", "h", 1, topology.RolePrimary, topology.HealthOnline)},
		},
	}
	shards, err := topology.Canonicalize(raw)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if len(shards[0].Slots) != 1 || shards[0].Slots[0] != (topology.SlotRange{Start: 0, End: 200}) {
		t.Fatalf("slots not merged: %+v", shards[0].Slots)
	}
}

func TestCanonicalize_MissingPrimary(t *testing.T) {
	t.Parallel()

	raw := []topology.RawShard{
		{Nodes: []topology.Node{node("r", "h", 1, topology.RoleReplica, topology.HealthOnline)}},
	}
	_, err := topology.Canonicalize(raw)
	if !errors.Is(err, topology.ErrShardIsMissingPrimaryNode) {
		t.Fatalf("err = %v, want ErrShardIsMissingPrimaryNode", err)
	}
}

func TestCanonicalize_MultiplePrimaries(t *testing.T) {
	t.Parallel()

	raw := []topology.RawShard{
		{Nodes: []topology.Node{
			node("p1", "h", 1, topology.RolePrimary, topology.HealthOnline),
			node("p2", "h", 2, topology.RolePrimary, topology.HealthOnline),
		}},
	}
	_, err := topology.Canonicalize(raw)
	if !errors.Is(err, topology.ErrShardHasMultiplePrimaryNodes) {
		t.Fatalf("err = %v, want ErrShardHasMultiplePrimaryNodes", err)
	}
}

func TestCanonicalize_FailedPrimaryAlongsideOnlineIsFine(t *testing.T) {
	t.Parallel()

	raw := []topology.RawShard{
		{Nodes: []topology.Node{
			node("p1", "h", 1, topology.RolePrimary, topology.HealthFail),
			node("p2", "h", 2, topology.RolePrimary, topology.HealthOnline),
		}},
	}
	shards, err := topology.Canonicalize(raw)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if shards[0].Primary.ID != "p2" {
		t.Fatalf("primary = %q, want p2", shards[0].Primary.ID)
	}
}

func TestParseRole_AcceptsMasterAndPrimary(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"master", "primary"} {
		role, err := topology.ParseRole(s)
		if err != nil || role != topology.RolePrimary {
			t.Errorf("ParseRole(%q) = %v, %v; want RolePrimary, nil", s, role, err)
		}
	}
	if _, err := topology.ParseRole("leader"); err == nil {
		t.Errorf("ParseRole(leader) should fail")
	}
}

func singleShard(id string, slots ...topology.SlotRange) topology.Shard {
	return topology.Shard{Primary: topology.Node{ID: id}, Slots: slots}
}

func TestElection_LatchesWinnerAtQuorum(t *testing.T) {
	t.Parallel()

	e := topology.NewElection()
	candidate := topology.Candidate{Shards: []topology.Shard{
		{
			Primary:  topology.Node{ID: "p1", Address: transport.Address{Host: "hostP", Port: 6379}},
			Replicas: []topology.Node{{ID: "r1", Address: transport.Address{Host: "hostR", Port: 6379}}},
		},
	}}
	// nodeCount = 2, threshold = floor(2/2)+1 = 2
	e.VoteReceived(candidate, "voter1")
	if _, ok := e.Winner(); ok {
		t.Fatalf("winner latched after 1 of 2 required votes")
	}
	e.VoteReceived(candidate, "voter2")
	winner, ok := e.Winner()
	if !ok {
		t.Fatalf("expected winner after quorum reached")
	}
	if winner.Fingerprint() != candidate.Fingerprint() {
		t.Fatalf("winner fingerprint mismatch")
	}
}

func TestElection_RevoteReplacesPreviousVote(t *testing.T) {
	t.Parallel()

	e := topology.NewElection()
	a := topology.Candidate{Shards: []topology.Shard{{Primary: topology.Node{ID: "a", Address: transport.Address{Host: "hostA", Port: 6379}}}}}
	b := topology.Candidate{Shards: []topology.Shard{{Primary: topology.Node{ID: "b", Address: transport.Address{Host: "hostB", Port: 6379}}}}}

	tally := e.VoteReceived(a, "voter1")
	if tally[a.Fingerprint()] != 1 {
		t.Fatalf("tally[a] = %d, want 1", tally[a.Fingerprint()])
	}
	tally = e.VoteReceived(b, "voter1")
	if tally[a.Fingerprint()] != 0 || tally[b.Fingerprint()] != 1 {
		t.Fatalf("revote did not move the voter's ballot: %v", tally)
	}
}

func TestCandidate_FingerprintIgnoresNodeID(t *testing.T) {
	t.Parallel()

	a := topology.Candidate{Shards: []topology.Shard{
		{
			Primary:  topology.Node{ID: "node-abc123", Address: transport.Address{Host: "10.0.0.1", Port: 6379}},
			Replicas: []topology.Node{{ID: "node-def456", Address: transport.Address{Host: "10.0.0.2", Port: 6379}}},
			Slots:    []topology.SlotRange{{Start: 0, End: 8191}},
		},
	}}
	// Same endpoints and slots, but the primary failed over and came back
	// with a new node-id (and the replica was reassigned a new one too).
	b := topology.Candidate{Shards: []topology.Shard{
		{
			Primary:  topology.Node{ID: "node-xyz789", Address: transport.Address{Host: "10.0.0.1", Port: 6379}},
			Replicas: []topology.Node{{ID: "node-qrs012", Address: transport.Address{Host: "10.0.0.2", Port: 6379}}},
			Slots:    []topology.SlotRange{{Start: 0, End: 8191}},
		},
	}}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ across a node-id-only change: %q != %q", a.Fingerprint(), b.Fingerprint())
	}
}

func TestElection_WinnerNotOverturned(t *testing.T) {
	t.Parallel()

	e := topology.NewElection()
	a := topology.Candidate{Shards: []topology.Shard{{Primary: topology.Node{ID: "a", Address: transport.Address{Host: "hostA", Port: 6379}}}}}
	b := topology.Candidate{Shards: []topology.Shard{{Primary: topology.Node{ID: "b", Address: transport.Address{Host: "hostB", Port: 6379}}}}}
	// nodeCount = 1, threshold = 1 for both.
	e.VoteReceived(a, "voter1")
	winner, ok := e.Winner()
	if !ok || winner.Fingerprint() != a.Fingerprint() {
		t.Fatalf("expected a to win immediately")
	}
	e.VoteReceived(b, "voter2")
	winner, _ = e.Winner()
	if winner.Fingerprint() != a.Fingerprint() {
		t.Fatalf("later votes overturned the latched winner")
	}
}

func TestSlotMap_LookupAndResolve(t *testing.T) {
	t.Parallel()

	shards := []topology.Shard{
		singleShard("shard-a", topology.SlotRange{Start: 0, End: 8191}),
		singleShard("shard-b", topology.SlotRange{Start: 8192, End: 16383}),
	}
	m := topology.Update(shards)

	if ids := m.Lookup(100); ids == nil || ids.Primary != "shard-a" {
		t.Fatalf("Lookup(100) = %+v, want shard-a", ids)
	}
	if ids := m.Lookup(9000); ids == nil || ids.Primary != "shard-b" {
		t.Fatalf("Lookup(9000) = %+v, want shard-b", ids)
	}

	same, err := m.Resolve([]hashslot.Slot{1, 2, 100})
	if err != nil || same.Primary != "shard-a" {
		t.Fatalf("Resolve same-shard = %+v, %v", same, err)
	}

	_, err = m.Resolve([]hashslot.Slot{1, 9000})
	if !errors.Is(err, topology.ErrKeysInCommandRequireMultipleNodes) {
		t.Fatalf("err = %v, want ErrKeysInCommandRequireMultipleNodes", err)
	}
}

func TestSlotMap_MissingAssignment(t *testing.T) {
	t.Parallel()

	shards := []topology.Shard{singleShard("shard-a", topology.SlotRange{Start: 0, End: 100})}
	m := topology.Update(shards)

	_, err := m.Resolve([]hashslot.Slot{5000})
	if !errors.Is(err, topology.ErrClusterIsMissingSlotAssignment) {
		t.Fatalf("err = %v, want ErrClusterIsMissingSlotAssignment", err)
	}
}

func TestSlotMap_EmptySetNoNodes(t *testing.T) {
	t.Parallel()

	m := topology.Update(nil)
	_, err := m.Resolve(nil)
	if !errors.Is(err, topology.ErrClusterHasNoNodes) {
		t.Fatalf("err = %v, want ErrClusterHasNoNodes", err)
	}
}

func TestSlotMap_IdempotentUpdate(t *testing.T) {
	t.Parallel()

	shards := []topology.Shard{singleShard("shard-a", topology.SlotRange{Start: 0, End: 16383})}
	m1 := topology.Update(shards)
	m2 := topology.Update(shards)

	for _, slot := range []hashslot.Slot{0, 100, 16383} {
		a := m1.Lookup(slot)
		b := m2.Lookup(slot)
		if a.Primary != b.Primary {
			t.Fatalf("slot %d: %+v != %+v", slot, a, b)
		}
	}
}
