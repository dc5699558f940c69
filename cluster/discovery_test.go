package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mickamy/govalkey/topology"
	"github.com/mickamy/govalkey/transport"
)

func shardCandidate(primaryID string, replicaIDs ...string) topology.Candidate {
	s := topology.Shard{
		Primary: topology.Node{ID: primaryID, Address: transport.Address{Host: primaryID}, Role: topology.RolePrimary, Health: topology.HealthOnline},
		Slots:   []topology.SlotRange{{Start: 0, End: 16383}},
	}
	for _, id := range replicaIDs {
		s.Replicas = append(s.Replicas, topology.Node{ID: id, Address: transport.Address{Host: id}, Role: topology.RoleReplica, Health: topology.HealthOnline})
	}
	return topology.Candidate{Shards: []topology.Shard{s}}
}

func TestDiscovery_QuorumPublishesSlotMap(t *testing.T) {
	t.Parallel()
	seeds := []transport.Address{{Host: "seed-a"}, {Host: "seed-b"}, {Host: "seed-c"}}
	registry := newNodeRegistry(nil, nil, nil, nil)
	cfg := defaultConfig()
	cfg.circuitBreakerDuration = time.Second
	d := newDiscovery(cfg, seeds, registry)
	defer d.close()

	candidate := shardCandidate("node-1")
	execute := func(ctx context.Context, addr transport.Address) (topology.Candidate, error) {
		return candidate, nil
	}

	if err := d.run(t.Context(), execute); err != nil {
		t.Fatalf("run: %v", err)
	}

	sm := d.currentSlotMap()
	if sm == nil {
		t.Fatal("slot map not published")
	}
	ids := sm.Lookup(0)
	if ids == nil {
		t.Fatal("slot 0 unassigned")
	}
	if ids.Primary != "node-1" {
		t.Fatalf("primary = %q, want node-1", ids.Primary)
	}
}

func TestDiscovery_NoQuorumOpensCircuit(t *testing.T) {
	t.Parallel()
	seeds := []transport.Address{{Host: "seed-a"}, {Host: "seed-b"}, {Host: "seed-c"}}
	registry := newNodeRegistry(nil, nil, nil, nil)
	cfg := defaultConfig()
	cfg.circuitBreakerDuration = 50 * time.Millisecond
	d := newDiscovery(cfg, seeds, registry)
	defer d.close()

	// Every seed reports a different two-node topology, so no candidate's
	// single vote ever reaches its own quorum threshold of two.
	execute := func(ctx context.Context, addr transport.Address) (topology.Candidate, error) {
		return shardCandidate("node-"+addr.Host, "replica-"+addr.Host), nil
	}

	err := d.run(t.Context(), execute)
	if !errors.Is(err, ErrNoConsensusReachedCircuitBreakerOpen) {
		t.Fatalf("run err = %v, want ErrNoConsensusReachedCircuitBreakerOpen", err)
	}
	if d.currentSlotMap() != nil {
		t.Fatal("slot map should not be published without quorum")
	}
}

func TestDiscovery_PatchSlotRoutesDirectlyWithoutWaitingForNextRound(t *testing.T) {
	t.Parallel()
	seeds := []transport.Address{{Host: "seed-a"}}
	registry := newNodeRegistry(nil, nil, nil, nil)
	cfg := defaultConfig()
	cfg.circuitBreakerDuration = time.Second
	d := newDiscovery(cfg, seeds, registry)
	defer d.close()

	execute := func(ctx context.Context, addr transport.Address) (topology.Candidate, error) {
		return shardCandidate("node-A"), nil
	}
	if err := d.run(t.Context(), execute); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ids := d.currentSlotMap().Lookup(1234); ids == nil || ids.Primary != "node-A" {
		t.Fatalf("slot 1234 primary = %+v, want node-A", ids)
	}

	// A MOVED reply for slot 1234 patches the table immediately; a second
	// lookup for that slot must go straight to the new node without
	// waiting for the next periodic round.
	d.patchSlot(1234, "node-B")

	ids := d.currentSlotMap().Lookup(1234)
	if ids == nil || ids.Primary != "node-B" {
		t.Fatalf("slot 1234 primary after patch = %+v, want node-B", ids)
	}
	// An untouched slot in the same shard keeps its original owner.
	if ids := d.currentSlotMap().Lookup(1); ids == nil || ids.Primary != "node-A" {
		t.Fatalf("slot 1 primary = %+v, want unaffected node-A", ids)
	}
}

func TestDiscovery_WaitForHealthyUnblocksOnPublish(t *testing.T) {
	t.Parallel()
	seeds := []transport.Address{{Host: "seed-a"}}
	registry := newNodeRegistry(nil, nil, nil, nil)
	cfg := defaultConfig()
	cfg.circuitBreakerDuration = time.Second
	d := newDiscovery(cfg, seeds, registry)
	defer d.close()

	release := make(chan struct{})
	execute := func(ctx context.Context, addr transport.Address) (topology.Candidate, error) {
		<-release
		return shardCandidate("node-1"), nil
	}

	done := make(chan error, 1)
	go func() { done <- d.run(t.Context(), execute) }()

	waitDone := make(chan error, 1)
	go func() { waitDone <- d.waitForHealthy(t.Context()) }()

	select {
	case <-waitDone:
		t.Fatal("waitForHealthy returned before discovery settled")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := <-waitDone; err != nil {
		t.Fatalf("waitForHealthy: %v", err)
	}
}
