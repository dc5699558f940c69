package cluster

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mickamy/govalkey/command"
	"github.com/mickamy/govalkey/hashslot"
	"github.com/mickamy/govalkey/topology"
	"github.com/mickamy/govalkey/transport"
)

// clusterShardsFrame builds the CLUSTER SHARDS request every voter is
// polled with.
func clusterShardsFrame() []byte {
	return command.Command("CLUSTER", func(e *command.Encoder) { e.BulkString("SHARDS") })
}

// discovery runs quorum voting over CLUSTER SHARDS replies from a set of
// seed nodes, publishing the winning topology as a topology.SlotMap and
// keeping a nodeRegistry in sync with it. It opens a circuit breaker when a
// round fails to reach quorum within cfg.circuitBreakerDuration, failing
// fast for any caller waiting on WaitForHealthy until the next round wins.
type discovery struct {
	cfg      *Config
	seeds    []transport.Address
	registry *nodeRegistry

	election *topology.Election

	mu          sync.Mutex
	slotMap     *topology.SlotMap
	shards      []topology.Shard
	circuitOpen bool
	waiters     []chan error

	stop chan struct{}
	once sync.Once
}

func newDiscovery(cfg *Config, seeds []transport.Address, registry *nodeRegistry) *discovery {
	return &discovery{
		cfg:      cfg,
		seeds:    seeds,
		registry: registry,
		election: topology.NewElection(),
		stop:     make(chan struct{}),
	}
}

// currentSlotMap returns the last-published slot map, or nil before the
// first successful round.
func (d *discovery) currentSlotMap() *topology.SlotMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slotMap
}

// currentShards returns the last-published canonical shard list.
func (d *discovery) currentShards() []topology.Shard {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shards
}

// run drives the periodic refresh loop until stop() is called. The first
// round runs synchronously so the caller can observe its outcome via the
// returned error; subsequent rounds run on cfg.defaultClusterRefreshInterval
// and their errors are discarded, since no one is blocked on them.
func (d *discovery) run(ctx context.Context, execute func(ctx context.Context, addr transport.Address) (topology.Candidate, error)) error {
	err := d.round(ctx, execute)
	go d.loop(ctx, execute)
	return err
}

func (d *discovery) loop(ctx context.Context, execute func(ctx context.Context, addr transport.Address) (topology.Candidate, error)) {
	ticker := time.NewTicker(d.cfg.defaultClusterRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.round(ctx, execute)
		}
	}
}

// round polls every seed for its view of the topology, in parallel, votes
// each reply into the election, and publishes a winner if quorum was
// reached within circuitBreakerDuration. It returns the round's outcome and
// unblocks any WaitForHealthy callers waiting on it.
func (d *discovery) round(parent context.Context, execute func(ctx context.Context, addr transport.Address) (topology.Candidate, error)) error {
	ctx, cancel := context.WithTimeout(parent, d.cfg.circuitBreakerDuration)
	defer cancel()

	d.election.Reset()

	g, gctx := errgroup.WithContext(ctx)
	for _, seed := range d.seeds {
		seed := seed
		voterID := seed.String()
		g.Go(func() error {
			candidate, err := execute(gctx, seed)
			if err != nil {
				return nil // a down seed just doesn't get to vote
			}
			d.election.VoteReceived(candidate, voterID)
			return nil
		})
	}
	_ = g.Wait()

	winner, ok := d.election.Winner()
	if !ok {
		return d.openCircuit()
	}
	return d.publish(winner)
}

func (d *discovery) publish(winner topology.Candidate) error {
	d.mu.Lock()
	d.slotMap = topology.Update(winner.Shards)
	d.shards = winner.Shards
	d.circuitOpen = false
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	for _, ch := range waiters {
		ch <- nil
	}

	want := make(map[string]transport.Address)
	for _, s := range winner.Shards {
		want[s.Primary.ID] = s.Primary.Address
		for _, r := range s.Replicas {
			want[r.ID] = r.Address
		}
	}
	d.registry.sync(want)
	return nil
}

// patchSlot overwrites slot's owner in the published slot map to point at
// primaryID, immediately, so the very next lookup for that slot routes
// there directly instead of redirecting again. It does not touch the
// replica set for the shard, since a MOVED reply only names the new
// primary; the next periodic round reconciles the rest of the shard's
// membership. A no-op before the first round has published anything.
func (d *discovery) patchSlot(slot hashslot.Slot, primaryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slotMap == nil {
		return
	}
	d.slotMap = d.slotMap.WithPatchedSlot(slot, topology.ShardNodeIDs{Primary: primaryID})
}

func (d *discovery) openCircuit() error {
	d.mu.Lock()
	d.circuitOpen = true
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	for _, ch := range waiters {
		ch <- ErrNoConsensusReachedCircuitBreakerOpen
	}
	return ErrNoConsensusReachedCircuitBreakerOpen
}

// waitForHealthy blocks until the current round (if one is in flight)
// settles, returning ErrNoConsensusReachedCircuitBreakerOpen if the circuit
// is open and nil once a slot map is published.
func (d *discovery) waitForHealthy(ctx context.Context) error {
	d.mu.Lock()
	if d.slotMap != nil && !d.circuitOpen {
		d.mu.Unlock()
		return nil
	}
	if d.circuitOpen {
		d.mu.Unlock()
		return ErrNoConsensusReachedCircuitBreakerOpen
	}
	ch := make(chan error, 1)
	d.waiters = append(d.waiters, ch)
	d.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *discovery) close() {
	d.once.Do(func() { close(d.stop) })
}
