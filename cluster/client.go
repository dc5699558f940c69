package cluster

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/mickamy/govalkey/command"
	"github.com/mickamy/govalkey/conn"
	"github.com/mickamy/govalkey/hashslot"
	"github.com/mickamy/govalkey/metrics"
	"github.com/mickamy/govalkey/pool"
	"github.com/mickamy/govalkey/resp3"
	"github.com/mickamy/govalkey/topology"
	"github.com/mickamy/govalkey/transport"
)

// Command is one routable request: Keys determines the target shard (via
// their hash slots, which must all agree), Frame is the already-encoded
// wire request, and ReadOnly selects how the target node within the shard
// is picked.
type Command struct {
	Keys     []string
	Frame    []byte
	ReadOnly bool
}

// Client routes commands across a Valkey cluster's shards, following
// MOVED/ASK redirects transparently and keeping its routing table current
// via a background discovery loop.
type Client struct {
	cfg      *Config
	registry *nodeRegistry
	disco    *discovery
	cycle    atomic.Uint64
}

// New dials every seed, elects an initial topology by quorum, and starts a
// background refresh loop. It returns ErrNoConsensusReachedCircuitBreakerOpen
// if no quorum could be reached within the configured circuit breaker
// duration.
func New(ctx context.Context, seeds []transport.Address, logger *log.Logger, m metrics.Metrics, connOpts []conn.Option, poolOpts []pool.Option, opts ...Option) (*Client, error) {
	m = metrics.OrNoop(m)
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	registry := newNodeRegistry(logger, m, connOpts, poolOpts)
	disco := newDiscovery(cfg, seeds, registry)
	c := &Client{cfg: cfg, registry: registry, disco: disco}

	if err := disco.run(ctx, c.pollSeed); err != nil {
		return c, err
	}
	return c, nil
}

// pollSeed issues CLUSTER SHARDS against seed and canonicalizes the reply
// into a voting Candidate, dialing an ad-hoc connection via the registry if
// seed is not already a known node.
func (c *Client) pollSeed(ctx context.Context, seed transport.Address) (topology.Candidate, error) {
	n, err := c.registry.ensureAdHoc(seed)
	if err != nil {
		return topology.Candidate{}, err
	}
	v, err := n.execute(ctx, clusterShardsFrame())
	if err != nil {
		return topology.Candidate{}, err
	}
	raw, err := topology.DecodeShards(v)
	if err != nil {
		return topology.Candidate{}, err
	}
	shards, err := topology.Canonicalize(raw)
	if err != nil {
		return topology.Candidate{}, err
	}
	return topology.Candidate{Shards: shards}, nil
}

// WaitForHealthy blocks until the client has a published routing table, or
// returns ErrNoConsensusReachedCircuitBreakerOpen if discovery's circuit is
// open.
func (c *Client) WaitForHealthy(ctx context.Context) error {
	return c.disco.waitForHealthy(ctx)
}

// Execute routes cmd to the shard owning its keys and runs it, following
// MOVED and ASK redirects up to cfg.maxRedirections.
func (c *Client) Execute(ctx context.Context, cmd Command) (resp3.Value, error) {
	slot, err := slotOf(cmd.Keys)
	if err != nil {
		return resp3.Value{}, err
	}

	target, err := c.pickNode(slot, cmd.ReadOnly)
	if err != nil {
		return resp3.Value{}, err
	}

	asking := false
	for attempt := 0; attempt <= c.cfg.maxRedirections; attempt++ {
		n, ok := c.registry.get(target)
		if !ok {
			return resp3.Value{}, &ErrUnknownNode{NodeID: target}
		}

		var v resp3.Value
		var execErr error
		if asking {
			vs, err := n.pipeline(ctx, [][]byte{askingFrame(), cmd.Frame})
			if err != nil {
				execErr = err
			} else {
				v = vs[1]
			}
		} else {
			v, execErr = n.execute(ctx, cmd.Frame)
		}
		asking = false

		if execErr == nil {
			return v, nil
		}

		redir, ok := parseRedirect(execErr)
		if !ok {
			return resp3.Value{}, execErr
		}

		switch redir.Kind {
		case redirectAsk:
			adhoc, err := c.registry.ensureAdHoc(redir.Address)
			if err != nil {
				return resp3.Value{}, err
			}
			target = adhoc.id
			asking = true
		case redirectMoved:
			adhoc, err := c.registry.ensureAdHoc(redir.Address)
			if err != nil {
				return resp3.Value{}, err
			}
			target = adhoc.id
			c.disco.patchSlot(redir.Slot, adhoc.id)
		case redirectReplica:
			adhoc, err := c.registry.ensureAdHoc(redir.Address)
			if err != nil {
				return resp3.Value{}, err
			}
			target = adhoc.id
		}
	}

	return resp3.Value{}, ErrRedirectionLoop
}

// Pipeline groups cmds by the shard owning their keys, sends each shard's
// group as one pipeline on a single target node, and reassembles results in
// the caller's original order. If any command in a shard's group is a
// write, the whole group targets the shard's primary, even if some of the
// group's reads would otherwise have been routed to a replica. A redirected
// group is retried as its own single-command Execute call so redirection
// bookkeeping does not have to span a batch.
func (c *Client) Pipeline(ctx context.Context, cmds []Command) ([]resp3.Value, error) {
	results := make([]resp3.Value, len(cmds))

	groups, order, err := c.groupByShard(cmds)
	if err != nil {
		return nil, err
	}

	for _, nodeID := range order {
		g := groups[nodeID]
		n, ok := c.registry.get(nodeID)
		if !ok {
			return nil, &ErrUnknownNode{NodeID: nodeID}
		}
		frames := make([][]byte, len(g.indices))
		for j, idx := range g.indices {
			frames[j] = cmds[idx].Frame
		}
		vs, err := n.pipeline(ctx, frames)
		if err != nil {
			if _, ok := parseRedirect(err); ok {
				for _, idx := range g.indices {
					v, rerr := c.Execute(ctx, cmds[idx])
					if rerr != nil {
						return nil, rerr
					}
					results[idx] = v
				}
				continue
			}
			return nil, err
		}
		for j, idx := range g.indices {
			results[idx] = vs[j]
		}
	}

	return results, nil
}

// shardGroup is one shard's worth of pipelined commands, already resolved
// to a single target node.
type shardGroup struct {
	indices []int
}

// groupByShard partitions cmds by the shard owning their keys and decides
// one target node id per shard: the primary if any command in the shard's
// group is a write, otherwise the read-selection policy applied once for
// the whole group. The returned order is deterministic across calls with
// the same cmds only in the sense that it reflects each shard's first
// appearance in cmds.
func (c *Client) groupByShard(cmds []Command) (map[string]*shardGroup, []string, error) {
	sm := c.disco.currentSlotMap()
	if sm == nil {
		return nil, nil, ErrClusterIsUnavailable
	}

	type pending struct {
		ids      topology.ShardNodeIDs
		hasWrite bool
		indices  []int
	}
	byShard := make(map[string]*pending)
	shardOrder := make([]string, 0, len(cmds))

	for i, cmd := range cmds {
		slot, err := slotOf(cmd.Keys)
		if err != nil {
			return nil, nil, err
		}
		ids, err := sm.Resolve(slotsOrEmpty(slot))
		if err != nil {
			return nil, nil, err
		}
		p, ok := byShard[ids.Primary]
		if !ok {
			p = &pending{ids: ids}
			byShard[ids.Primary] = p
			shardOrder = append(shardOrder, ids.Primary)
		}
		if !cmd.ReadOnly {
			p.hasWrite = true
		}
		p.indices = append(p.indices, i)
	}

	groups := make(map[string]*shardGroup, len(byShard))
	order := make([]string, 0, len(shardOrder))
	for _, shardKey := range shardOrder {
		p := byShard[shardKey]
		nodeID := c.pickFromIDs(p.ids, !p.hasWrite)
		if g, ok := groups[nodeID]; ok {
			g.indices = append(g.indices, p.indices...)
			continue
		}
		groups[nodeID] = &shardGroup{indices: p.indices}
		order = append(order, nodeID)
	}

	return groups, order, nil
}

// pickNode resolves slot to a node id using the shard's node-selection
// policy for readOnly commands, or its primary otherwise.
func (c *Client) pickNode(slot hashslot.Slot, readOnly bool) (string, error) {
	sm := c.disco.currentSlotMap()
	if sm == nil {
		return "", ErrClusterIsUnavailable
	}
	ids, err := sm.Resolve(slotsOrEmpty(slot))
	if err != nil {
		return "", err
	}
	return c.pickFromIDs(ids, readOnly), nil
}

// pickFromIDs applies the shard's node-selection policy to an
// already-resolved ShardNodeIDs: the primary for writes, or for reads when
// the policy pins reads to the primary or the shard has no replicas,
// otherwise a round-robin pick among replicas (or all nodes, depending on
// the configured policy).
func (c *Client) pickFromIDs(ids topology.ShardNodeIDs, readOnly bool) string {
	if !readOnly || c.cfg.readOnlyCommandNodeSelection == SelectionPrimary || len(ids.Replicas) == 0 {
		return ids.Primary
	}

	candidates := ids.Replicas
	if c.cfg.readOnlyCommandNodeSelection == SelectionCycleAllNodes {
		candidates = append([]string{ids.Primary}, ids.Replicas...)
	}
	i := c.cycle.Add(1) % uint64(len(candidates))
	return candidates[i]
}

func slotsOrEmpty(slot hashslot.Slot) []hashslot.Slot {
	if slot == hashslot.Unknown {
		return nil
	}
	return []hashslot.Slot{slot}
}

// slotOf computes the single slot cmd.Keys hash to, or ErrCrossSlot if they
// disagree. No keys at all yields hashslot.Unknown, routed to a random
// primary.
func slotOf(keys []string) (hashslot.Slot, error) {
	if len(keys) == 0 {
		return hashslot.Unknown, nil
	}
	slot := hashslot.Of([]byte(keys[0]))
	for _, k := range keys[1:] {
		if hashslot.Of([]byte(k)) != slot {
			return 0, ErrCrossSlot
		}
	}
	return slot, nil
}

func askingFrame() []byte {
	return command.Command("ASKING", nil)
}

// Close stops the background refresh loop and closes every pooled node
// connection.
func (c *Client) Close() {
	c.disco.close()
	c.registry.closeAll()
}
