package cluster

import (
	"context"
	"log"
	"sync"

	"github.com/jackc/puddle/v2"

	"github.com/mickamy/govalkey/conn"
	"github.com/mickamy/govalkey/metrics"
	"github.com/mickamy/govalkey/pool"
	"github.com/mickamy/govalkey/resp3"
	"github.com/mickamy/govalkey/transport"
)

// nodeClient is one cluster node's pooled sub-client: every command routed
// to this node acquires a connection from pool, uses it, and releases it.
type nodeClient struct {
	id   string
	addr transport.Address
	pool *pool.Pool[*conn.Connection]
}

func newNodeClient(id string, addr transport.Address, logger *log.Logger, m metrics.Metrics, connOpts []conn.Option, poolOpts []pool.Option) (*nodeClient, error) {
	constructor := func(ctx context.Context) (*conn.Connection, error) {
		return conn.Dial(ctx, addr, logger, m, connOpts...)
	}
	destructor := func(c *conn.Connection) {
		_ = c.Close()
	}
	ping := func(c *conn.Connection) error {
		_, err := c.Execute(context.Background(), pingFrame())
		return err
	}
	p, err := pool.New(constructor, destructor, ping, poolOpts...)
	if err != nil {
		return nil, err
	}
	return &nodeClient{id: id, addr: addr, pool: p}, nil
}

// execute acquires a pooled connection, runs frame, and releases the
// connection: destroying it instead if the command left it non-Active.
func (n *nodeClient) execute(ctx context.Context, frame []byte) (resp3.Value, error) {
	res, err := n.acquire(ctx)
	if err != nil {
		return resp3.Value{}, err
	}
	v, err := res.Value().Execute(ctx, frame)
	n.release(res)
	return v, err
}

// pipeline acquires one pooled connection and runs every frame against it
// in order, so the whole batch shares a single round trip's ordering.
func (n *nodeClient) pipeline(ctx context.Context, frames [][]byte) ([]resp3.Value, error) {
	res, err := n.acquire(ctx)
	if err != nil {
		return nil, err
	}
	vs, err := res.Value().Pipeline(ctx, frames...)
	n.release(res)
	return vs, err
}

func (n *nodeClient) acquire(ctx context.Context) (*puddle.Resource[*conn.Connection], error) {
	return n.pool.Acquire(ctx)
}

func (n *nodeClient) release(res *puddle.Resource[*conn.Connection]) {
	if res.Value().State() == conn.StateActive {
		res.Release()
	} else {
		res.Destroy()
	}
}

func (n *nodeClient) close() {
	n.pool.Close()
}

func pingFrame() []byte {
	return []byte("*1\r\n$4\r\nPING\r\n")
}

// nodeRegistry tracks live nodeClients by node id, adding and retiring
// entries as discovery publishes new topology snapshots.
type nodeRegistry struct {
	mu       sync.RWMutex
	byID     map[string]*nodeClient
	logger   *log.Logger
	metrics  metrics.Metrics
	connOpts []conn.Option
	poolOpts []pool.Option
}

func newNodeRegistry(logger *log.Logger, m metrics.Metrics, connOpts []conn.Option, poolOpts []pool.Option) *nodeRegistry {
	return &nodeRegistry{
		byID:     make(map[string]*nodeClient),
		logger:   logger,
		metrics:  m,
		connOpts: connOpts,
		poolOpts: poolOpts,
	}
}

// get returns the registered node by id, or false if none is registered.
func (r *nodeRegistry) get(id string) (*nodeClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	return n, ok
}

// sync adds nodeClients for ids newly present in want and retires those no
// longer present, closing their pools. Existing entries whose address is
// unchanged are left alone so their pooled connections survive a refresh.
func (r *nodeRegistry) sync(want map[string]transport.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, addr := range want {
		if existing, ok := r.byID[id]; ok && existing.addr == addr {
			continue
		}
		if existing, ok := r.byID[id]; ok {
			existing.close()
			delete(r.byID, id)
		}
		n, err := newNodeClient(id, addr, r.logger, r.metrics, r.connOpts, r.poolOpts)
		if err != nil {
			continue
		}
		r.byID[id] = n
	}

	for id, n := range r.byID {
		if _, ok := want[id]; !ok {
			n.close()
			delete(r.byID, id)
		}
	}
}

// ensureAdHoc returns a nodeClient for addr not present under any known id,
// registering it under a synthetic id keyed by address. Used for following
// a MOVED/ASK redirect to a node discovery has not (yet) reported.
func (r *nodeRegistry) ensureAdHoc(addr transport.Address) (*nodeClient, error) {
	id := "adhoc:" + addr.String()

	r.mu.RLock()
	n, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		return n, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.byID[id]; ok {
		return n, nil
	}
	n, err := newNodeClient(id, addr, r.logger, r.metrics, r.connOpts, r.poolOpts)
	if err != nil {
		return nil, err
	}
	r.byID[id] = n
	return n, nil
}

func (r *nodeRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, n := range r.byID {
		n.close()
		delete(r.byID, id)
	}
}
