package cluster

import (
	"testing"

	"github.com/mickamy/govalkey/transport"
)

func TestNodeRegistry_SyncAddsAndRetires(t *testing.T) {
	t.Parallel()
	r := newNodeRegistry(nil, nil, nil, nil)
	defer r.closeAll()

	r.sync(map[string]transport.Address{
		"node-1": {Host: "10.0.0.1", Port: 6379},
		"node-2": {Host: "10.0.0.2", Port: 6379},
	})

	if _, ok := r.get("node-1"); !ok {
		t.Fatal("node-1 not registered")
	}
	if _, ok := r.get("node-2"); !ok {
		t.Fatal("node-2 not registered")
	}

	r.sync(map[string]transport.Address{
		"node-1": {Host: "10.0.0.1", Port: 6379},
	})

	if _, ok := r.get("node-1"); !ok {
		t.Fatal("node-1 should survive an unchanged sync")
	}
	if _, ok := r.get("node-2"); ok {
		t.Fatal("node-2 should have been retired")
	}
}

func TestNodeRegistry_SyncReplacesChangedAddress(t *testing.T) {
	t.Parallel()
	r := newNodeRegistry(nil, nil, nil, nil)
	defer r.closeAll()

	r.sync(map[string]transport.Address{"node-1": {Host: "10.0.0.1", Port: 6379}})
	first, _ := r.get("node-1")

	r.sync(map[string]transport.Address{"node-1": {Host: "10.0.0.9", Port: 6379}})
	second, ok := r.get("node-1")
	if !ok {
		t.Fatal("node-1 missing after address change")
	}
	if second == first {
		t.Fatal("expected a new nodeClient after address change")
	}
	if second.addr.Host != "10.0.0.9" {
		t.Fatalf("addr = %v, want 10.0.0.9", second.addr)
	}
}

func TestNodeRegistry_EnsureAdHocIsIdempotent(t *testing.T) {
	t.Parallel()
	r := newNodeRegistry(nil, nil, nil, nil)
	defer r.closeAll()

	addr := transport.Address{Host: "10.0.0.5", Port: 7000}
	n1, err := r.ensureAdHoc(addr)
	if err != nil {
		t.Fatalf("ensureAdHoc: %v", err)
	}
	n2, err := r.ensureAdHoc(addr)
	if err != nil {
		t.Fatalf("ensureAdHoc: %v", err)
	}
	if n1 != n2 {
		t.Fatal("ensureAdHoc should return the same nodeClient for the same address")
	}
}
