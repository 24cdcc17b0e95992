package registry_test

import (
	"context"
	"testing"

	"github.com/mobsya/thymio-broker/internal/backend"
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/registry"
)

func TestAddPublishesSnapshotAndHandle(t *testing.T) {
	sim := backend.NewSimulated()
	reg := registry.New(sim)

	var seen []registry.Snapshot
	unsub := reg.Subscribe(func(s registry.Snapshot) { seen = append(seen, s) })
	defer unsub()

	id, err := sim.AddNode("alpha", node.TypeThymio2, node.CapabilityRename, nil, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if len(seen) != 1 {
		t.Fatalf("expected one notification after add, got %d", len(seen))
	}
	if seen[0].Name != "alpha" || seen[0].Status != node.StatusAvailable {
		t.Fatalf("unexpected snapshot: %+v", seen[0])
	}

	snap, ok := reg.Get(id)
	if !ok {
		t.Fatalf("expected Get to find %v", id)
	}
	if snap.Name != "alpha" {
		t.Fatalf("expected Get to return the current name, got %q", snap.Name)
	}

	h, ok := reg.Handle(id)
	if !ok || h == nil {
		t.Fatalf("expected Handle to find a node.Handle for %v", id)
	}
	if h.Snapshot().Name != "alpha" {
		t.Fatalf("expected handle snapshot name %q, got %q", "alpha", h.Snapshot().Name)
	}
}

func TestDisconnectRemovesEntryAndNotifies(t *testing.T) {
	sim := backend.NewSimulated()
	reg := registry.New(sim)

	id, err := sim.AddNode("beta", node.TypeThymio2, 0, nil, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	var seen []registry.Snapshot
	reg.Subscribe(func(s registry.Snapshot) { seen = append(seen, s) })

	sim.Disconnect(id, "beta", node.TypeThymio2, 0)

	if _, ok := reg.Get(id); ok {
		t.Fatalf("expected Get to fail after disconnect")
	}
	if _, ok := reg.Handle(id); ok {
		t.Fatalf("expected Handle to fail after disconnect")
	}
	if len(seen) != 1 || seen[0].Status != node.StatusDisconnected {
		t.Fatalf("expected one StatusDisconnected notification, got %+v", seen)
	}
}

func TestRenamePropagatesToRegistryObservers(t *testing.T) {
	sim := backend.NewSimulated()
	reg := registry.New(sim)

	id, err := sim.AddNode("gamma", node.TypeThymio2, node.CapabilityRename, nil, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	h, _ := reg.Handle(id)

	var seen []registry.Snapshot
	reg.Subscribe(func(s registry.Snapshot) { seen = append(seen, s) })

	const ep node.EndpointID = 1
	if err := h.Lock(ep); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if opErr := h.Rename(context.Background(), ep, "gamma-2"); opErr != nil {
		t.Fatalf("rename: %v", opErr)
	}

	if len(seen) != 1 || seen[0].Name != "gamma-2" {
		t.Fatalf("expected the registry to republish the rename, got %+v", seen)
	}
	snap, _ := reg.Get(id)
	if snap.Name != "gamma-2" {
		t.Fatalf("expected Get to reflect the new name, got %q", snap.Name)
	}
}

func TestListReturnsAllRegisteredNodes(t *testing.T) {
	sim := backend.NewSimulated()
	reg := registry.New(sim)

	if _, err := sim.AddNode("n1", node.TypeThymio2, 0, nil, nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if _, err := sim.AddNode("n2", node.TypeThymio2, 0, nil, nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	snaps := reg.List()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(snaps))
	}
}
