package node_test

import (
	"context"
	"testing"

	"github.com/mobsya/thymio-broker/internal/backend"
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/value"
)

const (
	epA node.EndpointID = 1
	epB node.EndpointID = 2
)

func newTestHandle(t *testing.T, caps node.Capability) (*node.Handle, *backend.Simulated, func()) {
	t.Helper()
	sim := backend.NewSimulated()
	id, err := sim.AddNode("test-node", node.TypeThymio2, caps, []node.VariableDescription{{Name: "x"}}, nil)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	dev, ok := sim.Device(id)
	if !ok {
		t.Fatalf("Device(%v) not found", id)
	}
	h := node.NewHandle(id, "test-node", node.TypeThymio2, caps, node.StatusAvailable, dev)
	return h, sim, func() { sim.Disconnect(id, "test-node", node.TypeThymio2, caps) }
}

func TestLockExclusivity(t *testing.T) {
	h, _, _ := newTestHandle(t, 0)

	if err := h.Lock(epA); err != nil {
		t.Fatalf("epA lock failed: %v", err)
	}
	if err := h.Lock(epA); err != nil {
		t.Fatalf("re-locking by the same endpoint should be idempotent: %v", err)
	}
	if err := h.Lock(epB); err == nil {
		t.Fatalf("expected epB lock to fail while epA holds it")
	} else if err.Type != node.ErrorNodeBusy {
		t.Fatalf("expected node_busy, got %v", err.Type)
	}
	if err := h.Unlock(epB); err == nil {
		t.Fatalf("expected epB unlock to fail, it never held the lock")
	}
	if err := h.Unlock(epA); err != nil {
		t.Fatalf("epA unlock failed: %v", err)
	}
	if err := h.Lock(epB); err != nil {
		t.Fatalf("expected epB to acquire the lock once free: %v", err)
	}
}

func TestSetVariablesRequiresLock(t *testing.T) {
	h, _, _ := newTestHandle(t, 0)
	ctx := context.Background()

	if err := h.SetVariables(ctx, epA, map[string]value.Value{"x": value.Int(1)}); err == nil {
		t.Fatalf("expected set_variables without a lock to fail")
	} else if err.Type != node.ErrorUnknownNode {
		t.Fatalf("expected unknown_node, got %v", err.Type)
	}

	if err := h.Lock(epA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := h.SetVariables(ctx, epA, map[string]value.Value{"x": value.Int(1)}); err != nil {
		t.Fatalf("set_variables after lock failed: %v", err)
	}
}

func TestRenameRequiresLockAndCapability(t *testing.T) {
	h, _, _ := newTestHandle(t, 0)
	ctx := context.Background()

	if err := h.Lock(epA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := h.Rename(ctx, epA, "new-name"); err == nil {
		t.Fatalf("expected rename without Rename capability to fail")
	}

	h2, _, _ := newTestHandle(t, node.CapabilityRename)
	if err := h2.Lock(epA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	var notified node.Snapshot
	h2.SetChangeNotifier(func(s node.Snapshot) { notified = s })
	if err := h2.Rename(ctx, epA, "new-name"); err != nil {
		t.Fatalf("rename with capability failed: %v", err)
	}
	if notified.Name != "new-name" {
		t.Fatalf("expected change notifier to see the new name, got %q", notified.Name)
	}
}

func TestSetExecutionStateStopCarveOut(t *testing.T) {
	ctx := context.Background()

	// A node with no Rename capability allows Stop without a lock.
	h, _, _ := newTestHandle(t, 0)
	if err := h.SetExecutionState(ctx, epA, node.VMCommandStop); err != nil {
		t.Fatalf("expected unlocked Stop on a non-renameable node to succeed: %v", err)
	}
	if err := h.SetExecutionState(ctx, epA, node.VMCommandRun); err == nil {
		t.Fatalf("expected unlocked Run to fail")
	}

	// A node with Rename capability requires the lock even for Stop.
	renameable, _, _ := newTestHandle(t, node.CapabilityRename)
	if err := renameable.SetExecutionState(ctx, epA, node.VMCommandStop); err == nil {
		t.Fatalf("expected unlocked Stop on a renameable node to fail")
	}
}

func TestStatusMaskingForLockHolder(t *testing.T) {
	h, _, _ := newTestHandle(t, 0)
	h.SetStatusAndName(node.StatusBusy, "test-node")
	if err := h.Lock(epA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := h.StatusFor(epA); got != node.StatusReady {
		t.Fatalf("lock holder should see Ready instead of Busy, got %v", got)
	}
	if got := h.StatusFor(epB); got != node.StatusBusy {
		t.Fatalf("non-holder should still see Busy, got %v", got)
	}
}

func TestWatchSnapshotBeforeRenewal(t *testing.T) {
	h, sim, _ := newTestHandle(t, 0)
	_ = sim

	ctx := context.Background()
	if err := h.Lock(epA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := h.SetVariables(ctx, epA, map[string]value.Value{"x": value.Int(7)}); err != nil {
		t.Fatalf("set_variables: %v", err)
	}

	var snapshots []map[string]value.Value
	h.Watch(epA, node.WatchVariables, node.WatchCallbacks{
		OnVariables: func(vars map[string]value.Value) { snapshots = append(snapshots, vars) },
	})
	if len(snapshots) != 1 {
		t.Fatalf("expected exactly one snapshot on first watch, got %d", len(snapshots))
	}
	if v, ok := snapshots[0]["x"].Int(); !ok || v != 7 {
		t.Fatalf("expected snapshot to contain x=7, got %v", snapshots[0])
	}

	// Renewing with the same flag must not resend the snapshot.
	h.Watch(epA, node.WatchVariables, node.WatchCallbacks{
		OnVariables: func(vars map[string]value.Value) { snapshots = append(snapshots, vars) },
	})
	if len(snapshots) != 1 {
		t.Fatalf("expected renewal not to resend a snapshot, got %d snapshots", len(snapshots))
	}

	// New writes fan out live.
	if err := h.SetVariables(ctx, epA, map[string]value.Value{"x": value.Int(8)}); err != nil {
		t.Fatalf("set_variables: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected a live update after the write, got %d snapshots", len(snapshots))
	}

	// Clearing the flag cancels the subscription.
	h.Watch(epA, 0, node.WatchCallbacks{})
	if err := h.SetVariables(ctx, epA, map[string]value.Value{"x": value.Int(9)}); err != nil {
		t.Fatalf("set_variables: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected no more notifications after cancelling the watch, got %d", len(snapshots))
	}
}

func TestMarkDisconnectedReleasesLockAndWatchers(t *testing.T) {
	h, _, _ := newTestHandle(t, 0)
	if err := h.Lock(epA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	h.Watch(epA, node.WatchVariables, node.WatchCallbacks{OnVariables: func(map[string]value.Value) {}})

	h.MarkDisconnected()

	if _, locked := h.LockHolder(); locked {
		t.Fatalf("expected no lock holder after disconnect")
	}
	if err := h.Lock(epB); err == nil {
		t.Fatalf("expected lock on a disconnected handle to fail")
	}
}
