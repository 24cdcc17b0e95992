// Package registry implements the authoritative node-id -> node handle
// mapping described in spec.md §4.3: it owns every Node, fans out
// lifecycle notifications to subscribers in backend-observed order,
// and is the only component that mutates its own map.
//
// Grounded on hooks/registry.go's mutex-protected registration table
// and hooks/broker.go's copy-then-call notification pattern, adapted
// from a plugin catalog to a live node map with add/status/remove
// events instead of plugin factories.
package registry

import (
	"sync"

	"github.com/mobsya/thymio-broker/internal/backend"
	"github.com/mobsya/thymio-broker/internal/logging"
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/nodeid"
)

// Snapshot is the read-only view of a registered node returned by List
// and Get, and carried in notifications.
type Snapshot struct {
	ID           nodeid.ID
	Name         string
	Type         node.Type
	Status       node.Status
	Capabilities node.Capability
}

// Observer is called for every add, status change, and disconnect.
// The registry has already mutated its own map before calling
// observers, so an observer that calls back into the registry
// (List/Get) during notification sees the post-mutation state.
type Observer func(n Snapshot)

// Registry is the authoritative node-id -> handle map. Endpoints only
// ever see Snapshot values and *node.Handle references obtained
// through Get/List/Handle; they never get to mutate the map directly.
type Registry struct {
	backend backend.Backend

	mu      sync.Mutex
	entries map[nodeid.ID]*entry

	obsMu       sync.Mutex
	nextObsID   uint64
	observers   map[uint64]Observer
}

type entry struct {
	snapshot Snapshot
	handle   *node.Handle
}

// New creates a registry bound to backend b and immediately subscribes
// to its discovery stream. Lifetime of the registry is the event-loop
// lifetime (spec.md §9): there is no process-wide singleton.
func New(b backend.Backend) *Registry {
	r := &Registry{
		backend:   b,
		entries:   make(map[nodeid.ID]*entry),
		observers: make(map[uint64]Observer),
	}
	b.Subscribe(r.onBackendEvent)
	return r
}

func (r *Registry) onBackendEvent(ev backend.StatusEvent) {
	snap := Snapshot{
		ID:           ev.Descriptor.ID,
		Name:         ev.Descriptor.Name,
		Type:         ev.Descriptor.Type,
		Status:       ev.Status,
		Capabilities: ev.Descriptor.Capabilities,
	}

	r.mu.Lock()
	e, existed := r.entries[ev.Descriptor.ID]
	if ev.Status == node.StatusDisconnected {
		if existed {
			e.handle.MarkDisconnected()
			delete(r.entries, ev.Descriptor.ID)
		}
	} else if existed {
		e.snapshot = snap
		e.handle.SetStatusAndName(ev.Status, ev.Descriptor.Name)
	} else {
		dev, ok := r.backend.Device(ev.Descriptor.ID)
		if !ok {
			r.mu.Unlock()
			logging.Default().Warnf("registry: backend reported node %s with no device facade", ev.Descriptor.ID)
			return
		}
		h := node.NewHandle(ev.Descriptor.ID, ev.Descriptor.Name, ev.Descriptor.Type, ev.Descriptor.Capabilities, ev.Status, dev)
		id := ev.Descriptor.ID
		h.SetChangeNotifier(func(s node.Snapshot) {
			r.onNodeSelfChange(id, s)
		})
		r.entries[id] = &entry{snapshot: snap, handle: h}
	}
	r.mu.Unlock()

	r.notify(snap)
}

// onNodeSelfChange is called by a node.Handle when it mutates its own
// name (Rename) and needs the registry's watchers told. The handle has
// already applied the change before calling this.
func (r *Registry) onNodeSelfChange(id nodeid.ID, s node.Snapshot) {
	snap := Snapshot{ID: s.ID, Name: s.Name, Type: s.Type, Status: s.Status, Capabilities: s.Capabilities}

	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.snapshot = snap
	}
	r.mu.Unlock()

	r.notify(snap)
}

func (r *Registry) notify(snap Snapshot) {
	r.obsMu.Lock()
	observers := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		observers = append(observers, o)
	}
	r.obsMu.Unlock()
	for _, o := range observers {
		o(snap)
	}
}

// List returns a snapshot of every currently registered node.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot)
	}
	return out
}

// Get returns the snapshot for id, if known.
func (r *Registry) Get(id nodeid.ID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot, true
}

// Handle returns the operations façade for id, if known. This is the
// only way an endpoint reaches a node's mutating operations.
func (r *Registry) Handle(id nodeid.ID) (*node.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Subscribe registers an observer and returns an unsubscribe func.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	r.obsMu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers[id] = o
	r.obsMu.Unlock()
	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}
