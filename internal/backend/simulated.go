package backend

import (
	"context"
	"sync"

	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/nodeid"
	"github.com/mobsya/thymio-broker/internal/value"
)

// Simulated is an in-memory Backend standing in for a real serial/USB
// or USB-to-CAN driver: every node it reports lives only in process
// memory, variable writes and execution-state changes just update that
// memory and fan out to subscribers, matching how master.go/slave.go
// model a node's state as plain Go structs advanced one simulated tick
// at a time rather than through any real transport.
//
// It is the backend cmd/tdmd wires in by default, and what tests use
// to drive the broker end to end without hardware.
type Simulated struct {
	mu       sync.Mutex
	nodes    map[nodeid.ID]*simNode
	obsMu    sync.Mutex
	nextObs  uint64
	watchers map[uint64]func(StatusEvent)
}

// NewSimulated creates an empty simulated backend.
func NewSimulated() *Simulated {
	return &Simulated{
		nodes:    make(map[nodeid.ID]*simNode),
		watchers: make(map[uint64]func(StatusEvent)),
	}
}

func (b *Simulated) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	b.obsMu.Lock()
	id := b.nextObs
	b.nextObs++
	b.watchers[id] = fn
	b.obsMu.Unlock()
	return func() {
		b.obsMu.Lock()
		delete(b.watchers, id)
		b.obsMu.Unlock()
	}
}

func (b *Simulated) Device(id nodeid.ID) (node.Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[id]
	return n, ok
}

func (b *Simulated) notify(ev StatusEvent) {
	b.obsMu.Lock()
	fns := make([]func(StatusEvent), 0, len(b.watchers))
	for _, fn := range b.watchers {
		fns = append(fns, fn)
	}
	b.obsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// AddNode registers a new simulated node and announces it as
// available. The returned id identifies it to the registry.
func (b *Simulated) AddNode(name string, typ node.Type, caps node.Capability, vars []node.VariableDescription, events []node.EventDescription) (nodeid.ID, error) {
	id, err := nodeid.New()
	if err != nil {
		return nodeid.Nil, err
	}
	n := &simNode{
		id:           id,
		name:         name,
		variables:    make(map[string]value.Value),
		varDescs:     vars,
		eventDescs:   events,
		varWatchers:  make(map[uint64]func(map[string]value.Value)),
		eventWatchers: make(map[uint64]func(map[string]value.Value)),
		eventDescWatchers: make(map[uint64]func([]node.EventDescription)),
		execWatchers: make(map[uint64]func(node.ExecutionState)),
	}
	for _, v := range vars {
		n.variables[v.Name] = value.Int(0)
	}

	b.mu.Lock()
	b.nodes[id] = n
	b.mu.Unlock()

	b.notify(StatusEvent{
		Descriptor: Descriptor{ID: id, Name: name, Type: typ, Capabilities: caps},
		Status:     node.StatusAvailable,
	})
	return id, nil
}

// Disconnect announces a previously added node as gone.
func (b *Simulated) Disconnect(id nodeid.ID, name string, typ node.Type, caps node.Capability) {
	b.mu.Lock()
	delete(b.nodes, id)
	b.mu.Unlock()
	b.notify(StatusEvent{
		Descriptor: Descriptor{ID: id, Name: name, Type: typ, Capabilities: caps},
		Status:     node.StatusDisconnected,
	})
}

type simNode struct {
	id   nodeid.ID
	name string

	mu         sync.Mutex
	variables  map[string]value.Value
	varDescs   []node.VariableDescription
	eventDescs []node.EventDescription
	execState  node.ExecutionState

	obsMu             sync.Mutex
	varWatchers       map[uint64]func(map[string]value.Value)
	eventWatchers     map[uint64]func(map[string]value.Value)
	eventDescWatchers map[uint64]func([]node.EventDescription)
	execWatchers      map[uint64]func(node.ExecutionState)
}

func (n *simNode) SetVariables(_ context.Context, vars map[string]value.Value) error {
	n.mu.Lock()
	for k, v := range vars {
		n.variables[k] = v
	}
	snapshot := make(map[string]value.Value, len(n.variables))
	for k, v := range n.variables {
		snapshot[k] = v
	}
	n.mu.Unlock()

	n.obsMu.Lock()
	fns := make([]func(map[string]value.Value), 0, len(n.varWatchers))
	for _, fn := range n.varWatchers {
		fns = append(fns, fn)
	}
	n.obsMu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
	return nil
}

func (n *simNode) RegisterEvents(_ context.Context, events []node.EventDescription) error {
	n.mu.Lock()
	n.eventDescs = events
	n.mu.Unlock()

	n.obsMu.Lock()
	fns := make([]func([]node.EventDescription), 0, len(n.eventDescWatchers))
	for _, fn := range n.eventDescWatchers {
		fns = append(fns, fn)
	}
	n.obsMu.Unlock()
	cp := append([]node.EventDescription(nil), events...)
	for _, fn := range fns {
		fn(cp)
	}
	return nil
}

func (n *simNode) EmitEvents(_ context.Context, events map[string]value.Value) error {
	n.obsMu.Lock()
	fns := make([]func(map[string]value.Value), 0, len(n.eventWatchers))
	for _, fn := range n.eventWatchers {
		fns = append(fns, fn)
	}
	n.obsMu.Unlock()
	for _, fn := range fns {
		fn(events)
	}
	return nil
}

func (n *simNode) Load(_ context.Context, _ []byte) error {
	n.mu.Lock()
	n.execState = node.ExecutionState{State: node.VMStateStopped}
	n.mu.Unlock()
	return nil
}

func (n *simNode) SetExecutionState(_ context.Context, cmd node.VMCommand) error {
	n.mu.Lock()
	switch cmd {
	case node.VMCommandRun:
		n.execState.State = node.VMStateRunning
	case node.VMCommandPause:
		n.execState.State = node.VMStatePaused
	case node.VMCommandStep:
		n.execState.State = node.VMStateStepByStep
	case node.VMCommandStop:
		n.execState.State = node.VMStateStopped
	}
	state := n.execState
	n.mu.Unlock()

	n.obsMu.Lock()
	fns := make([]func(node.ExecutionState), 0, len(n.execWatchers))
	for _, fn := range n.execWatchers {
		fns = append(fns, fn)
	}
	n.obsMu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
	return nil
}

func (n *simNode) SetBreakpoints(_ context.Context, lines []uint16) ([]uint16, error) {
	return lines, nil
}

func (n *simNode) Rename(_ context.Context, name string) error {
	n.mu.Lock()
	n.name = name
	n.mu.Unlock()
	return nil
}

func (n *simNode) Variables() map[string]value.Value {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]value.Value, len(n.variables))
	for k, v := range n.variables {
		out[k] = v
	}
	return out
}

func (n *simNode) VariableDescriptions() []node.VariableDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]node.VariableDescription(nil), n.varDescs...)
}

func (n *simNode) EventsDescription() []node.EventDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]node.EventDescription(nil), n.eventDescs...)
}

func (n *simNode) ExecutionState() node.ExecutionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.execState
}

func (n *simNode) SubscribeVariables(fn func(map[string]value.Value)) func() {
	return subscribe(&n.obsMu, n.varWatchers, fn)
}

func (n *simNode) SubscribeEvents(fn func(map[string]value.Value)) func() {
	return subscribe(&n.obsMu, n.eventWatchers, fn)
}

func (n *simNode) SubscribeEventsDescription(fn func([]node.EventDescription)) func() {
	return subscribe(&n.obsMu, n.eventDescWatchers, fn)
}

func (n *simNode) SubscribeExecutionState(fn func(node.ExecutionState)) func() {
	return subscribe(&n.obsMu, n.execWatchers, fn)
}

// subscribe is a small generic helper shared by simNode's four
// subscription methods: add fn to the map under id, return a func
// that removes it.
func subscribe[T any](mu *sync.Mutex, m map[uint64]T, fn T) func() {
	mu.Lock()
	var id uint64
	for {
		if _, exists := m[id]; !exists {
			break
		}
		id++
	}
	m[id] = fn
	mu.Unlock()
	return func() {
		mu.Lock()
		delete(m, id)
		mu.Unlock()
	}
}
