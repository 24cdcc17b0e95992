package node

import (
	"context"

	"github.com/mobsya/thymio-broker/internal/value"
)

// Device is the per-node operations facade a backend exposes for one
// discovered node. Handle is the only caller; all methods that touch
// the physical device are asynchronous from the backend's own
// perspective but are presented here as blocking calls taking a
// context, matching this core's "three suspension points" model
// (spec.md §5) — callers run them from their own goroutine and they
// return onto it.
//
// Device lives in package node, not package backend, so that backend
// (which needs node's Type/Status/Capability/etc. to describe what it
// discovers) can import node without node needing to import backend
// back: backend.Backend.Device returns a node.Device, and any backend
// implementation (internal/backend.Simulated's simNode included)
// satisfies it structurally without backend ever being on node's
// import path.
type Device interface {
	SetVariables(ctx context.Context, vars map[string]value.Value) error
	RegisterEvents(ctx context.Context, events []EventDescription) error
	EmitEvents(ctx context.Context, events map[string]value.Value) error
	// Load pushes already-compiled bytecode (produced by the compiler
	// contract, a separate collaborator — see internal/compiler) onto
	// the device's VM.
	Load(ctx context.Context, bytecode []byte) error
	SetExecutionState(ctx context.Context, cmd VMCommand) error
	SetBreakpoints(ctx context.Context, lines []uint16) ([]uint16, error)
	Rename(ctx context.Context, name string) error

	// Snapshot accessors used to build a watch's initial snapshot.
	Variables() map[string]value.Value
	VariableDescriptions() []VariableDescription
	EventsDescription() []EventDescription
	ExecutionState() ExecutionState

	// Subscriptions backing the three fanout streams. Handle forwards
	// these onward to watching endpoints; it never exposes the backend
	// subscription handle itself.
	SubscribeVariables(fn func(map[string]value.Value)) (unsubscribe func())
	SubscribeEvents(fn func(map[string]value.Value)) (unsubscribe func())
	SubscribeEventsDescription(fn func([]EventDescription)) (unsubscribe func())
	SubscribeExecutionState(fn func(ExecutionState)) (unsubscribe func())
}
