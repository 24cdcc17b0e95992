// Package backend defines the node-backend contract the broker core
// consumes: discovery of nodes plus the per-node device operations
// that actually touch hardware (or a simulated/dummy stand-in). The
// Thymio wire protocol to the physical robot, compilation to
// bytecode, and UI concerns live entirely outside this contract.
package backend

import (
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/nodeid"
)

// Descriptor is the static-ish identity of a discovered node: what the
// registry needs before any device operation is issued.
type Descriptor struct {
	ID           nodeid.ID
	Name         string
	Type         node.Type
	Capabilities node.Capability
}

// StatusEvent is delivered to every Backend.Subscribe observer for a
// node add, a status change, or a disconnect (terminal).
type StatusEvent struct {
	Descriptor Descriptor
	Status     node.Status
}

// Backend is the node-discovery contract. Implementations run their
// own I/O (serial/USB, USB-to-CAN, or a simulated clock) on whatever
// goroutines they like, but MUST deliver every notification through
// the supplied observer function, which is the only way the broker
// learns about nodes: the registry applies each event to its map under
// its own mutex from inside that function.
type Backend interface {
	// Subscribe registers fn for every node lifecycle event. The
	// returned func unsubscribes; it is safe to call more than once.
	Subscribe(fn func(StatusEvent)) (unsubscribe func())

	// Device returns the per-node operations facade for id, or false
	// if the node is not currently known to the backend. The facade
	// itself, node.Device, is defined in package node rather than
	// here: node depends on this package's Device return type, and
	// this package depends on node's Type/Status/Capability and
	// friends, so the interface has to live on whichever side doesn't
	// import the other — that's node.
	Device(id nodeid.ID) (node.Device, bool)
}
