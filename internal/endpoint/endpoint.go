// Package endpoint implements one client connection's session: the
// handshake, the pipelined inbound decode loop, in-order request
// processing, and the bounded outbound queue a connection drains into
// its transport.
//
// Grounded on web_websocket_hub.go's per-connection read-goroutine
// pattern (there: read loop feeding a control-request handler; here:
// read loop feeding a decode-and-dispatch pipeline) and on
// original_source/aseba's app_endpoint.h for the exact sequencing
// rules (pipelined reads, snapshot-before-ack watch ordering,
// endpoint-relative capability masking) spec.md's prose only
// summarizes.
package endpoint

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mobsya/thymio-broker/internal/compiler"
	"github.com/mobsya/thymio-broker/internal/logging"
	"github.com/mobsya/thymio-broker/internal/metrics"
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/nodeid"
	"github.com/mobsya/thymio-broker/internal/registry"
	"github.com/mobsya/thymio-broker/internal/token"
	"github.com/mobsya/thymio-broker/internal/transport"
	"github.com/mobsya/thymio-broker/internal/wire"
)

// ProtocolVersion is the protocol revision this broker speaks.
const ProtocolVersion uint16 = 6

// MinSupportedProtocolVersion is the oldest client protocol revision
// this broker still accepts.
const MinSupportedProtocolVersion uint16 = 1

var nextEndpointID uint64

func newEndpointID() node.EndpointID {
	return node.EndpointID(atomic.AddUint64(&nextEndpointID, 1))
}

// Config carries the subset of the broker's configuration an endpoint
// needs; it is passed by value from internal/broker.
type Config struct {
	OutboundQueueCapacity int
	MaxMessageSize        uint32
	RequireTokenForRemote bool
}

// Endpoint is one client session: registry access, lock/watch
// bookkeeping scoped to this connection, and the outbound queue.
type Endpoint struct {
	id   node.EndpointID
	conn transport.Conn
	reg  *registry.Registry
	tok  *token.Manager
	comp compiler.Compiler
	cfg  Config
	mon  *metrics.Collector
	out  *outQueue

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	lockedNodes  map[nodeid.ID]struct{}
	watchedNodes map[nodeid.ID]node.WatchFlag
	closed       bool

	unsubRegistry func()
}

// New builds an endpoint session around an already-accepted
// connection. Run must be called to actually serve it.
func New(ctx context.Context, conn transport.Conn, reg *registry.Registry, tok *token.Manager, comp compiler.Compiler, cfg Config, mon *metrics.Collector) *Endpoint {
	ctx, cancel := context.WithCancel(ctx)
	ep := &Endpoint{
		id:           newEndpointID(),
		conn:         conn,
		reg:          reg,
		tok:          tok,
		comp:         comp,
		cfg:          cfg,
		mon:          mon,
		ctx:          ctx,
		cancel:       cancel,
		lockedNodes:  make(map[nodeid.ID]struct{}),
		watchedNodes: make(map[nodeid.ID]node.WatchFlag),
	}
	ep.out = newOutQueue(conn, cfg.OutboundQueueCapacity, mon)
	return ep
}

// Run performs the handshake and then serves the connection until it
// closes or ctx is cancelled. It blocks until teardown is complete.
func (ep *Endpoint) Run() {
	defer ep.teardown()

	if !ep.handshake() {
		return
	}

	ep.unsubRegistry = ep.reg.Subscribe(ep.onRegistryChange)

	inbox := make(chan wire.AnyMessage, 64)
	go ep.readLoop(inbox)
	ep.processLoop(inbox)
}

// readLoop decodes frames as fast as the transport delivers them and
// hands each decoded message to inbox without waiting for it to be
// processed — the "pipelined reads" rule: a slow handler for request N
// never delays reading request N+1 off the wire.
func (ep *Endpoint) readLoop(inbox chan<- wire.AnyMessage) {
	defer close(inbox)
	for {
		payload, err := ep.conn.ReadFrame(ep.ctx, ep.cfg.MaxMessageSize)
		if err != nil {
			return
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			logging.Default().Warnf("endpoint %s: decode error: %v", ep.conn.RemoteAddr(), err)
			return
		}
		if ep.mon != nil {
			ep.mon.RecordMessageIn()
		}
		select {
		case inbox <- msg:
		case <-ep.ctx.Done():
			return
		}
	}
}

// processLoop handles messages strictly in arrival order, one at a
// time, so a client never observes its own requests completing out of
// order even though reads run ahead of processing.
func (ep *Endpoint) processLoop(inbox <-chan wire.AnyMessage) {
	for {
		select {
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			ep.dispatch(msg)
		case <-ep.ctx.Done():
			return
		}
	}
}

// send encodes and enqueues msg. A full outbound queue means this
// client is too slow to keep up; spec.md §5 calls for closing such a
// client rather than growing the queue without bound, so an overflow
// tears the connection down instead of dropping the frame — dropping
// a reply here would desynchronize the client's request/response
// correlation for good.
func (ep *Endpoint) send(msg wire.AnyMessage) {
	payload, err := wire.Encode(msg)
	if err != nil {
		logging.Default().Errorf("endpoint %s: encode %s failed: %v", ep.conn.RemoteAddr(), msg.Kind(), err)
		return
	}
	if !ep.out.Push(payload) {
		logging.Default().Warnf("endpoint %s: outbound queue full, closing connection (%s undelivered)", ep.conn.RemoteAddr(), msg.Kind())
		ep.cancel()
	}
}

// teardown runs the shutdown sequence spec.md fixes: detach from the
// registry first (so no more global notifications arrive), release
// every node this endpoint holds the lock on, cancel every watch this
// endpoint registered, then drain and close the outbound queue.
func (ep *Endpoint) teardown() {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return
	}
	ep.closed = true
	locked := make([]nodeid.ID, 0, len(ep.lockedNodes))
	for id := range ep.lockedNodes {
		locked = append(locked, id)
	}
	watched := make([]nodeid.ID, 0, len(ep.watchedNodes))
	for id := range ep.watchedNodes {
		watched = append(watched, id)
	}
	ep.lockedNodes = nil
	ep.watchedNodes = nil
	ep.mu.Unlock()

	ep.cancel()
	if ep.unsubRegistry != nil {
		ep.unsubRegistry()
	}
	for _, id := range locked {
		if h, ok := ep.reg.Handle(id); ok {
			h.ReleaseIfHeldBy(ep.id)
		}
	}
	for _, id := range watched {
		if h, ok := ep.reg.Handle(id); ok {
			h.CancelWatches(ep.id)
		}
	}
	// Let the drain goroutine flush whatever is already queued (e.g. a
	// handshake-failure reply) before the socket goes away.
	ep.out.Close()
	<-ep.out.Done()
	ep.conn.Close()
}

// onRegistryChange is the registry Observer: every add/status-change/
// disconnect is translated to this endpoint's view and pushed as a
// one-node NodesChanged delta. A disconnect also erases this
// endpoint's own lockedNodes entry for the node right here, matching
// original_source/aseba's app_endpoint.h node-changed handler — this
// duplicates what teardown does for an endpoint that disconnects
// itself, but it is the only place that clears the entry for a node
// that disconnects out from under a still-connected endpoint.
func (ep *Endpoint) onRegistryChange(snap registry.Snapshot) {
	if snap.Status == node.StatusDisconnected {
		ep.mu.Lock()
		delete(ep.lockedNodes, snap.ID)
		ep.mu.Unlock()
	}
	ep.send(wire.NodesChanged{Nodes: []wire.NodeInfo{ep.toNodeInfo(snap)}})
}

// toNodeInfo applies this endpoint's view of a node: capabilities are
// zeroed for non-local connections, and a Busy status is remapped to
// Ready for the endpoint that actually holds the lock.
func (ep *Endpoint) toNodeInfo(snap registry.Snapshot) wire.NodeInfo {
	status := snap.Status
	if h, ok := ep.reg.Handle(snap.ID); ok {
		status = h.StatusFor(ep.id)
	}
	caps := snap.Capabilities
	if !ep.conn.IsLocal() {
		caps = 0
	}
	return wire.NodeInfo{
		ID:           snap.ID,
		Status:       nodeStatusToWire(status),
		Type:         nodeTypeToWire(snap.Type),
		Name:         snap.Name,
		Capabilities: nodeCapabilityToWire(caps),
	}
}

func (ep *Endpoint) markLocked(id nodeid.ID) {
	ep.mu.Lock()
	ep.lockedNodes[id] = struct{}{}
	ep.mu.Unlock()
}

func (ep *Endpoint) markUnlocked(id nodeid.ID) {
	ep.mu.Lock()
	delete(ep.lockedNodes, id)
	ep.mu.Unlock()
}

func (ep *Endpoint) markWatch(id nodeid.ID, flags node.WatchFlag) {
	ep.mu.Lock()
	if flags == 0 {
		delete(ep.watchedNodes, id)
	} else {
		ep.watchedNodes[id] = flags
	}
	ep.mu.Unlock()
}
