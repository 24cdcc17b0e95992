package endpoint

import (
	"context"

	"github.com/mobsya/thymio-broker/internal/logging"
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/value"
	"github.com/mobsya/thymio-broker/internal/wire"
)

func nodeCompileOptions(o wire.CompilationOptions) node.CompileOptions {
	var out node.CompileOptions
	if o&wire.CompilationLoadOnTarget != 0 {
		out |= node.CompileOptionLoadOnTarget
	}
	return out
}

// dispatch runs one decoded request to completion and writes whatever
// response(s) it produces. It always runs on the endpoint's single
// processing goroutine, so operations against the same node from the
// same connection can never interleave.
func (ep *Endpoint) dispatch(msg wire.AnyMessage) {
	switch m := msg.(type) {
	case wire.ConnectionHandshake:
		// Only the connection's opening frame may be a handshake; a
		// second one is a protocol error and ends the connection.
		logging.Default().Warnf("endpoint %s: protocol error: handshake after steady state", ep.conn.RemoteAddr())
		ep.cancel()
	case wire.RequestListOfNodes:
		ep.handleRequestListOfNodes(m)
	case wire.RequestNodeAsebaVMDescription:
		ep.handleRequestVMDescription(m)
	case wire.LockNode:
		ep.handleLockNode(m)
	case wire.UnlockNode:
		ep.handleUnlockNode(m)
	case wire.RenameNode:
		ep.handleRenameNode(m)
	case wire.SetNodeVariables:
		ep.handleSetNodeVariables(m)
	case wire.RegisterEvents:
		ep.handleRegisterEvents(m)
	case wire.SendEvents:
		ep.handleSendEvents(m)
	case wire.CompileAndLoadCodeOnVM:
		ep.handleCompileAndLoad(m)
	case wire.SetVMExecutionState:
		ep.handleSetVMExecutionState(m)
	case wire.WatchNode:
		ep.handleWatchNode(m)
	case wire.SetBreakpoints:
		ep.handleSetBreakpoints(m)
	}
}

func (ep *Endpoint) handleRequestListOfNodes(m wire.RequestListOfNodes) {
	snaps := ep.reg.List()
	nodes := make([]wire.NodeInfo, len(snaps))
	for i, s := range snaps {
		nodes[i] = ep.toNodeInfo(s)
	}
	ep.send(wire.NodesChanged{Nodes: nodes})
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleRequestVMDescription(m wire.RequestNodeAsebaVMDescription) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	vars, events := h.VMDescription()
	ep.send(wire.NodeAsebaVMDescription{
		RequestID: m.RequestID,
		NodeID:    m.NodeID,
		Variables: nodeVariableDescsToWire(vars),
		Events:    nodeEventDescsToWire(events),
	})
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleLockNode(m wire.LockNode) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.Lock(ep.id); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.markLocked(m.NodeID)
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleUnlockNode(m wire.UnlockNode) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.Unlock(ep.id); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.markUnlocked(m.NodeID)
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleRenameNode(m wire.RenameNode) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.Rename(ep.ctx, ep.id, m.NewName); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleSetNodeVariables(m wire.SetNodeVariables) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.SetVariables(ep.ctx, ep.id, m.Variables); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleRegisterEvents(m wire.RegisterEvents) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.RegisterEvents(ep.ctx, ep.id, wireEventDescsToNode(m.Events)); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleSendEvents(m wire.SendEvents) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.EmitEvents(ep.ctx, ep.id, m.Events); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleCompileAndLoad(m wire.CompileAndLoadCodeOnVM) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	lang := wireLanguageToNode(m.Language)
	result, opErr := h.CompileAndLoad(ep.ctx, ep.id, func(ctx context.Context) (node.CompilationResult, error) {
		return ep.comp.Compile(ctx, lang, m.Program)
	}, nodeCompileOptions(m.Options))
	if opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	if !result.Success {
		ep.send(wire.CompilationResultFailure{
			RequestID: m.RequestID,
			Message:   result.Diagnostic.Message,
			Line:      result.Diagnostic.Line,
			Column:    result.Diagnostic.Column,
			Character: result.Diagnostic.Character,
		})
		return
	}
	ep.send(wire.CompilationResultSuccess{RequestID: m.RequestID})
}

func (ep *Endpoint) handleSetVMExecutionState(m wire.SetVMExecutionState) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	if opErr := h.SetExecutionState(ep.ctx, ep.id, wireVMCommandToNode(m.Command)); opErr != nil {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}

func (ep *Endpoint) handleSetBreakpoints(m wire.SetBreakpoints) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	lines, opErr := h.SetBreakpoints(ep.ctx, ep.id, m.Lines)
	if opErr != nil {
		ep.send(wire.SetBreakpointsResponse{RequestID: m.RequestID, ErrorType: errorTypeToWire(opErr.Type)})
		return
	}
	ep.send(wire.SetBreakpointsResponse{RequestID: m.RequestID, ErrorType: wire.ErrorNone, Lines: lines})
}

// handleWatchNode installs or cancels this endpoint's subscriptions to
// a node's fanout streams. Each callback given to node.Handle.Watch
// pushes its snapshot through ep.send synchronously, before Watch
// returns — and therefore before the RequestCompleted below is
// enqueued — guaranteeing the wire order watch_node's semantics
// require.
func (ep *Endpoint) handleWatchNode(m wire.WatchNode) {
	h, ok := ep.reg.Handle(m.NodeID)
	if !ok {
		ep.send(wire.Error{RequestID: m.RequestID, ErrorType: wire.ErrorUnknownNode})
		return
	}
	nodeID := m.NodeID
	h.Watch(ep.id, node.WatchFlag(m.Flags), node.WatchCallbacks{
		OnVariables: func(vars map[string]value.Value) {
			ep.send(wire.NodeVariablesChanged{NodeID: nodeID, Variables: vars})
		},
		OnEvents: func(events map[string]value.Value) {
			ep.send(wire.EventsEmitted{NodeID: nodeID, Events: events})
		},
		OnEventsDescription: func(events []node.EventDescription) {
			ep.send(wire.EventsDescriptionChanged{NodeID: nodeID, Events: nodeEventDescsToWire(events)})
		},
		OnExecutionState: func(state node.ExecutionState) {
			ep.send(wire.VMExecutionStateChanged{NodeID: nodeID, State: nodeExecStateToWire(state)})
		},
	})
	ep.markWatch(m.NodeID, node.WatchFlag(m.Flags))
	ep.send(wire.RequestCompleted{RequestID: m.RequestID})
}
