package wire

import "fmt"

// Decode parses a frame payload into its typed AnyMessage case. It
// rejects payloads that fail structural verification (truncated
// fields, unknown kind byte) rather than returning a partially
// populated value.
func Decode(payload []byte) (AnyMessage, error) {
	r := newReader(payload)
	kindByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	kind := Kind(kindByte)

	var msg AnyMessage
	switch kind {
	case KindConnectionHandshake:
		var m ConnectionHandshake
		if m.ProtocolVersion, err = r.u16(); err != nil {
			return nil, err
		}
		if m.MinProtocolVersion, err = r.u16(); err != nil {
			return nil, err
		}
		if m.MaxMessageSize, err = r.u32(); err != nil {
			return nil, err
		}
		if m.Token, err = r.bytes(); err != nil {
			return nil, err
		}
		msg = m
	case KindRequestListOfNodes:
		var m RequestListOfNodes
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		msg = m
	case KindRequestNodeAsebaVMDescription:
		var m RequestNodeAsebaVMDescription
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		msg = m
	case KindLockNode:
		var m LockNode
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		msg = m
	case KindUnlockNode:
		var m UnlockNode
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		msg = m
	case KindRenameNode:
		var m RenameNode
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.NewName, err = r.str(); err != nil {
			return nil, err
		}
		msg = m
	case KindSetNodeVariables:
		var m SetNodeVariables
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Variables, err = r.valueMap(); err != nil {
			return nil, err
		}
		msg = m
	case KindRegisterEvents:
		var m RegisterEvents
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Events, err = r.events(); err != nil {
			return nil, err
		}
		msg = m
	case KindSendEvents:
		var m SendEvents
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Events, err = r.valueMap(); err != nil {
			return nil, err
		}
		msg = m
	case KindCompileAndLoadCodeOnVM:
		var m CompileAndLoadCodeOnVM
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		lang, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.Language = Language(lang)
		if m.Program, err = r.str(); err != nil {
			return nil, err
		}
		opts, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.Options = CompilationOptions(opts)
		msg = m
	case KindSetVMExecutionState:
		var m SetVMExecutionState
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		cmd, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.Command = VMCommand(cmd)
		msg = m
	case KindWatchNode:
		var m WatchNode
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		flags, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.Flags = WatchFlag(flags)
		msg = m
	case KindSetBreakpoints:
		var m SetBreakpoints
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Lines, err = r.lines(); err != nil {
			return nil, err
		}
		msg = m
	case KindNodesChanged:
		var m NodesChanged
		if m.Nodes, err = r.nodeInfos(); err != nil {
			return nil, err
		}
		msg = m
	case KindNodeAsebaVMDescription:
		var m NodeAsebaVMDescription
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Variables, err = r.variableDescs(); err != nil {
			return nil, err
		}
		if m.Events, err = r.events(); err != nil {
			return nil, err
		}
		msg = m
	case KindRequestCompleted:
		var m RequestCompleted
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		msg = m
	case KindError:
		var m Error
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		et, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.ErrorType = ErrorType(et)
		msg = m
	case KindCompilationResultSuccess:
		var m CompilationResultSuccess
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		msg = m
	case KindCompilationResultFailure:
		var m CompilationResultFailure
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		if m.Message, err = r.str(); err != nil {
			return nil, err
		}
		if m.Line, err = r.u32(); err != nil {
			return nil, err
		}
		if m.Column, err = r.u32(); err != nil {
			return nil, err
		}
		if m.Character, err = r.u32(); err != nil {
			return nil, err
		}
		msg = m
	case KindSetBreakpointsResponse:
		var m SetBreakpointsResponse
		if m.RequestID, err = r.u32(); err != nil {
			return nil, err
		}
		et, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.ErrorType = ErrorType(et)
		if m.Lines, err = r.lines(); err != nil {
			return nil, err
		}
		msg = m
	case KindNodeVariablesChanged:
		var m NodeVariablesChanged
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Variables, err = r.valueMap(); err != nil {
			return nil, err
		}
		msg = m
	case KindEventsEmitted:
		var m EventsEmitted
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Events, err = r.valueMap(); err != nil {
			return nil, err
		}
		msg = m
	case KindEventsDescriptionChanged:
		var m EventsDescriptionChanged
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		if m.Events, err = r.events(); err != nil {
			return nil, err
		}
		msg = m
	case KindVMExecutionStateChanged:
		var m VMExecutionStateChanged
		if m.NodeID, err = r.nodeID(); err != nil {
			return nil, err
		}
		state, err2 := r.u8()
		if err2 != nil {
			return nil, err2
		}
		m.State.State = VMState(state)
		if m.State.Line, err = r.u32(); err != nil {
			return nil, err
		}
		if m.State.Error, err = r.str(); err != nil {
			return nil, err
		}
		msg = m
	default:
		return nil, fmt.Errorf("wire: decode: unknown message kind %d", kindByte)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("wire: decode: %d trailing bytes after %s payload", r.remaining(), kind)
	}
	return msg, nil
}
