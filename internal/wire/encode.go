package wire

import (
	"fmt"

	"github.com/mobsya/thymio-broker/internal/nodeid"
)

func (w *writer) nodeID(id nodeid.ID) {
	w.bytesRaw(id[:])
}

func (r *reader) nodeID() (nodeid.ID, error) {
	b, err := r.bytesRaw(nodeid.Size)
	if err != nil {
		return nodeid.Nil, err
	}
	return nodeid.FromBytes(b)
}

func (w *writer) events(events []EventDescription) {
	w.u32(uint32(len(events)))
	for _, e := range events {
		w.str(e.Name)
		w.u16(e.FixedSize)
	}
}

func (r *reader) events() ([]EventDescription, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]EventDescription, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		size, err := r.u16()
		if err != nil {
			return nil, err
		}
		out = append(out, EventDescription{Name: name, FixedSize: size})
	}
	return out, nil
}

func (w *writer) variableDescs(vars []VariableDescription) {
	w.u32(uint32(len(vars)))
	for _, v := range vars {
		w.str(v.Name)
		w.u16(v.Size)
		w.bool(v.IsConstant)
	}
}

func (r *reader) variableDescs() ([]VariableDescription, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]VariableDescription, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		size, err := r.u16()
		if err != nil {
			return nil, err
		}
		isConst, err := r.boolean()
		if err != nil {
			return nil, err
		}
		out = append(out, VariableDescription{Name: name, Size: size, IsConstant: isConst})
	}
	return out, nil
}

func (w *writer) lines(lines []uint16) {
	w.u32(uint32(len(lines)))
	for _, l := range lines {
		w.u16(l)
	}
}

func (r *reader) lines() ([]uint16, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, n)
	for i := uint32(0); i < n; i++ {
		l, err := r.u16()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (w *writer) nodeInfos(nodes []NodeInfo) {
	w.u32(uint32(len(nodes)))
	for _, n := range nodes {
		w.nodeID(n.ID)
		w.u8(uint8(n.Status))
		w.u8(uint8(n.Type))
		w.str(n.Name)
		w.u8(uint8(n.Capabilities))
	}
}

func (r *reader) nodeInfos() ([]NodeInfo, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]NodeInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.nodeID()
		if err != nil {
			return nil, err
		}
		status, err := r.u8()
		if err != nil {
			return nil, err
		}
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		caps, err := r.u8()
		if err != nil {
			return nil, err
		}
		out = append(out, NodeInfo{
			ID:           id,
			Status:       NodeStatus(status),
			Type:         NodeType(typ),
			Name:         name,
			Capabilities: Capability(caps),
		})
	}
	return out, nil
}

// Encode serializes an AnyMessage into its tagged binary payload. The
// returned bytes are what ReadFrame/WriteFrame carry as a frame's
// payload; they do not include the length prefix.
func Encode(msg AnyMessage) ([]byte, error) {
	w := newWriter()
	w.u8(uint8(msg.Kind()))

	switch m := msg.(type) {
	case ConnectionHandshake:
		w.u16(m.ProtocolVersion)
		w.u16(m.MinProtocolVersion)
		w.u32(m.MaxMessageSize)
		w.bytes(m.Token)
	case RequestListOfNodes:
		w.u32(m.RequestID)
	case RequestNodeAsebaVMDescription:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
	case LockNode:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
	case UnlockNode:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
	case RenameNode:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.str(m.NewName)
	case SetNodeVariables:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.valueMap(m.Variables)
	case RegisterEvents:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.events(m.Events)
	case SendEvents:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.valueMap(m.Events)
	case CompileAndLoadCodeOnVM:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.u8(uint8(m.Language))
		w.str(m.Program)
		w.u8(uint8(m.Options))
	case SetVMExecutionState:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.u8(uint8(m.Command))
	case WatchNode:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.u8(uint8(m.Flags))
	case SetBreakpoints:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.lines(m.Lines)
	case NodesChanged:
		w.nodeInfos(m.Nodes)
	case NodeAsebaVMDescription:
		w.u32(m.RequestID)
		w.nodeID(m.NodeID)
		w.variableDescs(m.Variables)
		w.events(m.Events)
	case RequestCompleted:
		w.u32(m.RequestID)
	case Error:
		w.u32(m.RequestID)
		w.u8(uint8(m.ErrorType))
	case CompilationResultSuccess:
		w.u32(m.RequestID)
	case CompilationResultFailure:
		w.u32(m.RequestID)
		w.str(m.Message)
		w.u32(m.Line)
		w.u32(m.Column)
		w.u32(m.Character)
	case SetBreakpointsResponse:
		w.u32(m.RequestID)
		w.u8(uint8(m.ErrorType))
		w.lines(m.Lines)
	case NodeVariablesChanged:
		w.nodeID(m.NodeID)
		w.valueMap(m.Variables)
	case EventsEmitted:
		w.nodeID(m.NodeID)
		w.valueMap(m.Events)
	case EventsDescriptionChanged:
		w.nodeID(m.NodeID)
		w.events(m.Events)
	case VMExecutionStateChanged:
		w.nodeID(m.NodeID)
		w.u8(uint8(m.State.State))
		w.u32(m.State.Line)
		w.str(m.State.Error)
	default:
		return nil, fmt.Errorf("wire: encode: unhandled message type %T", msg)
	}

	return w.buf, nil
}
