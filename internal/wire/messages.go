package wire

import (
	"github.com/mobsya/thymio-broker/internal/nodeid"
	"github.com/mobsya/thymio-broker/internal/value"
)

// Kind tags the concrete case of AnyMessage carried by a frame payload.
type Kind uint8

const (
	KindConnectionHandshake Kind = iota
	KindRequestListOfNodes
	KindRequestNodeAsebaVMDescription
	KindLockNode
	KindUnlockNode
	KindRenameNode
	KindSetNodeVariables
	KindRegisterEvents
	KindSendEvents
	KindCompileAndLoadCodeOnVM
	KindSetVMExecutionState
	KindWatchNode
	KindSetBreakpoints
	KindNodesChanged
	KindNodeAsebaVMDescription
	KindRequestCompleted
	KindError
	KindCompilationResultSuccess
	KindCompilationResultFailure
	KindSetBreakpointsResponse
	KindNodeVariablesChanged
	KindEventsEmitted
	KindEventsDescriptionChanged
	KindVMExecutionStateChanged
)

func (k Kind) String() string {
	switch k {
	case KindConnectionHandshake:
		return "ConnectionHandshake"
	case KindRequestListOfNodes:
		return "RequestListOfNodes"
	case KindRequestNodeAsebaVMDescription:
		return "RequestNodeAsebaVMDescription"
	case KindLockNode:
		return "LockNode"
	case KindUnlockNode:
		return "UnlockNode"
	case KindRenameNode:
		return "RenameNode"
	case KindSetNodeVariables:
		return "SetNodeVariables"
	case KindRegisterEvents:
		return "RegisterEvents"
	case KindSendEvents:
		return "SendEvents"
	case KindCompileAndLoadCodeOnVM:
		return "CompileAndLoadCodeOnVM"
	case KindSetVMExecutionState:
		return "SetVMExecutionState"
	case KindWatchNode:
		return "WatchNode"
	case KindSetBreakpoints:
		return "SetBreakpoints"
	case KindNodesChanged:
		return "NodesChanged"
	case KindNodeAsebaVMDescription:
		return "NodeAsebaVMDescription"
	case KindRequestCompleted:
		return "RequestCompleted"
	case KindError:
		return "Error"
	case KindCompilationResultSuccess:
		return "CompilationResultSuccess"
	case KindCompilationResultFailure:
		return "CompilationResultFailure"
	case KindSetBreakpointsResponse:
		return "SetBreakpointsResponse"
	case KindNodeVariablesChanged:
		return "NodeVariablesChanged"
	case KindEventsEmitted:
		return "EventsEmitted"
	case KindEventsDescriptionChanged:
		return "EventsDescriptionChanged"
	case KindVMExecutionStateChanged:
		return "VMExecutionStateChanged"
	default:
		return "Unknown"
	}
}

// AnyMessage is the tagged union of every wire message. One decode step
// produces the concrete case; dispatch is an exhaustive type switch,
// never a virtual call.
type AnyMessage interface {
	Kind() Kind
}

// --- enums shared by several messages ---

type NodeType uint8

const (
	NodeTypeThymio2 NodeType = iota
	NodeTypeDummyNode
)

type NodeStatus uint8

const (
	StatusConnected NodeStatus = iota
	StatusAvailable
	StatusBusy
	StatusReady
	StatusDisconnected
)

type Capability uint8

const (
	CapabilityForceResetAndStop Capability = 1 << iota
	CapabilityRename
)

type ErrorType uint8

const (
	ErrorNone ErrorType = iota
	ErrorUnknownNode
	ErrorNodeBusy
	ErrorUnsupportedVariableType
	ErrorUnknownError
)

type WatchFlag uint8

const (
	WatchVariables WatchFlag = 1 << iota
	WatchEvents
	WatchVMExecutionState
)

type CompilationOptions uint8

const (
	CompilationLoadOnTarget CompilationOptions = 1 << iota
)

type VMCommand uint8

const (
	VMCommandRun VMCommand = iota
	VMCommandPause
	VMCommandStep
	VMCommandStop
)

type VMState uint8

const (
	VMStateStopped VMState = iota
	VMStateRunning
	VMStatePaused
	VMStateStepByStep
)

type Language uint8

const (
	LanguageAseba Language = iota
)

// EventDescription names one event a node can register/emit, with its
// fixed argument-list size.
type EventDescription struct {
	Name      string
	FixedSize uint16
}

// VariableDescription names one of a node's declared variable slots.
type VariableDescription struct {
	Name       string
	Size       uint16
	IsConstant bool
}

// NodeInfo is the wire projection of a registry Node.
type NodeInfo struct {
	ID           nodeid.ID
	Status       NodeStatus
	Type         NodeType
	Name         string
	Capabilities Capability
}

// ExecutionState is the wire projection of a node's VM execution state.
type ExecutionState struct {
	State VMState
	Line  uint32
	Error string
}

// --- client -> server ---

type ConnectionHandshake struct {
	ProtocolVersion    uint16
	MinProtocolVersion uint16
	MaxMessageSize     uint32
	Token              []byte
}

func (ConnectionHandshake) Kind() Kind { return KindConnectionHandshake }

type RequestListOfNodes struct {
	RequestID uint32
}

func (RequestListOfNodes) Kind() Kind { return KindRequestListOfNodes }

type RequestNodeAsebaVMDescription struct {
	RequestID uint32
	NodeID    nodeid.ID
}

func (RequestNodeAsebaVMDescription) Kind() Kind { return KindRequestNodeAsebaVMDescription }

type LockNode struct {
	RequestID uint32
	NodeID    nodeid.ID
}

func (LockNode) Kind() Kind { return KindLockNode }

type UnlockNode struct {
	RequestID uint32
	NodeID    nodeid.ID
}

func (UnlockNode) Kind() Kind { return KindUnlockNode }

type RenameNode struct {
	RequestID uint32
	NodeID    nodeid.ID
	NewName   string
}

func (RenameNode) Kind() Kind { return KindRenameNode }

type SetNodeVariables struct {
	RequestID uint32
	NodeID    nodeid.ID
	Variables map[string]value.Value
}

func (SetNodeVariables) Kind() Kind { return KindSetNodeVariables }

type RegisterEvents struct {
	RequestID uint32
	NodeID    nodeid.ID
	Events    []EventDescription
}

func (RegisterEvents) Kind() Kind { return KindRegisterEvents }

type SendEvents struct {
	RequestID uint32
	NodeID    nodeid.ID
	Events    map[string]value.Value
}

func (SendEvents) Kind() Kind { return KindSendEvents }

type CompileAndLoadCodeOnVM struct {
	RequestID uint32
	NodeID    nodeid.ID
	Language  Language
	Program   string
	Options   CompilationOptions
}

func (CompileAndLoadCodeOnVM) Kind() Kind { return KindCompileAndLoadCodeOnVM }

type SetVMExecutionState struct {
	RequestID uint32
	NodeID    nodeid.ID
	Command   VMCommand
}

func (SetVMExecutionState) Kind() Kind { return KindSetVMExecutionState }

type WatchNode struct {
	RequestID uint32
	NodeID    nodeid.ID
	Flags     WatchFlag
}

func (WatchNode) Kind() Kind { return KindWatchNode }

type SetBreakpoints struct {
	RequestID uint32
	NodeID    nodeid.ID
	Lines     []uint16
}

func (SetBreakpoints) Kind() Kind { return KindSetBreakpoints }

// --- server -> client ---

type NodesChanged struct {
	Nodes []NodeInfo
}

func (NodesChanged) Kind() Kind { return KindNodesChanged }

type NodeAsebaVMDescription struct {
	RequestID uint32
	NodeID    nodeid.ID
	Variables []VariableDescription
	Events    []EventDescription
}

func (NodeAsebaVMDescription) Kind() Kind { return KindNodeAsebaVMDescription }

type RequestCompleted struct {
	RequestID uint32
}

func (RequestCompleted) Kind() Kind { return KindRequestCompleted }

type Error struct {
	RequestID uint32
	ErrorType ErrorType
}

func (Error) Kind() Kind { return KindError }

type CompilationResultSuccess struct {
	RequestID uint32
}

func (CompilationResultSuccess) Kind() Kind { return KindCompilationResultSuccess }

type CompilationResultFailure struct {
	RequestID uint32
	Message   string
	Line      uint32
	Column    uint32
	Character uint32
}

func (CompilationResultFailure) Kind() Kind { return KindCompilationResultFailure }

type SetBreakpointsResponse struct {
	RequestID uint32
	ErrorType ErrorType
	Lines     []uint16
}

func (SetBreakpointsResponse) Kind() Kind { return KindSetBreakpointsResponse }

type NodeVariablesChanged struct {
	NodeID    nodeid.ID
	Variables map[string]value.Value
}

func (NodeVariablesChanged) Kind() Kind { return KindNodeVariablesChanged }

type EventsEmitted struct {
	NodeID nodeid.ID
	Events map[string]value.Value
}

func (EventsEmitted) Kind() Kind { return KindEventsEmitted }

type EventsDescriptionChanged struct {
	NodeID nodeid.ID
	Events []EventDescription
}

func (EventsDescriptionChanged) Kind() Kind { return KindEventsDescriptionChanged }

type VMExecutionStateChanged struct {
	NodeID nodeid.ID
	State  ExecutionState
}

func (VMExecutionStateChanged) Kind() Kind { return KindVMExecutionStateChanged }
