package endpoint

import (
	"github.com/mobsya/thymio-broker/internal/node"
	"github.com/mobsya/thymio-broker/internal/wire"
)

// The wire and node packages intentionally duplicate these enums: the
// wire layer is the byte
// encoding, the node layer is the domain model, and this file is the
// only place that translates between them.

func nodeStatusToWire(s node.Status) wire.NodeStatus {
	switch s {
	case node.StatusConnected:
		return wire.StatusConnected
	case node.StatusAvailable:
		return wire.StatusAvailable
	case node.StatusBusy:
		return wire.StatusBusy
	case node.StatusReady:
		return wire.StatusReady
	default:
		return wire.StatusDisconnected
	}
}

func nodeTypeToWire(t node.Type) wire.NodeType {
	if t == node.TypeDummyNode {
		return wire.NodeTypeDummyNode
	}
	return wire.NodeTypeThymio2
}

func nodeCapabilityToWire(c node.Capability) wire.Capability {
	var out wire.Capability
	if c.Has(node.CapabilityForceResetAndStop) {
		out |= wire.CapabilityForceResetAndStop
	}
	if c.Has(node.CapabilityRename) {
		out |= wire.CapabilityRename
	}
	return out
}

func wireLanguageToNode(l wire.Language) node.Language {
	return node.LanguageAseba
}

func wireVMCommandToNode(c wire.VMCommand) node.VMCommand {
	switch c {
	case wire.VMCommandRun:
		return node.VMCommandRun
	case wire.VMCommandPause:
		return node.VMCommandPause
	case wire.VMCommandStep:
		return node.VMCommandStep
	default:
		return node.VMCommandStop
	}
}

func nodeVMStateToWire(s node.VMState) wire.VMState {
	switch s {
	case node.VMStateRunning:
		return wire.VMStateRunning
	case node.VMStatePaused:
		return wire.VMStatePaused
	case node.VMStateStepByStep:
		return wire.VMStateStepByStep
	default:
		return wire.VMStateStopped
	}
}

func nodeExecStateToWire(s node.ExecutionState) wire.ExecutionState {
	return wire.ExecutionState{State: nodeVMStateToWire(s.State), Line: s.Line, Error: s.Error}
}

func wireEventDescsToNode(in []wire.EventDescription) []node.EventDescription {
	out := make([]node.EventDescription, len(in))
	for i, e := range in {
		out[i] = node.EventDescription{Name: e.Name, FixedSize: e.FixedSize}
	}
	return out
}

func nodeEventDescsToWire(in []node.EventDescription) []wire.EventDescription {
	out := make([]wire.EventDescription, len(in))
	for i, e := range in {
		out[i] = wire.EventDescription{Name: e.Name, FixedSize: e.FixedSize}
	}
	return out
}

func nodeVariableDescsToWire(in []node.VariableDescription) []wire.VariableDescription {
	out := make([]wire.VariableDescription, len(in))
	for i, v := range in {
		out[i] = wire.VariableDescription{Name: v.Name, Size: v.Size, IsConstant: v.IsConstant}
	}
	return out
}

func errorTypeToWire(t node.ErrorType) wire.ErrorType {
	switch t {
	case node.ErrorUnknownNode:
		return wire.ErrorUnknownNode
	case node.ErrorNodeBusy:
		return wire.ErrorNodeBusy
	case node.ErrorUnsupportedVariableType:
		return wire.ErrorUnsupportedVariableType
	case node.ErrorNone:
		return wire.ErrorNone
	default:
		return wire.ErrorUnknownError
	}
}
