package wire

import (
	"bytes"
	"testing"

	"github.com/mobsya/thymio-broker/internal/nodeid"
	"github.com/mobsya/thymio-broker/internal/value"
)

func mustID(t *testing.T, b byte) nodeid.ID {
	t.Helper()
	var id nodeid.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func sampleMessages(t *testing.T) []AnyMessage {
	id := mustID(t, 0x42)
	vars := map[string]value.Value{
		"x":    value.Int(7),
		"y":    value.Float(3.5),
		"flag": value.Bool(true),
		"name": value.String("hello"),
		"list": value.List([]value.Value{value.Int(1), value.Int(2)}),
		"nest": value.Map(map[string]value.Value{"a": value.Int(1)}),
	}
	return []AnyMessage{
		ConnectionHandshake{ProtocolVersion: 5, MinProtocolVersion: 1, MaxMessageSize: 65536, Token: []byte("tok")},
		RequestListOfNodes{RequestID: 1},
		LockNode{RequestID: 2, NodeID: id},
		UnlockNode{RequestID: 3, NodeID: id},
		RenameNode{RequestID: 4, NodeID: id, NewName: "bob"},
		SetNodeVariables{RequestID: 5, NodeID: id, Variables: vars},
		RegisterEvents{RequestID: 6, NodeID: id, Events: []EventDescription{{Name: "tap", FixedSize: 1}}},
		SendEvents{RequestID: 7, NodeID: id, Events: vars},
		CompileAndLoadCodeOnVM{RequestID: 8, NodeID: id, Language: LanguageAseba, Program: "motor.left = 1", Options: CompilationLoadOnTarget},
		SetVMExecutionState{RequestID: 9, NodeID: id, Command: VMCommandRun},
		WatchNode{RequestID: 10, NodeID: id, Flags: WatchVariables | WatchEvents},
		SetBreakpoints{RequestID: 11, NodeID: id, Lines: []uint16{1, 2, 3}},
		NodesChanged{Nodes: []NodeInfo{{ID: id, Status: StatusReady, Type: NodeTypeThymio2, Name: "thymio", Capabilities: CapabilityRename}}},
		NodeAsebaVMDescription{RequestID: 12, NodeID: id, Variables: []VariableDescription{{Name: "x", Size: 1, IsConstant: false}}, Events: []EventDescription{{Name: "tap", FixedSize: 1}}},
		RequestCompleted{RequestID: 13},
		Error{RequestID: 14, ErrorType: ErrorNodeBusy},
		CompilationResultSuccess{RequestID: 15},
		CompilationResultFailure{RequestID: 16, Message: "syntax error", Line: 1, Column: 2, Character: 3},
		SetBreakpointsResponse{RequestID: 17, ErrorType: ErrorNone, Lines: []uint16{1}},
		NodeVariablesChanged{NodeID: id, Variables: vars},
		EventsEmitted{NodeID: id, Events: vars},
		EventsDescriptionChanged{NodeID: id, Events: []EventDescription{{Name: "tap", FixedSize: 1}}},
		VMExecutionStateChanged{NodeID: id, State: ExecutionState{State: VMStateRunning, Line: 4, Error: ""}},
	}
}

func equalValueMap(a, b map[string]value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !value.Equal(av, bv) {
			return false
		}
	}
	return true
}

func equalEvents(a, b []EventDescription) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// equalMessage does a field-by-field structural comparison rather than
// comparing re-encoded bytes: map iteration order is randomized, so two
// structurally-equal messages carrying the same variable/event map can
// legitimately re-encode to different byte sequences.
func equalMessage(t *testing.T, a, b AnyMessage) bool {
	t.Helper()
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case SetNodeVariables:
		bv := b.(SetNodeVariables)
		return av.RequestID == bv.RequestID && av.NodeID == bv.NodeID && equalValueMap(av.Variables, bv.Variables)
	case SendEvents:
		bv := b.(SendEvents)
		return av.RequestID == bv.RequestID && av.NodeID == bv.NodeID && equalValueMap(av.Events, bv.Events)
	case NodeVariablesChanged:
		bv := b.(NodeVariablesChanged)
		return av.NodeID == bv.NodeID && equalValueMap(av.Variables, bv.Variables)
	case EventsEmitted:
		bv := b.(EventsEmitted)
		return av.NodeID == bv.NodeID && equalValueMap(av.Events, bv.Events)
	case RegisterEvents:
		bv := b.(RegisterEvents)
		return av.RequestID == bv.RequestID && av.NodeID == bv.NodeID && equalEvents(av.Events, bv.Events)
	case EventsDescriptionChanged:
		bv := b.(EventsDescriptionChanged)
		return av.NodeID == bv.NodeID && equalEvents(av.Events, bv.Events)
	case NodeAsebaVMDescription:
		bv := b.(NodeAsebaVMDescription)
		if av.RequestID != bv.RequestID || av.NodeID != bv.NodeID || !equalEvents(av.Events, bv.Events) {
			return false
		}
		if len(av.Variables) != len(bv.Variables) {
			return false
		}
		for i := range av.Variables {
			if av.Variables[i] != bv.Variables[i] {
				return false
			}
		}
		return true
	default:
		// No map/slice-of-struct fields with nondeterministic order: a
		// byte-for-byte re-encode comparison is safe and exhaustive.
		encA, err := Encode(a)
		if err != nil {
			t.Fatalf("re-encode a: %v", err)
		}
		encB, err := Encode(b)
		if err != nil {
			t.Fatalf("re-encode b: %v", err)
		}
		return bytes.Equal(encA, encB)
	}
}

// TestFramedRoundTrip checks invariant 3: decode(encode(v)) == v, and
// encode output, once framed, starts with a correct little-endian u32
// size matching the remaining byte count.
func TestFramedRoundTrip(t *testing.T) {
	for _, msg := range sampleMessages(t) {
		payload, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode %s: %v", msg.Kind(), err)
		}

		var buf bytes.Buffer
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("write frame %s: %v", msg.Kind(), err)
		}

		framed := buf.Bytes()
		size := uint32(framed[0]) | uint32(framed[1])<<8 | uint32(framed[2])<<16 | uint32(framed[3])<<24
		if int(size) != len(framed)-4 {
			t.Fatalf("%s: frame size %d does not match remaining bytes %d", msg.Kind(), size, len(framed)-4)
		}

		readBack, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("read frame %s: %v", msg.Kind(), err)
		}

		decoded, err := Decode(readBack)
		if err != nil {
			t.Fatalf("decode %s: %v", msg.Kind(), err)
		}
		if decoded.Kind() != msg.Kind() {
			t.Fatalf("kind mismatch: got %s want %s", decoded.Kind(), msg.Kind())
		}
		if !equalMessage(t, decoded, msg) {
			t.Fatalf("%s: round trip mismatch:\n got  %#v\n want %#v", msg.Kind(), decoded, msg)
		}
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 100)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := ReadFrame(&buf, 10); err != ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	payload, err := Encode(RequestListOfNodes{RequestID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload = append(payload, 0xff)
	if _, err := Decode(payload); err == nil {
		t.Fatalf("expected trailing-bytes error, got nil")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatalf("expected unknown-kind error, got nil")
	}
}

func TestValueEqual(t *testing.T) {
	a := value.List([]value.Value{value.Int(1), value.String("x")})
	b := value.List([]value.Value{value.Int(1), value.String("x")})
	c := value.List([]value.Value{value.Int(2)})
	if !value.Equal(a, b) {
		t.Fatalf("expected a == b")
	}
	if value.Equal(a, c) {
		t.Fatalf("expected a != c")
	}
}
