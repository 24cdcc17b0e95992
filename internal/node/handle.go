package node

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/mobsya/thymio-broker/internal/nodeid"
	"github.com/mobsya/thymio-broker/internal/value"
)

// EndpointID identifies a client endpoint for the purposes of lock
// ownership and watch subscriptions. Endpoints mint their own ids (an
// atomic counter in package endpoint); the node package only compares
// them for equality, so it never needs to import endpoint and cannot
// form an import cycle.
type EndpointID uint64

// NoEndpoint is never a valid EndpointID; it represents "unlocked".
const NoEndpoint EndpointID = 0

// Snapshot is the handle's externally visible state at a point in
// time, as reported to the endpoint that asked for it (capability
// masking is applied by the caller, since it is endpoint-relative).
type Snapshot struct {
	ID           nodeid.ID
	Name         string
	Type         Type
	Status       Status
	Capabilities Capability
}

// ChangeNotifier is called by a Handle when it mutates state that the
// registry's global watchers must learn about outside the normal
// backend-driven status flow — today, only Rename.
type ChangeNotifier func(Snapshot)

// Handle is the per-node state machine and operations façade described
// in spec.md §4.4: it owns the lock, translates backend status into
// the wire-visible Status, and forwards backend notifications into
// three independent fanout streams.
//
// Grounded on capabilities/state_machine.go's engine (table-driven
// state plus a mutex guarding a map keyed by identity) and
// hooks/broker.go's copy-under-lock-then-invoke-without-lock dispatch
// idiom, adapted from MESI protocol states to the node lock/status
// state machine and from hook slices to per-endpoint watcher maps.
type Handle struct {
	id  nodeid.ID
	dev Device

	notify ChangeNotifier

	mu           sync.Mutex
	name         string
	typ          Type
	status       Status
	capabilities Capability
	disconnected bool

	lockHolder EndpointID
	locked     bool

	varWatchers     map[EndpointID]func(map[string]value.Value)
	eventWatchers   map[EndpointID]func(map[string]value.Value)
	eventDescWatchers map[EndpointID]func([]EventDescription)
	execWatchers    map[EndpointID]func(ExecutionState)

	unsubVars      func()
	unsubEvents    func()
	unsubEventDesc func()
	unsubExec      func()
}

// NewHandle constructs a handle wrapping a freshly discovered node's
// device facade. Registry is the only caller.
func NewHandle(id nodeid.ID, name string, typ Type, caps Capability, status Status, dev Device) *Handle {
	return &Handle{
		id:                id,
		dev:               dev,
		name:              name,
		typ:               typ,
		status:            status,
		capabilities:      caps,
		varWatchers:       make(map[EndpointID]func(map[string]value.Value)),
		eventWatchers:     make(map[EndpointID]func(map[string]value.Value)),
		eventDescWatchers: make(map[EndpointID]func([]EventDescription)),
		execWatchers:      make(map[EndpointID]func(ExecutionState)),
	}
}

// SetChangeNotifier installs the callback Rename uses to tell the
// registry about a name change. Called once, by the registry, right
// after NewHandle.
func (h *Handle) SetChangeNotifier(n ChangeNotifier) {
	h.mu.Lock()
	h.notify = n
	h.mu.Unlock()
}

// ID returns the node's identifier.
func (h *Handle) ID() nodeid.ID { return h.id }

// Snapshot returns the handle's current externally visible state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{ID: h.id, Name: h.name, Type: h.typ, Status: h.status, Capabilities: h.capabilities}
}

// StatusFor returns the status as it should be reported to ep: the
// canonical Busy status is remapped to Ready for the endpoint that
// actually holds the lock (spec.md's status-visibility invariant).
func (h *Handle) StatusFor(ep EndpointID) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusBusy && h.locked && h.lockHolder == ep {
		return StatusReady
	}
	return h.status
}

// SetStatusAndName applies a backend-driven status/name update. Called
// only by the registry, which also owns deciding whether to notify its
// own watchers; this method never calls the change notifier itself.
func (h *Handle) SetStatusAndName(status Status, name string) {
	h.mu.Lock()
	h.status = status
	h.name = name
	h.mu.Unlock()
}

// MarkDisconnected transitions the handle into its terminal state: the
// lock is released and every watcher map is cleared. Disconnected is
// absorbing — no further operation on this handle will succeed.
func (h *Handle) MarkDisconnected() {
	h.mu.Lock()
	h.disconnected = true
	h.status = StatusDisconnected
	h.locked = false
	h.lockHolder = NoEndpoint
	unsubVars, unsubEvents, unsubEventDesc, unsubExec := h.unsubVars, h.unsubEvents, h.unsubEventDesc, h.unsubExec
	h.unsubVars, h.unsubEvents, h.unsubEventDesc, h.unsubExec = nil, nil, nil, nil
	h.varWatchers = nil
	h.eventWatchers = nil
	h.eventDescWatchers = nil
	h.execWatchers = nil
	h.mu.Unlock()

	for _, unsub := range []func(){unsubVars, unsubEvents, unsubEventDesc, unsubExec} {
		if unsub != nil {
			unsub()
		}
	}
}

// LockHolder reports the current lock holder, if any.
func (h *Handle) LockHolder() (EndpointID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lockHolder, h.locked
}

// Lock reserves the node for ep. Idempotent for the current holder.
func (h *Handle) Lock(ep EndpointID) *OpError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disconnected {
		return newOpError(ErrorUnknownNode, "lock: node disconnected")
	}
	if h.locked && h.lockHolder != ep {
		return newOpError(ErrorNodeBusy, "lock: node held by another endpoint")
	}
	h.locked = true
	h.lockHolder = ep
	return nil
}

// Unlock releases ep's reservation. Returns unknown_node if ep does
// not currently hold the lock, matching the original's reuse of that
// code for "not locked by caller" (spec.md's open question).
func (h *Handle) Unlock(ep EndpointID) *OpError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.locked || h.lockHolder != ep {
		return newOpError(ErrorUnknownNode, "unlock: endpoint does not hold this node's lock")
	}
	h.locked = false
	h.lockHolder = NoEndpoint
	return nil
}

// ReleaseIfHeldBy releases the lock if ep currently holds it; used by
// endpoint teardown, which has no reason to fail on a node it never
// locked.
func (h *Handle) ReleaseIfHeldBy(ep EndpointID) {
	h.mu.Lock()
	if h.locked && h.lockHolder == ep {
		h.locked = false
		h.lockHolder = NoEndpoint
	}
	h.mu.Unlock()
}

func (h *Handle) requireLockedBy(ep EndpointID) *OpError {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disconnected {
		return newOpError(ErrorUnknownNode, "node disconnected")
	}
	if !h.locked || h.lockHolder != ep {
		return newOpError(ErrorUnknownNode, "node not locked by caller")
	}
	return nil
}

// Rename renames the node. Requires the lock and the Rename
// capability, matching spec.md's precondition table.
func (h *Handle) Rename(ctx context.Context, ep EndpointID, name string) *OpError {
	h.mu.Lock()
	if h.disconnected || !h.locked || h.lockHolder != ep || !h.capabilities.Has(CapabilityRename) {
		h.mu.Unlock()
		return newOpError(ErrorUnknownNode, "rename: node not locked by caller or not renameable")
	}
	h.mu.Unlock()

	if err := h.dev.Rename(ctx, name); err != nil {
		return newOpError(ErrorUnknownError, fmt.Sprintf("rename: device error: %v", err))
	}

	h.mu.Lock()
	h.name = name
	notify := h.notify
	snap := Snapshot{ID: h.id, Name: h.name, Type: h.typ, Status: h.status, Capabilities: h.capabilities}
	h.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	return nil
}

// SetVariables pushes a variable map to the device. Requires the lock.
// Every value is first coerced against the node's declared variable
// table — the aseba VM only knows fixed-size arrays of signed 16-bit
// integers, so a value with no such representation, a name the node
// never declared, or a write to a constant is rejected as
// unsupported_variable_type before anything reaches the device
// (spec.md §9: "coercions to node VM types happen inside the node
// handle, not the endpoint").
func (h *Handle) SetVariables(ctx context.Context, ep EndpointID, vars map[string]value.Value) *OpError {
	if err := h.requireLockedBy(ep); err != nil {
		return err
	}
	if err := validateVariableAssignment(h.dev.VariableDescriptions(), vars); err != nil {
		return err
	}
	if err := h.dev.SetVariables(ctx, vars); err != nil {
		return newOpError(ErrorNodeBusy, fmt.Sprintf("set_variables: device write failed: %v", err))
	}
	return nil
}

// validateVariableAssignment checks every entry of vars against the
// node's declared variable table before it is handed to the device.
func validateVariableAssignment(descs []VariableDescription, vars map[string]value.Value) *OpError {
	byName := make(map[string]VariableDescription, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}
	for name, v := range vars {
		desc, ok := byName[name]
		if !ok {
			return newOpError(ErrorUnsupportedVariableType, fmt.Sprintf("set_variables: %q is not a declared variable", name))
		}
		if desc.IsConstant {
			return newOpError(ErrorUnsupportedVariableType, fmt.Sprintf("set_variables: %q is a constant", name))
		}
		words, err := vmWordCount(v)
		if err != nil {
			return newOpError(ErrorUnsupportedVariableType, fmt.Sprintf("set_variables: %q: %v", name, err))
		}
		if desc.Size != 0 && words != int(desc.Size) {
			return newOpError(ErrorUnsupportedVariableType, fmt.Sprintf("set_variables: %q expects %d word(s), got %d", name, desc.Size, words))
		}
	}
	return nil
}

// vmWordCount reports how many aseba VM words (signed 16-bit integers)
// v occupies, or an error if its kind has no VM representation at all
// — the VM has no float, string, or map type, and no nested arrays.
func vmWordCount(v value.Value) (int, error) {
	switch v.Kind() {
	case value.KindInt:
		i, _ := v.Int()
		if i < math.MinInt16 || i > math.MaxInt16 {
			return 0, fmt.Errorf("integer %d out of VM range", i)
		}
		return 1, nil
	case value.KindBool:
		return 1, nil
	case value.KindList:
		list, _ := v.List()
		for _, elem := range list {
			if elem.Kind() == value.KindList {
				return 0, fmt.Errorf("nested arrays have no VM representation")
			}
			if _, err := vmWordCount(elem); err != nil {
				return 0, err
			}
		}
		return len(list), nil
	default:
		return 0, fmt.Errorf("kind %d has no VM representation", v.Kind())
	}
}

// RegisterEvents installs the node's event table. Requires the lock.
func (h *Handle) RegisterEvents(ctx context.Context, ep EndpointID, events []EventDescription) *OpError {
	if err := h.requireLockedBy(ep); err != nil {
		return err
	}
	if err := h.dev.RegisterEvents(ctx, events); err != nil {
		return newOpError(ErrorUnsupportedVariableType, fmt.Sprintf("register_events: %v", err))
	}
	return nil
}

// EmitEvents sends events to the device. Requires the lock.
func (h *Handle) EmitEvents(ctx context.Context, ep EndpointID, events map[string]value.Value) *OpError {
	if err := h.requireLockedBy(ep); err != nil {
		return err
	}
	if err := h.dev.EmitEvents(ctx, events); err != nil {
		return newOpError(ErrorNodeBusy, fmt.Sprintf("emit_events: device write failed: %v", err))
	}
	return nil
}

// CompileOptions mirrors the wire CompilationOptions bit flags without
// importing the wire package.
type CompileOptions uint8

const CompileOptionLoadOnTarget CompileOptions = 1

// CompileAndLoad compiles program text and, if LoadOnTarget is set and
// compilation succeeded, loads the resulting bytecode. Requires the
// lock. The compiler is a separate collaborator (internal/compiler);
// Handle only sequences the two steps.
func (h *Handle) CompileAndLoad(ctx context.Context, ep EndpointID, compile func(context.Context) (CompilationResult, error), opts CompileOptions) (CompilationResult, *OpError) {
	if err := h.requireLockedBy(ep); err != nil {
		return CompilationResult{}, err
	}
	result, err := compile(ctx)
	if err != nil {
		return CompilationResult{}, newOpError(ErrorUnknownNode, fmt.Sprintf("compile: %v", err))
	}
	if result.Success && opts&CompileOptionLoadOnTarget != 0 {
		if err := h.dev.Load(ctx, result.Bytecode); err != nil {
			return result, newOpError(ErrorUnknownNode, fmt.Sprintf("load: device error: %v", err))
		}
	}
	return result, nil
}

// SetExecutionState issues a run/pause/step/stop command. Stop is
// additionally allowed without a lock on a local node that lacks the
// Rename capability (the original's carve-out for "force stop" on
// fixed local nodes — see SPEC_FULL.md's supplemented-features list).
func (h *Handle) SetExecutionState(ctx context.Context, ep EndpointID, cmd VMCommand) *OpError {
	h.mu.Lock()
	allowed := h.locked && h.lockHolder == ep
	if !allowed && cmd == VMCommandStop && !h.capabilities.Has(CapabilityRename) {
		allowed = !h.disconnected
	}
	disconnected := h.disconnected
	h.mu.Unlock()

	if disconnected {
		return newOpError(ErrorUnknownNode, "set_vm_execution_state: node disconnected")
	}
	if !allowed {
		return newOpError(ErrorUnknownNode, "set_vm_execution_state: node not locked by caller")
	}
	if err := h.dev.SetExecutionState(ctx, cmd); err != nil {
		return newOpError(ErrorUnknownNode, fmt.Sprintf("set_vm_execution_state: device error: %v", err))
	}
	return nil
}

// SetBreakpoints requests breakpoint lines on the device, returning
// the lines the device actually accepted (it may shift or drop some).
func (h *Handle) SetBreakpoints(ctx context.Context, ep EndpointID, lines []uint16) ([]uint16, *OpError) {
	if err := h.requireLockedBy(ep); err != nil {
		return nil, err
	}
	actual, err := h.dev.SetBreakpoints(ctx, lines)
	if err != nil {
		return nil, newOpError(ErrorUnknownError, fmt.Sprintf("set_breakpoints: device error: %v", err))
	}
	return actual, nil
}

// VMDescription returns the node's variable and event descriptions,
// used to answer RequestNodeAsebaVMDescription.
func (h *Handle) VMDescription() ([]VariableDescription, []EventDescription) {
	return h.dev.VariableDescriptions(), h.dev.EventsDescription()
}

// WatchCallbacks groups the per-endpoint delivery functions for the
// three fanout streams; nil entries mean "this flag was not set".
type WatchCallbacks struct {
	OnVariables         func(map[string]value.Value)
	OnEvents            func(map[string]value.Value)
	OnEventsDescription func([]EventDescription)
	OnExecutionState    func(ExecutionState)
}

// Watch renews or cancels ep's subscription to each stream named by
// flags. For a flag newly set, the matching callback in cb is invoked
// synchronously, in this call, with the current snapshot — BEFORE
// Watch returns — so the caller can guarantee the snapshot is enqueued
// on the wire before the request's ack (spec.md §4.4's watch
// semantics, confirmed against original_source/aseba's watch_node).
// Renewing an already-set flag does not resend the snapshot. Clearing
// a flag cancels the subscription.
func (h *Handle) Watch(ep EndpointID, flags WatchFlag, cb WatchCallbacks) {
	if flags&WatchVariables != 0 {
		h.setVarWatcher(ep, cb.OnVariables)
	} else {
		h.clearVarWatcher(ep)
	}
	if flags&WatchEvents != 0 {
		h.setEventWatcher(ep, cb.OnEvents, cb.OnEventsDescription)
	} else {
		h.clearEventWatcher(ep)
	}
	if flags&WatchVMExecutionState != 0 {
		h.setExecWatcher(ep, cb.OnExecutionState)
	} else {
		h.clearExecWatcher(ep)
	}
}

func (h *Handle) setVarWatcher(ep EndpointID, cb func(map[string]value.Value)) {
	if cb == nil {
		return
	}
	h.mu.Lock()
	_, already := h.varWatchers[ep]
	h.varWatchers[ep] = cb
	if h.unsubVars == nil {
		h.unsubVars = h.dev.SubscribeVariables(h.onBackendVariables)
	}
	h.mu.Unlock()

	if !already {
		cb(copyVariables(h.dev.Variables()))
	}
}

func (h *Handle) clearVarWatcher(ep EndpointID) {
	h.mu.Lock()
	delete(h.varWatchers, ep)
	h.mu.Unlock()
}

func (h *Handle) setEventWatcher(ep EndpointID, onEvents func(map[string]value.Value), onDesc func([]EventDescription)) {
	h.mu.Lock()
	_, already := h.eventDescWatchers[ep]
	if onEvents != nil {
		h.eventWatchers[ep] = onEvents
	}
	if onDesc != nil {
		h.eventDescWatchers[ep] = onDesc
	}
	if h.unsubEvents == nil {
		h.unsubEvents = h.dev.SubscribeEvents(h.onBackendEvents)
	}
	if h.unsubEventDesc == nil {
		h.unsubEventDesc = h.dev.SubscribeEventsDescription(h.onBackendEventsDescription)
	}
	h.mu.Unlock()

	if onDesc != nil && !already {
		onDesc(h.dev.EventsDescription())
	}
}

func (h *Handle) clearEventWatcher(ep EndpointID) {
	h.mu.Lock()
	delete(h.eventWatchers, ep)
	delete(h.eventDescWatchers, ep)
	h.mu.Unlock()
}

func (h *Handle) setExecWatcher(ep EndpointID, cb func(ExecutionState)) {
	if cb == nil {
		return
	}
	h.mu.Lock()
	_, already := h.execWatchers[ep]
	h.execWatchers[ep] = cb
	if h.unsubExec == nil {
		h.unsubExec = h.dev.SubscribeExecutionState(h.onBackendExecutionState)
	}
	h.mu.Unlock()

	if !already {
		cb(h.dev.ExecutionState())
	}
}

func (h *Handle) clearExecWatcher(ep EndpointID) {
	h.mu.Lock()
	delete(h.execWatchers, ep)
	h.mu.Unlock()
}

// CancelWatches drops every subscription ep holds on this node,
// without touching its lock. Used by endpoint teardown.
func (h *Handle) CancelWatches(ep EndpointID) {
	h.clearVarWatcher(ep)
	h.clearEventWatcher(ep)
	h.clearExecWatcher(ep)
}

// The three onBackendX callbacks run on whatever goroutine the backend
// chooses; they copy out the current watcher list under the mutex and
// invoke callbacks without holding it, so a watcher that calls back
// into the handle (e.g. to unsubscribe) cannot deadlock.

func (h *Handle) onBackendVariables(vars map[string]value.Value) {
	h.mu.Lock()
	watchers := make([]func(map[string]value.Value), 0, len(h.varWatchers))
	for _, cb := range h.varWatchers {
		watchers = append(watchers, cb)
	}
	h.mu.Unlock()
	snap := copyVariables(vars)
	for _, cb := range watchers {
		cb(snap)
	}
}

func (h *Handle) onBackendEvents(events map[string]value.Value) {
	h.mu.Lock()
	watchers := make([]func(map[string]value.Value), 0, len(h.eventWatchers))
	for _, cb := range h.eventWatchers {
		watchers = append(watchers, cb)
	}
	h.mu.Unlock()
	snap := copyVariables(events)
	for _, cb := range watchers {
		cb(snap)
	}
}

func (h *Handle) onBackendEventsDescription(events []EventDescription) {
	h.mu.Lock()
	watchers := make([]func([]EventDescription), 0, len(h.eventDescWatchers))
	for _, cb := range h.eventDescWatchers {
		watchers = append(watchers, cb)
	}
	h.mu.Unlock()
	cp := append([]EventDescription(nil), events...)
	for _, cb := range watchers {
		cb(cp)
	}
}

func (h *Handle) onBackendExecutionState(state ExecutionState) {
	h.mu.Lock()
	watchers := make([]func(ExecutionState), 0, len(h.execWatchers))
	for _, cb := range h.execWatchers {
		watchers = append(watchers, cb)
	}
	h.mu.Unlock()
	for _, cb := range watchers {
		cb(state)
	}
}
