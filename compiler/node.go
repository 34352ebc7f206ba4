package compiler

import (
	"reflect"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// triggerQueuePrefix names the serial dispatch queue created for each
// trigger port.
const triggerQueuePrefix = "org.patchwork.composition."

// EntryPointKind selects which of a node class's functions a generated
// call invokes.
type EntryPointKind int

const (
	EntryEvent EntryPointKind = iota
	EntryInit
	EntryFini
	EntryCallbackStart
	EntryCallbackUpdate
	EntryCallbackStop
)

// portPlan is the compiled form of one port: its context index and type
// adapter, resolved once so the generated closures do no lookups.
type portPlan struct {
	port         *composition.Port
	adapter      *TypeAdapter // nil for event-only ports
	contextIndex int
	identifier   *StringConstant
}

// argStep is one step of a compiled argument-marshalling plan.
type argStep struct {
	role       composition.ParamRole
	paramIndex int
	consumed   int
	plan       *portPlan // port-backed roles
	unlowered  bool
}

// callPlan is the compiled marshalling plan for one node-class function.
type callPlan struct {
	fn     *composition.FunctionDescriptor
	fnType reflect.Type
	impl   reflect.Value
	steps  []*argStep

	// outputDataPlans lists data output ports passed by pointer, for the
	// retain/release bookkeeping around the call.
	outputDataPlans []*portPlan

	// explicitOutputEvents maps context indices with an event out-param.
	explicitOutputEvents map[int]bool
}

// NodeModel wraps one node for code generation: its stable identifier,
// global index, per-port plans, and compiled call plans for each of the
// class's entry points.
type NodeModel struct {
	g    *Generator
	node *composition.Node

	// Index is the node's position in the module's global ordering,
	// dense in [0, nodeCount).
	Index uint64

	identifier string
	ports      []*portPlan // by context index

	eventPlan  *callPlan
	initPlan   *callPlan
	finiPlan   *callPlan
	startPlan  *callPlan
	updatePlan *callPlan
	stopPlan   *callPlan

	subcomposition bool
	childModule    *Module
}

func (g *Generator) newNodeModel(node *composition.Node, index uint64) (*NodeModel, *Issue) {
	nm := &NodeModel{
		g:          g,
		node:       node,
		Index:      index,
		identifier: node.Identifier(),
	}

	for i, port := range node.Ports() {
		plan := &portPlan{
			port:         port,
			contextIndex: i,
			identifier:   g.constants.GetString(port.Identifier()),
		}
		if port.HasData() {
			adapter, issue := g.adapterForType(port.Class.Type)
			if issue != nil {
				return nil, issue
			}
			plan.adapter = adapter
		}
		nm.ports = append(nm.ports, plan)
	}

	class := node.Class
	if class.Subcomposition {
		nm.subcomposition = true
		child, ok := class.CompiledComposition.(*Module)
		if !ok {
			return nil, newIssue(MetadataParseFailure, "Unsupported composition layout",
				"subcomposition class %s carries no compiled module", class.Name)
		}
		nm.childModule = child
	}

	var issue *Issue
	if nm.eventPlan, issue = nm.buildCallPlan(class.EventFunction()); issue != nil {
		return nil, issue
	}
	if nm.initPlan, issue = nm.buildCallPlan(class.InitFunction()); issue != nil {
		return nil, issue
	}
	if nm.finiPlan, issue = nm.buildCallPlan(class.FiniFunction()); issue != nil {
		return nil, issue
	}
	if nm.startPlan, issue = nm.buildCallPlan(class.CallbackStartFunction()); issue != nil {
		return nil, issue
	}
	if nm.updatePlan, issue = nm.buildCallPlan(class.CallbackUpdateFunction()); issue != nil {
		return nil, issue
	}
	if nm.stopPlan, issue = nm.buildCallPlan(class.CallbackStopFunction()); issue != nil {
		return nil, issue
	}

	return nm, nil
}

// Node returns the wrapped node.
func (nm *NodeModel) Node() *composition.Node { return nm.node }

// Identifier returns the node's graph identifier.
func (nm *NodeModel) Identifier() string { return nm.identifier }

// portPlanFor returns the plan for a port, by pointer identity.
func (nm *NodeModel) portPlanFor(port *composition.Port) *portPlan {
	for _, p := range nm.ports {
		if p.port == port {
			return p
		}
	}
	return nil
}

// buildCallPlan compiles the marshalling plan for one entry point,
// validating every annotation against the node's ports and every
// parameter against its lowering. Returns nil for a nil function.
func (nm *NodeModel) buildCallPlan(fn *composition.FunctionDescriptor) (*callPlan, *Issue) {
	if fn == nil {
		return nil, nil
	}

	roles, err := composition.ParseParamRoles(fn)
	if err != nil {
		return nil, newIssue(MetadataParseFailure, "Unsupported composition layout",
			"node %s: %v", nm.identifier, err)
	}

	plan := &callPlan{
		fn:                   fn,
		fnType:               fn.Type(),
		impl:                 fn.Value(),
		explicitOutputEvents: make(map[int]bool),
	}

	paramIndex := 0
	for _, role := range roles {
		step := &argStep{role: role.Role, paramIndex: paramIndex, consumed: 1}

		switch role.Role {
		case composition.RoleCompositionState:
			if plan.fnType.In(paramIndex) != reflect.TypeOf((*runtime.CompositionState)(nil)) {
				return nil, unsupportedCompositionIssue(MissingContract,
					"function %s parameter %d: composition state argument has type %v",
					fn.Name, paramIndex, plan.fnType.In(paramIndex))
			}

		case composition.RoleInputData:
			port := nm.node.InputPort(role.PortName)
			if port == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"input data argument %q of function %s does not match any input port on node class %s",
					role.PortName, fn.Name, nm.node.Class.Name)
			}
			pp := nm.portPlanFor(port)
			if pp.adapter == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"input data argument %q of function %s refers to the event-only port %s",
					role.PortName, fn.Name, port.Identifier())
			}
			step.plan = pp
			step.unlowered = role.Param.UnloweredStructPointer
			dummy := reflect.New(pp.adapter.GoType()).Elem()
			_, consumed, issue := pp.adapter.ConvertPortDataToCallArgs(dummy, plan.fnType, paramIndex, step.unlowered)
			if issue != nil {
				return nil, issue
			}
			step.consumed = consumed

		case composition.RoleInputEvent:
			if plan.fnType.In(paramIndex).Kind() != reflect.Bool {
				return nil, unsupportedCompositionIssue(MissingContract,
					"input event argument %q of function %s is not a bool", role.PortName, fn.Name)
			}
			port := nm.node.InputPort(role.PortName)
			if port == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"input event argument %q of function %s does not match any input port on node class %s",
					role.PortName, fn.Name, nm.node.Class.Name)
			}
			step.plan = nm.portPlanFor(port)

		case composition.RoleOutputData:
			port := nm.node.OutputPort(role.PortName)
			if port == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"output data argument %q of function %s does not match any output port on node class %s",
					role.PortName, fn.Name, nm.node.Class.Name)
			}
			pp := nm.portPlanFor(port)
			if pp.adapter == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"output data argument %q of function %s refers to the event-only port %s",
					role.PortName, fn.Name, port.Identifier())
			}
			if plan.fnType.In(paramIndex) != reflect.PointerTo(pp.adapter.GoType()) {
				return nil, unsupportedCompositionIssue(UnsupportedLowering,
					"output data argument %q of function %s has type %v, want %v",
					role.PortName, fn.Name, plan.fnType.In(paramIndex),
					reflect.PointerTo(pp.adapter.GoType()))
			}
			step.plan = pp
			plan.outputDataPlans = append(plan.outputDataPlans, pp)

		case composition.RoleOutputEvent:
			if plan.fnType.In(paramIndex) != reflect.PointerTo(reflect.TypeOf(false)) {
				return nil, unsupportedCompositionIssue(MissingContract,
					"output event argument %q of function %s is not a *bool", role.PortName, fn.Name)
			}
			port := nm.node.OutputPort(role.PortName)
			if port == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"output event argument %q of function %s does not match any output port on node class %s",
					role.PortName, fn.Name, nm.node.Class.Name)
			}
			step.plan = nm.portPlanFor(port)
			plan.explicitOutputEvents[step.plan.contextIndex] = true

		case composition.RoleOutputTrigger:
			port := nm.node.OutputPort(role.TriggerName)
			if port == nil || !port.IsTrigger() {
				return nil, unsupportedCompositionIssue(UnknownTrigger,
					"trigger argument %q of function %s does not match any trigger port on node class %s",
					role.TriggerName, fn.Name, nm.node.Class.Name)
			}
			pp := nm.portPlanFor(port)
			want := schedulerFuncType(pp)
			if plan.fnType.In(paramIndex) != want {
				return nil, unsupportedCompositionIssue(UnsupportedLowering,
					"trigger argument %q of function %s has type %v, want %v",
					role.TriggerName, fn.Name, plan.fnType.In(paramIndex), want)
			}
			step.plan = pp

		case composition.RoleInstanceData:
			idt := nm.node.Class.InstanceDataType
			if idt == nil {
				return nil, unsupportedCompositionIssue(MissingContract,
					"function %s takes instance data but node class %s declares none",
					fn.Name, nm.node.Class.Name)
			}
			if plan.fnType.In(paramIndex) != reflect.PointerTo(idt) {
				return nil, unsupportedCompositionIssue(UnsupportedLowering,
					"instance data argument of function %s has type %v, want %v",
					fn.Name, plan.fnType.In(paramIndex), reflect.PointerTo(idt))
			}

		default:
			return nil, newIssue(MetadataParseFailure, "Unsupported composition layout",
				"function %s parameter %d has unrecognized role", fn.Name, paramIndex)
		}

		plan.steps = append(plan.steps, step)
		paramIndex += step.consumed
	}

	if paramIndex != plan.fnType.NumIn() {
		return nil, unsupportedCompositionIssue(MissingContract,
			"function %s has %d parameters but annotations cover %d",
			fn.Name, plan.fnType.NumIn(), paramIndex)
	}

	return plan, nil
}

// schedulerFuncType returns the Go type of a trigger port's scheduler:
// func(T) for data-carrying triggers, func() otherwise.
func schedulerFuncType(pp *portPlan) reflect.Type {
	if pp.adapter != nil {
		return reflect.FuncOf([]reflect.Type{pp.adapter.GoType()}, nil, false)
	}
	return reflect.FuncOf(nil, nil, false)
}

// CreateContext allocates the node's runtime context: one port context
// per port with data slots, event-blocking flags, and trigger queues. For
// subcomposition nodes, the child composition's contexts are created
// recursively.
func (nm *NodeModel) CreateContext(cs *runtime.CompositionState) *runtime.NodeContext {
	ctx := runtime.NewNodeContext()

	for _, pp := range nm.ports {
		pc := &runtime.PortContext{
			EventBlocking: pp.port.Class.EventBlocking,
		}
		if pp.adapter != nil {
			// Every data slot owns one retain of its current value, from
			// creation until release or overwrite. Output ports, except
			// those of the hidden published inputs node, have no declared
			// initial value and start at the type's zero.
			pc.Data = reflect.New(pp.adapter.GoType()).Elem()
			pc.Data.Set(pp.adapter.DeserializeAndRetain(cs.Runtime, pp.port.Class.InitialValue))
		}
		if pp.port.IsTrigger() {
			pc.IsTrigger = true
			pc.TriggerQueue = nm.g.newTriggerQueue(pp.port)
			pc.TriggerSemaphore = newTriggerSemaphore()
		}
		ctx.PortContexts = append(ctx.PortContexts, pc)
	}

	if nm.node.Class.InstanceDataType != nil {
		ctx.InstanceData = reflect.New(nm.node.Class.InstanceDataType).Elem()
	}

	if nm.subcomposition {
		childCS := nm.childCompositionState(cs)
		for i := 0; i < nm.childModule.nodeCount; i++ {
			childCtx := nm.childModule.CompositionCreateContextForNode(childCS, uint64(i))
			cs.Runtime.SetNodeContext(childCS, uint64(i), childCtx)
		}
		cs.Runtime.SetCompositionContext(childCS, runtime.NewCompositionContext(len(nm.childModule.publishedOutputNames)))
	}

	return ctx
}

// GetContext looks the node's context up in the runtime.
func (nm *NodeModel) GetContext(cs *runtime.CompositionState) *runtime.NodeContext {
	return cs.Runtime.NodeContext(cs, nm.Index)
}

func (nm *NodeModel) childCompositionState(cs *runtime.CompositionState) *runtime.CompositionState {
	return runtime.NewCompositionState(cs.Runtime,
		composition.BuildCompositionIdentifier(cs.CompositionIdentifier, nm.identifier))
}

// RegisterMetadata records the node's identity, generated accessors, and
// per-port metadata with the runtime, recursing into subcompositions.
func (nm *NodeModel) RegisterMetadata(cs *runtime.CompositionState) {
	m := nm.g.module
	cs.Runtime.AddNodeMetadata(cs, &runtime.NodeMetadata{
		NodeIdentifier:  nm.identifier,
		CreateContext:   nm.CreateContext,
		SetPortValue:    func(cs *runtime.CompositionState, portID, value string) { m.CompositionSetPortValue(cs, portID, value, true, true, true, true) },
		GetPortValue:    m.CompositionGetPortValue,
		FireTrigger:     m.CompositionFireTriggerPortEvent,
		ReleasePortData: nm.releasePortData,
	})

	for _, pp := range nm.ports {
		if pp.adapter == nil {
			continue
		}
		cs.Runtime.AddPortMetadata(cs, &runtime.PortMetadata{
			PortIdentifier: pp.identifier.Value,
			PortName:       pp.port.Name(),
			TypeIndex:      pp.adapter.Index,
			InitialValue:   pp.port.Class.InitialValue,
		})
	}

	if nm.subcomposition {
		nm.childModule.CompositionAddNodeMetadata(nm.childCompositionState(cs))
	}
}

// planFor selects the call plan for an entry point kind.
func (nm *NodeModel) planFor(kind EntryPointKind) *callPlan {
	switch kind {
	case EntryEvent:
		return nm.eventPlan
	case EntryInit:
		return nm.initPlan
	case EntryFini:
		return nm.finiPlan
	case EntryCallbackStart:
		return nm.startPlan
	case EntryCallbackUpdate:
		return nm.updatePlan
	case EntryCallbackStop:
		return nm.stopPlan
	}
	return nil
}

// Call invokes one of the node's entry points, marshalling arguments
// from the node context and balancing retain/release for output data.
func (nm *NodeModel) Call(kind EntryPointKind, cs *runtime.CompositionState) {
	plan := nm.planFor(kind)
	if plan == nil {
		return
	}
	ctx := nm.GetContext(cs)

	var childCS *runtime.CompositionState
	if nm.subcomposition {
		childCS = nm.childCompositionState(cs)
	}

	args := make([]reflect.Value, plan.fnType.NumIn())
	type outputEventSlot struct {
		local reflect.Value // *bool
		plan  *portPlan
	}
	var eventSlots []outputEventSlot
	oldValues := make(map[*portPlan]reflect.Value)

	for _, step := range plan.steps {
		switch step.role {
		case composition.RoleCompositionState:
			args[step.paramIndex] = reflect.ValueOf(childCS)

		case composition.RoleInputData:
			pc := ctx.PortContexts[step.plan.contextIndex]
			converted, _, issue := step.plan.adapter.ConvertPortDataToCallArgs(
				pc.Data, plan.fnType, step.paramIndex, step.unlowered)
			if issue != nil {
				// Validated at plan time; reaching here is a generator bug.
				panic(issue)
			}
			copy(args[step.paramIndex:], converted)

		case composition.RoleInputEvent:
			pc := ctx.PortContexts[step.plan.contextIndex]
			args[step.paramIndex] = reflect.ValueOf(pc.Event)

		case composition.RoleOutputData:
			pc := ctx.PortContexts[step.plan.contextIndex]
			old := reflect.New(step.plan.adapter.GoType()).Elem()
			old.Set(pc.Data)
			oldValues[step.plan] = old
			args[step.paramIndex] = pc.Data.Addr()

		case composition.RoleOutputEvent:
			local := reflect.New(reflect.TypeOf(false))
			eventSlots = append(eventSlots, outputEventSlot{local: local, plan: step.plan})
			args[step.paramIndex] = local

		case composition.RoleOutputTrigger:
			pc := ctx.PortContexts[step.plan.contextIndex]
			fn := pc.TriggerFunction
			if fn == nil {
				fn = reflect.MakeFunc(schedulerFuncType(step.plan),
					func([]reflect.Value) []reflect.Value { return nil }).Interface()
			}
			args[step.paramIndex] = reflect.ValueOf(fn)

		case composition.RoleInstanceData:
			args[step.paramIndex] = ctx.InstanceData.Addr()
		}
	}

	runtime.AddCompositionStateToThreadLocalStorage(cs)
	if nm.subcomposition && kind == EntryEvent {
		// Give the child the thread we're running on.
		cs.Runtime.Threads().GrantThreadsToSubcomposition(cs, 0, 0, childCS.CompositionIdentifier)
	}
	plan.impl.Call(args)
	runtime.RemoveCompositionStateFromThreadLocalStorage()

	// Retain new output values, release old ones.
	for _, pp := range plan.outputDataPlans {
		pc := ctx.PortContexts[pp.contextIndex]
		pp.adapter.Retain(cs.Runtime, pc.Data)
		pp.adapter.Release(cs.Runtime, oldValues[pp])
	}

	if kind == EntryEvent {
		// The event passes through to the output ports only when it
		// arrived through at least one non-wall input port.
		passes := false
		for _, pp := range nm.ports {
			if pp.port.Class.Direction != composition.Input {
				continue
			}
			pc := ctx.PortContexts[pp.contextIndex]
			if pc.Event && pc.EventBlocking != composition.BlockingWall {
				passes = true
				break
			}
		}

		// Output data+event ports without an explicit event out-param
		// transmit the event whenever it passes through.
		for _, pp := range nm.ports {
			if pp.port.Class.Direction != composition.Output || pp.port.IsTrigger() {
				continue
			}
			if !plan.explicitOutputEvents[pp.contextIndex] {
				ctx.PortContexts[pp.contextIndex].Event = passes
			}
		}
		for _, slot := range eventSlots {
			ctx.PortContexts[slot.plan.contextIndex].Event = slot.local.Elem().Bool()
		}
	}
}

// Execute is the per-chain per-node gate: if any input port (including
// refresh) recorded the event, invoke the node's event function between
// execution telemetry. Returns whether the node was hit.
func (nm *NodeModel) Execute(cs *runtime.CompositionState, eventID uint64) bool {
	ctx := nm.GetContext(cs)

	hit := false
	for _, pp := range nm.ports {
		if pp.port.Class.Direction != composition.Input {
			continue
		}
		if ctx.PortContexts[pp.contextIndex].Event {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}

	telemetry := cs.Runtime.Telemetry()
	telemetry.Send(runtime.NodeExecutionStarted{
		CompositionID:  cs.CompositionIdentifier,
		NodeIdentifier: nm.identifier,
		EventID:        eventID,
	})

	if nm.subcomposition {
		childCS := nm.childCompositionState(cs)
		cs.Runtime.CompositionContext(childCS).StartedExecutingEvent(eventID)
	}

	nm.Call(EntryEvent, cs)

	telemetry.Send(runtime.NodeExecutionFinished{
		CompositionID:  cs.CompositionIdentifier,
		NodeIdentifier: nm.identifier,
		EventID:        eventID,
	})
	return true
}

// Transmit pushes data and events from the node's output ports along
// their cables, then clears the node's event flags.
func (nm *NodeModel) Transmit(cs *runtime.CompositionState, wasHit bool) {
	if wasHit {
		for _, pp := range nm.ports {
			if pp.port.Class.Direction != composition.Output || pp.port.IsTrigger() {
				continue
			}
			ctx := nm.GetContext(cs)
			if !ctx.PortContexts[pp.contextIndex].Event {
				continue
			}
			nm.g.transmitFromOutputPort(cs, nm, pp, true)
		}
	}
	nm.clearEventFlags(cs)
}

// releasePortData releases this node's port data. For subcomposition
// nodes, the child composition instance is torn down with it.
func (nm *NodeModel) releasePortData(cs *runtime.CompositionState) {
	ctx := nm.GetContext(cs)
	for _, pp := range nm.ports {
		if pp.adapter == nil {
			continue
		}
		pp.adapter.Release(cs.Runtime, ctx.PortContexts[pp.contextIndex].Data)
	}
	if nm.subcomposition {
		cs.Runtime.FiniContextForTopLevelComposition(nm.childCompositionState(cs))
	}
}

// clearEventFlags resets input and output event flags after an event
// passes through the node.
func (nm *NodeModel) clearEventFlags(cs *runtime.CompositionState) {
	ctx := nm.GetContext(cs)
	for _, pp := range nm.ports {
		if pp.port.IsTrigger() {
			continue
		}
		ctx.PortContexts[pp.contextIndex].Event = false
	}
}
