package compiler

import (
	"reflect"
	"sync"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// portLookup is the compiled string-matched dispatch entry for one port.
type portLookup struct {
	nodeModel *NodeModel
	plan      *portPlan
}

// emitEntryPoints generates the module's lifecycle, control, and
// published-port entry points.
func (g *Generator) emitEntryPoints() {
	m := g.module

	// String-matched dispatch tables over port identifiers, built once.
	inputDataPorts := make(map[string]*portLookup)
	outputDataPorts := make(map[string]*portLookup)
	allDataPorts := make(map[string]*portLookup)
	triggerPorts := make(map[string]*triggerModel)
	for _, nm := range g.orderedNodes {
		for _, pp := range nm.ports {
			if pp.adapter == nil {
				continue
			}
			lookup := &portLookup{nodeModel: nm, plan: pp}
			allDataPorts[pp.identifier.Value] = lookup
			if pp.port.Class.Direction == composition.Input {
				inputDataPorts[pp.identifier.Value] = lookup
			} else {
				outputDataPorts[pp.identifier.Value] = lookup
			}
		}
	}
	for _, tm := range g.triggers {
		triggerPorts[tm.identifier.Value] = tm
	}

	// --- composition-internal get/set/fire ---

	m.CompositionGetPortValue = func(cs *runtime.CompositionState, portID string,
		kind runtime.SerializationKind, threadSafe bool) string {

		lookup, ok := allDataPorts[portID]
		if !ok {
			return ""
		}
		if threadSafe {
			eventID := cs.Runtime.NextEventID()
			g.waitForNodeModels(cs, []*NodeModel{lookup.nodeModel}, eventID, true)
			defer g.signalNodeModels(cs, []*NodeModel{lookup.nodeModel})
		}
		data := lookup.nodeModel.GetContext(cs).PortContexts[lookup.plan.contextIndex].Data
		switch kind {
		case runtime.SerializeSummary:
			return lookup.plan.adapter.Summary(data)
		case runtime.SerializeInterprocess:
			return lookup.plan.adapter.InterprocessSerialize(data)
		default:
			return lookup.plan.adapter.Serialize(data)
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionGetPortValue", g.moduleKey), m.CompositionGetPortValue)

	m.CompositionSetPortValue = func(cs *runtime.CompositionState, portID, valueJSON string,
		threadSafe, updateCallbacks, sendTelemetry, transmit bool) {

		lookup, ok := inputDataPorts[portID]
		if !ok {
			cs.Runtime.Telemetry().Send(runtime.UncaughtError{
				Message: "no input port with identifier " + portID,
			})
			return
		}
		nm := lookup.nodeModel
		st := cs.Runtime

		if threadSafe {
			eventID := st.NextEventID()
			g.waitForNodeModels(cs, []*NodeModel{nm}, eventID, true)
			defer g.signalNodeModels(cs, []*NodeModel{nm})
		}

		portCtx := nm.GetContext(cs).PortContexts[lookup.plan.contextIndex]
		adapter := lookup.plan.adapter

		newValue := adapter.DeserializeAndRetain(st, valueJSON)
		if adapter.AreEqual(portCtx.Data, newValue) {
			adapter.Release(st, newValue)
			return
		}

		old := reflect.New(adapter.GoType()).Elem()
		old.Set(portCtx.Data)
		portCtx.SetDataValue(newValue)
		adapter.Release(st, old)

		if updateCallbacks && nm.updatePlan != nil {
			nm.Call(EntryCallbackUpdate, cs)
		}

		if sendTelemetry && st.Telemetry().ShouldSendPortDataTelemetry(portID) {
			st.Telemetry().Send(runtime.InputPortsUpdated{
				CompositionID: cs.CompositionIdentifier,
				Ports: []runtime.PortUpdate{{
					PortIdentifier: portID,
					ReceivedData:   true,
					Summary:        adapter.Summary(portCtx.Data),
				}},
			})
		}

		if transmit && g.graph.MayTransmitDataOnly(nm.node) {
			g.performDataOnlyTransmissionFromNode(cs, nm)
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionSetPortValue", g.moduleKey), m.CompositionSetPortValue)

	m.CompositionFireTriggerPortEvent = func(cs *runtime.CompositionState, portID string) {
		tm, ok := triggerPorts[portID]
		if !ok {
			cs.Runtime.Telemetry().Send(runtime.UncaughtError{
				Message: "no trigger port with identifier " + portID,
			})
			return
		}
		portCtx := tm.nodeModel.GetContext(cs).PortContexts[tm.portPlan.contextIndex]
		scheduler := portCtx.TriggerFunction
		if scheduler == nil {
			return
		}
		if tm.portPlan.adapter != nil {
			// Fire with the trigger's most recent value.
			reflect.ValueOf(scheduler).Call([]reflect.Value{portCtx.Data})
		} else {
			scheduler.(func())()
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionFireTriggerPortEvent", g.moduleKey), m.CompositionFireTriggerPortEvent)

	// --- public control surface ---

	m.SetInputPortValue = func(cs *runtime.CompositionState, portID, valueJSON string) {
		m.CompositionSetPortValue(cs, portID, valueJSON, true, true, true, true)
	}
	m.GetInputPortValue = func(cs *runtime.CompositionState, portID string, interprocess bool) string {
		kind := runtime.SerializeValue
		if interprocess {
			kind = runtime.SerializeInterprocess
		}
		if _, ok := inputDataPorts[portID]; !ok {
			return ""
		}
		return m.CompositionGetPortValue(cs, portID, kind, true)
	}
	m.GetOutputPortValue = func(cs *runtime.CompositionState, portID string, interprocess bool) string {
		kind := runtime.SerializeValue
		if interprocess {
			kind = runtime.SerializeInterprocess
		}
		if _, ok := outputDataPorts[portID]; !ok {
			return ""
		}
		return m.CompositionGetPortValue(cs, portID, kind, true)
	}
	m.FireTriggerPortEvent = m.CompositionFireTriggerPortEvent

	// --- lifecycle ---

	// setup installs node metadata and contexts, performs the initial
	// data-only transmissions, and installs trigger scheduler pointers
	// (both this composition's and, recursively, those nested inside
	// subcomposition nodes).
	var installTriggerSchedulers func(cs *runtime.CompositionState)
	installTriggerSchedulers = func(cs *runtime.CompositionState) {
		for _, tm := range g.triggers {
			portCtx := tm.nodeModel.GetContext(cs).PortContexts[tm.portPlan.contextIndex]
			portCtx.TriggerFunction = tm.MakeScheduler(cs)
		}
		for _, nm := range g.orderedNodes {
			if !nm.subcomposition {
				continue
			}
			childCS := nm.childCompositionState(cs)
			nm.childModule.installTriggerSchedulers(childCS)
		}
	}
	m.installTriggerSchedulers = installTriggerSchedulers

	m.Setup = func(cs *runtime.CompositionState) {
		m.CompositionAddNodeMetadata(cs)
		cs.Runtime.InitContextForTopLevelComposition(cs, m.Stateful, len(g.comp.PublishedOutputs))
		m.CompositionPerformDataOnlyTransmissions(cs)
		installTriggerSchedulers(cs)
	}
	m.Cleanup = func(cs *runtime.CompositionState) {
		cs.Runtime.FiniContextForTopLevelComposition(cs)
	}

	// init and fini track which nodes hold live instance data per
	// composition instance, so a live-edit cycle inits exactly the nodes
	// that were added and finis exactly the nodes being removed.
	var initMu sync.Mutex
	initialized := make(map[string]map[uint64]bool)
	markInitialized := func(cs *runtime.CompositionState, idx uint64, on bool) {
		initMu.Lock()
		set := initialized[cs.CompositionIdentifier]
		if set == nil {
			set = make(map[uint64]bool)
			initialized[cs.CompositionIdentifier] = set
		}
		if on {
			set[idx] = true
		} else {
			delete(set, idx)
		}
		initMu.Unlock()
	}
	isInitialized := func(cs *runtime.CompositionState, idx uint64) bool {
		initMu.Lock()
		defer initMu.Unlock()
		return initialized[cs.CompositionIdentifier][idx]
	}

	m.InstanceInit = func(cs *runtime.CompositionState) {
		if !m.Stateful {
			return
		}
		for _, nm := range g.orderedNodes {
			if !nm.node.Class.Stateful && nm.initPlan == nil {
				continue
			}
			if isInitialized(cs, nm.Index) {
				continue
			}
			if cs.Runtime.IsNodeBeingAddedOrReplaced(cs, nm.identifier) {
				continue
			}
			nm.Call(EntryInit, cs)
			markInitialized(cs, nm.Index, true)
		}
	}
	m.InstanceFini = func(cs *runtime.CompositionState) {
		if !m.Stateful {
			return
		}
		for _, nm := range g.orderedNodes {
			if !nm.node.Class.Stateful && nm.finiPlan == nil {
				continue
			}
			if !isInitialized(cs, nm.Index) {
				continue
			}
			if cs.Runtime.IsNodeBeingRemovedOrReplaced(cs, nm.identifier) {
				continue
			}
			nm.Call(EntryFini, cs)
			markInitialized(cs, nm.Index, false)
		}
	}

	withAllNodesLocked := func(cs *runtime.CompositionState, body func()) {
		eventID := cs.Runtime.NextEventID()
		g.waitForNodeModels(cs, g.orderedNodes, eventID, true)
		body()
		g.signalNodeModels(cs, g.orderedNodes)
	}

	m.InstanceTriggerStart = func(cs *runtime.CompositionState) {
		withAllNodesLocked(cs, func() {
			for _, nm := range g.orderedNodes {
				if nm.startPlan != nil {
					nm.Call(EntryCallbackStart, cs)
				}
			}
		})
	}
	m.InstanceTriggerStop = func(cs *runtime.CompositionState) {
		withAllNodesLocked(cs, func() {
			for _, nm := range g.orderedNodes {
				if nm.stopPlan != nil {
					nm.Call(EntryCallbackStop, cs)
				}
			}
		})
		if g.isTopLevel {
			// Drain in-flight trigger schedules, then claim and release
			// every node once so no event remains mid-graph.
			cs.Runtime.TriggerWorkersScheduled().Wait()
			eventID := cs.Runtime.NextEventID()
			g.waitForNodeModels(cs, g.orderedNodes, eventID, true)
			g.signalNodeModels(cs, g.orderedNodes)
		}
	}
	m.InstanceTriggerUpdate = func(cs *runtime.CompositionState) {
		withAllNodesLocked(cs, func() {
			for _, nm := range g.orderedNodes {
				if nm.updatePlan != nil {
					nm.Call(EntryCallbackUpdate, cs)
				}
			}
		})
	}

	g.emitPublishedPortEntryPoints(inputDataPorts, outputDataPorts)

	for symbol, fn := range map[string]any{
		"setup":                     m.Setup,
		"cleanup":                   m.Cleanup,
		"nodeInstanceInit":          m.InstanceInit,
		"nodeInstanceFini":          m.InstanceFini,
		"nodeInstanceTriggerStart":  m.InstanceTriggerStart,
		"nodeInstanceTriggerStop":   m.InstanceTriggerStop,
		"nodeInstanceTriggerUpdate": m.InstanceTriggerUpdate,
		"setInputPortValue":         m.SetInputPortValue,
		"getInputPortValue":         m.GetInputPortValue,
		"getOutputPortValue":        m.GetOutputPortValue,
		"fireTriggerPortEvent":      m.FireTriggerPortEvent,
	} {
		m.RegisterFunction(composition.PrefixSymbolName(symbol, g.moduleKey), fn)
	}
}

// emitPublishedPortEntryPoints generates the published-port surface.
// Value changes and event fires run through the published-input trigger's
// queue so they serialize with each other.
func (g *Generator) emitPublishedPortEntryPoints(inputDataPorts, outputDataPorts map[string]*portLookup) {
	m := g.module

	inNames := append([]string{}, m.publishedInputNames...)
	outNames := append([]string{}, m.publishedOutputNames...)
	var inTypes, inDetails, outTypes, outDetails []string
	for _, pp := range g.comp.PublishedInputs {
		inTypes = append(inTypes, typeNameOf(pp))
		inDetails = append(inDetails, detailsJSON(pp))
	}
	for _, pp := range g.comp.PublishedOutputs {
		outTypes = append(outTypes, typeNameOf(pp))
		outDetails = append(outDetails, detailsJSON(pp))
	}

	m.GetPublishedInputPortCount = func() int { return len(inNames) }
	m.GetPublishedInputPortNames = func() []string { return inNames }
	m.GetPublishedInputPortTypes = func() []string { return inTypes }
	m.GetPublishedInputPortDetails = func() []string { return inDetails }
	m.GetPublishedOutputPortCount = func() int { return len(outNames) }
	m.GetPublishedOutputPortNames = func() []string { return outNames }
	m.GetPublishedOutputPortTypes = func() []string { return outTypes }
	m.GetPublishedOutputPortDetails = func() []string { return outDetails }

	inNode := g.comp.PublishedInputsNode()
	outNode := g.comp.PublishedOutputsNode()
	trigger := g.comp.PublishedInputTriggerPort()

	publishedInPortID := func(name string) string {
		if inNode == nil {
			return ""
		}
		return composition.BuildPortIdentifier(inNode.Identifier(), name)
	}
	publishedOutPortID := func(name string) string {
		if outNode == nil {
			return ""
		}
		return composition.BuildPortIdentifier(outNode.Identifier(), name)
	}

	// The published-inputs node's output data slots are set directly:
	// they're outputs, so the ordinary input-port set path doesn't cover
	// them.
	m.CompositionSetPublishedInputPortValue = func(cs *runtime.CompositionState, name, valueJSON string) {
		if inNode == nil {
			return
		}
		port := inNode.OutputPort(name)
		if port == nil {
			cs.Runtime.Telemetry().Send(runtime.UncaughtError{
				Message: "no published input port named " + name,
			})
			return
		}
		nm := g.nodeModels[inNode]
		pp := nm.portPlanFor(port)
		st := cs.Runtime

		eventID := st.NextEventID()
		g.waitForNodeModels(cs, []*NodeModel{nm}, eventID, true)
		defer g.signalNodeModels(cs, []*NodeModel{nm})

		portCtx := nm.GetContext(cs).PortContexts[pp.contextIndex]
		newValue := pp.adapter.DeserializeAndRetain(st, valueJSON)
		if pp.adapter.AreEqual(portCtx.Data, newValue) {
			pp.adapter.Release(st, newValue)
			return
		}
		old := reflect.New(pp.adapter.GoType()).Elem()
		old.Set(portCtx.Data)
		portCtx.SetDataValue(newValue)
		pp.adapter.Release(st, old)

		// Push the changed value along the published input's cables
		// without an event.
		for _, cable := range g.comp.CablesFrom(port) {
			if !cable.CarriesData() {
				continue
			}
			destModel := g.nodeModels[cable.To.Node]
			destPlan := destModel.portPlanFor(cable.To)
			destPort := destModel.GetContext(cs).PortContexts[destPlan.contextIndex]
			oldDest := reflect.New(destPlan.adapter.GoType()).Elem()
			oldDest.Set(destPort.Data)
			destPlan.adapter.Retain(st, portCtx.Data)
			destPort.Data.Set(portCtx.Data)
			destPlan.adapter.Release(st, oldDest)
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionSetPublishedInputPortValue", g.moduleKey), m.CompositionSetPublishedInputPortValue)

	publishedQueue := func(cs *runtime.CompositionState) *queueHandle {
		if trigger == nil {
			return nil
		}
		nm := g.nodeModels[inNode]
		pp := nm.portPlanFor(trigger)
		return &queueHandle{ctx: nm.GetContext(cs).PortContexts[pp.contextIndex]}
	}

	m.SetPublishedInputPortValue = func(cs *runtime.CompositionState, name, valueJSON string) {
		q := publishedQueue(cs)
		if q == nil {
			m.CompositionSetPublishedInputPortValue(cs, name, valueJSON)
			return
		}
		q.ctx.TriggerQueue.Sync(func() {
			m.CompositionSetPublishedInputPortValue(cs, name, valueJSON)
		})
	}

	// Whether an event fired into the published inputs can reach the
	// published outputs; when it can't, nothing will ever mark the event
	// finished, so the fire path balances it itself.
	outReachable := false
	if trigger != nil && outNode != nil {
		for _, n := range g.graph.NodesDownstream(trigger) {
			if n == outNode {
				outReachable = true
				break
			}
		}
	}

	m.FirePublishedInputPortEvent = func(cs *runtime.CompositionState, names []string) {
		q := publishedQueue(cs)
		if q == nil {
			return
		}
		tm := g.triggerForPort[trigger]
		q.ctx.TriggerQueue.Async(func() {
			st := cs.Runtime

			if g.isTopLevel && st.IsPaused() {
				st.Telemetry().Send(runtime.EventFinished{EventID: st.NextEventID()})
				return
			}

			compCtx := st.CompositionContext(cs)

			// Serialize published fires: the previous event must fully
			// drain before its successor reuses the executing slot.
			compCtx.ExecutingGroup.Wait()

			eventID := st.NextEventID()
			compCtx.StartedExecutingEvent(eventID)

			g.waitForNodeModels(cs, tm.waitSet, eventID, true)

			inCtx := g.nodeModels[inNode].GetContext(cs)
			for _, name := range names {
				port := inNode.OutputPort(name)
				if port == nil || port.IsTrigger() {
					continue
				}
				pp := g.nodeModels[inNode].portPlanFor(port)
				inCtx.PortContexts[pp.contextIndex].Event = true
			}

			if fn, ok := q.ctx.TriggerFunction.(func()); ok && fn != nil {
				fn()
			}

			if !outReachable {
				compCtx.FinishedExecutingEvent(eventID)
			}
		})
	}

	m.GetPublishedInputPortValue = func(cs *runtime.CompositionState, name string, interprocess bool) string {
		kind := runtime.SerializeValue
		if interprocess {
			kind = runtime.SerializeInterprocess
		}
		return m.CompositionGetPortValue(cs, publishedInPortID(name), kind, true)
	}
	m.GetPublishedOutputPortValue = func(cs *runtime.CompositionState, name string, interprocess bool) string {
		kind := runtime.SerializeValue
		if interprocess {
			kind = runtime.SerializeInterprocess
		}
		return m.CompositionGetPortValue(cs, publishedOutPortID(name), kind, true)
	}

	for symbol, fn := range map[string]any{
		"setPublishedInputPortValue":    m.SetPublishedInputPortValue,
		"firePublishedInputPortEvent":   m.FirePublishedInputPortEvent,
		"getPublishedInputPortValue":    m.GetPublishedInputPortValue,
		"getPublishedOutputPortValue":   m.GetPublishedOutputPortValue,
		"getPublishedInputPortCount":    m.GetPublishedInputPortCount,
		"getPublishedInputPortNames":    m.GetPublishedInputPortNames,
		"getPublishedInputPortTypes":    m.GetPublishedInputPortTypes,
		"getPublishedInputPortDetails":  m.GetPublishedInputPortDetails,
		"getPublishedOutputPortCount":   m.GetPublishedOutputPortCount,
		"getPublishedOutputPortNames":   m.GetPublishedOutputPortNames,
		"getPublishedOutputPortTypes":   m.GetPublishedOutputPortTypes,
		"getPublishedOutputPortDetails": m.GetPublishedOutputPortDetails,
	} {
		m.RegisterFunction(composition.PrefixSymbolName(symbol, g.moduleKey), fn)
	}
}

// queueHandle pairs a trigger port context with its queue for the
// published entry points.
type queueHandle struct {
	ctx *runtime.PortContext
}

func typeNameOf(pp *composition.PublishedPort) string {
	if pp.Type == nil {
		return "event"
	}
	return pp.Type.Name
}
