package compiler

import (
	"reflect"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// triggerWorkerContext is the payload handed from a trigger's scheduler
// to its worker.
type triggerWorkerContext struct {
	cs      *runtime.CompositionState
	data    reflect.Value // heap copy of the fired value; invalid for event-only triggers
	eventID uint64
}

// triggerModel is the compiled form of one trigger port: its worker, the
// scheduler factory, chain roster, and wait set.
type triggerModel struct {
	g         *Generator
	port      *composition.Port
	nodeModel *NodeModel
	portPlan  *portPlan

	identifier      *StringConstant
	canDrop         bool
	isPublished     bool
	isSpinOff       bool
	minThreads      int
	maxThreads      int
	chains          []*chainModel
	waitSet         []*NodeModel // sorted in global order
	waitSetIndices  *IndexArrayConstant
	signalOwnNode   bool         // trigger's node isn't otherwise downstream
	dataOnlySources bool

	worker runtime.WorkerFunc
}

func (g *Generator) newTriggerModel(port *composition.Port) (*triggerModel, *Issue) {
	owner := g.nodeModels[port.Node]
	if owner == nil {
		return nil, newIssue(InternalError, "Unsupported composition layout",
			"trigger %s has no node model", port.Identifier())
	}

	tm := &triggerModel{
		g:           g,
		port:        port,
		nodeModel:   owner,
		portPlan:    owner.portPlanFor(port),
		identifier:  g.constants.GetString(port.Identifier()),
		canDrop:     port.Class.Throttling == composition.ThrottleDrop,
		isPublished: port == g.graph.PublishedInputTrigger(),
		isSpinOff:   composition.IsSpinOffClass(port.Node.Class.Name),
	}
	tm.minThreads, tm.maxThreads = g.graph.WorkerThreadsNeeded(port)

	// The trigger node's semaphore is signaled by the worker unless the
	// node is itself downstream of the trigger and will be signaled by a
	// chain.
	tm.signalOwnNode = true
	for _, n := range g.graph.NodesDownstream(port) {
		if n == port.Node {
			tm.signalOwnNode = false
			break
		}
	}

	tm.dataOnlySources = g.graph.MayTransmitDataOnly(port.Node)

	return tm, nil
}

// emitWorker builds the trigger's worker function. Chains must already be
// attached.
func (tm *triggerModel) emitWorker() {
	g := tm.g

	// Chains with no upstream chain are launched by the worker itself;
	// one of them runs in-worker to save a thread handoff.
	var rootChains []*chainModel
	for _, c := range tm.chains {
		if len(c.upstreamIndices) == 0 {
			rootChains = append(rootChains, c)
		}
	}

	tm.worker = func(context any) {
		wc := context.(*triggerWorkerContext)
		cs := wc.cs
		st := cs.Runtime
		ownerCtx := tm.nodeModel.GetContext(cs)
		portCtx := ownerCtx.PortContexts[tm.portPlan.contextIndex]

		pausedApplies := !(tm.isPublished && !g.isTopLevel)
		if pausedApplies && st.IsPaused() {
			if wc.data.IsValid() {
				tm.portPlan.adapter.Release(st, wc.data)
			}
			if tm.isPublished {
				// The fire entry point claimed the wait set and recorded
				// the executing event; unwind both.
				g.signalNodeModels(cs, tm.waitSet)
				st.CompositionContext(cs).FinishedExecutingEvent(wc.eventID)
			}
			if tm.canDrop {
				portCtx.TriggerSemaphore.Signal()
			}
			st.TriggerWorkersScheduled().Leave()
			st.Threads().ReturnThreadsForTriggerWorker(cs, wc.eventID)
			st.Telemetry().Send(runtime.EventFinished{EventID: wc.eventID})
			return
		}

		// Claim the wait set in global order. The published input trigger's
		// wait set was already claimed by the entry point that fired it.
		if !tm.isPublished {
			g.waitForNodeModels(cs, tm.waitSet, wc.eventID, true)
		}

		// Swap the fired data into the trigger's own port context.
		if wc.data.IsValid() {
			old := reflect.New(tm.portPlan.adapter.GoType()).Elem()
			old.Set(portCtx.Data)
			portCtx.SetDataValue(wc.data)
			tm.portPlan.adapter.Release(st, old)
		}
		g.sendTriggerPortUpdated(cs, tm, portCtx)

		if tm.dataOnlySources {
			g.performDataOnlyTransmissionFromNode(cs, tm.nodeModel)
		}

		// Transmit the trigger event along its cables. The published
		// input trigger carries its event through the published input
		// ports that were flagged by the fire entry point.
		if tm.isPublished {
			for _, pp := range tm.nodeModel.ports {
				if pp.port.Class.Direction != composition.Output || pp.port.IsTrigger() {
					continue
				}
				if ownerCtx.PortContexts[pp.contextIndex].Event {
					g.transmitFromOutputPort(cs, tm.nodeModel, pp, true)
				}
			}
			tm.nodeModel.clearEventFlags(cs)
		} else {
			g.transmitFromTriggerPort(cs, tm, portCtx)
		}

		if tm.signalOwnNode {
			g.signalNodeModels(cs, []*NodeModel{tm.nodeModel})
		}
		if tm.canDrop {
			portCtx.TriggerSemaphore.Signal()
		}
		st.TriggerWorkersScheduled().Leave()

		if len(tm.chains) == 0 {
			st.Threads().ReturnThreadsForTriggerWorker(cs, wc.eventID)
			if g.isTopLevel {
				st.Telemetry().Send(runtime.EventFinished{EventID: wc.eventID})
			}
			return
		}

		chainCtx := &chainWorkerContext{cs: cs, eventID: wc.eventID}

		var inWorker *chainModel
		if len(rootChains) > 0 {
			inWorker = rootChains[0]
			for _, c := range rootChains[1:] {
				st.Threads().ScheduleChainWorker(cs, chainCtx, c.worker,
					1, 1, wc.eventID, c.index, c.upstreamIndices)
			}
		}

		if inWorker != nil {
			st.Threads().GrantThreadsToChain(cs, tm.minThreads, tm.maxThreads,
				wc.eventID, inWorker.index)
			inWorker.worker(chainCtx)
		}
	}
}

// MakeScheduler builds the trigger's scheduler function for one
// composition instance: the function node code calls each time the
// trigger fires. Its type is func(T) for data triggers, func() otherwise.
func (tm *triggerModel) MakeScheduler(cs *runtime.CompositionState) any {
	st := cs.Runtime

	fire := func(args []reflect.Value) []reflect.Value {
		ownerCtx := tm.nodeModel.GetContext(cs)
		portCtx := ownerCtx.PortContexts[tm.portPlan.contextIndex]

		if tm.canDrop {
			if !portCtx.TriggerSemaphore.WaitTimeout(0) {
				// Drop the event: balance the value's ownership and tell
				// listeners.
				if tm.portPlan.adapter != nil && len(args) == 1 {
					tm.portPlan.adapter.Retain(st, args[0])
					tm.portPlan.adapter.Release(st, args[0])
				}
				st.Telemetry().Send(runtime.EventDropped{
					CompositionID:  cs.CompositionIdentifier,
					PortIdentifier: tm.identifier.Value,
				})
				return nil
			}
		}

		st.TriggerWorkersScheduled().Enter()

		var eventID uint64
		if tm.isPublished {
			eventID = st.CompositionContext(cs).OneExecutingEvent()
		} else {
			eventID = st.NextEventID()
			if tm.isSpinOff {
				st.CompositionContext(cs).SpunOffExecutingEvent(eventID)
			}
		}

		wc := &triggerWorkerContext{cs: cs, eventID: eventID}
		if tm.portPlan.adapter != nil && len(args) == 1 {
			dataCopy := reflect.New(tm.portPlan.adapter.GoType()).Elem()
			dataCopy.Set(args[0])
			tm.portPlan.adapter.Retain(st, dataCopy)
			wc.data = dataCopy
		}

		st.Threads().ScheduleTriggerWorker(cs, portCtx.TriggerQueue, wc, tm.worker,
			tm.minThreads, tm.maxThreads, eventID, len(tm.chains))
		return nil
	}

	return reflect.MakeFunc(schedulerFuncType(tm.portPlan), fire).Interface()
}
