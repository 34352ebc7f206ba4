package compiler

import "github.com/patchwork-dev/patchwork/runtime"

// chainWorkerContext is the payload shared by all chain workers of one
// event through one trigger.
type chainWorkerContext struct {
	cs      *runtime.CompositionState
	eventID uint64
}

// chainNodeStep is the compiled per-node schedule within a chain: the
// downstream wait set to claim after executing the node and whether to
// signal the node afterwards.
type chainNodeStep struct {
	nodeModel *NodeModel

	// downstreamWaitSet holds the nodes to claim before transmitting out
	// of this node, sorted in global order. Claimed whether or not the
	// event hit the node; released by each downstream node's own chain.
	downstreamWaitSet        []*NodeModel
	downstreamWaitSetIndices *IndexArrayConstant

	// claimDownstream is false only for the re-entered node in the chain
	// that closes its feedback loop: its downstream was already traversed
	// by the forward chains.
	claimDownstream bool

	// signalAfter is false when the node is re-entered later by a
	// feedback loop and this chain doesn't close the loop, and for the
	// published output gather node, whose semaphore the nodeEvent
	// wrapper owns until it has copied the outputs out.
	signalAfter bool

	// finishesExecutingEvent marks the published output node of a
	// subcomposition: reaching it completes the event's pass.
	finishesExecutingEvent bool
}

// chainModel is the compiled form of one chain: its ordered node steps
// and its position in the trigger's chain roster.
type chainModel struct {
	g       *Generator
	trigger *triggerModel
	index   int

	steps      []*chainNodeStep
	lastInLoop bool

	upstreamIndices   []int
	downstreamIndices []int

	// scheduledDownstream lists the downstream chains this chain is the
	// designated scheduler for (the designated scheduler is the upstream
	// chain with the lowest index).
	scheduledDownstream []*chainModel

	worker runtime.WorkerFunc
}

// emitWorker builds the chain's worker function.
func (cm *chainModel) emitWorker() {
	g := cm.g

	cm.worker = func(context any) {
		wc := context.(*chainWorkerContext)
		cs := wc.cs
		st := cs.Runtime

		for _, step := range cm.steps {
			hit := step.nodeModel.Execute(cs, wc.eventID)

			if step.claimDownstream && len(step.downstreamWaitSet) > 0 {
				g.waitForNodeModels(cs, step.downstreamWaitSet, wc.eventID, true)
			}

			step.nodeModel.Transmit(cs, hit)

			if step.finishesExecutingEvent {
				childCtx := st.CompositionContext(cs)
				childCtx.FinishedExecutingEvent(wc.eventID)
			}

			if step.signalAfter {
				g.signalNodeModels(cs, []*NodeModel{step.nodeModel})
			}
		}

		for _, downstream := range cm.scheduledDownstream {
			st.Threads().ScheduleChainWorker(cs, wc, downstream.worker,
				1, 1, wc.eventID, downstream.index, downstream.upstreamIndices)
		}

		st.Threads().ReturnThreadsForChainWorker(cs, wc.eventID, cm.index)
	}
}
