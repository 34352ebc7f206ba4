package runtime

import (
	"sync"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime/dispatch"
)

// WorkerFunc is the signature of generated trigger and chain workers.
type WorkerFunc func(context any)

type eventKey struct {
	compositionID string
	eventID       uint64
}

type pendingChain struct {
	worker   WorkerFunc
	context  any
	upstream []int
	index    int
}

type eventThreads struct {
	chainCount int
	completed  map[int]bool
	pending    []*pendingChain
	granted    map[int]int // chainIndex -> granted thread count
}

// ThreadManager schedules trigger and chain workers. A chain worker whose
// upstream chains have not yet returned their threads is held until they
// do; other chain workers run on their own goroutine immediately, and
// trigger workers run on their trigger's serial queue.
type ThreadManager struct {
	state *State

	mu     sync.Mutex
	events map[eventKey]*eventThreads
}

// NewThreadManager creates a thread manager bound to a runtime state.
func NewThreadManager(state *State) *ThreadManager {
	return &ThreadManager{
		state:  state,
		events: make(map[eventKey]*eventThreads),
	}
}

// ScheduleTriggerWorker registers the event's chain roster and runs the
// trigger worker on the trigger's serial queue.
func (tm *ThreadManager) ScheduleTriggerWorker(cs *CompositionState, queue *dispatch.SerialQueue,
	context any, worker WorkerFunc, minThreads, maxThreads int, eventID uint64, chainCount int) {

	key := eventKey{cs.CompositionIdentifier, eventID}
	tm.mu.Lock()
	tm.events[key] = &eventThreads{
		chainCount: chainCount,
		completed:  make(map[int]bool),
		granted:    make(map[int]int),
	}
	tm.mu.Unlock()

	queue.Async(func() { worker(context) })
}

// ScheduleChainWorker runs the chain worker once every upstream chain has
// returned its threads.
func (tm *ThreadManager) ScheduleChainWorker(cs *CompositionState, context any, worker WorkerFunc,
	minThreads, maxThreads int, eventID uint64, chainIndex int, upstreamChainIndices []int) {

	key := eventKey{cs.CompositionIdentifier, eventID}

	tm.mu.Lock()
	et := tm.events[key]
	if et == nil {
		// The event's roster is gone (already finished or never
		// registered); run unconditionally.
		tm.mu.Unlock()
		go worker(context)
		return
	}

	ready := true
	for _, u := range upstreamChainIndices {
		if !et.completed[u] {
			ready = false
			break
		}
	}
	if !ready {
		et.pending = append(et.pending, &pendingChain{
			worker:   worker,
			context:  context,
			upstream: upstreamChainIndices,
			index:    chainIndex,
		})
		tm.mu.Unlock()
		return
	}
	tm.mu.Unlock()

	go worker(context)
}

// GrantThreadsToChain transfers the trigger worker's thread budget to the
// chain it runs in-line.
func (tm *ThreadManager) GrantThreadsToChain(cs *CompositionState, minThreads, maxThreads int,
	eventID uint64, chainIndex int) {

	key := eventKey{cs.CompositionIdentifier, eventID}
	tm.mu.Lock()
	if et := tm.events[key]; et != nil {
		et.granted[chainIndex] = maxThreads
	}
	tm.mu.Unlock()
}

// GrantThreadsToSubcomposition reserves part of a chain's budget for a
// subcomposition node's internal event.
func (tm *ThreadManager) GrantThreadsToSubcomposition(cs *CompositionState, eventID uint64,
	chainIndex int, subcompositionIdentifier string) {

	key := eventKey{cs.CompositionIdentifier, eventID}
	tm.mu.Lock()
	if et := tm.events[key]; et != nil && et.granted[chainIndex] > 1 {
		et.granted[chainIndex]--
	}
	tm.mu.Unlock()
}

// ReturnThreadsForTriggerWorker tears down the event's roster without
// running chains. Called on the paused path and by triggers with no
// downstream chains.
func (tm *ThreadManager) ReturnThreadsForTriggerWorker(cs *CompositionState, eventID uint64) {
	key := eventKey{cs.CompositionIdentifier, eventID}
	tm.mu.Lock()
	delete(tm.events, key)
	tm.mu.Unlock()
}

// ReturnThreadsForChainWorker marks the chain complete, releases any
// pending chains it was blocking, and finishes the event after its last
// chain.
func (tm *ThreadManager) ReturnThreadsForChainWorker(cs *CompositionState, eventID uint64, chainIndex int) {
	key := eventKey{cs.CompositionIdentifier, eventID}

	tm.mu.Lock()
	et := tm.events[key]
	if et == nil {
		tm.mu.Unlock()
		return
	}
	et.completed[chainIndex] = true
	delete(et.granted, chainIndex)

	var released []*pendingChain
	var stillPending []*pendingChain
	for _, p := range et.pending {
		ready := true
		for _, u := range p.upstream {
			if !et.completed[u] {
				ready = false
				break
			}
		}
		if ready {
			released = append(released, p)
		} else {
			stillPending = append(stillPending, p)
		}
	}
	et.pending = stillPending

	finished := len(et.completed) >= et.chainCount && len(et.pending) == 0
	if finished {
		delete(tm.events, key)
	}
	tm.mu.Unlock()

	for _, p := range released {
		go p.worker(p.context)
	}

	if finished && cs.CompositionIdentifier == composition.TopLevelCompositionIdentifier {
		tm.state.Telemetry().Send(EventFinished{EventID: eventID})
	}
}
