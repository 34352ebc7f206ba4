package runtime

import "sort"

// LockNode claims one node's semaphore on behalf of an event. The claim
// is reentrant per event ID: if the event already holds the node, the
// call returns immediately.
func (s *State) LockNode(cs *CompositionState, nodeIndex uint64, eventID uint64) {
	ctx := s.NodeContext(cs, nodeIndex)
	for ctx.ClaimingEventID() != eventID {
		ctx.Semaphore.Wait()
		ctx.SetClaimingEventID(eventID)
	}
}

// LockNodes claims several nodes in ascending index order, which is the
// global node order. Every multi-node acquisition must go through here or
// follow the same order; violating it is the only way the runtime can
// deadlock.
func (s *State) LockNodes(cs *CompositionState, nodeIndices []uint64, eventID uint64) {
	sorted := make([]uint64, len(nodeIndices))
	copy(sorted, nodeIndices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, idx := range sorted {
		s.LockNode(cs, idx, eventID)
	}
}

// UnlockNode releases one node's semaphore.
func (s *State) UnlockNode(cs *CompositionState, nodeIndex uint64) {
	ctx := s.NodeContext(cs, nodeIndex)
	ctx.SetClaimingEventID(NoEventID)
	ctx.Semaphore.Signal()
}

// UnlockNodes releases several nodes.
func (s *State) UnlockNodes(cs *CompositionState, nodeIndices []uint64) {
	for _, idx := range nodeIndices {
		s.UnlockNode(cs, idx)
	}
}
