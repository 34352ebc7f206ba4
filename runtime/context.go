package runtime

import (
	"reflect"
	"sync"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime/dispatch"
)

// NoEventID is the claiming-event value of an unclaimed node.
const NoEventID = ^uint64(0)

// PortContext holds one port's transient state while its composition
// runs. Mutation of Data and Event is guarded by the owning node's
// semaphore.
type PortContext struct {
	// Event records whether the current event reached this port.
	Event bool

	// Data is an addressable value of the port type's canonical Go type.
	// Invalid (zero) for event-only ports.
	Data reflect.Value

	// EventBlocking mirrors the port class's blocking behavior, recorded
	// so the runtime can answer queries without the composition model.
	EventBlocking composition.EventBlocking

	// IsTrigger marks trigger ports; only they have the fields below.
	IsTrigger bool

	TriggerQueue     *dispatch.SerialQueue
	TriggerSemaphore *dispatch.Semaphore

	// TriggerFunction is the generated scheduler for this trigger,
	// installed by the composition's setup entry point.
	TriggerFunction any
}

// SetDataValue stores v into the port's data slot.
func (pc *PortContext) SetDataValue(v reflect.Value) {
	pc.Data.Set(v)
}

// DataValue returns the current value in the port's data slot.
func (pc *PortContext) DataValue() reflect.Value {
	return pc.Data
}

// HasData reports whether the port carries data.
func (pc *PortContext) HasData() bool {
	return pc.Data.IsValid()
}

// NodeContext holds one node's transient state: its port contexts,
// instance data, and the semaphore serializing events through it. The
// composition itself also gets one (the composition context), whose
// executing-event list and output-event flags drive subcomposition
// event tracking.
type NodeContext struct {
	PortContexts []*PortContext

	// InstanceData is an addressable slot of the class's instance data
	// type; invalid for stateless nodes.
	InstanceData reflect.Value

	// Semaphore serializes events through the node. Claiming is keyed by
	// event ID so multiple edges of one event treat it as reentrant.
	Semaphore *dispatch.Semaphore

	claimingEventID uint64
	claimMu         sync.Mutex

	// ExecutingGroup tracks events executing in a composition context;
	// the subcomposition nodeEvent wrapper waits on it.
	ExecutingGroup *dispatch.Group

	mu                sync.Mutex
	outputEvents      []bool
	executingEventIDs []uint64
}

// NewNodeContext creates a context with an unclaimed semaphore.
func NewNodeContext() *NodeContext {
	return &NodeContext{
		Semaphore:       dispatch.NewSemaphore(1),
		ExecutingGroup:  dispatch.NewGroup(),
		claimingEventID: NoEventID,
	}
}

// NewCompositionContext creates the composition-level context, with one
// output-event flag per published output.
func NewCompositionContext(publishedOutputCount int) *NodeContext {
	ctx := NewNodeContext()
	ctx.outputEvents = make([]bool, publishedOutputCount)
	return ctx
}

// ClaimingEventID returns the event currently claiming the node.
func (nc *NodeContext) ClaimingEventID() uint64 {
	nc.claimMu.Lock()
	defer nc.claimMu.Unlock()
	return nc.claimingEventID
}

// SetClaimingEventID records the claiming event.
func (nc *NodeContext) SetClaimingEventID(id uint64) {
	nc.claimMu.Lock()
	nc.claimingEventID = id
	nc.claimMu.Unlock()
}

// SetOutputEvent records that the published output at the given index saw
// an event.
func (nc *NodeContext) SetOutputEvent(index int, saw bool) {
	nc.mu.Lock()
	nc.outputEvents[index] = saw
	nc.mu.Unlock()
}

// OutputEvent reads the published-output event flag at the given index.
func (nc *NodeContext) OutputEvent(index int) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.outputEvents[index]
}

// ClearOutputEvents resets all published-output event flags.
func (nc *NodeContext) ClearOutputEvents() {
	nc.mu.Lock()
	for i := range nc.outputEvents {
		nc.outputEvents[i] = false
	}
	nc.mu.Unlock()
}

// StartedExecutingEvent records that an event has begun executing in this
// composition context.
func (nc *NodeContext) StartedExecutingEvent(eventID uint64) {
	nc.mu.Lock()
	nc.executingEventIDs = append(nc.executingEventIDs, eventID)
	nc.mu.Unlock()
	nc.ExecutingGroup.Enter()
}

// SpunOffExecutingEvent records an event descended from one already
// executing, so completion tracking waits for it too.
func (nc *NodeContext) SpunOffExecutingEvent(eventID uint64) {
	nc.mu.Lock()
	tracking := len(nc.executingEventIDs) > 0
	if tracking {
		nc.executingEventIDs = append(nc.executingEventIDs, eventID)
	}
	nc.mu.Unlock()
	if tracking {
		nc.ExecutingGroup.Enter()
	}
}

// FinishedExecutingEvent removes the event from the executing list.
// Returns false when the event wasn't being tracked.
func (nc *NodeContext) FinishedExecutingEvent(eventID uint64) bool {
	nc.mu.Lock()
	found := false
	for i, id := range nc.executingEventIDs {
		if id == eventID {
			nc.executingEventIDs = append(nc.executingEventIDs[:i], nc.executingEventIDs[i+1:]...)
			found = true
			break
		}
	}
	nc.mu.Unlock()
	if found {
		nc.ExecutingGroup.Leave()
	}
	return found
}

// OneExecutingEvent returns an event ID currently executing in this
// composition context. Used by the published-input trigger scheduler to
// propagate the caller's event instead of allocating a new one.
func (nc *NodeContext) OneExecutingEvent() uint64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if len(nc.executingEventIDs) == 0 {
		return NoEventID
	}
	return nc.executingEventIDs[0]
}
