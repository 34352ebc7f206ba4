package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime/dispatch"
)

// NodeMetadata is what a composition's setup registers for each node:
// identifiers plus the generated accessors the runtime and runner call
// back into.
type NodeMetadata struct {
	NodeIdentifier string

	CreateContext   func(*CompositionState) *NodeContext
	SetPortValue    func(*CompositionState, string, string)
	GetPortValue    func(*CompositionState, string, SerializationKind, bool) string
	FireTrigger     func(*CompositionState, string)
	ReleasePortData func(*CompositionState)

	Ports []*PortMetadata
}

// PortMetadata describes one port for the control surface.
type PortMetadata struct {
	PortIdentifier string
	PortName       string
	TypeIndex      int
	InitialValue   string
}

// SerializationKind selects how a port value is rendered.
type SerializationKind int

const (
	SerializeSummary SerializationKind = iota
	SerializeValue
	SerializeInterprocess
)

// State is the process-wide runtime backing one hosted top-level
// composition and all of its subcomposition instances.
type State struct {
	log *logger.Logger

	paused      atomic.Bool
	lastEventID atomic.Uint64

	mu                  sync.RWMutex
	nodeContexts        map[string]map[uint64]*NodeContext
	compositionContexts map[string]*NodeContext
	nodeMetadata        map[string][]*NodeMetadata

	workersScheduled *dispatch.Group
	threads          *ThreadManager
	telemetry        *TelemetryDispatcher
	ledger           *RefLedger

	liveEditMu        sync.RWMutex
	nodesBeingAdded   map[string]bool
	nodesBeingRemoved map[string]bool
}

// NewState creates an empty runtime state.
func NewState(log *logger.Logger) *State {
	if log == nil {
		log = logger.Discard()
	}
	s := &State{
		log:                 log,
		nodeContexts:        make(map[string]map[uint64]*NodeContext),
		compositionContexts: make(map[string]*NodeContext),
		nodeMetadata:        make(map[string][]*NodeMetadata),
		workersScheduled:    dispatch.NewGroup(),
		telemetry:           NewTelemetryDispatcher(),
		ledger:              NewRefLedger(),
		nodesBeingAdded:     make(map[string]bool),
		nodesBeingRemoved:   make(map[string]bool),
	}
	s.threads = NewThreadManager(s)
	return s
}

// CompositionState identifies one composition instantiation (the top
// level or a subcomposition node) within a runtime state. It is passed to
// every generated entry point.
type CompositionState struct {
	Runtime               *State
	CompositionIdentifier string
}

// NewCompositionState pairs a runtime with a composition identifier.
func NewCompositionState(s *State, compositionIdentifier string) *CompositionState {
	return &CompositionState{Runtime: s, CompositionIdentifier: compositionIdentifier}
}

// Logger returns the state's logger.
func (s *State) Logger() *logger.Logger { return s.log }

// IsPaused reports whether event scheduling is paused.
func (s *State) IsPaused() bool { return s.paused.Load() }

// Pause stops newly scheduled trigger events from executing. In-flight
// events are not aborted. Idempotent.
func (s *State) Pause() { s.paused.Store(true) }

// Unpause resumes event execution. Idempotent.
func (s *State) Unpause() { s.paused.Store(false) }

// NextEventID allocates a fresh event ID.
func (s *State) NextEventID() uint64 {
	return s.lastEventID.Add(1)
}

// TriggerWorkersScheduled returns the group entered at trigger scheduling
// and left at worker exit, drained by triggerStop.
func (s *State) TriggerWorkersScheduled() *dispatch.Group {
	return s.workersScheduled
}

// Threads returns the thread manager.
func (s *State) Threads() *ThreadManager { return s.threads }

// Telemetry returns the telemetry dispatcher.
func (s *State) Telemetry() *TelemetryDispatcher { return s.telemetry }

// Ledger returns the retain/release ledger.
func (s *State) Ledger() *RefLedger { return s.ledger }

// AddNodeMetadata registers a node's metadata for the given composition
// instance. Registration order defines the node's index in the ordered
// nodes, matching the compiler's global ordering.
func (s *State) AddNodeMetadata(cs *CompositionState, md *NodeMetadata) {
	s.mu.Lock()
	s.nodeMetadata[cs.CompositionIdentifier] = append(s.nodeMetadata[cs.CompositionIdentifier], md)
	s.mu.Unlock()
}

// AddPortMetadata attaches port metadata to the most recently registered
// node of the composition instance.
func (s *State) AddPortMetadata(cs *CompositionState, pm *PortMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.nodeMetadata[cs.CompositionIdentifier]
	if len(list) == 0 {
		panic("runtime: AddPortMetadata called before AddNodeMetadata")
	}
	md := list[len(list)-1]
	md.Ports = append(md.Ports, pm)
}

// NodeMetadataList returns the registered node metadata for a composition
// instance, in node-index order.
func (s *State) NodeMetadataList(cs *CompositionState) []*NodeMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeMetadata[cs.CompositionIdentifier]
}

// InitContextForTopLevelComposition creates node contexts for every
// registered node of the composition instance, plus the composition
// context itself.
func (s *State) InitContextForTopLevelComposition(cs *CompositionState, stateful bool, publishedOutputCount int) {
	s.mu.Lock()
	metadata := s.nodeMetadata[cs.CompositionIdentifier]
	s.mu.Unlock()

	for i, md := range metadata {
		if md.CreateContext == nil {
			continue
		}
		ctx := md.CreateContext(cs)
		s.SetNodeContext(cs, uint64(i), ctx)
	}

	s.mu.Lock()
	s.compositionContexts[cs.CompositionIdentifier] = NewCompositionContext(publishedOutputCount)
	s.mu.Unlock()
}

// FiniContextForTopLevelComposition releases port data everywhere and
// drops the contexts.
func (s *State) FiniContextForTopLevelComposition(cs *CompositionState) {
	s.mu.RLock()
	metadata := s.nodeMetadata[cs.CompositionIdentifier]
	s.mu.RUnlock()

	for _, md := range metadata {
		if md.ReleasePortData != nil {
			md.ReleasePortData(cs)
		}
	}

	s.mu.Lock()
	delete(s.nodeContexts, cs.CompositionIdentifier)
	delete(s.compositionContexts, cs.CompositionIdentifier)
	delete(s.nodeMetadata, cs.CompositionIdentifier)
	s.mu.Unlock()
}

// SetNodeContext stores a node context by index.
func (s *State) SetNodeContext(cs *CompositionState, index uint64, ctx *NodeContext) {
	s.mu.Lock()
	byIndex, ok := s.nodeContexts[cs.CompositionIdentifier]
	if !ok {
		byIndex = make(map[uint64]*NodeContext)
		s.nodeContexts[cs.CompositionIdentifier] = byIndex
	}
	byIndex[index] = ctx
	s.mu.Unlock()
}

// NodeContext returns the node context at the given index in the
// composition instance's ordered nodes.
func (s *State) NodeContext(cs *CompositionState, index uint64) *NodeContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx := s.nodeContexts[cs.CompositionIdentifier][index]
	if ctx == nil {
		panic(fmt.Sprintf("runtime: no node context %d in composition %q", index, cs.CompositionIdentifier))
	}
	return ctx
}

// CompositionContext returns the composition-level context of the
// instance.
func (s *State) CompositionContext(cs *CompositionState) *NodeContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx := s.compositionContexts[cs.CompositionIdentifier]
	if ctx == nil {
		panic(fmt.Sprintf("runtime: no composition context for %q", cs.CompositionIdentifier))
	}
	return ctx
}

// SetCompositionContext stores the composition-level context of the
// instance. Used when a parent composition creates its subcomposition
// node's context.
func (s *State) SetCompositionContext(cs *CompositionState, ctx *NodeContext) {
	s.mu.Lock()
	s.compositionContexts[cs.CompositionIdentifier] = ctx
	s.mu.Unlock()
}

// Live-edit gates. Node identifiers here are full composition-qualified
// identifiers, e.g. "Top/Count".

// SetNodeBeingAddedOrReplaced marks or unmarks a node as being added.
func (s *State) SetNodeBeingAddedOrReplaced(fullNodeID string, adding bool) {
	s.liveEditMu.Lock()
	if adding {
		s.nodesBeingAdded[fullNodeID] = true
	} else {
		delete(s.nodesBeingAdded, fullNodeID)
	}
	s.liveEditMu.Unlock()
}

// SetNodeBeingRemovedOrReplaced marks or unmarks a node as being removed.
func (s *State) SetNodeBeingRemovedOrReplaced(fullNodeID string, removing bool) {
	s.liveEditMu.Lock()
	if removing {
		s.nodesBeingRemoved[fullNodeID] = true
	} else {
		delete(s.nodesBeingRemoved, fullNodeID)
	}
	s.liveEditMu.Unlock()
}

// IsNodeBeingAddedOrReplaced answers the init-time live-edit gate.
func (s *State) IsNodeBeingAddedOrReplaced(cs *CompositionState, nodeIdentifier string) bool {
	s.liveEditMu.RLock()
	defer s.liveEditMu.RUnlock()
	return s.nodesBeingAdded[composition.BuildCompositionIdentifier(cs.CompositionIdentifier, nodeIdentifier)]
}

// IsNodeBeingRemovedOrReplaced answers the fini-time live-edit gate.
func (s *State) IsNodeBeingRemovedOrReplaced(cs *CompositionState, nodeIdentifier string) bool {
	s.liveEditMu.RLock()
	defer s.liveEditMu.RUnlock()
	return s.nodesBeingRemoved[composition.BuildCompositionIdentifier(cs.CompositionIdentifier, nodeIdentifier)]
}
