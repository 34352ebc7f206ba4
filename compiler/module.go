package compiler

import (
	"encoding/json"

	"github.com/patchwork-dev/patchwork/runtime"
)

// Module is the compiled form of one composition: every generated entry
// point, the interned constants, and the metadata blob. All entry points
// take the CompositionState identifying the instantiation they act on.
type Module struct {
	// Key prefixes every generated symbol.
	Key string

	Name     string
	TopLevel bool
	Stateful bool

	// Details is the moduleDetails metadata blob.
	Details json.RawMessage

	// TopLevelCompositionIdentifier is set on top-level modules only.
	TopLevelCompositionIdentifier string

	// Interned constants, for inspection.
	StringConstants []*StringConstant
	ArrayConstants  []*IndexArrayConstant

	// Lifecycle entry points.
	Setup                 func(*runtime.CompositionState)
	Cleanup               func(*runtime.CompositionState)
	InstanceInit          func(*runtime.CompositionState)
	InstanceFini          func(*runtime.CompositionState)
	InstanceTriggerStart  func(*runtime.CompositionState)
	InstanceTriggerStop   func(*runtime.CompositionState)
	InstanceTriggerUpdate func(*runtime.CompositionState)

	// Control entry points.
	SetInputPortValue    func(cs *runtime.CompositionState, portID, valueJSON string)
	GetInputPortValue    func(cs *runtime.CompositionState, portID string, interprocess bool) string
	GetOutputPortValue   func(cs *runtime.CompositionState, portID string, interprocess bool) string
	FireTriggerPortEvent func(cs *runtime.CompositionState, portID string)

	// Published-port entry points.
	SetPublishedInputPortValue  func(cs *runtime.CompositionState, name, valueJSON string)
	FirePublishedInputPortEvent func(cs *runtime.CompositionState, names []string)
	GetPublishedInputPortValue  func(cs *runtime.CompositionState, name string, interprocess bool) string
	GetPublishedOutputPortValue func(cs *runtime.CompositionState, name string, interprocess bool) string

	GetPublishedInputPortCount    func() int
	GetPublishedInputPortNames    func() []string
	GetPublishedInputPortTypes    func() []string
	GetPublishedInputPortDetails  func() []string
	GetPublishedOutputPortCount   func() int
	GetPublishedOutputPortNames   func() []string
	GetPublishedOutputPortTypes   func() []string
	GetPublishedOutputPortDetails func() []string

	// Composition-internal surface, prefixed with the module key in the
	// function registry. Parent compositions and the entry points above
	// call through these.
	CompositionAddNodeMetadata              func(*runtime.CompositionState)
	CompositionCreateContextForNode         func(cs *runtime.CompositionState, nodeIndex uint64) *runtime.NodeContext
	CompositionPerformDataOnlyTransmissions func(*runtime.CompositionState)
	CompositionReleasePortData              func(*runtime.CompositionState)
	CompositionGetPortValue                 func(cs *runtime.CompositionState, portID string, kind runtime.SerializationKind, threadSafe bool) string
	CompositionSetPortValue                 func(cs *runtime.CompositionState, portID, valueJSON string, threadSafe, updateCallbacks, sendTelemetry, transmit bool)
	CompositionFireTriggerPortEvent         func(cs *runtime.CompositionState, portID string)
	CompositionSetPublishedInputPortValue   func(cs *runtime.CompositionState, name, valueJSON string)
	CompositionWaitForNode                  func(cs *runtime.CompositionState, nodeIndex uint64, eventID uint64, shouldBlock bool) bool

	// TriggerScheduler returns the generated scheduler for a trigger
	// port, bound to a composition instance. Setup installs these into
	// port contexts; a parent composition installs them into nested
	// contexts using its subcomposition trigger descriptions.
	TriggerScheduler func(cs *runtime.CompositionState, portIdentifier string) any

	// Functions is the by-name registry of every generated entry point,
	// keyed with the module-key prefix, for callers that resolve symbols
	// by name.
	Functions map[string]any

	// Compile-time facts other generated modules need when this module
	// backs a subcomposition node class.
	nodeCount            int
	publishedInputNames  []string
	publishedOutputNames []string

	// installTriggerSchedulers installs this module's scheduler function
	// pointers into port contexts, recursing into subcomposition nodes.
	// The top-level setup and parent modules call it.
	installTriggerSchedulers func(*runtime.CompositionState)
}

// RegisterFunction records a generated function under its prefixed name.
func (m *Module) RegisterFunction(symbol string, fn any) {
	if m.Functions == nil {
		m.Functions = make(map[string]any)
	}
	m.Functions[symbol] = fn
}

// Function resolves a generated function by prefixed name, or nil.
func (m *Module) Function(symbol string) any {
	return m.Functions[symbol]
}
