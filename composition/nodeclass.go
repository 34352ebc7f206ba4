package composition

import (
	"fmt"
	"reflect"
	"strings"
)

// Entry point names a node-class module may declare.
const (
	FuncNodeEvent                 = "nodeEvent"
	FuncNodeInstanceEvent         = "nodeInstanceEvent"
	FuncNodeInstanceInit          = "nodeInstanceInit"
	FuncNodeInstanceFini          = "nodeInstanceFini"
	FuncNodeInstanceTriggerStart  = "nodeInstanceTriggerStart"
	FuncNodeInstanceTriggerUpdate = "nodeInstanceTriggerUpdate"
	FuncNodeInstanceTriggerStop   = "nodeInstanceTriggerStop"
)

// Node class name prefixes whose triggers spin off new events in response
// to incoming ones.
var spinOffClassPrefixes = []string{
	"pw.event.spinOff",
	"pw.list.build",
	"pw.list.process",
}

// IsSpinOffClass reports whether triggers on the named node class fire
// events descended from the event currently executing the node.
func IsSpinOffClass(className string) bool {
	for _, prefix := range spinOffClassPrefixes {
		if strings.HasPrefix(className, prefix) {
			return true
		}
	}
	return false
}

// ParamDescriptor describes one parameter of a node-class function,
// including the annotations attached to it at class-build time.
type ParamDescriptor struct {
	Name        string
	Annotations []string

	// UnloweredStructPointer records that in this particular function the
	// parameter receives a pointer to the canonical struct where the
	// type's usual lowering would pass it another way. Captured per
	// function at class load; argument marshalling consults it.
	UnloweredStructPointer bool
}

// FunctionDescriptor describes one entry point of a node-class module.
type FunctionDescriptor struct {
	Name   string
	Impl   any // the Go function
	Params []*ParamDescriptor

	// parsed lazily by ParseParamRoles
	roles []*ParamInfo
}

// Type returns the function's reflected type.
func (f *FunctionDescriptor) Type() reflect.Type {
	return reflect.TypeOf(f.Impl)
}

// Value returns the function's reflected value for calling.
func (f *FunctionDescriptor) Value() reflect.Value {
	return reflect.ValueOf(f.Impl)
}

// ModuleDescriptor is the loaded form of a compiled node-class module:
// its entry points with parameter annotations, plus named global
// constants.
type ModuleDescriptor struct {
	Key       string
	Globals   map[string]any
	Functions map[string]*FunctionDescriptor
}

// Function returns the named entry point or nil.
func (m *ModuleDescriptor) Function(name string) *FunctionDescriptor {
	if m == nil {
		return nil
	}
	return m.Functions[name]
}

// GlobalString returns the named string global, or "".
func (m *ModuleDescriptor) GlobalString(name string) string {
	if m == nil {
		return ""
	}
	s, _ := m.Globals[name].(string)
	return s
}

// GlobalUint returns the named unsigned-integer global, or 0.
func (m *ModuleDescriptor) GlobalUint(name string) uint64 {
	if m == nil {
		return 0
	}
	switch v := m.Globals[name].(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// TriggerDescription declares a trigger port buried inside a
// subcomposition node class, indexed so a parent composition's setup can
// install scheduler function pointers into the nested port contexts.
type TriggerDescription struct {
	NodeIndex        uint64
	NodeIdentifier   string
	NodeClassName    string
	PortName         string
	PortContextIndex int
	Throttling       Throttling
	DataTypeName     string
	MinWorkerThreads int
	MaxWorkerThreads int
	ChainCount       int

	// For triggers nested more than one level down.
	SubcompositionNodeClassName  string
	SubcompositionNodeIdentifier string
}

// NodeClass describes a kind of node: its ports, statefulness, and the
// module carrying its entry points.
type NodeClass struct {
	Name        string
	Title       string
	Description string
	Version     string
	Keywords    []string

	InputPortClasses  []*PortClass // excluding the implicit refresh port
	OutputPortClasses []*PortClass

	Module *ModuleDescriptor

	Stateful       bool
	Subcomposition bool

	// InstanceDataType is the Go type of the node's instance data slot,
	// nil for stateless classes.
	InstanceDataType reflect.Type

	// TriggerDescriptions lists this class's own triggers and, for
	// subcomposition classes, the triggers of nested nodes.
	TriggerDescriptions []*TriggerDescription

	// Dependencies names the modules this class needs linked in.
	Dependencies []string

	// CompiledComposition holds the compiled module of a subcomposition
	// class, opaque to this package.
	CompiledComposition any
}

// EventFunction returns the class's event entry point (nodeEvent or
// nodeInstanceEvent), or nil.
func (c *NodeClass) EventFunction() *FunctionDescriptor {
	if c.Stateful {
		return c.Module.Function(FuncNodeInstanceEvent)
	}
	return c.Module.Function(FuncNodeEvent)
}

// InitFunction returns nodeInstanceInit, or nil.
func (c *NodeClass) InitFunction() *FunctionDescriptor {
	return c.Module.Function(FuncNodeInstanceInit)
}

// FiniFunction returns nodeInstanceFini, or nil.
func (c *NodeClass) FiniFunction() *FunctionDescriptor {
	return c.Module.Function(FuncNodeInstanceFini)
}

// CallbackStartFunction returns nodeInstanceTriggerStart, or nil.
func (c *NodeClass) CallbackStartFunction() *FunctionDescriptor {
	return c.Module.Function(FuncNodeInstanceTriggerStart)
}

// CallbackUpdateFunction returns nodeInstanceTriggerUpdate, or nil.
func (c *NodeClass) CallbackUpdateFunction() *FunctionDescriptor {
	return c.Module.Function(FuncNodeInstanceTriggerUpdate)
}

// CallbackStopFunction returns nodeInstanceTriggerStop, or nil.
func (c *NodeClass) CallbackStopFunction() *FunctionDescriptor {
	return c.Module.Function(FuncNodeInstanceTriggerStop)
}

// InputPortClass returns the named input port class, or nil.
func (c *NodeClass) InputPortClass(name string) *PortClass {
	for _, pc := range c.InputPortClasses {
		if pc.Name == name {
			return pc
		}
	}
	return nil
}

// OutputPortClass returns the named output port class, or nil.
func (c *NodeClass) OutputPortClass(name string) *PortClass {
	for _, pc := range c.OutputPortClasses {
		if pc.Name == name {
			return pc
		}
	}
	return nil
}

// Validate checks the class's entry points against its declared ports,
// parsing every function's annotations.
func (c *NodeClass) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("node class has no name")
	}
	if c.Module == nil {
		return fmt.Errorf("node class %s has no module", c.Name)
	}
	if c.EventFunction() == nil {
		return fmt.Errorf("node class %s is missing its event function", c.Name)
	}
	for _, fn := range c.Module.Functions {
		if _, err := ParseParamRoles(fn); err != nil {
			return fmt.Errorf("node class %s: %w", c.Name, err)
		}
	}
	return nil
}
