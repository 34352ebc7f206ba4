package compiler

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// CompileToNodeClass compiles the composition for use as a node inside
// another composition. The returned class carries the generated
// nodeEvent/nodeInstanceEvent wrapper, lifecycle wrappers, and trigger
// descriptions; its CompiledComposition is the child module.
func CompileToNodeClass(comp *composition.Composition, className string, opts Options) (*composition.NodeClass, error) {
	comp.Subcomposition = true
	if className == "" {
		className = "pw.subcomposition." + composition.TranscodeToIdentifier(comp.Name)
	}
	if opts.ModuleKey == "" {
		opts.ModuleKey = composition.TranscodeToIdentifier(className)
	}
	opts.TopLevel = false

	g, err := NewGenerator(comp, opts)
	if err != nil {
		return nil, err
	}
	mod, err := g.Generate()
	if err != nil {
		return nil, err
	}
	return g.makeNodeClass(className, mod)
}

func (g *Generator) makeNodeClass(className string, mod *Module) (*composition.NodeClass, error) {
	comp := g.comp

	class := &composition.NodeClass{
		Name:                className,
		Title:               comp.Name,
		Description:         comp.Description,
		Version:             comp.Version,
		Keywords:            comp.Keywords,
		Stateful:            mod.Stateful,
		Subcomposition:      true,
		CompiledComposition: mod,
		Dependencies:        []string{className},
	}

	for _, pp := range comp.PublishedInputs {
		if pp.Type == nil {
			return nil, fmt.Errorf("published input %s has no data type; event-only published inputs are not supported on node classes", pp.Name)
		}
		class.InputPortClasses = append(class.InputPortClasses, &composition.PortClass{
			Name:         pp.Name,
			Direction:    composition.Input,
			Kind:         composition.DataAndEvent,
			Type:         pp.Type,
			InitialValue: pp.InitialValue,
			Details:      pp.Details,
		})
	}
	for _, pp := range comp.PublishedOutputs {
		if pp.Type == nil {
			return nil, fmt.Errorf("published output %s has no data type; event-only published outputs are not supported on node classes", pp.Name)
		}
		class.OutputPortClasses = append(class.OutputPortClasses, &composition.PortClass{
			Name:      pp.Name,
			Direction: composition.Output,
			Kind:      composition.DataAndEvent,
			Type:      pp.Type,
			Details:   pp.Details,
		})
	}

	eventFn, err := g.makeNodeEventFunction(mod)
	if err != nil {
		return nil, err
	}

	eventName := composition.FuncNodeEvent
	if mod.Stateful {
		eventName = composition.FuncNodeInstanceEvent
	}
	eventFn.Name = eventName

	class.Module = &composition.ModuleDescriptor{
		Key: g.moduleKey,
		Globals: map[string]any{
			"moduleDetails": string(mod.Details),
		},
		Functions: map[string]*composition.FunctionDescriptor{
			eventName: eventFn,
		},
	}

	if mod.Stateful {
		class.Module.Functions[composition.FuncNodeInstanceInit] = lifecycleWrapper(
			composition.FuncNodeInstanceInit, mod.InstanceInit)
		class.Module.Functions[composition.FuncNodeInstanceFini] = lifecycleWrapper(
			composition.FuncNodeInstanceFini, mod.InstanceFini)
		class.Module.Functions[composition.FuncNodeInstanceTriggerStart] = lifecycleWrapper(
			composition.FuncNodeInstanceTriggerStart, mod.InstanceTriggerStart)
		class.Module.Functions[composition.FuncNodeInstanceTriggerStop] = lifecycleWrapper(
			composition.FuncNodeInstanceTriggerStop, mod.InstanceTriggerStop)
		class.Module.Functions[composition.FuncNodeInstanceTriggerUpdate] = lifecycleWrapper(
			composition.FuncNodeInstanceTriggerUpdate, mod.InstanceTriggerUpdate)
	}

	// Trigger descriptions: this composition's own triggers plus, one
	// level deeper, those declared by its subcomposition nodes.
	for _, tm := range g.triggers {
		td := &composition.TriggerDescription{
			NodeIndex:        tm.nodeModel.Index,
			NodeIdentifier:   tm.nodeModel.identifier,
			NodeClassName:    tm.port.Node.Class.Name,
			PortName:         tm.port.Name(),
			PortContextIndex: tm.portPlan.contextIndex,
			Throttling:       tm.port.Class.Throttling,
			MinWorkerThreads: tm.minThreads,
			MaxWorkerThreads: tm.maxThreads,
			ChainCount:       len(tm.chains),
		}
		if tm.portPlan.adapter != nil {
			td.DataTypeName = tm.portPlan.adapter.Name()
		}
		class.TriggerDescriptions = append(class.TriggerDescriptions, td)
	}
	for _, nm := range g.orderedNodes {
		for _, nested := range nm.node.Class.TriggerDescriptions {
			copied := *nested
			copied.SubcompositionNodeClassName = nm.node.Class.Name
			copied.SubcompositionNodeIdentifier = nm.identifier
			class.TriggerDescriptions = append(class.TriggerDescriptions, &copied)
		}
	}

	return class, nil
}

// lifecycleWrapper wraps a module lifecycle entry point as a node-class
// function taking the child composition state.
func lifecycleWrapper(name string, fn func(*runtime.CompositionState)) *composition.FunctionDescriptor {
	return &composition.FunctionDescriptor{
		Name: name,
		Impl: fn,
		Params: []*composition.ParamDescriptor{
			{Name: "compositionState", Annotations: []string{"vuoCompositionState"}},
		},
	}
}

// makeNodeEventFunction builds the generated event wrapper a parent
// composition calls when an event hits the subcomposition node: it claims
// the child's wait set, fires the published-input trigger with the
// caller's event, waits for the event to reach the published outputs, and
// copies them out.
func (g *Generator) makeNodeEventFunction(mod *Module) (*composition.FunctionDescriptor, error) {
	comp := g.comp
	inNode := comp.PublishedInputsNode()
	outNode := comp.PublishedOutputsNode()
	trigger := comp.PublishedInputTriggerPort()
	if inNode == nil || trigger == nil {
		return nil, fmt.Errorf("subcomposition %s has no published input trigger", comp.Name)
	}
	tm := g.triggerForPort[trigger]
	inModel := g.nodeModels[inNode]
	outModel := g.nodeModels[outNode]

	// Whether events fired into the composition can reach the published
	// outputs at all.
	outReachable := false
	for _, n := range g.graph.NodesDownstream(trigger) {
		if n == outNode {
			outReachable = true
			break
		}
	}

	csType := reflect.TypeOf((*runtime.CompositionState)(nil))
	boolType := reflect.TypeOf(false)

	var paramTypes []reflect.Type
	var params []*composition.ParamDescriptor

	paramTypes = append(paramTypes, csType)
	params = append(params, &composition.ParamDescriptor{
		Name:        "compositionState",
		Annotations: []string{"vuoCompositionState"},
	})

	type inputSlot struct {
		plan       *portPlan
		valueIndex int
		eventIndex int
	}
	var inputs []inputSlot
	for _, pp := range comp.PublishedInputs {
		port := inNode.OutputPort(pp.Name)
		plan := inModel.portPlanFor(port)

		valueIndex := len(paramTypes)
		paramTypes = append(paramTypes, plan.adapter.GoType())
		detail, _ := json.Marshal(map[string]string{"data": pp.Name})
		params = append(params, &composition.ParamDescriptor{
			Name:        pp.Name,
			Annotations: []string{"vuoInputData", "vuoType:" + plan.adapter.Name()},
		})

		eventIndex := len(paramTypes)
		paramTypes = append(paramTypes, boolType)
		params = append(params, &composition.ParamDescriptor{
			Name:        pp.Name + "Event",
			Annotations: []string{"vuoInputEvent", "vuoDetails:" + string(detail)},
		})

		inputs = append(inputs, inputSlot{plan: plan, valueIndex: valueIndex, eventIndex: eventIndex})
	}

	type outputSlot struct {
		plan       *portPlan
		paramIndex int
	}
	var outputs []outputSlot
	for _, pp := range comp.PublishedOutputs {
		port := outNode.InputPort(pp.Name)
		plan := outModel.portPlanFor(port)
		outputs = append(outputs, outputSlot{plan: plan, paramIndex: len(paramTypes)})
		paramTypes = append(paramTypes, reflect.PointerTo(plan.adapter.GoType()))
		params = append(params, &composition.ParamDescriptor{
			Name:        pp.Name,
			Annotations: []string{"vuoOutputData", "vuoType:" + plan.adapter.Name()},
		})
	}

	fnType := reflect.FuncOf(paramTypes, nil, false)

	body := func(args []reflect.Value) []reflect.Value {
		childCS := args[0].Interface().(*runtime.CompositionState)
		st := childCS.Runtime
		compCtx := st.CompositionContext(childCS)

		eventID := compCtx.OneExecutingEvent()

		g.waitForNodeModels(childCS, tm.waitSet, eventID, true)

		inCtx := inModel.GetContext(childCS)
		anyEvent := false
		for _, in := range inputs {
			portCtx := inCtx.PortContexts[in.plan.contextIndex]

			old := reflect.New(in.plan.adapter.GoType()).Elem()
			old.Set(portCtx.Data)
			in.plan.adapter.Retain(st, args[in.valueIndex])
			portCtx.SetDataValue(args[in.valueIndex])
			in.plan.adapter.Release(st, old)

			if args[in.eventIndex].Bool() {
				portCtx.Event = true
				anyEvent = true
			}
		}
		if !anyEvent {
			// A refresh-style hit: run the event through every published
			// input.
			for _, in := range inputs {
				inCtx.PortContexts[in.plan.contextIndex].Event = true
			}
		}
		compCtx.ClearOutputEvents()

		triggerCtx := inCtx.PortContexts[tm.portPlan.contextIndex]
		if fire, ok := triggerCtx.TriggerFunction.(func()); ok && fire != nil {
			fire()
		}

		if outReachable {
			compCtx.ExecutingGroup.Wait()
		} else {
			compCtx.FinishedExecutingEvent(eventID)
		}

		if outModel != nil {
			outCtx := outModel.GetContext(childCS)
			for _, out := range outputs {
				args[out.paramIndex].Elem().Set(outCtx.PortContexts[out.plan.contextIndex].Data)
			}
			// The wrapper owns the gather node's semaphore until the
			// outputs are copied out.
			if outCtx.ClaimingEventID() == eventID {
				g.signalNodeModels(childCS, []*NodeModel{outModel})
			}
		}

		return nil
	}

	return &composition.FunctionDescriptor{
		Impl:   reflect.MakeFunc(fnType, body).Interface(),
		Params: params,
	}, nil
}
