package compiler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchwork-dev/patchwork/catalog"
	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/runtime"
)

// fireIntegerClass builds a node class with one integer trigger, the test
// stand-in for an external event source.
func fireIntegerClass(name string, throttling composition.Throttling) *composition.NodeClass {
	return &composition.NodeClass{
		Name:  name,
		Title: "Fire",
		OutputPortClasses: []*composition.PortClass{
			{Name: "fired", Direction: composition.Output, Kind: composition.TriggerPort,
				Type: catalog.IntegerType(), Throttling: throttling},
		},
		Module: &composition.ModuleDescriptor{
			Key: composition.TranscodeToIdentifier(name),
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func() {},
				},
			},
		},
	}
}

type harness struct {
	gen *Generator
	mod *Module
	st  *runtime.State
	cs  *runtime.CompositionState
	rec *runtime.TelemetryRecorder
}

func compileAndStart(t *testing.T, comp *composition.Composition) *harness {
	t.Helper()

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	mod, err := gen.Generate()
	require.NoError(t, err)

	st := runtime.NewState(nil)
	rec := runtime.NewTelemetryRecorder()
	st.Telemetry().AddSink(rec)
	cs := runtime.NewCompositionState(st, mod.TopLevelCompositionIdentifier)

	mod.Setup(cs)
	mod.InstanceInit(cs)
	mod.InstanceTriggerStart(cs)

	return &harness{gen: gen, mod: mod, st: st, cs: cs, rec: rec}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.mod.InstanceTriggerStop(h.cs)
	h.mod.InstanceFini(h.cs)
	h.mod.Cleanup(h.cs)
}

func (h *harness) fire(t *testing.T, portID string, value int64) {
	t.Helper()
	sched, ok := h.mod.TriggerScheduler(h.cs, portID).(func(int64))
	require.True(t, ok, "no integer scheduler for %s", portID)
	sched(value)
}

func (h *harness) waitFor(t *testing.T, what string, pred func([]runtime.TelemetryEvent) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred(h.rec.Events()) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; telemetry: %#v", what, h.rec.Events())
}

func (h *harness) waitForEventFinished(t *testing.T, count int) {
	h.waitFor(t, "event finished", func(events []runtime.TelemetryEvent) bool {
		return countEventsFinished(events) >= count
	})
}

func countEventsFinished(events []runtime.TelemetryEvent) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(runtime.EventFinished); ok {
			n++
		}
	}
	return n
}

func startedNodes(events []runtime.TelemetryEvent) []string {
	var nodes []string
	for _, ev := range events {
		if started, ok := ev.(runtime.NodeExecutionStarted); ok {
			nodes = append(nodes, started.NodeIdentifier)
		}
	}
	return nodes
}

func countStarted(events []runtime.TelemetryEvent, node string) int {
	n := 0
	for _, id := range startedNodes(events) {
		if id == node {
			n++
		}
	}
	return n
}

func addShare(comp *composition.Composition, id string) *composition.Node {
	n := composition.NewNode(catalog.ShareIntegerClass(), id)
	n.SetIdentifier(id)
	comp.AddNode(n)
	return n
}

// --- S1: linear pipeline ---

func linearComposition() (*composition.Composition, *composition.Port) {
	comp := &composition.Composition{Name: "LinearPipeline"}
	f := composition.NewNode(fireIntegerClass("pw.test.fire", composition.ThrottleEnqueue), "F")
	f.SetIdentifier("F")
	comp.AddNode(f)
	a := addShare(comp, "A")
	b := addShare(comp, "B")
	c := addShare(comp, "C")
	trigger := f.OutputPort("fired")
	comp.AddCable(trigger, a.InputPort("value"))
	comp.AddCable(a.OutputPort("sameValue"), b.InputPort("value"))
	comp.AddCable(b.OutputPort("sameValue"), c.InputPort("value"))
	return comp, trigger
}

func TestLinearPipeline(t *testing.T) {
	comp, _ := linearComposition()
	h := compileAndStart(t, comp)
	defer h.stop(t)

	h.fire(t, "F__fired", 7)
	h.waitForEventFinished(t, 1)

	events := h.rec.Events()
	assert.Equal(t, []string{"A", "B", "C"}, startedNodes(events))
	assert.Equal(t, 1, countEventsFinished(events))
	assert.Equal(t, "7", h.mod.GetInputPortValue(h.cs, "C__value", false))
}

func TestLinearPipeline_RetainReleaseBalance(t *testing.T) {
	comp, _ := linearComposition()
	h := compileAndStart(t, comp)

	h.fire(t, "F__fired", 7)
	h.waitForEventFinished(t, 1)
	h.fire(t, "F__fired", 7)
	h.waitForEventFinished(t, 2)

	// After two passes with the same value, the port data slots still
	// hold retains of it.
	countAfterSecond := h.st.Ledger().Count("pw.integer", int64(7))
	require.Greater(t, countAfterSecond, 0)

	h.stop(t)
	assert.True(t, h.st.Ledger().Balanced(),
		"all retains should be released after cleanup, %d values outstanding", h.st.Ledger().Outstanding())
}

// --- S2: scatter-gather ---

func TestScatterGather(t *testing.T) {
	comp := &composition.Composition{Name: "ScatterGather"}
	f := composition.NewNode(fireIntegerClass("pw.test.fire", composition.ThrottleEnqueue), "F")
	f.SetIdentifier("F")
	comp.AddNode(f)
	s := addShare(comp, "S")
	x := addShare(comp, "X")
	y := addShare(comp, "Y")
	g := composition.NewNode(catalog.AddIntegersClass(), "G")
	g.SetIdentifier("G")
	comp.AddNode(g)

	trigger := f.OutputPort("fired")
	comp.AddCable(trigger, s.InputPort("value"))
	comp.AddCable(s.OutputPort("sameValue"), x.InputPort("value"))
	comp.AddCable(s.OutputPort("sameValue"), y.InputPort("value"))
	comp.AddCable(x.OutputPort("sameValue"), g.InputPort("a"))
	comp.AddCable(y.OutputPort("sameValue"), g.InputPort("b"))

	h := compileAndStart(t, comp)
	defer h.stop(t)

	h.fire(t, "F__fired", 5)
	h.waitForEventFinished(t, 1)

	events := h.rec.Events()
	started := startedNodes(events)
	require.Len(t, started, 4)
	assert.Equal(t, "S", started[0])
	assert.Equal(t, "G", started[3])
	assert.ElementsMatch(t, []string{"X", "Y"}, started[1:3])
	assert.Equal(t, 1, countStarted(events, "G"), "the gather node executes exactly once per event")

	// Both branches arrived before the single execution.
	assert.Equal(t, "10", h.mod.GetOutputPortValue(h.cs, "G__sum", false))
}

// --- S3: feedback loop ---

func TestFeedbackLoop(t *testing.T) {
	comp := &composition.Composition{Name: "Feedback"}
	f := composition.NewNode(fireIntegerClass("pw.test.fire", composition.ThrottleEnqueue), "F")
	f.SetIdentifier("F")
	comp.AddNode(f)
	a := addShare(comp, "A")
	b := addShare(comp, "B")
	trigger := f.OutputPort("fired")
	comp.AddCable(trigger, a.InputPort("value"))
	comp.AddCable(a.OutputPort("sameValue"), b.InputPort("value"))
	comp.AddCable(b.OutputPort("sameValue"), a.InputPort("refresh"))

	h := compileAndStart(t, comp)
	defer h.stop(t)

	h.fire(t, "F__fired", 3)
	h.waitForEventFinished(t, 1)

	events := h.rec.Events()
	assert.Equal(t, 2, countStarted(events, "A"), "A executes on entry and when the loop closes")
	assert.Equal(t, 1, countStarted(events, "B"))
	assert.Equal(t, 1, countEventsFinished(events))
}

// --- S4: drop under back-pressure ---

func TestDropUnderBackpressure(t *testing.T) {
	comp := &composition.Composition{Name: "Drop"}
	f := composition.NewNode(fireIntegerClass("pw.test.fireDrop", composition.ThrottleDrop), "F")
	f.SetIdentifier("F")
	comp.AddNode(f)
	slow := addShare(comp, "SLOW")
	trigger := f.OutputPort("fired")
	comp.AddCable(trigger, slow.InputPort("value"))

	h := compileAndStart(t, comp)
	defer h.stop(t)

	// Simulate back-pressure: hold the trigger's throttle semaphore as if
	// a previous event were still scheduling.
	tm := h.gen.triggerForPort[trigger]
	portCtx := tm.nodeModel.GetContext(h.cs).PortContexts[tm.portPlan.contextIndex]
	require.True(t, portCtx.TriggerSemaphore.WaitTimeout(0))

	h.fire(t, "F__fired", 1)

	h.waitFor(t, "event dropped", func(events []runtime.TelemetryEvent) bool {
		for _, ev := range events {
			if _, ok := ev.(runtime.EventDropped); ok {
				return true
			}
		}
		return false
	})

	portCtx.TriggerSemaphore.Signal()
	h.fire(t, "F__fired", 2)
	h.waitForEventFinished(t, 1)

	events := h.rec.Events()
	drops := 0
	for _, ev := range events {
		if dropped, ok := ev.(runtime.EventDropped); ok {
			drops++
			assert.Equal(t, "F__fired", dropped.PortIdentifier)
		}
	}
	assert.Equal(t, 1, drops, "exactly one EventDropped per failed attempt")
	assert.Equal(t, 1, countEventsFinished(events))
	assert.Equal(t, 1, countStarted(events, "SLOW"))

	// The dropped value was retained and released, not leaked.
	assert.Equal(t, 0, h.st.Ledger().Count("pw.integer", int64(1)))
}

// --- S5: subcomposition ---

func addOneClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.test.addOne",
		Title: "Add One",
		InputPortClasses: []*composition.PortClass{
			{Name: "value", Direction: composition.Input, Kind: composition.DataAndEvent, Type: catalog.IntegerType()},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "plusOne", Direction: composition.Output, Kind: composition.DataAndEvent, Type: catalog.IntegerType()},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_test_addOne",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(value int64, plusOne *int64) { *plusOne = value + 1 },
					Params: []*composition.ParamDescriptor{
						{Name: "value", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "plusOne", Annotations: []string{"vuoOutputData", "vuoType:pw.integer"}},
					},
				},
			},
		},
	}
}

func TestSubcomposition(t *testing.T) {
	child := &composition.Composition{Name: "AddOneComposition"}
	inner := composition.NewNode(addOneClass(), "Inner")
	inner.SetIdentifier("Inner")
	child.AddNode(inner)
	child.PublishedInputs = []*composition.PublishedPort{
		{Name: "in", Type: catalog.IntegerType(), ConnectedPorts: []*composition.Port{inner.InputPort("value")}},
	}
	child.PublishedOutputs = []*composition.PublishedPort{
		{Name: "out", Type: catalog.IntegerType(), ConnectedPorts: []*composition.Port{inner.OutputPort("plusOne")}},
	}

	subClass, err := CompileToNodeClass(child, "pw.test.addOneComp", Options{})
	require.NoError(t, err)
	require.True(t, subClass.Subcomposition)

	parent := &composition.Composition{Name: "SubcompositionHost"}
	f := composition.NewNode(fireIntegerClass("pw.test.fire", composition.ThrottleEnqueue), "F")
	f.SetIdentifier("F")
	parent.AddNode(f)
	sub := composition.NewNode(subClass, "Sub")
	sub.SetIdentifier("Sub")
	parent.AddNode(sub)
	sink := addShare(parent, "Sink")

	trigger := f.OutputPort("fired")
	parent.AddCable(trigger, sub.InputPort("in"))
	parent.AddCable(sub.OutputPort("out"), sink.InputPort("value"))

	h := compileAndStart(t, parent)
	defer h.stop(t)

	h.fire(t, "F__fired", 41)
	h.waitForEventFinished(t, 1)

	assert.Equal(t, "42", h.mod.GetOutputPortValue(h.cs, "Sub__out", false))
	assert.Equal(t, "42", h.mod.GetInputPortValue(h.cs, "Sink__value", false))

	events := h.rec.Events()
	assert.Equal(t, 1, countStarted(events, "Sub"))
	assert.Equal(t, 1, countEventsFinished(events))
}

// --- S6: live-add gate ---

func statefulProbeClass(name string, initCounts map[string]int) *composition.NodeClass {
	return &composition.NodeClass{
		Name:             name,
		Title:            "Probe",
		Stateful:         true,
		InstanceDataType: catalog.IntegerType().GoType,
		Module: &composition.ModuleDescriptor{
			Key: composition.TranscodeToIdentifier(name),
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeInstanceInit: {
					Name: composition.FuncNodeInstanceInit,
					Impl: func(instance *int64) { initCounts[name]++ },
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
					},
				},
				composition.FuncNodeInstanceEvent: {
					Name: composition.FuncNodeInstanceEvent,
					Impl: func(instance *int64) {},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
					},
				},
			},
		},
	}
}

func TestLiveAddGate(t *testing.T) {
	initCounts := map[string]int{}
	comp := &composition.Composition{Name: "LiveEdit"}
	m := composition.NewNode(statefulProbeClass("pw.test.probeM", initCounts), "M")
	m.SetIdentifier("M")
	n := composition.NewNode(statefulProbeClass("pw.test.probeN", initCounts), "N")
	n.SetIdentifier("N")
	comp.AddNode(m)
	comp.AddNode(n)

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	mod, err := gen.Generate()
	require.NoError(t, err)

	st := runtime.NewState(nil)
	cs := runtime.NewCompositionState(st, mod.TopLevelCompositionIdentifier)
	mod.Setup(cs)

	// N is in the middle of being added: init skips it.
	st.SetNodeBeingAddedOrReplaced("Top/N", true)
	mod.InstanceInit(cs)
	assert.Equal(t, 1, initCounts["pw.test.probeM"])
	assert.Equal(t, 0, initCounts["pw.test.probeN"])

	// Once unmarked, the next init call initializes N alone.
	st.SetNodeBeingAddedOrReplaced("Top/N", false)
	mod.InstanceInit(cs)
	assert.Equal(t, 1, initCounts["pw.test.probeM"], "M must not be re-initialized")
	assert.Equal(t, 1, initCounts["pw.test.probeN"])

	mod.InstanceFini(cs)
	mod.Cleanup(cs)
}

// --- property 7: paused idempotence ---

func TestPausedIdempotence(t *testing.T) {
	comp, _ := linearComposition()
	h := compileAndStart(t, comp)
	defer h.stop(t)

	h.st.Pause()
	h.st.Pause() // pausing twice is pausing once

	h.fire(t, "F__fired", 9)
	h.waitForEventFinished(t, 1)

	events := h.rec.Events()
	assert.Empty(t, startedNodes(events), "no node executes while paused")
	assert.Equal(t, 1, countEventsFinished(events))

	h.st.Unpause()
}

// --- property 1: stable ordering ---

func TestGlobalOrderEmbedsTriggerOrders(t *testing.T) {
	comp := &composition.Composition{Name: "TwoTriggers"}
	f1 := composition.NewNode(fireIntegerClass("pw.test.fire", composition.ThrottleEnqueue), "F1")
	f1.SetIdentifier("F1")
	f2 := composition.NewNode(fireIntegerClass("pw.test.fire2", composition.ThrottleEnqueue), "F2")
	f2.SetIdentifier("F2")
	comp.AddNode(f1)
	comp.AddNode(f2)
	a := addShare(comp, "A")
	b := addShare(comp, "B")
	c := addShare(comp, "C")
	comp.AddCable(f1.OutputPort("fired"), a.InputPort("value"))
	comp.AddCable(a.OutputPort("sameValue"), b.InputPort("value"))
	comp.AddCable(b.OutputPort("sameValue"), c.InputPort("value"))
	comp.AddCable(f2.OutputPort("fired"), b.InputPort("refresh"))

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	_, err = gen.Generate()
	require.NoError(t, err)

	position := make(map[string]uint64)
	for _, nm := range gen.orderedNodes {
		position[nm.Identifier()] = nm.Index
	}

	for trigger, downstream := range gen.downstreamForTrigger {
		last := int64(-1)
		for _, node := range downstream {
			pos := int64(position[node.Identifier()])
			if pos <= last {
				t.Errorf("trigger %s: downstream order is not a subsequence of the global order",
					trigger.Identifier())
			}
			last = pos
		}
	}
}

func TestGlobalOrderDeterministic(t *testing.T) {
	build := func() []string {
		comp, _ := linearComposition()
		gen, err := NewGenerator(comp, Options{TopLevel: true})
		require.NoError(t, err)
		_, err = gen.Generate()
		require.NoError(t, err)
		var ids []string
		for _, nm := range gen.orderedNodes {
			ids = append(ids, nm.Identifier())
		}
		return ids
	}
	assert.Equal(t, build(), build())
}

// --- interned lock sets ---

func TestWaitSetsInternedIntoModule(t *testing.T) {
	comp, trigger := linearComposition()
	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	mod, err := gen.Generate()
	require.NoError(t, err)

	require.NotEmpty(t, mod.ArrayConstants)

	tm := gen.triggerForPort[trigger]
	require.NotNil(t, tm.waitSetIndices)
	var waitIndices []uint64
	for _, m := range tm.waitSet {
		waitIndices = append(waitIndices, m.Index)
	}
	assert.Equal(t, waitIndices, tm.waitSetIndices.Values)

	// Equal wait sets collapse to the identical constant.
	assert.Same(t, tm.waitSetIndices, gen.constants.GetIndexArray(waitIndices))

	for _, cm := range tm.chains {
		for _, step := range cm.steps {
			require.NotNil(t, step.downstreamWaitSetIndices)
			assert.Len(t, step.downstreamWaitSetIndices.Values, len(step.downstreamWaitSet))
		}
	}
}

// --- property 6: metadata round trip ---

func TestModuleDetailsRoundTrip(t *testing.T) {
	comp, _ := linearComposition()
	comp.Description = "A linear test pipeline"
	comp.Keywords = []string{"test", "pipeline"}
	comp.Version = "1.2.0"

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	mod, err := gen.Generate()
	require.NoError(t, err)

	var details struct {
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Keywords     []string `json:"keywords"`
		Version      string   `json:"version"`
		Dependencies []string `json:"dependencies"`
		Node         struct {
			Triggers []map[string]any  `json:"triggers"`
			Nodes    map[string]string `json:"nodes"`
		} `json:"node"`
	}
	require.NoError(t, json.Unmarshal(mod.Details, &details))

	assert.Equal(t, "LinearPipeline", details.Title)
	assert.Equal(t, "A linear test pipeline", details.Description)
	assert.Equal(t, []string{"test", "pipeline"}, details.Keywords)
	assert.Equal(t, "1.2.0", details.Version)
	assert.Equal(t, "pw.data.share.integer", details.Node.Nodes["A"])
	assert.Equal(t, "pw.test.fire", details.Node.Nodes["F"])
	assert.Contains(t, details.Dependencies, "pw.integer")

	require.Len(t, details.Node.Triggers, 1)
	trigger := details.Node.Triggers[0]
	assert.Equal(t, "F", trigger["nodeIdentifier"])
	assert.Equal(t, "fired", trigger["portName"])
	assert.Equal(t, "enqueue", trigger["throttling"])
	assert.Equal(t, "pw.integer", trigger["dataType"])
}

// --- error taxonomy ---

func TestIssue_AnnotationForMissingPort(t *testing.T) {
	broken := &composition.NodeClass{
		Name:  "pw.test.broken",
		Title: "Broken",
		OutputPortClasses: []*composition.PortClass{
			{Name: "out", Direction: composition.Output, Kind: composition.DataAndEvent, Type: catalog.IntegerType()},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_test_broken",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(missing int64, out *int64) {},
					Params: []*composition.ParamDescriptor{
						{Name: "missing", Annotations: []string{"vuoInputData"}},
						{Name: "out", Annotations: []string{"vuoOutputData"}},
					},
				},
			},
		},
	}

	comp := &composition.Composition{Name: "Broken"}
	n := composition.NewNode(broken, "B")
	n.SetIdentifier("B")
	comp.AddNode(n)

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	_, err = gen.Generate()
	require.Error(t, err)

	issues, ok := err.(*IssueList)
	require.True(t, ok, "codegen failures surface as an issue list")
	require.NotEmpty(t, issues.Issues)
	issue := issues.Issues[0]
	assert.Equal(t, SeverityError, issue.Severity)
	assert.Equal(t, MissingContract, issue.Kind)
	assert.Equal(t, "compiling composition", issue.Phase)
	assert.Equal(t, "Unsupported composition layout", issue.Summary)
}

func TestIssue_UnsupportedLowering(t *testing.T) {
	broken := &composition.NodeClass{
		Name:  "pw.test.badLowering",
		Title: "Bad",
		InputPortClasses: []*composition.PortClass{
			{Name: "value", Direction: composition.Input, Kind: composition.DataAndEvent, Type: catalog.IntegerType()},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_test_badLowering",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(value string) {},
					Params: []*composition.ParamDescriptor{
						{Name: "value", Annotations: []string{"vuoInputData"}},
					},
				},
			},
		},
	}

	comp := &composition.Composition{Name: "BadLowering"}
	n := composition.NewNode(broken, "B")
	n.SetIdentifier("B")
	comp.AddNode(n)

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	_, err = gen.Generate()
	require.Error(t, err)

	issues, ok := err.(*IssueList)
	require.True(t, ok)
	assert.Equal(t, UnsupportedLowering, issues.Issues[0].Kind)
}

func TestIssue_DuplicateIdentifier(t *testing.T) {
	comp := &composition.Composition{Name: "Dup"}
	addShare(comp, "Same")
	addShare(comp, "Same")

	_, err := NewGenerator(comp, Options{TopLevel: true})
	require.Error(t, err)

	issues, ok := err.(*IssueList)
	require.True(t, ok)
	assert.Equal(t, DuplicateIdentifier, issues.Issues[0].Kind)
}

func TestIssue_UnknownTrigger(t *testing.T) {
	broken := &composition.NodeClass{
		Name:  "pw.test.badTrigger",
		Title: "Bad",
		Module: &composition.ModuleDescriptor{
			Key: "pw_test_badTrigger",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(fired func()) {},
					Params: []*composition.ParamDescriptor{
						{Name: "fired", Annotations: []string{"vuoOutputTrigger:fired"}},
					},
				},
			},
		},
	}

	comp := &composition.Composition{Name: "BadTrigger"}
	n := composition.NewNode(broken, "B")
	n.SetIdentifier("B")
	comp.AddNode(n)

	gen, err := NewGenerator(comp, Options{TopLevel: true})
	require.NoError(t, err)
	_, err = gen.Generate()
	require.Error(t, err)

	issues, ok := err.(*IssueList)
	require.True(t, ok)
	assert.Equal(t, UnknownTrigger, issues.Issues[0].Kind)
}

// --- hold: wall blocking at runtime ---

func TestWallPortStopsEvent(t *testing.T) {
	comp := &composition.Composition{Name: "WallStop"}
	f := composition.NewNode(fireIntegerClass("pw.test.fire", composition.ThrottleEnqueue), "F")
	f.SetIdentifier("F")
	comp.AddNode(f)
	hold := composition.NewNode(catalog.HoldIntegerClass(), "Hold")
	hold.SetIdentifier("Hold")
	comp.AddNode(hold)
	sink := addShare(comp, "Sink")

	trigger := f.OutputPort("fired")
	// The event enters through the wall port; Hold executes but the event
	// stops there.
	comp.AddCable(trigger, hold.InputPort("newValue"))
	comp.AddCable(hold.OutputPort("heldValue"), sink.InputPort("value"))

	h := compileAndStart(t, comp)
	defer h.stop(t)

	h.fire(t, "F__fired", 5)
	h.waitForEventFinished(t, 1)

	events := h.rec.Events()
	assert.Equal(t, 1, countStarted(events, "Hold"))
	assert.Equal(t, 0, countStarted(events, "Sink"), "the wall must stop the event")
}

// --- published ports at top level ---

func TestPublishedPortsAtTopLevel(t *testing.T) {
	comp := &composition.Composition{Name: "PublishedHost"}
	inner := composition.NewNode(addOneClass(), "Inner")
	inner.SetIdentifier("Inner")
	comp.AddNode(inner)
	comp.PublishedInputs = []*composition.PublishedPort{
		{Name: "in", Type: catalog.IntegerType(), InitialValue: "0",
			ConnectedPorts: []*composition.Port{inner.InputPort("value")}},
	}
	comp.PublishedOutputs = []*composition.PublishedPort{
		{Name: "out", Type: catalog.IntegerType(),
			ConnectedPorts: []*composition.Port{inner.OutputPort("plusOne")}},
	}

	h := compileAndStart(t, comp)
	defer h.stop(t)

	assert.Equal(t, 1, h.mod.GetPublishedInputPortCount())
	assert.Equal(t, []string{"in"}, h.mod.GetPublishedInputPortNames())
	assert.Equal(t, []string{"pw.integer"}, h.mod.GetPublishedInputPortTypes())
	assert.Equal(t, 1, h.mod.GetPublishedOutputPortCount())
	assert.Equal(t, []string{"out"}, h.mod.GetPublishedOutputPortNames())

	h.mod.SetPublishedInputPortValue(h.cs, "in", "10")
	assert.Equal(t, "10", h.mod.GetPublishedInputPortValue(h.cs, "in", false))

	h.mod.FirePublishedInputPortEvent(h.cs, []string{"in"})
	h.waitForEventFinished(t, 1)

	assert.Equal(t, "11", h.mod.GetPublishedOutputPortValue(h.cs, "out", false))
	assert.Equal(t, 1, countStarted(h.rec.Events(), "Inner"))
}
