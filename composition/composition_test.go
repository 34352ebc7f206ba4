package composition

import (
	"reflect"
	"testing"
)

func testIntegerType() *DataType {
	return &DataType{
		Name:         "pw.integer",
		GoType:       reflect.TypeOf(int64(0)),
		MakeFromJSON: func(s string) int64 { return 0 },
		GetJSON:      func(v int64) string { return "0" },
	}
}

func testShareClass(t *DataType) *NodeClass {
	return &NodeClass{
		Name:  "pw.test.share",
		Title: "Share Value",
		InputPortClasses: []*PortClass{
			{Name: "value", Direction: Input, Kind: DataAndEvent, Type: t},
		},
		OutputPortClasses: []*PortClass{
			{Name: "sameValue", Direction: Output, Kind: DataAndEvent, Type: t},
		},
		Module: &ModuleDescriptor{
			Key: "pw_test_share",
			Functions: map[string]*FunctionDescriptor{
				FuncNodeEvent: {
					Name: FuncNodeEvent,
					Impl: func(value int64, sameValue *int64) { *sameValue = value },
					Params: []*ParamDescriptor{
						{Name: "value", Annotations: []string{"vuoInputData"}},
						{Name: "sameValue", Annotations: []string{"vuoOutputData"}},
					},
				},
			},
		},
	}
}

func TestPrepare_IdentifierDisambiguation(t *testing.T) {
	intType := testIntegerType()
	class := testShareClass(intType)

	comp := &Composition{Name: "Test"}
	a := NewNode(class, "Share Value")
	b := NewNode(class, "Share Value")
	c := NewNode(class, "Share Value")
	comp.AddNode(a)
	comp.AddNode(b)
	comp.AddNode(c)

	if err := comp.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	ids := map[string]bool{}
	for _, n := range comp.Nodes {
		if ids[n.Identifier()] {
			t.Errorf("duplicate identifier %q", n.Identifier())
		}
		ids[n.Identifier()] = true
	}
	if a.Identifier() != "ShareValue" {
		t.Errorf("first node should keep the base identifier, got %q", a.Identifier())
	}
	if b.Identifier() != "ShareValue2" || c.Identifier() != "ShareValue3" {
		t.Errorf("disambiguation should append numbers, got %q and %q", b.Identifier(), c.Identifier())
	}
}

func TestPrepare_ExplicitIdentifierCollision(t *testing.T) {
	class := testShareClass(testIntegerType())
	comp := &Composition{Name: "Test"}
	a := NewNode(class, "A")
	b := NewNode(class, "B")
	a.SetIdentifier("Same")
	b.SetIdentifier("Same")
	comp.AddNode(a)
	comp.AddNode(b)

	if err := comp.Prepare(); err == nil {
		t.Errorf("expected duplicate identifier error")
	}
}

func TestPrepare_RefreshPortFirst(t *testing.T) {
	class := testShareClass(testIntegerType())
	node := NewNode(class, "Share")

	if node.InputPorts[0].Name() != RefreshPortName {
		t.Fatalf("first input port should be refresh, got %q", node.InputPorts[0].Name())
	}
	if node.InputPorts[0].IndexInPortContexts != 0 {
		t.Errorf("refresh port should be at context index 0")
	}
	if node.InputPort("value").IndexInPortContexts != 1 {
		t.Errorf("value port should be at context index 1")
	}
	if node.OutputPort("sameValue").IndexInPortContexts != 2 {
		t.Errorf("output ports should follow inputs in context order")
	}
}

func TestPrepare_SynthesizesPublishedNodes(t *testing.T) {
	intType := testIntegerType()
	class := testShareClass(intType)

	comp := &Composition{Name: "Test"}
	inner := NewNode(class, "Inner")
	comp.AddNode(inner)
	comp.PublishedInputs = []*PublishedPort{
		{Name: "in", Type: intType, ConnectedPorts: []*Port{inner.InputPort("value")}},
	}
	comp.PublishedOutputs = []*PublishedPort{
		{Name: "out", Type: intType, ConnectedPorts: []*Port{inner.OutputPort("sameValue")}},
	}

	if err := comp.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	inNode := comp.PublishedInputsNode()
	if inNode == nil {
		t.Fatalf("published inputs node not synthesized")
	}
	if inNode.OutputPort("in") == nil {
		t.Errorf("published inputs node should carry a port per published input")
	}
	trigger := comp.PublishedInputTriggerPort()
	if trigger == nil || !trigger.IsTrigger() {
		t.Fatalf("published input trigger not synthesized")
	}

	outNode := comp.PublishedOutputsNode()
	if outNode == nil || outNode.InputPort("out") == nil {
		t.Fatalf("published outputs node not synthesized")
	}

	// Cables wired from the hidden nodes to the connected inner ports.
	foundIn, foundOut := false, false
	for _, cable := range comp.Cables {
		if cable.From == inNode.OutputPort("in") && cable.To == inner.InputPort("value") {
			foundIn = true
		}
		if cable.From == inner.OutputPort("sameValue") && cable.To == outNode.InputPort("out") {
			foundOut = true
		}
	}
	if !foundIn || !foundOut {
		t.Errorf("published cables not synthesized (in=%v out=%v)", foundIn, foundOut)
	}
}

func TestValidate_TypeMismatch(t *testing.T) {
	intType := testIntegerType()
	textType := &DataType{
		Name:         "pw.text",
		GoType:       reflect.TypeOf(""),
		MakeFromJSON: func(s string) string { return "" },
		GetJSON:      func(v string) string { return `""` },
	}

	intClass := testShareClass(intType)
	textClass := testShareClass(textType)
	textClass.Name = "pw.test.share.text"

	comp := &Composition{Name: "Test"}
	a := NewNode(intClass, "A")
	b := NewNode(textClass, "B")
	comp.AddNode(a)
	comp.AddNode(b)
	comp.AddCable(a.OutputPort("sameValue"), b.InputPort("value"))

	if err := comp.Prepare(); err == nil {
		t.Errorf("expected type mismatch error")
	}
}

func TestDataTypeValidate(t *testing.T) {
	valid := testIntegerType()
	if err := valid.Validate(); err != nil {
		t.Errorf("valid type rejected: %v", err)
	}

	missing := &DataType{Name: "pw.broken", GoType: reflect.TypeOf(int64(0))}
	if err := missing.Validate(); err == nil {
		t.Errorf("type without makeFromJson should be rejected")
	}

	wrongShape := &DataType{
		Name:         "pw.broken2",
		GoType:       reflect.TypeOf(int64(0)),
		MakeFromJSON: func(s string) string { return "" },
		GetJSON:      func(v int64) string { return "" },
	}
	if err := wrongShape.Validate(); err == nil {
		t.Errorf("makeFromJson returning the wrong type should be rejected")
	}
}
