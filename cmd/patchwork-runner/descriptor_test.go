package main

import (
	"testing"

	"github.com/patchwork-dev/patchwork/compiler"
)

func TestBuildComposition(t *testing.T) {
	desc := &compositionDescriptor{
		Name: "Counter",
		Nodes: []nodeDescriptor{
			{ID: "Fire", Class: "pw.time.firePeriodically"},
			{ID: "Count", Class: "pw.math.count"},
			{ID: "Share", Class: "pw.data.share.integer"},
		},
		Cables: []cableDescriptor{
			{From: "Fire:fired", To: "Count:increment"},
			{From: "Count:count", To: "Share:value"},
		},
	}

	comp, err := buildComposition(desc)
	if err != nil {
		t.Fatalf("buildComposition failed: %v", err)
	}
	if len(comp.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(comp.Nodes))
	}

	// The assembled composition must compile.
	gen, err := compiler.NewGenerator(comp, compiler.Options{TopLevel: true})
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	if _, err := gen.Generate(); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
}

func TestBuildComposition_Errors(t *testing.T) {
	tests := []struct {
		name string
		desc *compositionDescriptor
	}{
		{
			name: "unknown_class",
			desc: &compositionDescriptor{
				Name:  "Bad",
				Nodes: []nodeDescriptor{{ID: "X", Class: "pw.does.not.exist"}},
			},
		},
		{
			name: "unknown_node_in_cable",
			desc: &compositionDescriptor{
				Name:   "Bad",
				Nodes:  []nodeDescriptor{{ID: "A", Class: "pw.data.share.integer"}},
				Cables: []cableDescriptor{{From: "Missing:out", To: "A:value"}},
			},
		},
		{
			name: "unknown_port_in_cable",
			desc: &compositionDescriptor{
				Name:   "Bad",
				Nodes:  []nodeDescriptor{{ID: "A", Class: "pw.data.share.integer"}},
				Cables: []cableDescriptor{{From: "A:nope", To: "A:value"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildComposition(tt.desc); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestSplitPortRef(t *testing.T) {
	node, port, err := splitPortRef("Count:increment")
	if err != nil || node != "Count" || port != "increment" {
		t.Errorf("splitPortRef = %q, %q, %v", node, port, err)
	}
	if _, _, err := splitPortRef("nocolon"); err == nil {
		t.Errorf("malformed ref should fail")
	}
	if _, _, err := splitPortRef(":port"); err == nil {
		t.Errorf("empty node should fail")
	}
}
