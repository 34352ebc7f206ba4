package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/patchwork-dev/patchwork/catalog"
	"github.com/patchwork-dev/patchwork/composition"
)

// compositionDescriptor is the JSON form the runner loads a composition
// from. Node classes are resolved against the built-in catalog.
type compositionDescriptor struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Keywords    []string                 `json:"keywords,omitempty"`
	Version     string                   `json:"version,omitempty"`
	Nodes       []nodeDescriptor         `json:"nodes"`
	Cables      []cableDescriptor        `json:"cables"`
	Published   publishedPortsDescriptor `json:"published,omitempty"`
}

type nodeDescriptor struct {
	ID    string `json:"id"`
	Class string `json:"class"`
	Title string `json:"title,omitempty"`
}

type cableDescriptor struct {
	// From and To are "NodeID:portName".
	From     string `json:"from"`
	To       string `json:"to"`
	DataOnly bool   `json:"dataOnly,omitempty"`
}

type publishedPortsDescriptor struct {
	Inputs  []publishedPortDescriptor `json:"inputs,omitempty"`
	Outputs []publishedPortDescriptor `json:"outputs,omitempty"`
}

type publishedPortDescriptor struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	InitialValue string   `json:"initialValue,omitempty"`
	ConnectedTo  []string `json:"connectedTo,omitempty"`
}

// loadComposition reads a composition descriptor file and assembles the
// composition from catalog classes.
func loadComposition(path string) (*composition.Composition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read composition %s: %w", path, err)
	}
	var desc compositionDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse composition %s: %w", path, err)
	}
	return buildComposition(&desc)
}

func buildComposition(desc *compositionDescriptor) (*composition.Composition, error) {
	classes := make(map[string]*composition.NodeClass)
	for _, class := range catalog.Classes() {
		classes[class.Name] = class
	}
	types := make(map[string]*composition.DataType)
	for _, t := range catalog.Types() {
		types[t.Name] = t
	}

	comp := &composition.Composition{
		Name:        desc.Name,
		Description: desc.Description,
		Keywords:    desc.Keywords,
		Version:     desc.Version,
	}

	nodes := make(map[string]*composition.Node)
	for _, nd := range desc.Nodes {
		class, ok := classes[nd.Class]
		if !ok {
			return nil, fmt.Errorf("node %s: unknown node class %s", nd.ID, nd.Class)
		}
		node := composition.NewNode(class, nd.Title)
		node.SetIdentifier(nd.ID)
		comp.AddNode(node)
		nodes[nd.ID] = node
	}

	resolveOutput := func(ref string) (*composition.Port, error) {
		nodeID, portName, err := splitPortRef(ref)
		if err != nil {
			return nil, err
		}
		node, ok := nodes[nodeID]
		if !ok {
			return nil, fmt.Errorf("port %s references unknown node %s", ref, nodeID)
		}
		port := node.OutputPort(portName)
		if port == nil {
			return nil, fmt.Errorf("node %s has no output port %s", nodeID, portName)
		}
		return port, nil
	}
	resolveInput := func(ref string) (*composition.Port, error) {
		nodeID, portName, err := splitPortRef(ref)
		if err != nil {
			return nil, err
		}
		node, ok := nodes[nodeID]
		if !ok {
			return nil, fmt.Errorf("port %s references unknown node %s", ref, nodeID)
		}
		port := node.InputPort(portName)
		if port == nil {
			return nil, fmt.Errorf("node %s has no input port %s", nodeID, portName)
		}
		return port, nil
	}

	for _, cd := range desc.Cables {
		from, err := resolveOutput(cd.From)
		if err != nil {
			return nil, err
		}
		to, err := resolveInput(cd.To)
		if err != nil {
			return nil, err
		}
		cable := comp.AddCable(from, to)
		cable.DataOnly = cd.DataOnly
	}

	for _, pd := range desc.Published.Inputs {
		t, ok := types[pd.Type]
		if !ok {
			return nil, fmt.Errorf("published input %s: unknown type %s", pd.Name, pd.Type)
		}
		pp := &composition.PublishedPort{Name: pd.Name, Type: t, InitialValue: pd.InitialValue}
		for _, ref := range pd.ConnectedTo {
			port, err := resolveInput(ref)
			if err != nil {
				return nil, err
			}
			pp.ConnectedPorts = append(pp.ConnectedPorts, port)
		}
		comp.PublishedInputs = append(comp.PublishedInputs, pp)
	}
	for _, pd := range desc.Published.Outputs {
		t, ok := types[pd.Type]
		if !ok {
			return nil, fmt.Errorf("published output %s: unknown type %s", pd.Name, pd.Type)
		}
		pp := &composition.PublishedPort{Name: pd.Name, Type: t}
		for _, ref := range pd.ConnectedTo {
			port, err := resolveOutput(ref)
			if err != nil {
				return nil, err
			}
			pp.ConnectedPorts = append(pp.ConnectedPorts, port)
		}
		comp.PublishedOutputs = append(comp.PublishedOutputs, pp)
	}

	return comp, nil
}

func splitPortRef(ref string) (string, string, error) {
	idx := strings.LastIndex(ref, ":")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("malformed port reference %q, want \"node:port\"", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}
