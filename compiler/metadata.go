package compiler

import (
	"encoding/json"

	"github.com/patchwork-dev/patchwork/composition"
)

// moduleDetails is the metadata blob attached to the generated module.
type moduleDetails struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Keywords     []string          `json:"keywords"`
	Version      string            `json:"version,omitempty"`
	Headless     bool              `json:"headless"`
	Dependencies []string          `json:"dependencies"`
	Node         moduleNodeDetails `json:"node"`
}

type moduleNodeDetails struct {
	Triggers []triggerDetails  `json:"triggers"`
	Nodes    map[string]string `json:"nodes"`
}

type triggerDetails struct {
	NodeIndex        uint64 `json:"nodeIndex"`
	NodeIdentifier   string `json:"nodeIdentifier"`
	PortName         string `json:"portName"`
	PortContextIndex int    `json:"portContextIndex"`
	Throttling       string `json:"throttling"`
	DataType         string `json:"dataType,omitempty"`
	MinWorkerThreads int    `json:"minWorkerThreads"`
	MaxWorkerThreads int    `json:"maxWorkerThreads"`
	ChainCount       int    `json:"chainCount"`

	SubcompositionNodeClassName  string `json:"subcompositionNodeClassName,omitempty"`
	SubcompositionNodeIdentifier string `json:"subcompositionNodeIdentifier,omitempty"`
}

// emitMetadata serializes the composition's metadata into the module's
// details blob, including the trigger roster a parent composition needs
// to install scheduler pointers into nested port contexts.
func (g *Generator) emitMetadata() *Issue {
	details := moduleDetails{
		Title:       g.comp.Name,
		Description: g.comp.Description,
		Keywords:    g.comp.Keywords,
		Version:     g.comp.Version,
		Headless:    g.comp.Headless,
		Node: moduleNodeDetails{
			Nodes: make(map[string]string),
		},
	}
	if details.Keywords == nil {
		details.Keywords = []string{}
	}
	details.Dependencies = g.collectDependencies()

	for _, nm := range g.orderedNodes {
		details.Node.Nodes[nm.identifier] = nm.node.Class.Name
	}

	for _, tm := range g.triggers {
		td := triggerDetails{
			NodeIndex:        tm.nodeModel.Index,
			NodeIdentifier:   tm.nodeModel.identifier,
			PortName:         tm.port.Name(),
			PortContextIndex: tm.portPlan.contextIndex,
			Throttling:       throttlingName(tm.port.Class.Throttling),
			ChainCount:       len(tm.chains),
			MinWorkerThreads: tm.minThreads,
			MaxWorkerThreads: tm.maxThreads,
		}
		if tm.portPlan.adapter != nil {
			td.DataType = tm.portPlan.adapter.Name()
		}
		details.Node.Triggers = append(details.Node.Triggers, td)
	}

	// Triggers nested inside subcomposition nodes, so the top-level setup
	// can find them by node index and port-context position.
	for _, nm := range g.orderedNodes {
		for _, nested := range nm.node.Class.TriggerDescriptions {
			td := triggerDetails{
				NodeIndex:        nested.NodeIndex,
				NodeIdentifier:   nested.NodeIdentifier,
				PortName:         nested.PortName,
				PortContextIndex: nested.PortContextIndex,
				Throttling:       throttlingName(nested.Throttling),
				DataType:         nested.DataTypeName,
				MinWorkerThreads: nested.MinWorkerThreads,
				MaxWorkerThreads: nested.MaxWorkerThreads,
				ChainCount:       nested.ChainCount,

				SubcompositionNodeClassName:  nm.node.Class.Name,
				SubcompositionNodeIdentifier: nm.identifier,
			}
			details.Node.Triggers = append(details.Node.Triggers, td)
		}
	}
	if details.Node.Triggers == nil {
		details.Node.Triggers = []triggerDetails{}
	}

	blob, err := json.Marshal(details)
	if err != nil {
		return newIssue(InternalError, "Unsupported composition layout",
			"failed to serialize module details: %v", err)
	}
	g.module.Details = blob
	return nil
}

func (g *Generator) collectDependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	}
	for _, nm := range g.orderedNodes {
		if nm.node.IsSynthesized() {
			continue
		}
		add(nm.node.Class.Name)
		for _, d := range nm.node.Class.Dependencies {
			add(d)
		}
	}
	for _, adapter := range g.orderedTypes {
		add(adapter.Name())
	}
	if deps == nil {
		deps = []string{}
	}
	return deps
}

func throttlingName(t composition.Throttling) string {
	if t == composition.ThrottleDrop {
		return "drop"
	}
	return "enqueue"
}

func detailsJSON(pp *composition.PublishedPort) string {
	if len(pp.Details) == 0 {
		return "{}"
	}
	blob, err := json.Marshal(pp.Details)
	if err != nil {
		return "{}"
	}
	return string(blob)
}
