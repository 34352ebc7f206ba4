package composition

import (
	"fmt"
	"sort"
	"strconv"
)

// Class names of the hidden nodes that anchor published ports.
const (
	PublishedInputsClassName  = "pw.published.inputs"
	PublishedOutputsClassName = "pw.published.outputs"

	// PublishedInputTriggerName is the trigger port on the published
	// inputs node from which published events originate.
	PublishedInputTriggerName = "fired"
)

// PublishedPort is a port exposed on the composition's outer boundary.
type PublishedPort struct {
	Name         string
	Type         *DataType // nil for event-only published ports
	InitialValue string    // JSON
	Details      map[string]any

	// ConnectedPorts are the inner ports this published port feeds (for
	// inputs) or reads (for outputs).
	ConnectedPorts []*Port
}

// Composition is a directed graph of nodes connected by cables, plus its
// published boundary.
type Composition struct {
	Name        string
	Description string
	Keywords    []string
	Version     string

	// Headless marks compositions meant to run without any display
	// surface. Recorded in the module metadata.
	Headless bool

	Nodes  []*Node
	Cables []*Cable

	PublishedInputs  []*PublishedPort
	PublishedOutputs []*PublishedPort

	// Subcomposition marks a composition compiled for use as a node
	// inside another composition.
	Subcomposition bool

	publishedInputsNode  *Node
	publishedOutputsNode *Node
	prepared             bool
}

// AddNode appends a node.
func (c *Composition) AddNode(n *Node) {
	c.Nodes = append(c.Nodes, n)
}

// AddCable connects an output port to an input port.
func (c *Composition) AddCable(from, to *Port) *Cable {
	cable := &Cable{From: from, To: to}
	c.Cables = append(c.Cables, cable)
	return cable
}

// PublishedInputsNode returns the hidden node anchoring published inputs,
// or nil when the composition has none. Valid after Prepare.
func (c *Composition) PublishedInputsNode() *Node { return c.publishedInputsNode }

// PublishedOutputsNode returns the hidden node gathering published
// outputs, or nil. Valid after Prepare.
func (c *Composition) PublishedOutputsNode() *Node { return c.publishedOutputsNode }

// PublishedInputTriggerPort returns the trigger port on the published
// inputs node, or nil. Valid after Prepare.
func (c *Composition) PublishedInputTriggerPort() *Port {
	if c.publishedInputsNode == nil {
		return nil
	}
	return c.publishedInputsNode.OutputPort(PublishedInputTriggerName)
}

// PublishedInput returns the named published input, or nil.
func (c *Composition) PublishedInput(name string) *PublishedPort {
	for _, pp := range c.PublishedInputs {
		if pp.Name == name {
			return pp
		}
	}
	return nil
}

// PublishedOutput returns the named published output, or nil.
func (c *Composition) PublishedOutput(name string) *PublishedPort {
	for _, pp := range c.PublishedOutputs {
		if pp.Name == name {
			return pp
		}
	}
	return nil
}

// Prepare derives node identifiers, synthesizes the hidden published-port
// nodes and their cables, and validates the graph's referential
// integrity. It is idempotent.
func (c *Composition) Prepare() error {
	if c.prepared {
		return nil
	}

	c.synthesizePublishedNodes()

	if err := c.assignIdentifiers(); err != nil {
		return err
	}
	if err := c.validate(); err != nil {
		return err
	}

	c.prepared = true
	return nil
}

// synthesizePublishedNodes adds the hidden nodes that anchor the
// composition's published boundary. The published inputs node carries one
// data output per published input plus the trigger from which published
// events originate; the published outputs node gathers one input per
// published output.
func (c *Composition) synthesizePublishedNodes() {
	if c.publishedInputsNode == nil && (len(c.PublishedInputs) > 0 || c.Subcomposition) {
		class := &NodeClass{
			Name:   PublishedInputsClassName,
			Title:  "PublishedInputs",
			Module: noopModule(PublishedInputsClassName),
		}
		for _, pp := range c.PublishedInputs {
			class.OutputPortClasses = append(class.OutputPortClasses, &PortClass{
				Name:         pp.Name,
				Direction:    Output,
				Kind:         DataAndEvent,
				Type:         pp.Type,
				InitialValue: pp.InitialValue,
				Details:      pp.Details,
			})
		}
		class.OutputPortClasses = append(class.OutputPortClasses, &PortClass{
			Name:      PublishedInputTriggerName,
			Direction: Output,
			Kind:      TriggerPort,
		})

		node := NewNode(class, "PublishedInputs")
		node.synthesized = true
		c.publishedInputsNode = node
		c.Nodes = append(c.Nodes, node)

		for _, pp := range c.PublishedInputs {
			from := node.OutputPort(pp.Name)
			for _, to := range pp.ConnectedPorts {
				c.Cables = append(c.Cables, &Cable{From: from, To: to})
			}
		}
	}

	if c.publishedOutputsNode == nil && (len(c.PublishedOutputs) > 0 || c.Subcomposition) {
		class := &NodeClass{
			Name:   PublishedOutputsClassName,
			Title:  "PublishedOutputs",
			Module: noopModule(PublishedOutputsClassName),
		}
		for _, pp := range c.PublishedOutputs {
			kind := DataAndEvent
			if pp.Type == nil {
				kind = EventOnly
			}
			class.InputPortClasses = append(class.InputPortClasses, &PortClass{
				Name:      pp.Name,
				Direction: Input,
				Kind:      kind,
				Type:      pp.Type,
				Details:   pp.Details,
			})
		}

		node := NewNode(class, "PublishedOutputs")
		node.synthesized = true
		c.publishedOutputsNode = node
		c.Nodes = append(c.Nodes, node)

		for _, pp := range c.PublishedOutputs {
			to := node.InputPort(pp.Name)
			for _, from := range pp.ConnectedPorts {
				c.Cables = append(c.Cables, &Cable{From: from, To: to})
			}
		}
	}
}

// noopModule builds a module descriptor for the hidden published-port
// node classes. Their event function does nothing; transmission through
// their port contexts is generated separately.
func noopModule(key string) *ModuleDescriptor {
	return &ModuleDescriptor{
		Key:     key,
		Globals: map[string]any{},
		Functions: map[string]*FunctionDescriptor{
			FuncNodeEvent: {
				Name: FuncNodeEvent,
				Impl: func() {},
			},
		},
	}
}

// DuplicateIdentifierError reports two nodes colliding on the same graph
// identifier.
type DuplicateIdentifierError struct {
	Identifier string
	TitleA     string
	TitleB     string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("duplicate node identifier %q (nodes %q and %q)",
		e.Identifier, e.TitleA, e.TitleB)
}

// assignIdentifiers derives each node's graph identifier from its title,
// appending a numeric suffix on collision. Explicitly set identifiers are
// kept; a collision among them is an error.
func (c *Composition) assignIdentifiers() error {
	taken := make(map[string]*Node)
	for _, n := range c.Nodes {
		if n.identifier == "" {
			continue
		}
		if other, ok := taken[n.identifier]; ok {
			return &DuplicateIdentifierError{Identifier: n.identifier, TitleA: other.Title, TitleB: n.Title}
		}
		taken[n.identifier] = n
	}

	for _, n := range c.Nodes {
		if n.identifier != "" {
			continue
		}
		base := DeriveGraphIdentifier(n.Title)
		id := base
		for suffix := 2; ; suffix++ {
			if _, ok := taken[id]; !ok {
				break
			}
			id = base + strconv.Itoa(suffix)
		}
		n.identifier = id
		taken[id] = n
	}
	return nil
}

func (c *Composition) validate() error {
	nodeSet := make(map[*Node]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		nodeSet[n] = true
	}

	for _, cable := range c.Cables {
		if cable.From == nil || cable.To == nil {
			return fmt.Errorf("cable with missing endpoint")
		}
		if !nodeSet[cable.From.Node] {
			return fmt.Errorf("cable from %s references a node outside the composition", cable.From.Name())
		}
		if !nodeSet[cable.To.Node] {
			return fmt.Errorf("cable to %s references a node outside the composition", cable.To.Name())
		}
		if cable.From.Class.Direction != Output && !cable.From.IsTrigger() {
			return fmt.Errorf("cable source %s is not an output port", cable.From.Identifier())
		}
		if cable.To.Class.Direction != Input {
			return fmt.Errorf("cable destination %s is not an input port", cable.To.Identifier())
		}
		if cable.CarriesData() && cable.From.Class.Type != cable.To.Class.Type {
			return fmt.Errorf("cable %s -> %s connects mismatched data types %s and %s",
				cable.From.Identifier(), cable.To.Identifier(),
				cable.From.Class.Type.Name, cable.To.Class.Type.Name)
		}
	}
	return nil
}

// CablesFrom returns all cables whose source is the given port, in a
// stable order.
func (c *Composition) CablesFrom(port *Port) []*Cable {
	var cables []*Cable
	for _, cable := range c.Cables {
		if cable.From == port {
			cables = append(cables, cable)
		}
	}
	sort.SliceStable(cables, func(i, j int) bool {
		return cables[i].To.Identifier() < cables[j].To.Identifier()
	})
	return cables
}

// CablesTo returns all cables whose destination is the given port.
func (c *Composition) CablesTo(port *Port) []*Cable {
	var cables []*Cable
	for _, cable := range c.Cables {
		if cable.To == port {
			cables = append(cables, cable)
		}
	}
	return cables
}

// NodeForIdentifier returns the node with the given graph identifier, or
// nil.
func (c *Composition) NodeForIdentifier(id string) *Node {
	for _, n := range c.Nodes {
		if n.identifier == id {
			return n
		}
	}
	return nil
}
