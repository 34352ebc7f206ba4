package composition

// RefreshPortName names the implicit event-only input port every node
// carries at port-context index 0. An event into the refresh port executes
// the node without changing any data.
const RefreshPortName = "refresh"

var refreshPortClass = &PortClass{
	Name:      RefreshPortName,
	Direction: Input,
	Kind:      EventOnly,
}

// Node is one node instance in a composition.
type Node struct {
	Title string
	Class *NodeClass

	InputPorts  []*Port // refresh port first
	OutputPorts []*Port

	// identifier is the derived graph identifier, assigned by
	// Composition.Prepare. A non-empty value set beforehand (e.g. parsed
	// from a serialized composition) is kept as-is.
	identifier string

	// synthesized marks the hidden published-port nodes.
	synthesized bool
}

// NewNode instantiates a node of the given class.
func NewNode(class *NodeClass, title string) *Node {
	if title == "" {
		title = class.Title
	}
	n := &Node{Title: title, Class: class}

	n.InputPorts = append(n.InputPorts, &Port{Class: refreshPortClass, Node: n})
	for _, pc := range class.InputPortClasses {
		n.InputPorts = append(n.InputPorts, &Port{Class: pc, Node: n})
	}
	for _, pc := range class.OutputPortClasses {
		n.OutputPorts = append(n.OutputPorts, &Port{Class: pc, Node: n})
	}

	for i, p := range n.Ports() {
		p.IndexInPortContexts = i
	}
	return n
}

// SetIdentifier overrides the derived graph identifier.
func (n *Node) SetIdentifier(id string) { n.identifier = id }

// Identifier returns the node's graph identifier. Empty before
// Composition.Prepare unless set explicitly.
func (n *Node) Identifier() string { return n.identifier }

// Ports returns all ports in port-context order: inputs then outputs.
func (n *Node) Ports() []*Port {
	ports := make([]*Port, 0, len(n.InputPorts)+len(n.OutputPorts))
	ports = append(ports, n.InputPorts...)
	ports = append(ports, n.OutputPorts...)
	return ports
}

// InputPort returns the named input port, or nil.
func (n *Node) InputPort(name string) *Port {
	for _, p := range n.InputPorts {
		if p.Class.Name == name {
			return p
		}
	}
	return nil
}

// OutputPort returns the named output port, or nil.
func (n *Node) OutputPort(name string) *Port {
	for _, p := range n.OutputPorts {
		if p.Class.Name == name {
			return p
		}
	}
	return nil
}

// RefreshPort returns the implicit refresh input port.
func (n *Node) RefreshPort() *Port {
	return n.InputPorts[0]
}

// TriggerPorts returns the node's output trigger ports.
func (n *Node) TriggerPorts() []*Port {
	var triggers []*Port
	for _, p := range n.OutputPorts {
		if p.IsTrigger() {
			triggers = append(triggers, p)
		}
	}
	return triggers
}

// IsSynthesized reports whether this is a hidden published-port node.
func (n *Node) IsSynthesized() bool { return n.synthesized }
