// Package graph precomputes the event-flow analysis the composition
// compiler consumes: trigger ports, per-trigger downstream sets, chains of
// serially executable nodes, data-only transmission reach, and the
// overlap predicates that size lock sets.
package graph

import (
	"fmt"
	"sort"

	"github.com/patchwork-dev/patchwork/composition"
)

// Graph is the analyzed form of one composition. It is immutable after
// New and valid for the life of one code generation.
type Graph struct {
	comp *composition.Composition

	nodes    []*composition.Node
	triggers []*composition.Port

	// edges from each node, within each trigger's subgraph
	downstream        map[*composition.Port]map[*composition.Node][]*composition.Node
	downstreamSets    map[*composition.Port]map[*composition.Node][]*composition.Node
	triggerDownstream map[*composition.Port][]*composition.Node
	triggerImmediate  map[*composition.Port][]*composition.Node
	backEdges         map[*composition.Port]map[*composition.Node][]*composition.Node
	chains            map[*composition.Port][]*Chain
}

// Chain is an ordered run of nodes that executes as one serial unit for a
// given trigger.
type Chain struct {
	Nodes []*composition.Node

	// LastNodeInLoop marks the chain that closes a feedback loop; it must
	// run after all other chains of its trigger.
	LastNodeInLoop bool
}

// New analyzes the prepared composition.
func New(comp *composition.Composition) (*Graph, error) {
	if err := comp.Prepare(); err != nil {
		return nil, err
	}

	g := &Graph{
		comp:              comp,
		nodes:             comp.Nodes,
		downstream:        make(map[*composition.Port]map[*composition.Node][]*composition.Node),
		downstreamSets:    make(map[*composition.Port]map[*composition.Node][]*composition.Node),
		triggerDownstream: make(map[*composition.Port][]*composition.Node),
		triggerImmediate:  make(map[*composition.Port][]*composition.Node),
		backEdges:         make(map[*composition.Port]map[*composition.Node][]*composition.Node),
		chains:            make(map[*composition.Port][]*Chain),
	}

	for _, n := range comp.Nodes {
		for _, p := range n.TriggerPorts() {
			g.triggers = append(g.triggers, p)
		}
	}
	sort.SliceStable(g.triggers, func(i, j int) bool {
		return g.triggers[i].Identifier() < g.triggers[j].Identifier()
	})

	for _, t := range g.triggers {
		if err := g.analyzeTrigger(t); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Composition returns the analyzed composition.
func (g *Graph) Composition() *composition.Composition { return g.comp }

// Nodes returns every node in the composition.
func (g *Graph) Nodes() []*composition.Node { return g.nodes }

// TriggerPorts returns every trigger port, in a stable order.
func (g *Graph) TriggerPorts() []*composition.Port { return g.triggers }

// NodeForTriggerPort returns the node that owns the trigger.
func (g *Graph) NodeForTriggerPort(t *composition.Port) *composition.Node {
	return t.Node
}

// PublishedInputTrigger returns the trigger on the hidden published
// inputs node, or nil.
func (g *Graph) PublishedInputTrigger() *composition.Port {
	return g.comp.PublishedInputTriggerPort()
}

// PublishedOutputNode returns the hidden gather node for published
// outputs, or nil.
func (g *Graph) PublishedOutputNode() *composition.Node {
	return g.comp.PublishedOutputsNode()
}

// triggerSeedCables returns the cables an event out of t enters the
// graph through. The published input trigger carries its event through
// every published input port on its node, not through the trigger port
// itself.
func (g *Graph) triggerSeedCables(t *composition.Port) []*composition.Cable {
	if t != g.comp.PublishedInputTriggerPort() {
		return g.comp.CablesFrom(t)
	}
	var cables []*composition.Cable
	for _, out := range t.Node.OutputPorts {
		if out.IsTrigger() {
			continue
		}
		cables = append(cables, g.comp.CablesFrom(out)...)
	}
	return cables
}

// analyzeTrigger walks the event-carrying cables reachable from t,
// recording forward edges, back edges, immediate and full downstream
// sets, and finally the trigger's chains.
func (g *Graph) analyzeTrigger(t *composition.Port) error {
	forward := make(map[*composition.Node][]*composition.Node)
	back := make(map[*composition.Node][]*composition.Node)

	seeds := g.triggerSeedCables(t)

	// Immediate downstream of the trigger port itself.
	var immediate []*composition.Node
	for _, cable := range seeds {
		if !cable.CarriesEvent() {
			continue
		}
		immediate = appendUniqueNode(immediate, cable.To.Node)
	}
	g.triggerImmediate[t] = immediate

	// Depth-first walk. onPath tracks the current stack so an edge to a
	// node already on the path is classified as a back edge. A node
	// reached only through wall ports executes but doesn't pass the
	// event on, so it lands in the downstream set without expansion.
	visited := make(map[*composition.Node]bool)
	expanded := make(map[*composition.Node]bool)
	onPath := make(map[*composition.Node]bool)

	var visit func(n *composition.Node, arrivedOnWall bool) error
	visit = func(n *composition.Node, arrivedOnWall bool) error {
		visited[n] = true
		if arrivedOnWall {
			// The node executes but the event stops here.
			return nil
		}
		if expanded[n] {
			return nil
		}
		expanded[n] = true
		onPath[n] = true
		defer func() { onPath[n] = false }()

		for _, out := range n.OutputPorts {
			if out.IsTrigger() {
				continue
			}
			for _, cable := range g.comp.CablesFrom(out) {
				if !cable.CarriesEvent() {
					continue
				}
				dest := cable.To.Node
				wall := cable.To.Class.EventBlocking == composition.BlockingWall
				if onPath[dest] {
					back[n] = appendUniqueNode(back[n], dest)
					continue
				}
				forward[n] = appendUniqueNode(forward[n], dest)
				if err := visit(dest, wall); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, cable := range seeds {
		if !cable.CarriesEvent() {
			continue
		}
		wall := cable.To.Class.EventBlocking == composition.BlockingWall
		if err := visit(cable.To.Node, wall); err != nil {
			return err
		}
	}

	g.downstream[t] = forward
	g.backEdges[t] = back

	// Full downstream set of the trigger: every visited node.
	var all []*composition.Node
	for _, n := range g.nodes {
		if visited[n] {
			all = append(all, n)
		}
	}
	g.triggerDownstream[t] = all

	// Per-node full downstream sets within this trigger's subgraph,
	// following both forward and back edges with a visited guard.
	sets := make(map[*composition.Node][]*composition.Node)
	for _, n := range g.nodes {
		if !visited[n] && len(forward[n]) == 0 && len(back[n]) == 0 {
			continue
		}
		seen := make(map[*composition.Node]bool)
		var collect func(m *composition.Node)
		collect = func(m *composition.Node) {
			for _, d := range append(append([]*composition.Node{}, forward[m]...), back[m]...) {
				if !seen[d] {
					seen[d] = true
					collect(d)
				}
			}
		}
		collect(n)
		var list []*composition.Node
		for _, m := range g.nodes {
			if seen[m] {
				list = append(list, m)
			}
		}
		sets[n] = list
	}
	g.downstreamSets[t] = sets

	chains, err := g.buildChains(t, forward, back)
	if err != nil {
		return err
	}
	g.chains[t] = chains
	return nil
}

// NodesDownstream returns every node reachable from the trigger.
func (g *Graph) NodesDownstream(t *composition.Port) []*composition.Node {
	return g.triggerDownstream[t]
}

// NodesImmediatelyDownstream returns the nodes directly connected to the
// trigger port.
func (g *Graph) NodesImmediatelyDownstream(t *composition.Port) []*composition.Node {
	return g.triggerImmediate[t]
}

// NodesDownstreamOfNode returns every node reachable from n within t's
// subgraph, including back-edge targets.
func (g *Graph) NodesDownstreamOfNode(n *composition.Node, t *composition.Port) []*composition.Node {
	return g.downstreamSets[t][n]
}

// NodesImmediatelyDownstreamOfNode returns the nodes n transmits to
// directly within t's subgraph, including back-edge targets.
func (g *Graph) NodesImmediatelyDownstreamOfNode(n *composition.Node, t *composition.Port) []*composition.Node {
	var nodes []*composition.Node
	nodes = append(nodes, g.downstream[t][n]...)
	for _, b := range g.backEdges[t][n] {
		nodes = appendUniqueNode(nodes, b)
	}
	return nodes
}

// ChainsForTrigger returns the trigger's chains. Chains flagged
// LastNodeInLoop close feedback loops.
func (g *Graph) ChainsForTrigger(t *composition.Port) []*Chain {
	return g.chains[t]
}

// ChainCount returns the number of chains fired by the trigger.
func (g *Graph) ChainCount(t *composition.Port) int {
	return len(g.chains[t])
}

// WorkerThreadsNeeded estimates the thread budget for one event from the
// trigger: at least one, at most one per chain that can run concurrently.
func (g *Graph) WorkerThreadsNeeded(t *composition.Port) (min, max int) {
	min = 1
	max = len(g.chains[t])
	if max < 1 {
		max = 1
	}
	return min, max
}

// NodeIsReentered reports whether n is the hub of a feedback loop under
// t, i.e. some back edge re-enters it.
func (g *Graph) NodeIsReentered(n *composition.Node, t *composition.Port) bool {
	for _, targets := range g.backEdges[t] {
		for _, m := range targets {
			if m == n {
				return true
			}
		}
	}
	return false
}

// HasScatterPartiallyOverlappedByAnotherTrigger reports whether t
// scatters somewhere downstream and another trigger's downstream overlaps
// t's. The overlap test is an over-approximation: it checks overlap
// anywhere downstream. Widening the resulting lock set is always safe.
func (g *Graph) HasScatterPartiallyOverlappedByAnotherTrigger(t *composition.Port) bool {
	if !g.triggerScatters(t) {
		return false
	}
	return g.overlappedByAnotherTrigger(t, g.triggerDownstream[t])
}

// HasScatterPartiallyOverlappedByAnotherTriggerFromNode is the per-node
// variant: does n scatter under t, with another trigger overlapping n's
// downstream region.
func (g *Graph) HasScatterPartiallyOverlappedByAnotherTriggerFromNode(n *composition.Node, t *composition.Port) bool {
	if !g.nodeScatters(n, t) {
		return false
	}
	return g.overlappedByAnotherTrigger(t, g.downstreamSets[t][n])
}

// HasOverlapWithSpinOff reports whether a spin-off trigger reachable from
// t shares downstream nodes with t.
func (g *Graph) HasOverlapWithSpinOff(t *composition.Port) bool {
	downstream := g.triggerDownstream[t]
	inDownstream := make(map[*composition.Node]bool, len(downstream))
	for _, n := range downstream {
		inDownstream[n] = true
	}

	for _, n := range downstream {
		if !composition.IsSpinOffClass(n.Class.Name) {
			continue
		}
		for _, spinOffTrigger := range n.TriggerPorts() {
			for _, m := range g.triggerDownstream[spinOffTrigger] {
				if inDownstream[m] {
					return true
				}
			}
		}
	}
	return false
}

func (g *Graph) triggerScatters(t *composition.Port) bool {
	if len(g.triggerImmediate[t]) > 1 {
		return true
	}
	for _, n := range g.triggerDownstream[t] {
		if g.nodeScatters(n, t) {
			return true
		}
	}
	return false
}

func (g *Graph) nodeScatters(n *composition.Node, t *composition.Port) bool {
	return len(g.NodesImmediatelyDownstreamOfNode(n, t)) > 1
}

func (g *Graph) overlappedByAnotherTrigger(t *composition.Port, region []*composition.Node) bool {
	inRegion := make(map[*composition.Node]bool, len(region))
	for _, n := range region {
		inRegion[n] = true
	}
	for _, other := range g.triggers {
		if other == t {
			continue
		}
		for _, n := range g.triggerDownstream[other] {
			if inRegion[n] {
				return true
			}
		}
		if inRegion[other.Node] {
			return true
		}
	}
	return false
}

// MayTransmitDataOnly reports whether the node has outgoing data-only
// cables.
func (g *Graph) MayTransmitDataOnly(n *composition.Node) bool {
	for _, out := range n.OutputPorts {
		for _, cable := range g.comp.CablesFrom(out) {
			if cable.DataOnly {
				return true
			}
		}
	}
	return false
}

// NodesDownstreamViaDataOnlyTransmission returns the nodes reachable from
// n along data-only cables, n excluded.
func (g *Graph) NodesDownstreamViaDataOnlyTransmission(n *composition.Node) []*composition.Node {
	seen := make(map[*composition.Node]bool)
	var walk func(m *composition.Node)
	walk = func(m *composition.Node) {
		for _, out := range m.OutputPorts {
			for _, cable := range g.comp.CablesFrom(out) {
				if !cable.DataOnly {
					continue
				}
				dest := cable.To.Node
				if !seen[dest] {
					seen[dest] = true
					walk(dest)
				}
			}
		}
	}
	walk(n)

	var nodes []*composition.Node
	for _, m := range g.nodes {
		if seen[m] {
			nodes = append(nodes, m)
		}
	}
	return nodes
}

func appendUniqueNode(nodes []*composition.Node, n *composition.Node) []*composition.Node {
	for _, m := range nodes {
		if m == n {
			return nodes
		}
	}
	return append(nodes, n)
}

// PortForIdentifier finds a port by its stable identifier.
func (g *Graph) PortForIdentifier(id string) (*composition.Port, error) {
	for _, n := range g.nodes {
		for _, p := range n.Ports() {
			if p.Identifier() == id {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("no port with identifier %q", id)
}
