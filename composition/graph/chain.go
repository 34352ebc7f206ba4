package graph

import (
	"fmt"
	"sort"

	"github.com/patchwork-dev/patchwork/composition"
)

// buildChains partitions a trigger's downstream subgraph into chains:
// maximal runs of nodes that can execute as one serial unit. A node
// starts a new chain when it is entered by the trigger directly, by more
// than one upstream node (a gather), or by an upstream node that
// scatters. Each node re-entered by a back edge contributes one
// single-node chain flagged LastNodeInLoop.
func (g *Graph) buildChains(t *composition.Port, forward, back map[*composition.Node][]*composition.Node) ([]*Chain, error) {
	downstream := g.triggerDownstream[t]
	if len(downstream) == 0 {
		return nil, nil
	}

	inSubgraph := make(map[*composition.Node]bool, len(downstream))
	for _, n := range downstream {
		inSubgraph[n] = true
	}

	// Count forward in-edges within the subgraph. Entries from the
	// trigger port itself also count as in-edges.
	inDegree := make(map[*composition.Node]int)
	for _, n := range g.triggerImmediate[t] {
		inDegree[n]++
	}
	for from, targets := range forward {
		if !inSubgraph[from] {
			continue
		}
		for _, to := range targets {
			inDegree[to]++
		}
	}

	// A node starts a chain when the trigger enters it directly, when
	// several upstream nodes gather into it, or when its single upstream
	// scatters.
	isChainStart := func(n *composition.Node) bool {
		if g.isTriggerEntry(t, n) {
			return true
		}
		if inDegree[n] != 1 {
			return true
		}
		for _, targets := range forward {
			if len(targets) > 1 {
				for _, to := range targets {
					if to == n {
						return true
					}
				}
			}
		}
		return false
	}

	var chains []*Chain
	assigned := make(map[*composition.Node]bool)

	var starts []*composition.Node
	for _, n := range downstream {
		if isChainStart(n) {
			starts = appendUniqueNode(starts, n)
		}
	}
	// Stable order for determinism.
	sort.SliceStable(starts, func(i, j int) bool {
		return starts[i].Identifier() < starts[j].Identifier()
	})

	for _, start := range starts {
		if assigned[start] {
			continue
		}
		chain := &Chain{}
		current := start
		for {
			chain.Nodes = append(chain.Nodes, current)
			assigned[current] = true

			next := forward[current]
			if len(next) != 1 {
				break
			}
			succ := next[0]
			if assigned[succ] || inDegree[succ] != 1 || g.isTriggerEntry(t, succ) {
				break
			}
			current = succ
		}
		chains = append(chains, chain)
	}

	// Any subgraph node not yet assigned (can happen when every in-edge
	// of a region is part of a gather already consumed) becomes its own
	// chain, preserving identifier order.
	var leftovers []*composition.Node
	for _, n := range downstream {
		if !assigned[n] {
			leftovers = append(leftovers, n)
		}
	}
	sort.SliceStable(leftovers, func(i, j int) bool {
		return leftovers[i].Identifier() < leftovers[j].Identifier()
	})
	for _, n := range leftovers {
		assigned[n] = true
		chains = append(chains, &Chain{Nodes: []*composition.Node{n}})
	}

	// One last-in-loop chain per node that a back edge re-enters.
	var loopTargets []*composition.Node
	for _, targets := range back {
		for _, v := range targets {
			loopTargets = appendUniqueNode(loopTargets, v)
		}
	}
	sort.SliceStable(loopTargets, func(i, j int) bool {
		return loopTargets[i].Identifier() < loopTargets[j].Identifier()
	})
	for _, v := range loopTargets {
		if !inSubgraph[v] {
			return nil, fmt.Errorf("back edge re-enters node %s outside the trigger's subgraph", v.Identifier())
		}
		chains = append(chains, &Chain{Nodes: []*composition.Node{v}, LastNodeInLoop: true})
	}

	return chains, nil
}

func (g *Graph) isTriggerEntry(t *composition.Port, n *composition.Node) bool {
	for _, m := range g.triggerImmediate[t] {
		if m == n {
			return true
		}
	}
	return false
}

// UpstreamChains returns the indices of chains (within the trigger's
// chain list) whose tail transmits directly into the head of the chain at
// index i.
func (g *Graph) UpstreamChains(t *composition.Port, i int) []int {
	chains := g.chains[t]
	if i < 0 || i >= len(chains) {
		return nil
	}
	target := chains[i]
	head := target.Nodes[0]

	var upstream []int
	for j, c := range chains {
		if j == i {
			continue
		}
		tail := c.Nodes[len(c.Nodes)-1]
		for _, d := range g.NodesImmediatelyDownstreamOfNode(tail, t) {
			if d == head {
				upstream = append(upstream, j)
				break
			}
		}
	}

	// The loop-closing chain runs after every other chain of the trigger.
	if target.LastNodeInLoop {
		for j := range chains {
			if j == i || containsInt(upstream, j) {
				continue
			}
			if !chains[j].LastNodeInLoop {
				upstream = append(upstream, j)
			}
		}
		sort.Ints(upstream)
	}
	return upstream
}

// DownstreamChains returns the indices of chains whose head is
// immediately downstream of the tail of chain i.
func (g *Graph) DownstreamChains(t *composition.Port, i int) []int {
	chains := g.chains[t]
	if i < 0 || i >= len(chains) {
		return nil
	}
	tail := chains[i].Nodes[len(chains[i].Nodes)-1]

	var downstream []int
	for j, c := range chains {
		if j == i {
			continue
		}
		head := c.Nodes[0]
		for _, d := range g.NodesImmediatelyDownstreamOfNode(tail, t) {
			if d == head {
				downstream = append(downstream, j)
				break
			}
		}
	}
	return downstream
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
