// Package compiler lowers a composition into an executable module: it
// orders nodes globally, sizes lock sets, and generates the trigger
// schedulers, trigger workers, chain workers, and control entry points
// that drive the runtime.
package compiler

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/composition"
	"github.com/patchwork-dev/patchwork/composition/graph"
	"github.com/patchwork-dev/patchwork/runtime"
	"github.com/patchwork-dev/patchwork/runtime/dispatch"
)

// Options configure one code generation pass.
type Options struct {
	// ModuleKey prefixes generated symbols. Defaults to a transcoded form
	// of the composition name.
	ModuleKey string

	// TopLevel compiles the composition to run standalone. False
	// compiles it as a subcomposition node class.
	TopLevel bool

	Logger *logger.Logger
}

// Generator is the composition compiler. It is single-threaded and lives
// for one Generate call.
type Generator struct {
	comp  *composition.Composition
	graph *graph.Graph
	log   *logger.Logger

	moduleKey  string
	isTopLevel bool

	constants *ConstantsCache
	module    *Module

	nodeModels   map[*composition.Node]*NodeModel
	orderedNodes []*NodeModel

	orderedTypes []*TypeAdapter
	adapters     map[*composition.DataType]*TypeAdapter

	triggers       []*triggerModel
	triggerForPort map[*composition.Port]*triggerModel

	// downstreamForTrigger is each trigger's downstream nodes in the
	// per-trigger topological order (trigger's own node first).
	downstreamForTrigger map[*composition.Port][]*composition.Node

	// publishedOutputIndexByPort maps ports on the published outputs
	// node to their published-output index.
	publishedOutputIndexByPort map[*composition.Port]int

	issues *IssueList
}

// NewGenerator analyzes the composition and prepares a generator.
func NewGenerator(comp *composition.Composition, opts Options) (*Generator, error) {
	gr, err := graph.New(comp)
	if err != nil {
		kind := MetadataParseFailure
		var dup *composition.DuplicateIdentifierError
		if errors.As(err, &dup) {
			kind = DuplicateIdentifier
		}
		issues := &IssueList{}
		issues.Append(newIssue(kind, "Unsupported composition layout", "%v", err))
		return nil, issues
	}

	key := opts.ModuleKey
	if key == "" {
		key = composition.TranscodeToIdentifier(comp.Name)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Generator{
		comp:                       comp,
		graph:                      gr,
		log:                        log,
		moduleKey:                  key,
		isTopLevel:                 opts.TopLevel,
		constants:                  NewConstantsCache(key),
		nodeModels:                 make(map[*composition.Node]*NodeModel),
		adapters:                   make(map[*composition.DataType]*TypeAdapter),
		triggerForPort:             make(map[*composition.Port]*triggerModel),
		downstreamForTrigger:       make(map[*composition.Port][]*composition.Node),
		publishedOutputIndexByPort: make(map[*composition.Port]int),
		issues:                     &IssueList{},
	}, nil
}

// Generate runs the pass. On failure the issue list is returned as the
// error and no module is produced.
func (g *Generator) Generate() (*Module, error) {
	g.module = &Module{
		Key:      g.moduleKey,
		Name:     g.comp.Name,
		TopLevel: g.isTopLevel,
	}

	g.makeOrderedTypes()
	if g.issues.HasErrors() {
		return nil, g.issues
	}

	ordered := g.makeOrderedNodes()

	for i, node := range ordered {
		nm, issue := g.newNodeModel(node, uint64(i))
		if issue != nil {
			g.issues.Append(issue)
			return nil, g.issues
		}
		g.nodeModels[node] = nm
		g.orderedNodes = append(g.orderedNodes, nm)
		if nm.node.Class.Stateful || nm.node.Class.InstanceDataType != nil {
			g.module.Stateful = true
		}
	}
	g.module.nodeCount = len(g.orderedNodes)

	if outNode := g.comp.PublishedOutputsNode(); outNode != nil {
		for i, pp := range g.comp.PublishedOutputs {
			g.publishedOutputIndexByPort[outNode.InputPort(pp.Name)] = i
		}
	}
	for _, pp := range g.comp.PublishedInputs {
		g.module.publishedInputNames = append(g.module.publishedInputNames, pp.Name)
	}
	for _, pp := range g.comp.PublishedOutputs {
		g.module.publishedOutputNames = append(g.module.publishedOutputNames, pp.Name)
	}

	if issue := g.makeTriggers(); issue != nil {
		g.issues.Append(issue)
		return nil, g.issues
	}

	g.emitInternalFunctions()
	g.emitEntryPoints()
	if issue := g.emitMetadata(); issue != nil {
		g.issues.Append(issue)
		return nil, g.issues
	}

	if g.issues.HasErrors() {
		return nil, g.issues
	}

	for _, c := range g.constants.strings {
		g.module.StringConstants = append(g.module.StringConstants, c)
	}
	for _, c := range g.constants.arrays {
		g.module.ArrayConstants = append(g.module.ArrayConstants, c)
	}
	if g.isTopLevel {
		g.module.TopLevelCompositionIdentifier = composition.TopLevelCompositionIdentifier
	}

	return g.module, nil
}

// makeOrderedTypes assigns each data type used by any port a dense index
// in the module's ordered type list.
func (g *Generator) makeOrderedTypes() {
	for _, node := range g.graph.Nodes() {
		for _, port := range node.Ports() {
			t := port.Class.Type
			if t == nil {
				continue
			}
			if _, ok := g.adapters[t]; ok {
				continue
			}
			adapter, err := newTypeAdapter(t, len(g.orderedTypes))
			if err != nil {
				g.issues.Append(newIssue(MetadataParseFailure, "Unsupported composition layout",
					"%v", err))
				return
			}
			g.adapters[t] = adapter
			g.orderedTypes = append(g.orderedTypes, adapter)
		}
	}
}

func (g *Generator) adapterForType(t *composition.DataType) (*TypeAdapter, *Issue) {
	adapter, ok := g.adapters[t]
	if !ok {
		return nil, newIssue(InternalError, "Unsupported composition layout",
			"data type %s missing from the ordered type list", t.Name)
	}
	return adapter, nil
}

// makeOrderedNodes computes the global node order. Per-trigger
// downstream orders are merged in one after another, each embedding as a
// subsequence where the nodes already placed allow it; nodes already
// placed are never moved. Triggers with more downstream nodes are merged
// first so their serial waits are more likely to remain linear.
func (g *Generator) makeOrderedNodes() []*composition.Node {
	// For each trigger, put its downstream nodes into topological order.
	for _, t := range g.graph.TriggerPorts() {
		chains := g.graph.ChainsForTrigger(t)

		lastNodeInLoop := make(map[*composition.Node]bool)
		var chainNodeLists [][]*composition.Node
		for _, c := range chains {
			if c.LastNodeInLoop {
				lastNodeInLoop[c.Nodes[0]] = true
			} else {
				chainNodeLists = append(chainNodeLists, c.Nodes)
			}
		}

		sort.SliceStable(chainNodeLists, func(i, j int) bool {
			return g.chainLess(t, chainNodeLists[i], chainNodeLists[j], lastNodeInLoop)
		})

		triggerNode := t.Node
		orderedNodeList := []*composition.Node{triggerNode}
		for _, list := range chainNodeLists {
			for _, n := range list {
				if n != triggerNode {
					orderedNodeList = append(orderedNodeList, n)
				}
			}
		}
		g.downstreamForTrigger[t] = orderedNodeList
	}

	var orderedNodesPerTrigger [][]*composition.Node
	for _, t := range g.graph.TriggerPorts() {
		orderedNodesPerTrigger = append(orderedNodesPerTrigger, g.downstreamForTrigger[t])
	}

	// Nodes that can transmit without an event contribute their own
	// subsequences.
	for _, node := range g.graph.Nodes() {
		if g.graph.MayTransmitDataOnly(node) {
			seq := []*composition.Node{node}
			seq = append(seq, g.graph.NodesDownstreamViaDataOnlyTransmission(node)...)
			orderedNodesPerTrigger = append(orderedNodesPerTrigger, seq)
		}
	}

	// Ascending order of downstream count, ties alphabetical, so the
	// reverse iteration below visits the largest first.
	sort.SliceStable(orderedNodesPerTrigger, func(i, j int) bool {
		a, b := orderedNodesPerTrigger[i], orderedNodesPerTrigger[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return joinIdentifiers(a) < joinIdentifiers(b)
	})

	// Merge each trigger's order into the global order so it embeds as a
	// subsequence.
	var orderedNodes []*composition.Node
	indexOf := func(n *composition.Node) int {
		for i, m := range orderedNodes {
			if m == n {
				return i
			}
		}
		return -1
	}

	previousTriggerNodeIndex := -1
	for i := len(orderedNodesPerTrigger) - 1; i >= 0; i-- {
		previousNodeIndex := previousTriggerNodeIndex
		isFirstNode := true
		for _, node := range orderedNodesPerTrigger[i] {
			pos := indexOf(node)
			if pos < 0 {
				pos = previousNodeIndex + 1
				orderedNodes = append(orderedNodes, nil)
				copy(orderedNodes[pos+1:], orderedNodes[pos:])
				orderedNodes[pos] = node
			}
			if pos > previousNodeIndex {
				previousNodeIndex = pos
			}
			if isFirstNode {
				previousTriggerNodeIndex = previousNodeIndex
				isFirstNode = false
			}
		}
	}

	// Any remaining nodes go at the end.
	for _, node := range g.graph.Nodes() {
		if indexOf(node) < 0 {
			orderedNodes = append(orderedNodes, node)
		}
	}

	return orderedNodes
}

// chainLess is the chain ordering comparator: a chain precedes another
// when its tail is upstream of the other's head; when both orderings hold
// (a loop), the chain beginning with the loop-closing node goes last.
// Ties break by the largest downstream count among trigger ports
// contained in either chain, then alphabetically.
func (g *Generator) chainLess(t *composition.Port, c1, c2 []*composition.Node,
	lastNodeInLoop map[*composition.Node]bool) bool {

	downstreamContains := func(from, target *composition.Node) bool {
		for _, n := range g.graph.NodesDownstreamOfNode(from, t) {
			if n == target {
				return true
			}
		}
		return false
	}

	oneBeforeTwo := downstreamContains(c1[len(c1)-1], c2[0])
	twoBeforeOne := downstreamContains(c2[len(c2)-1], c1[0])

	if oneBeforeTwo != twoBeforeOne {
		return oneBeforeTwo
	}
	if oneBeforeTwo && twoBeforeOne {
		if lastNodeInLoop[c1[0]] {
			return false
		}
		if lastNodeInLoop[c2[0]] {
			return true
		}
	}

	maxDownstream := func(nodes []*composition.Node) int {
		max := 0
		for _, n := range nodes {
			for _, trigger := range n.TriggerPorts() {
				if count := len(g.graph.NodesDownstream(trigger)); count > max {
					max = count
				}
			}
		}
		return max
	}
	m1, m2 := maxDownstream(c1), maxDownstream(c2)
	if m1 != m2 {
		return m1 > m2
	}

	return c1[0].Identifier() < c2[0].Identifier()
}

func joinIdentifiers(nodes []*composition.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.Identifier())
		b.WriteString(" ")
	}
	return b.String()
}

// sortNodeModels orders the given nodes by their global index.
func (g *Generator) sortNodeModels(models []*NodeModel) {
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Index < models[j].Index
	})
}

func (g *Generator) modelsFor(nodes []*composition.Node) []*NodeModel {
	models := make([]*NodeModel, 0, len(nodes))
	for _, n := range nodes {
		models = append(models, g.nodeModels[n])
	}
	g.sortNodeModels(models)
	return models
}

// nodesToWaitOnBeforeTransmission returns a trigger's wait set: either
// the nodes immediately downstream plus the trigger's own node, or the
// full downstream set when (a) the trigger has a scatter partially
// overlapped by another trigger, (b) the trigger overlaps a reachable
// spin-off trigger, or (c) the natural wait order contradicts the global
// order.
func (g *Generator) nodesToWaitOnBeforeTransmission(t *composition.Port) []*NodeModel {
	hasScatterOverlap := g.graph.HasScatterPartiallyOverlappedByAnotherTrigger(t)
	hasSpinOffOverlap := g.graph.HasOverlapWithSpinOff(t)

	downstream := g.downstreamForTrigger[t]
	sorted := g.modelsFor(downstream)
	outOfOrder := false
	for i, n := range downstream {
		if sorted[i].node != n {
			outOfOrder = true
			break
		}
	}

	if hasScatterOverlap || hasSpinOffOverlap || outOfOrder {
		return sorted
	}

	nodes := g.graph.NodesImmediatelyDownstream(t)
	models := g.modelsFor(nodes)
	triggerNode := g.nodeModels[t.Node]
	found := false
	for _, m := range models {
		if m == triggerNode {
			found = true
			break
		}
	}
	if !found {
		models = append(models, triggerNode)
		g.sortNodeModels(models)
	}
	return models
}

// nodesToWaitOnBeforeTransmissionFromNode returns the wait set for
// transmitting an event from node n under trigger t.
func (g *Generator) nodesToWaitOnBeforeTransmissionFromNode(t *composition.Port, n *composition.Node) []*NodeModel {
	if g.graph.HasScatterPartiallyOverlappedByAnotherTriggerFromNode(n, t) {
		return g.modelsFor(g.graph.NodesDownstreamOfNode(n, t))
	}
	return g.modelsFor(g.graph.NodesImmediatelyDownstreamOfNode(n, t))
}

// internWaitSet records a wait set's node indices as an interned module
// constant. Wait sets recur across triggers and chain steps; the cache
// collapses them.
func (g *Generator) internWaitSet(models []*NodeModel) *IndexArrayConstant {
	indices := make([]uint64, len(models))
	for i, m := range models {
		indices[i] = m.Index
	}
	return g.constants.GetIndexArray(indices)
}

// makeTriggers builds trigger and chain models and emits their workers.
func (g *Generator) makeTriggers() *Issue {
	for _, port := range g.graph.TriggerPorts() {
		tm, issue := g.newTriggerModel(port)
		if issue != nil {
			return issue
		}
		tm.waitSet = g.nodesToWaitOnBeforeTransmission(port)
		tm.waitSetIndices = g.internWaitSet(tm.waitSet)

		chains := g.graph.ChainsForTrigger(port)
		for i, c := range chains {
			cm := &chainModel{
				g:                 g,
				trigger:           tm,
				index:             i,
				lastInLoop:        c.LastNodeInLoop,
				upstreamIndices:   g.graph.UpstreamChains(port, i),
				downstreamIndices: g.graph.DownstreamChains(port, i),
			}
			for _, n := range c.Nodes {
				step := &chainNodeStep{
					nodeModel:         g.nodeModels[n],
					downstreamWaitSet: g.nodesToWaitOnBeforeTransmissionFromNode(port, n),
					signalAfter:       true,
					claimDownstream:   true,
				}
				step.downstreamWaitSetIndices = g.internWaitSet(step.downstreamWaitSet)
				reentered := g.graph.NodeIsReentered(n, port)
				if reentered && !c.LastNodeInLoop {
					step.signalAfter = false
				}
				if reentered && c.LastNodeInLoop {
					// The loop-closing chain's downstream was already
					// traversed by the forward chains.
					step.claimDownstream = false
				}
				if outNode := g.comp.PublishedOutputsNode(); outNode != nil && n == outNode {
					step.finishesExecutingEvent = true
					if !g.isTopLevel {
						step.signalAfter = false
					}
				}
				cm.steps = append(cm.steps, step)
			}
			tm.chains = append(tm.chains, cm)
		}

		// Designated scheduler: the upstream chain with the lowest index
		// schedules each downstream chain.
		for _, cm := range tm.chains {
			for _, di := range cm.downstreamIndices {
				down := tm.chains[di]
				if len(down.upstreamIndices) > 0 && minInt(down.upstreamIndices) == cm.index {
					cm.scheduledDownstream = append(cm.scheduledDownstream, down)
				}
			}
		}
		// A loop-closing chain is upstream-blocked on every other chain
		// but sits downstream of none of their tails; its designated
		// scheduler is its lowest upstream chain.
		for _, cm := range tm.chains {
			if !cm.lastInLoop || len(cm.upstreamIndices) == 0 {
				continue
			}
			scheduler := tm.chains[minInt(cm.upstreamIndices)]
			already := false
			for _, d := range scheduler.scheduledDownstream {
				if d == cm {
					already = true
					break
				}
			}
			if !already {
				scheduler.scheduledDownstream = append(scheduler.scheduledDownstream, cm)
			}
		}

		for _, cm := range tm.chains {
			cm.emitWorker()
		}
		tm.emitWorker()

		g.triggers = append(g.triggers, tm)
		g.triggerForPort[port] = tm
	}
	return nil
}

func minInt(values []int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// newTriggerQueue creates the serial dispatch queue for a trigger port.
func (g *Generator) newTriggerQueue(port *composition.Port) *dispatch.SerialQueue {
	return dispatch.NewSerialQueue(triggerQueuePrefix + port.Identifier())
}

func newTriggerSemaphore() *dispatch.Semaphore {
	return dispatch.NewSemaphore(1)
}

// waitForNodeModels claims each node's semaphore in global order on
// behalf of the event. The non-blocking variant unwinds previously
// acquired locks on failure and reports false.
func (g *Generator) waitForNodeModels(cs *runtime.CompositionState, models []*NodeModel,
	eventID uint64, shouldBlock bool) bool {

	waitForNode := g.module.CompositionWaitForNode
	if shouldBlock {
		for _, m := range models {
			waitForNode(cs, m.Index, eventID, true)
		}
		return true
	}

	for i, m := range models {
		if !waitForNode(cs, m.Index, eventID, false) {
			for j := i - 1; j >= 0; j-- {
				g.signalNodeModels(cs, []*NodeModel{models[j]})
			}
			return false
		}
	}
	return true
}

// signalNodeModels releases each node's semaphore.
func (g *Generator) signalNodeModels(cs *runtime.CompositionState, models []*NodeModel) {
	for _, m := range models {
		ctx := m.GetContext(cs)
		ctx.SetClaimingEventID(runtime.NoEventID)
		ctx.Semaphore.Signal()
	}
}

// emitInternalFunctions generates the composition-internal surface that
// the entry points and parent compositions call through.
func (g *Generator) emitInternalFunctions() {
	m := g.module

	m.CompositionWaitForNode = func(cs *runtime.CompositionState, nodeIndex uint64, eventID uint64, shouldBlock bool) bool {
		ctx := cs.Runtime.NodeContext(cs, nodeIndex)
		var timeout time.Duration
		if shouldBlock {
			timeout = time.Millisecond
		}
		for ctx.ClaimingEventID() != eventID {
			if ctx.Semaphore.WaitTimeout(timeout) {
				ctx.SetClaimingEventID(eventID)
			} else if !shouldBlock {
				return false
			}
		}
		return true
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionWaitForNode", g.moduleKey), m.CompositionWaitForNode)

	m.CompositionAddNodeMetadata = func(cs *runtime.CompositionState) {
		for _, nm := range g.orderedNodes {
			nm.RegisterMetadata(cs)
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionAddNodeMetadata", g.moduleKey), m.CompositionAddNodeMetadata)

	m.CompositionCreateContextForNode = func(cs *runtime.CompositionState, nodeIndex uint64) *runtime.NodeContext {
		return g.orderedNodes[nodeIndex].CreateContext(cs)
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionCreateContextForNode", g.moduleKey), m.CompositionCreateContextForNode)

	m.CompositionPerformDataOnlyTransmissions = func(cs *runtime.CompositionState) {
		for _, nm := range g.orderedNodes {
			if g.graph.MayTransmitDataOnly(nm.node) {
				g.performDataOnlyTransmissionFromNode(cs, nm)
			}
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionPerformDataOnlyTransmissions", g.moduleKey), m.CompositionPerformDataOnlyTransmissions)

	m.CompositionReleasePortData = func(cs *runtime.CompositionState) {
		for _, nm := range g.orderedNodes {
			nm.releasePortData(cs)
		}
	}
	m.RegisterFunction(composition.PrefixSymbolName("compositionReleasePortData", g.moduleKey), m.CompositionReleasePortData)

	m.TriggerScheduler = func(cs *runtime.CompositionState, portIdentifier string) any {
		for _, tm := range g.triggers {
			if tm.identifier.Value == portIdentifier {
				return tm.MakeScheduler(cs)
			}
		}
		return nil
	}
}

// transmitFromOutputPort pushes one output port's data and event along
// each of its cables. The summary is computed at most once, shared among
// all listeners that requested telemetry.
func (g *Generator) transmitFromOutputPort(cs *runtime.CompositionState, nm *NodeModel,
	pp *portPlan, sendTelemetry bool) {

	st := cs.Runtime
	srcCtx := nm.GetContext(cs)
	srcPort := srcCtx.PortContexts[pp.contextIndex]

	summaryComputed := false
	summary := ""
	lazySummary := func() string {
		if !summaryComputed {
			summaryComputed = true
			if pp.adapter != nil {
				summary = pp.adapter.Summary(srcPort.Data)
			}
		}
		return summary
	}

	var inputUpdates []runtime.PortUpdate
	var publishedUpdates []runtime.PortUpdate

	for _, cable := range g.comp.CablesFrom(pp.port) {
		if cable.DataOnly {
			// Data-only cables move values in the eventless sweeps, not
			// during event transmission.
			continue
		}
		destModel := g.nodeModels[cable.To.Node]
		destPlan := destModel.portPlanFor(cable.To)
		destCtx := destModel.GetContext(cs)
		destPort := destCtx.PortContexts[destPlan.contextIndex]

		carriesData := cable.CarriesData()
		if carriesData {
			old := reflect.New(destPlan.adapter.GoType()).Elem()
			old.Set(destPort.Data)
			destPlan.adapter.Retain(st, srcPort.Data)
			destPort.Data.Set(srcPort.Data)
			destPlan.adapter.Release(st, old)
		}
		if cable.CarriesEvent() {
			destPort.Event = true
			if idx, ok := g.publishedOutputIndexByPort[cable.To]; ok {
				st.CompositionContext(cs).SetOutputEvent(idx, true)
			}
		}

		if sendTelemetry && st.Telemetry().ShouldSendPortDataTelemetry(destPlan.identifier.Value) {
			update := runtime.PortUpdate{
				PortIdentifier: destPlan.identifier.Value,
				ReceivedEvent:  cable.CarriesEvent(),
				ReceivedData:   carriesData,
				Summary:        lazySummary(),
			}
			if _, ok := g.publishedOutputIndexByPort[cable.To]; ok {
				publishedUpdates = append(publishedUpdates, update)
			} else {
				inputUpdates = append(inputUpdates, update)
			}
		}
	}

	if sendTelemetry {
		if st.Telemetry().ShouldSendPortDataTelemetry(pp.identifier.Value) {
			st.Telemetry().Send(runtime.OutputPortsUpdated{
				CompositionID: cs.CompositionIdentifier,
				Ports: []runtime.PortUpdate{{
					PortIdentifier: pp.identifier.Value,
					ReceivedEvent:  true,
					ReceivedData:   pp.adapter != nil,
					Summary:        lazySummary(),
				}},
			})
		}
		if len(inputUpdates) > 0 {
			st.Telemetry().Send(runtime.InputPortsUpdated{
				CompositionID: cs.CompositionIdentifier,
				Ports:         inputUpdates,
			})
		}
		if len(publishedUpdates) > 0 {
			st.Telemetry().Send(runtime.PublishedOutputPortsUpdated{
				CompositionID: cs.CompositionIdentifier,
				Ports:         publishedUpdates,
			})
		}
	}
}

// transmitFromTriggerPort pushes a trigger's event (and data, when it
// carries any) along each of its cables.
func (g *Generator) transmitFromTriggerPort(cs *runtime.CompositionState, tm *triggerModel,
	portCtx *runtime.PortContext) {

	st := cs.Runtime
	pp := tm.portPlan

	summaryComputed := false
	summary := ""
	lazySummary := func() string {
		if !summaryComputed {
			summaryComputed = true
			if pp.adapter != nil {
				summary = pp.adapter.Summary(portCtx.Data)
			}
		}
		return summary
	}

	var inputUpdates []runtime.PortUpdate

	for _, cable := range g.comp.CablesFrom(pp.port) {
		if cable.DataOnly {
			continue
		}
		destModel := g.nodeModels[cable.To.Node]
		destPlan := destModel.portPlanFor(cable.To)
		destCtx := destModel.GetContext(cs)
		destPort := destCtx.PortContexts[destPlan.contextIndex]

		carriesData := cable.CarriesData()
		if carriesData {
			old := reflect.New(destPlan.adapter.GoType()).Elem()
			old.Set(destPort.Data)
			destPlan.adapter.Retain(st, portCtx.Data)
			destPort.Data.Set(portCtx.Data)
			destPlan.adapter.Release(st, old)
		}
		if cable.CarriesEvent() {
			destPort.Event = true
			if idx, ok := g.publishedOutputIndexByPort[cable.To]; ok {
				st.CompositionContext(cs).SetOutputEvent(idx, true)
			}
		}

		if st.Telemetry().ShouldSendPortDataTelemetry(destPlan.identifier.Value) {
			inputUpdates = append(inputUpdates, runtime.PortUpdate{
				PortIdentifier: destPlan.identifier.Value,
				ReceivedEvent:  cable.CarriesEvent(),
				ReceivedData:   carriesData,
				Summary:        lazySummary(),
			})
		}
	}

	if len(inputUpdates) > 0 {
		st.Telemetry().Send(runtime.InputPortsUpdated{
			CompositionID: cs.CompositionIdentifier,
			Ports:         inputUpdates,
		})
	}
}

// sendTriggerPortUpdated reports the trigger port's own value change.
func (g *Generator) sendTriggerPortUpdated(cs *runtime.CompositionState, tm *triggerModel,
	portCtx *runtime.PortContext) {

	st := cs.Runtime
	if !st.Telemetry().ShouldSendPortDataTelemetry(tm.identifier.Value) {
		return
	}
	summary := ""
	if tm.portPlan.adapter != nil {
		summary = tm.portPlan.adapter.Summary(portCtx.Data)
	}
	st.Telemetry().Send(runtime.OutputPortsUpdated{
		CompositionID: cs.CompositionIdentifier,
		Ports: []runtime.PortUpdate{{
			PortIdentifier: tm.identifier.Value,
			ReceivedEvent:  true,
			ReceivedData:   tm.portPlan.adapter != nil,
			Summary:        summary,
		}},
	})
}

// performDataOnlyTransmissionFromNode pushes the node's current data
// along its data-only cables, then visits the data-only reachable set in
// global order: each visited node executes with all input events raised,
// pushes its own data onward, and has its flags reset. No telemetry.
func (g *Generator) performDataOnlyTransmissionFromNode(cs *runtime.CompositionState, nm *NodeModel) {
	st := cs.Runtime

	pushDataOnly := func(model *NodeModel) {
		ctx := model.GetContext(cs)
		for _, pp := range model.ports {
			if pp.port.Class.Direction != composition.Output || pp.adapter == nil {
				continue
			}
			for _, cable := range g.comp.CablesFrom(pp.port) {
				if !cable.DataOnly || !cable.CarriesData() {
					continue
				}
				destModel := g.nodeModels[cable.To.Node]
				destPlan := destModel.portPlanFor(cable.To)
				destPort := destModel.GetContext(cs).PortContexts[destPlan.contextIndex]

				old := reflect.New(destPlan.adapter.GoType()).Elem()
				old.Set(destPort.Data)
				destPlan.adapter.Retain(st, ctx.PortContexts[pp.contextIndex].Data)
				destPort.Data.Set(ctx.PortContexts[pp.contextIndex].Data)
				destPlan.adapter.Release(st, old)
			}
		}
	}

	pushDataOnly(nm)

	downstream := g.modelsFor(g.graph.NodesDownstreamViaDataOnlyTransmission(nm.node))
	for _, model := range downstream {
		ctx := model.GetContext(cs)
		for _, pp := range model.ports {
			if pp.port.Class.Direction == composition.Input {
				ctx.PortContexts[pp.contextIndex].Event = true
			}
		}
		model.Call(EntryEvent, cs)
		pushDataOnly(model)
		model.clearEventFlags(cs)
	}
}
