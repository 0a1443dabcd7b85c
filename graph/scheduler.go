package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/workflow-engine/graph/store"
)

// Scheduler drives one workflow execution: readiness-driven traversal with
// skip propagation, cycle/iteration guards, resume support and recursive
// subflow execution. Each top-level Execute call uses a
// fresh Scheduler instance; Stop cancels whichever run is in flight.
type Scheduler struct {
	Registry     *Registry
	LLM          ChatModel
	TokenCounter TokenCounter
	Compaction   *CompactionConfig
	Tools        map[string]ToolHandler
	ToolSpecs    map[string]ToolSpec
	Memory       MemoryAdapter
	SubflowReg   SubflowRegistry
	HITL         HITLCallback
	HITLCoord    *HITLCoordinator // optional: tracks outstanding HITL requests for the hitl_pending gauge
	DefaultModel string
	RunStore     store.RunStore     // optional: persists run progress for resume
	Metrics      *PrometheusMetrics // optional: per-node latency and retry counters
	Cost         *CostTracker       // optional: per-call USD cost accounting

	MaxIterationsFactor int // multiplier on |nodes| for maxIterations, default 3
	MaxNodeExecutions   int // per-node circuit breaker, default 100

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// Execute runs wf against input from its start node to completion. It never panics or returns an unrecovered error from a
// workflow failure: all failures are reported via the returned
// ExecutionResult with Success=false.
func (s *Scheduler) Execute(ctx context.Context, wf *Workflow, input string, callbacks Callbacks, opts *ExecuteOptions) (*ExecutionResult, error) {
	start := time.Now()
	if callbacks == nil {
		callbacks = DefaultCallbacks{}
	}
	if s.Cost != nil {
		callbacks = &costCallbacks{Callbacks: callbacks, cost: s.Cost}
	}
	if s.Metrics != nil {
		callbacks = &metricsCallbacks{Callbacks: callbacks, metrics: s.Metrics}
	}
	if opts == nil {
		opts = &ExecuteOptions{}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	g, warnings := BuildGraph(wf)
	if g.StartID == "" {
		se := NewStructuredError(ErrNoStartNode, "", "", 1)
		res := &ExecutionResult{Success: false, Error: se, Duration: time.Since(start)}
		callbacks.OnNodeError("", se)
		return res, nil
	}
	_ = warnings

	if !opts.SkipPreflight {
		if err := s.preflight(g); err != nil {
			se := NewStructuredError(err, "", "", 1)
			callbacks.OnNodeError("", se)
			return &ExecutionResult{Success: false, Error: se, Duration: time.Since(start)}, nil
		}
	}

	sessionID := wf.Meta.Name
	hitlCoord := s.HITLCoord
	if hitlCoord == nil {
		hitlCoord = NewHITLCoordinator()
	}
	ec := &ExecutionContext{
		Input:           input,
		OriginalInput:   input,
		WorkflowName:    wf.Meta.Name,
		SessionID:       sessionID,
		DefaultModel:    s.DefaultModel,
		CurrentInput:    input,
		state:           NewExecutionState(&Session{Messages: []ChatMessage{{Role: RoleUser, Content: input}}}),
		Signal:          runCtx,
		NodePath:        opts.NodePath,
		SubflowDepth:    len(opts.NodePath),
		MaxSubflowDepth: 10,
		Tools:           s.Tools,
		ToolSpecs:       s.ToolSpecs,
		Memory:          s.Memory,
		SubflowReg:      s.SubflowReg,
		HITL:            s.HITL,
		HITLCoord:       hitlCoord,
		Metrics:         s.Metrics,
		TokenCounter:    s.TokenCounter,
		Compaction:      s.Compaction,
		Callbacks:       callbacks,
	}
	if opts.MaxSubflowDepth > 0 {
		ec.MaxSubflowDepth = opts.MaxSubflowDepth
	}

	executed := make(map[string]bool)
	execCount := make(map[string]int)

	ec.executeSubgraph = func(sgCtx context.Context, startNodeID, sgInput string, _ map[string]any) (*SubgraphResult, error) {
		return s.runSubgraph(sgCtx, g, ec, callbacks, executed, execCount, maxNodeExecOrDefault(s.MaxNodeExecutions), startNodeID, sgInput)
	}
	ec.executeWorkflow = func(wfCtx context.Context, childWF *Workflow, wfInput string, childOpts *ExecuteOptions) (*ExecutionResult, error) {
		if childOpts == nil {
			childOpts = &ExecuteOptions{}
		}
		childPath := append(append([]string{}, ec.NodePath...), childOpts.CallingNodeID)
		childScheduler := &Scheduler{
			Registry:            s.Registry,
			LLM:                 s.LLM,
			TokenCounter:        s.TokenCounter,
			Compaction:          s.Compaction,
			Tools:               s.Tools,
			ToolSpecs:           s.ToolSpecs,
			Memory:              s.Memory,
			SubflowReg:          s.SubflowReg,
			HITL:                s.HITL,
			HITLCoord:           hitlCoord,
			DefaultModel:        s.DefaultModel,
			MaxIterationsFactor: s.MaxIterationsFactor,
			MaxNodeExecutions:   s.MaxNodeExecutions,
		}
		scopedCallbacks := scopeCallbacks(callbacks, childPath)
		childResult, err := childScheduler.Execute(wfCtx, childWF, wfInput, scopedCallbacks, &ExecuteOptions{
			MaxSubflowDepth: childOpts.MaxSubflowDepth,
			NodePath:        childPath,
		})
		if err != nil {
			return nil, err
		}
		return childResult, nil
	}
	var executionOrder []string
	startNode := g.StartID

	if opts.ResumeFrom != nil {
		rs := opts.ResumeFrom
		for id, out := range rs.NodeOutputs {
			ec.SetOutput(id, out)
		}
		executionOrder = append(executionOrder, rs.ExecutionOrder...)
		for _, id := range rs.ExecutionOrder {
			if id != rs.StartNodeID {
				executed[id] = true
			}
		}
		if len(rs.SessionMessages) > 0 {
			ec.state.Session.Messages = rs.SessionMessages
		}
		if rs.ResumeInput != "" {
			ec.CurrentInput = rs.ResumeInput
		}
		startNode = rs.StartNodeID
	}

	maxIterFactor := s.MaxIterationsFactor
	if maxIterFactor <= 0 {
		maxIterFactor = 3
	}
	maxIterations := maxIterFactor * len(g.NodeMap)
	if maxIterations <= 0 {
		maxIterations = 1
	}
	maxNodeExec := s.MaxNodeExecutions
	if maxNodeExec <= 0 {
		maxNodeExec = 100
	}

	pending := []string{startNode}
	var lastActive string
	var finalOutput string
	var finalNodeID string

	var runErr *StructuredError
	iterations := 0

runLoop:
	for len(pending) > 0 {
		iterations++
		if iterations > maxIterations {
			runErr = NewStructuredError(ErrMaxIterationsExceeded, "", "", 1)
			break
		}

		var ready, deferred []string
		for _, id := range pending {
			if isReady(g, id, executed) {
				ready = append(ready, id)
			} else {
				deferred = append(deferred, id)
			}
		}
		if len(ready) == 0 {
			if len(deferred) == 0 {
				break
			}
			// Nothing newly ready and nothing in flight: deadlocked graph.
			runErr = NewStructuredError(fmt.Errorf("scheduler stalled: %d nodes blocked on parents that will never complete", len(deferred)), "", "", 1)
			break
		}

		// Dedup ready set, mark executed up-front.
		seen := make(map[string]bool, len(ready))
		var toRun []string
		for _, id := range ready {
			if seen[id] {
				continue
			}
			seen[id] = true
			toRun = append(toRun, id)
			executed[id] = true
		}
		// Fix dispatch order by each node's OrderKey so the recorded
		// ExecutionOrder is identical across replays of the same graph,
		// regardless of which goroutine in the previous wg.Wait() happened
		// to finish first.
		sort.Slice(toRun, func(i, j int) bool {
			return orderKeyFor(g, toRun[i]) < orderKeyFor(g, toRun[j])
		})

		type nodeOutcome struct {
			id        string
			result    ExtensionResult
			err       error
			isLoop    bool
		}
		outcomes := make([]nodeOutcome, len(toRun))
		var wg sync.WaitGroup
		for i, id := range toRun {
			execCount[id]++
			if execCount[id] > maxNodeExec {
				outcomes[i] = nodeOutcome{id: id, err: ErrMaxNodeExecutionsExceeded}
				continue
			}
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				node := g.NodeMap[id]
				res, err := s.runNode(runCtx, node, ec, g, callbacks, nil)
				outcomes[i] = nodeOutcome{id: id, result: res, err: err, isLoop: node.Type == NodeWhileLoop}
			}(i, id)
		}
		wg.Wait()

		var nextPending []string
		for _, oc := range outcomes {
			node := g.NodeMap[oc.id]
			if oc.err != nil {
				runErr = toStructuredError(oc.err, oc.id, node.Type, 1)
				break runLoop
			}

			ec.SetOutput(oc.id, oc.result.Output)
			ec.AppendChain(oc.id)
			executionOrder = append(executionOrder, oc.id)
			lastActive = oc.id
			finalOutput = oc.result.Output
			finalNodeID = oc.id

			if oc.result.EmitAssistant {
				ec.AppendMessage(ChatMessage{Role: RoleAssistant, Content: oc.result.Output})
			}

			nextSet := make(map[string]bool, len(oc.result.NextNodes))
			for _, n := range oc.result.NextNodes {
				nextSet[n] = true
				if n == oc.id {
					delete(executed, n) // loop re-entry
				}
				nextPending = append(nextPending, n)
			}

			if !oc.isLoop {
				for _, child := range g.Children[oc.id] {
					if !nextSet[child.NodeID] {
						propagateSkip(g, child.NodeID, executed, &executionOrder, ec)
					}
				}
			}
		}
		if runErr != nil {
			break
		}

		pending = dedupPending(nextPending, executed)
	}

	if runCtx.Err() != nil && runErr == nil {
		runErr = NewStructuredError(ErrCancelled, "", "", 1)
	}

	result := &ExecutionResult{
		Success:          runErr == nil,
		Output:           finalOutput,
		FinalOutput:      finalOutput,
		FinalNodeID:      finalNodeID,
		ExecutionOrder:   executionOrder,
		LastActiveNodeID: lastActive,
		NodeOutputs:      ec.OutputsSnapshot(),
		SessionMessages:  ec.History(),
		Error:            runErr,
		Duration:         time.Since(start),
	}
	s.persistRun(ctx, sessionID, iterations, finalNodeID, wf.Meta.Name, result, startNode, ec.CurrentInput)

	callbacks.OnComplete(result)
	return result, nil
}

// Stop cancels any in-flight Execute call on this Scheduler instance.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// IsRunning reports whether Execute is currently in flight.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func maxNodeExecOrDefault(v int) int {
	if v <= 0 {
		return 100
	}
	return v
}

// runSubgraph performs the sequential BFS backing ExecutionContext.ExecuteSubgraph:
// startNodeID's parents are pre-marked resolved so the body root is
// immediately ready, then nodes run one at a
// time (never concurrently) following each extension's declared NextNodes
// until the queue drains.
func (s *Scheduler) runSubgraph(
	ctx context.Context,
	g *Graph,
	ec *ExecutionContext,
	callbacks Callbacks,
	outerExecuted map[string]bool,
	execCount map[string]int,
	maxNodeExec int,
	startNodeID, input string,
) (*SubgraphResult, error) {
	localExecuted := make(map[string]bool, len(outerExecuted)+4)
	for k, v := range outerExecuted {
		localExecuted[k] = v
	}
	for _, p := range g.Parents[startNodeID] {
		localExecuted[p] = true
	}

	pending := []string{startNodeID}
	var lastOutput string
	var lastNext []string
	steps := 0
	maxSteps := maxNodeExec * (len(g.NodeMap) + 1)

	for len(pending) > 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		steps++
		if steps > maxSteps {
			return nil, ErrMaxIterationsExceeded
		}

		id := pending[0]
		pending = pending[1:]
		if localExecuted[id] {
			continue
		}
		if !isReady(g, id, localExecuted) {
			pending = append(pending, id) // requeue, waiting on a sibling in this same BFS
			continue
		}

		node := g.NodeMap[id]
		localExecuted[id] = true
		execCount[id]++
		if execCount[id] > maxNodeExec {
			return nil, ErrMaxNodeExecutionsExceeded
		}

		var forced *string
		if id == startNodeID {
			forced = &input
		}
		res, err := s.runNode(ctx, node, ec, g, callbacks, forced)
		if err != nil {
			return nil, err
		}
		ec.SetOutput(id, res.Output)
		ec.AppendChain(id)
		if res.EmitAssistant {
			ec.AppendMessage(ChatMessage{Role: RoleAssistant, Content: res.Output})
		}

		lastOutput = res.Output
		lastNext = res.NextNodes
		pending = append(pending, res.NextNodes...)
	}

	return &SubgraphResult{Output: lastOutput, NextNodes: lastNext}, nil
}

func (s *Scheduler) preflight(g *Graph) error {
	for id, node := range g.NodeMap {
		ext, ok := s.Registry.Get(node.Type)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownExtension, node.Type)
		}
		if err := ext.Validate(node, g); err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
	}
	return nil
}

// runNode executes one node against its own ExecutionContext clone (see
// ForNode): CurrentInput differs per node but Outputs/NodeChain/Session are
// shared through ec's state pointer, so nodes that run concurrently in the
// same scheduler iteration never race on each other's input value.
func (s *Scheduler) runNode(ctx context.Context, node *Node, baseEC *ExecutionContext, g *Graph, callbacks Callbacks, forcedInput *string) (ExtensionResult, error) {
	ext, ok := s.Registry.Get(node.Type)
	if !ok {
		return ExtensionResult{}, fmt.Errorf("%w: %s", ErrUnknownExtension, node.Type)
	}

	var input string
	if forcedInput != nil {
		input = *forcedInput
	} else {
		input = resolveNodeInput(g, node.ID, baseEC)
	}
	ec := baseEC.ForNode(input)

	callbacks.OnNodeStart(node.ID, node.Type)

	errCfg, hitlCfg := extractPolicies(node)
	nodeStart := time.Now()
	res, err := executeWithPolicy(ctx, ext, node, ec, g, errCfg, hitlCfg, ec.HITL, callbacks)
	if s.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.Metrics.RecordStepLatency(baseEC.SessionID, node.ID, time.Since(nodeStart), status)
	}
	if err != nil {
		return ExtensionResult{}, err
	}

	callbacks.OnNodeFinish(node.ID, res.Output)
	return res, nil
}

// resolveNodeInput picks the node's incoming value: the single parent's
// output when there is exactly one, the run's current input for the start
// node or multi-parent merges (callers needing a specific upstream value
// use template interpolation in an Output node instead).
func resolveNodeInput(g *Graph, nodeID string, ec *ExecutionContext) string {
	parents := g.Parents[nodeID]
	if len(parents) == 1 {
		if v, ok := ec.GetOutput(parents[0]); ok {
			return v
		}
	}
	return ec.CurrentInput
}

func extractPolicies(node *Node) (*ErrorHandlingConfig, *HITLConfig) {
	switch node.Type {
	case NodeAgent:
		var d AgentData
		_ = decodeData(node.Data, &d)
		return d.ErrorHandling, d.HITL
	case NodeRouter:
		var d RouterData
		_ = decodeData(node.Data, &d)
		return d.ErrorHandling, d.HITL
	case NodeParallel:
		var d ParallelData
		_ = decodeData(node.Data, &d)
		return d.ErrorHandling, nil
	default:
		return nil, nil
	}
}

// orderKeyFor resolves the ComputeOrderKey input for nodeID: the edge index
// it occupies in its (lexically first, for nodes with multiple parents)
// parent's Children slice. Nodes with no parent (the start node) key off
// their own id at edge index 0, which is still deterministic and stable
// across replays of the same workflow.
func orderKeyFor(g *Graph, nodeID string) uint64 {
	parents := g.Parents[nodeID]
	if len(parents) == 0 {
		return ComputeOrderKey(nodeID, 0)
	}
	parent := parents[0]
	if len(parents) > 1 {
		sorted := append([]string(nil), parents...)
		sort.Strings(sorted)
		parent = sorted[0]
	}
	edgeIndex := 0
	for i, c := range g.Children[parent] {
		if c.NodeID == nodeID {
			edgeIndex = i
			break
		}
	}
	return ComputeOrderKey(parent, edgeIndex)
}

func isReady(g *Graph, nodeID string, executed map[string]bool) bool {
	parents := g.Parents[nodeID]
	if len(parents) == 0 {
		return true
	}
	for _, p := range parents {
		if !executed[p] {
			return false
		}
	}
	return true
}

// propagateSkip marks nodeID (and recursively its children) executed
// without output once all of nodeID's parents have resolved, either by
// executing or by being skipped themselves.
func propagateSkip(g *Graph, nodeID string, executed map[string]bool, order *[]string, ec *ExecutionContext) {
	if executed[nodeID] {
		return
	}
	for _, p := range g.Parents[nodeID] {
		if !executed[p] {
			return
		}
	}
	executed[nodeID] = true
	*order = append(*order, nodeID)
	for _, child := range g.Children[nodeID] {
		propagateSkip(g, child.NodeID, executed, order, ec)
	}
}

func dedupPending(ids []string, executed map[string]bool) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if executed[id] {
			continue // already resolved this iteration (e.g. skip already propagated)
		}
		out = append(out, id)
	}
	return out
}

func toStructuredError(err error, nodeID string, nodeType NodeType, maxAttempts int) *StructuredError {
	var se *StructuredError
	if asStructuredError(err, &se) {
		return se
	}
	return NewStructuredError(err, nodeID, nodeType, maxAttempts)
}

func asStructuredError(err error, target **StructuredError) bool {
	se, ok := err.(*StructuredError)
	if ok {
		*target = se
	}
	return ok
}
