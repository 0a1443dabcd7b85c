package graph

import "context"

// Callbacks is the observer interface streamed to during execution. All
// methods are optional: embed DefaultCallbacks to get no-op defaults and
// override only what you need, rather than implementing the whole bundle.
type Callbacks interface {
	OnNodeStart(nodeID string, nodeType NodeType)
	OnNodeFinish(nodeID, output string)
	OnNodeError(nodeID string, err *StructuredError)
	OnToken(nodeID, delta string)
	OnReasoning(nodeID, delta string)
	OnBranchStart(nodeID, branchID string)
	OnBranchToken(nodeID, branchID, delta string)
	OnBranchReasoning(nodeID, branchID, delta string)
	OnBranchComplete(nodeID, branchID, output string)
	OnLoopIteration(nodeID string, iteration, max int)
	OnRouteSelected(nodeID, routeID string)
	OnTokenUsage(nodeID string, usage TokenUsageDetails)
	OnContextCompacted(event CompactionEvent)
	OnHITLRequest(req HITLRequest)
	OnToolCall(nodeID string, call ToolCall)
	OnComplete(result *ExecutionResult)
}

// DefaultCallbacks supplies no-op implementations for every Callbacks
// method; embed it and override only the events you care about.
type DefaultCallbacks struct{}

func (DefaultCallbacks) OnNodeStart(string, NodeType)               {}
func (DefaultCallbacks) OnNodeFinish(string, string)                {}
func (DefaultCallbacks) OnNodeError(string, *StructuredError)       {}
func (DefaultCallbacks) OnToken(string, string)                     {}
func (DefaultCallbacks) OnReasoning(string, string)                 {}
func (DefaultCallbacks) OnBranchStart(string, string)               {}
func (DefaultCallbacks) OnBranchToken(string, string, string)       {}
func (DefaultCallbacks) OnBranchReasoning(string, string, string)   {}
func (DefaultCallbacks) OnBranchComplete(string, string, string)    {}
func (DefaultCallbacks) OnLoopIteration(string, int, int)           {}
func (DefaultCallbacks) OnRouteSelected(string, string)             {}
func (DefaultCallbacks) OnTokenUsage(string, TokenUsageDetails)     {}
func (DefaultCallbacks) OnContextCompacted(CompactionEvent)         {}
func (DefaultCallbacks) OnHITLRequest(HITLRequest)                  {}
func (DefaultCallbacks) OnToolCall(string, ToolCall)                {}
func (DefaultCallbacks) OnComplete(*ExecutionResult)                {}

// subflowCallbacks scopes a parent's callbacks for a nested executeWorkflow
// call by prefixing nodeIds with "sf:<path>|", so parent
// observers can distinguish nested events without the scheduler knowing
// about subflow nesting in its own event types.
type subflowCallbacks struct {
	parent Callbacks
	prefix string
}

func scopeCallbacks(parent Callbacks, nodePath []string) Callbacks {
	if parent == nil || len(nodePath) == 0 {
		return parent
	}
	p := "sf:"
	for i, id := range nodePath {
		if i > 0 {
			p += "/"
		}
		p += id
	}
	return &subflowCallbacks{parent: parent, prefix: p + "|"}
}

func (s *subflowCallbacks) scope(id string) string { return s.prefix + id }

func (s *subflowCallbacks) OnNodeStart(nodeID string, t NodeType) { s.parent.OnNodeStart(s.scope(nodeID), t) }
func (s *subflowCallbacks) OnNodeFinish(nodeID, output string)    { s.parent.OnNodeFinish(s.scope(nodeID), output) }
func (s *subflowCallbacks) OnNodeError(nodeID string, err *StructuredError) {
	s.parent.OnNodeError(s.scope(nodeID), err)
}
func (s *subflowCallbacks) OnToken(nodeID, delta string)     { s.parent.OnToken(s.scope(nodeID), delta) }
func (s *subflowCallbacks) OnReasoning(nodeID, delta string) { s.parent.OnReasoning(s.scope(nodeID), delta) }
func (s *subflowCallbacks) OnBranchStart(nodeID, branchID string) {
	s.parent.OnBranchStart(s.scope(nodeID), branchID)
}
func (s *subflowCallbacks) OnBranchToken(nodeID, branchID, delta string) {
	s.parent.OnBranchToken(s.scope(nodeID), branchID, delta)
}
func (s *subflowCallbacks) OnBranchReasoning(nodeID, branchID, delta string) {
	s.parent.OnBranchReasoning(s.scope(nodeID), branchID, delta)
}
func (s *subflowCallbacks) OnBranchComplete(nodeID, branchID, output string) {
	s.parent.OnBranchComplete(s.scope(nodeID), branchID, output)
}
func (s *subflowCallbacks) OnLoopIteration(nodeID string, i, max int) {
	s.parent.OnLoopIteration(s.scope(nodeID), i, max)
}
func (s *subflowCallbacks) OnRouteSelected(nodeID, routeID string) {
	s.parent.OnRouteSelected(s.scope(nodeID), routeID)
}
func (s *subflowCallbacks) OnTokenUsage(nodeID string, u TokenUsageDetails) {
	s.parent.OnTokenUsage(s.scope(nodeID), u)
}
func (s *subflowCallbacks) OnContextCompacted(e CompactionEvent) { s.parent.OnContextCompacted(e) }
func (s *subflowCallbacks) OnHITLRequest(req HITLRequest) {
	req.NodeID = s.scope(req.NodeID)
	s.parent.OnHITLRequest(req)
}
func (s *subflowCallbacks) OnToolCall(nodeID string, call ToolCall) {
	s.parent.OnToolCall(s.scope(nodeID), call)
}

// OnComplete is suppressed for subflows.
func (s *subflowCallbacks) OnComplete(*ExecutionResult) {}

var _ Callbacks = (*subflowCallbacks)(nil)

// nopSignal returns a context that is never cancelled, for callers that
// don't need cooperative cancellation (e.g. unit tests).
func nopSignal() context.Context { return context.Background() }
