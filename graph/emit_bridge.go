package graph

import (
	"sync/atomic"

	"github.com/flowforge/workflow-engine/graph/emit"
)

// EmitterCallbacks adapts a Scheduler's Callbacks stream onto an
// emit.Emitter, so the log/buffered/otel/null observability backends work
// unmodified against this engine's node-level events. RunID identifies the
// run across every emitted Event; Step increments once per emitted event
// (run-level ones such as run_complete included) so an otel/buffered
// consumer can recover ordering.
type EmitterCallbacks struct {
	DefaultCallbacks
	Emitter emit.Emitter
	RunID   string

	step int64
}

// NewEmitterCallbacks wires an emit.Emitter into a Scheduler.Execute call.
func NewEmitterCallbacks(e emit.Emitter, runID string) *EmitterCallbacks {
	return &EmitterCallbacks{Emitter: e, RunID: runID}
}

func (c *EmitterCallbacks) nextStep() int {
	return int(atomic.AddInt64(&c.step, 1))
}

func (c *EmitterCallbacks) emit(nodeID, msg string, meta map[string]any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Emit(emit.Event{
		RunID:  c.RunID,
		Step:   c.nextStep(),
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (c *EmitterCallbacks) OnNodeStart(nodeID string, nodeType NodeType) {
	c.emit(nodeID, "node_start", map[string]any{"nodeType": string(nodeType)})
}

func (c *EmitterCallbacks) OnNodeFinish(nodeID, output string) {
	c.emit(nodeID, "node_end", map[string]any{"outputLen": len(output)})
}

func (c *EmitterCallbacks) OnNodeError(nodeID string, err *StructuredError) {
	meta := map[string]any{"error": err.Error(), "code": string(err.Code)}
	if err.Retry.Attempts > 0 {
		meta["retryable"] = err.Retry.Attempts < err.Retry.MaxAttempts
		meta["attempts"] = err.Retry.Attempts
	}
	c.emit(nodeID, "error", meta)
}

func (c *EmitterCallbacks) OnRouteSelected(nodeID, routeID string) {
	c.emit(nodeID, "route_selected", map[string]any{"routeId": routeID})
}

func (c *EmitterCallbacks) OnLoopIteration(nodeID string, iteration, max int) {
	c.emit(nodeID, "loop_iteration", map[string]any{"iteration": iteration, "max": max})
}

func (c *EmitterCallbacks) OnTokenUsage(nodeID string, usage TokenUsageDetails) {
	c.emit(nodeID, "token_usage", map[string]any{
		"model":        usage.Model,
		"promptTokens": usage.PromptTokens,
		"totalTokens":  usage.TotalTokens,
	})
}

func (c *EmitterCallbacks) OnContextCompacted(event CompactionEvent) {
	c.emit("", "context_compacted", map[string]any{
		"tokensBefore": event.TokensBefore,
		"tokensAfter":  event.TokensAfter,
	})
}

func (c *EmitterCallbacks) OnHITLRequest(req HITLRequest) {
	c.emit(req.NodeID, "hitl_request", map[string]any{"mode": string(req.Mode)})
}

func (c *EmitterCallbacks) OnToolCall(nodeID string, call ToolCall) {
	c.emit(nodeID, "tool_call", map[string]any{"tool": call.Name})
}

func (c *EmitterCallbacks) OnComplete(result *ExecutionResult) {
	c.emit("", "run_complete", map[string]any{
		"success":  result.Success,
		"duration": result.Duration.String(),
	})
}

var _ Callbacks = (*EmitterCallbacks)(nil)
