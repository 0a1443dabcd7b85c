package store

import (
	"context"
	"time"
)

// RunRecord is the state type this engine persists through Store[S]: the
// teacher's generic checkpoint/step mechanism (MemStore, SQLiteStore,
// MySQLStore) is reused unmodified, instantiated against this concrete
// record instead of an arbitrary workflow-defined state.
type RunRecord struct {
	WorkflowName     string            `json:"workflowName"`
	StartNodeID      string            `json:"startNodeId"`
	NodeOutputs      map[string]string `json:"nodeOutputs"`
	ExecutionOrder   []string          `json:"executionOrder"`
	LastActiveNodeID string            `json:"lastActiveNodeId"`
	FinalNodeID      string            `json:"finalNodeId"`
	ResumeInput      string            `json:"resumeInput,omitempty"`
	SessionMessages  []RecordMessage   `json:"sessionMessages"`
	Success          bool              `json:"success"`
	Duration         time.Duration     `json:"duration"`
}

// RecordMessage mirrors graph.ChatMessage without importing the graph
// package, keeping store free of a dependency on the engine core (the
// teacher keeps the same one-way dependency: graph depends on graph/store,
// never the reverse).
type RecordMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolCalls []RecordToolCall `json:"toolCalls,omitempty"`
}

// RecordToolCall mirrors graph.ToolCall.
type RecordToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// RunStore is the persistence surface a Scheduler needs: save a run's
// progress after each top-level Execute call, and load it back into a
// ResumeState-shaped RunRecord to continue a paused or failed run. It is
// satisfied by Store[RunRecord] (MemStore, SQLiteStore, MySQLStore).
type RunStore interface {
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state RunRecord) error
	LoadLatest(ctx context.Context, runID string) (RunRecord, int, error)
}

// runStoreAdapter narrows a Store[RunRecord] (which carries the full
// checkpoint/idempotency/outbox surface) down to the RunStore a Scheduler
// actually calls, so callers wiring a Scheduler don't need to satisfy
// methods the scheduler never uses.
type runStoreAdapter struct {
	Store[RunRecord]
}

// AsRunStore adapts any Store[RunRecord] implementation to RunStore.
func AsRunStore(s Store[RunRecord]) RunStore {
	return runStoreAdapter{s}
}
