package graph

import (
	"context"

	"github.com/flowforge/workflow-engine/graph/store"
)

// persistRun saves the run's current progress to s.RunStore, when
// configured, under runID/step — the same per-step persistence the
// teacher's Store[S] contract expects (SaveStep), instantiated here
// against store.RunRecord instead of a workflow-defined state type.
func (s *Scheduler) persistRun(ctx context.Context, runID string, step int, nodeID string, workflowName string, result *ExecutionResult, startNodeID, resumeInput string) {
	if s.RunStore == nil {
		return
	}
	rec := store.RunRecord{
		WorkflowName:     workflowName,
		StartNodeID:      startNodeID,
		NodeOutputs:      result.NodeOutputs,
		ExecutionOrder:   result.ExecutionOrder,
		LastActiveNodeID: result.LastActiveNodeID,
		FinalNodeID:      result.FinalNodeID,
		ResumeInput:      resumeInput,
		SessionMessages:  toRecordMessages(result.SessionMessages),
		Success:          result.Success,
		Duration:         result.Duration,
	}
	// Best-effort: persistence failures never fail the run itself. Store
	// writes are a side channel to the authoritative in-memory result.
	_ = s.RunStore.SaveStep(ctx, runID, step, nodeID, rec)
}

// LoadResumeState reads a run's last persisted record back from st and
// builds the ResumeState a fresh Scheduler.Execute call needs to continue
// it.
func LoadResumeState(ctx context.Context, st store.RunStore, runID string) (*ResumeState, error) {
	rec, _, err := st.LoadLatest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &ResumeState{
		StartNodeID:      rec.StartNodeID,
		NodeOutputs:      rec.NodeOutputs,
		ExecutionOrder:   rec.ExecutionOrder,
		LastActiveNodeID: rec.LastActiveNodeID,
		FinalNodeID:      rec.FinalNodeID,
		ResumeInput:      rec.ResumeInput,
		SessionMessages:  fromRecordMessages(rec.SessionMessages),
	}, nil
}

func toRecordMessages(msgs []ChatMessage) []store.RecordMessage {
	out := make([]store.RecordMessage, len(msgs))
	for i, m := range msgs {
		out[i] = store.RecordMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			ToolName:  m.ToolName,
			ToolCalls: toRecordToolCalls(m.ToolCalls),
		}
	}
	return out
}

func fromRecordMessages(msgs []store.RecordMessage) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ChatMessage{
			Role:      MessageRole(m.Role),
			Content:   m.Content,
			ToolName:  m.ToolName,
			ToolCalls: fromRecordToolCalls(m.ToolCalls),
		}
	}
	return out
}

func toRecordToolCalls(calls []ToolCall) []store.RecordToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]store.RecordToolCall, len(calls))
	for i, c := range calls {
		out[i] = store.RecordToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func fromRecordToolCalls(calls []store.RecordToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
