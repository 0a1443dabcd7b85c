package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflow-engine/graph/llm"
	"github.com/flowforge/workflow-engine/graph/store"
)

// fakeRunStore counts SaveStep calls without persisting anything, so tests
// can assert the scheduler actually exercises Scheduler.RunStore.
type fakeRunStore struct {
	saveCount int
	last      store.RunRecord
}

func newFakeRunStore() *fakeRunStore { return &fakeRunStore{} }

func (f *fakeRunStore) SaveStep(_ context.Context, _ string, _ int, _ string, rec store.RunRecord) error {
	f.saveCount++
	f.last = rec
	return nil
}

func (f *fakeRunStore) LoadLatest(_ context.Context, _ string) (store.RunRecord, int, error) {
	return f.last, f.saveCount, nil
}

func linearWorkflow() *Workflow {
	return &Workflow{
		Meta: WorkflowMeta{Version: "2.0.0", Name: "linear"},
		Nodes: []Node{
			{ID: "start", Type: NodeStart},
			{ID: "out", Type: NodeOutput, Data: map[string]any{"template": "echo: {{start}}"}},
		},
		Edges: []Edge{
			{ID: "e1", Source: "start", Target: "out"},
		},
	}
}

func TestScheduler_Execute_LinearWorkflow(t *testing.T) {
	sched := &Scheduler{Registry: NewRegistry(&llm.MockChatModel{})}

	result, err := sched.Execute(context.Background(), linearWorkflow(), "hello", nil, nil)
	require.NoError(t, err)
	require.True(t, result.Success, "expected success, got error %v", result.Error)
	assert.Equal(t, "echo: hello", result.Output)
	assert.Equal(t, []string{"start", "out"}, result.ExecutionOrder)
}

func TestScheduler_Execute_NoStartNode(t *testing.T) {
	wf := &Workflow{
		Meta:  WorkflowMeta{Version: "2.0.0", Name: "no-start"},
		Nodes: []Node{{ID: "out", Type: NodeOutput, Data: map[string]any{"template": "x"}}},
	}
	sched := &Scheduler{Registry: NewRegistry(&llm.MockChatModel{})}

	result, err := sched.Execute(context.Background(), wf, "hello", nil, nil)
	require.NoError(t, err, "Execute should report failure via ExecutionResult, not an error")
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.ErrorIs(t, result.Error.Cause, ErrNoStartNode)
}

func TestScheduler_Execute_UnknownNodeType(t *testing.T) {
	wf := &Workflow{
		Meta: WorkflowMeta{Version: "2.0.0", Name: "bad-type"},
		Nodes: []Node{
			{ID: "start", Type: NodeStart},
			{ID: "mystery", Type: NodeType("does-not-exist")},
		},
		Edges: []Edge{{ID: "e1", Source: "start", Target: "mystery"}},
	}
	sched := &Scheduler{Registry: NewRegistry(&llm.MockChatModel{})}

	result, err := sched.Execute(context.Background(), wf, "hello", nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Success, "expected failure for an unregistered node type")
}

func TestScheduler_RunStore_PersistsRun(t *testing.T) {
	rs := newFakeRunStore()
	sched := &Scheduler{Registry: NewRegistry(&llm.MockChatModel{}), RunStore: rs}

	result, err := sched.Execute(context.Background(), linearWorkflow(), "hi", nil, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Greater(t, rs.saveCount, 0, "expected at least one SaveStep call on the run store")
}
