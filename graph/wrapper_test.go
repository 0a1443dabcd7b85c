package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyExt fails until it has been invoked failUntil times, then succeeds.
type flakyExt struct {
	calls     int
	failUntil int
	err       error
}

func (f *flakyExt) Execute(context.Context, *Node, *ExecutionContext, *Graph) (ExtensionResult, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return ExtensionResult{}, f.err
	}
	return ExtensionResult{Output: "ok"}, nil
}

func (f *flakyExt) Validate(*Node, *Graph) error { return nil }

func testExecCtx() *ExecutionContext {
	return &ExecutionContext{
		SessionID: "run-1",
		state:     NewExecutionState(&Session{}),
	}
}

func TestExecuteWithPolicy_RetriesThenSucceeds(t *testing.T) {
	ext := &flakyExt{failUntil: 2, err: errors.New("temporary timeout")}
	node := &Node{ID: "n1", Type: NodeAgent}
	errCfg := &ErrorHandlingConfig{
		Mode:  ModeStop,
		Retry: &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}

	res, err := executeWithPolicy(context.Background(), ext, node, testExecCtx(), &Graph{}, errCfg, nil, nil, DefaultCallbacks{})
	require.NoError(t, err, "expected eventual success")
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, 3, ext.calls, "expected 3 attempts (2 failures + 1 success)")
}

func TestExecuteWithPolicy_StopModeExhaustsRetries(t *testing.T) {
	ext := &flakyExt{failUntil: 99, err: errors.New("still timeout")}
	node := &Node{ID: "n1", Type: NodeAgent}
	errCfg := &ErrorHandlingConfig{
		Mode:  ModeStop,
		Retry: &RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}

	_, err := executeWithPolicy(context.Background(), ext, node, testExecCtx(), &Graph{}, errCfg, nil, nil, DefaultCallbacks{})
	require.Error(t, err, "expected an error once retries are exhausted")
	var se *StructuredError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Retry.Attempts, "expected 2 attempts (1 retry + original)")
}

func TestExecuteWithPolicy_BranchModeRoutesToErrorEdge(t *testing.T) {
	ext := &flakyExt{failUntil: 99, err: errors.New("boom")}
	node := &Node{ID: "n1", Type: NodeAgent}
	g := &Graph{
		NodeMap: map[string]*Node{"n1": node, "errHandler": {ID: "errHandler", Type: NodeOutput}},
		Children: map[string][]ChildRef{
			"n1": {{NodeID: "errHandler", HandleID: HandleError}},
		},
	}
	errCfg := &ErrorHandlingConfig{Mode: ModeBranch}

	res, err := executeWithPolicy(context.Background(), ext, node, testExecCtx(), g, errCfg, nil, nil, DefaultCallbacks{})
	require.NoError(t, err, "branch mode should not surface an error when an error edge exists")
	require.Len(t, res.NextNodes, 1)
	assert.Equal(t, "errHandler", res.NextNodes[0])
}
