// Package llm provides ChatModel adapters for concrete LLM providers plus a
// MockChatModel for tests.
package llm

import (
	"context"
	"sync"

	"github.com/flowforge/workflow-engine/graph"
)

// MockChatModel is a test implementation of graph.ChatModel: configurable
// canned responses, call history tracking, and error injection.
type MockChatModel struct {
	Responses []graph.ChatResponse
	Err       error
	Calls     []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records one Chat invocation for assertions in tests.
type MockChatCall struct {
	Model    string
	Messages []graph.ChatMessage
	Opts     graph.ChatOptions
}

func (m *MockChatModel) Chat(ctx context.Context, model string, messages []graph.ChatMessage, opts graph.ChatOptions) (graph.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return graph.ChatResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Model: model, Messages: messages, Opts: opts})

	if m.Err != nil {
		return graph.ChatResponse{}, m.Err
	}
	if len(m.Responses) == 0 {
		return graph.ChatResponse{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	resp := m.Responses[idx]
	if opts.OnToken != nil && resp.Content != "" {
		opts.OnToken(resp.Content)
	}
	return resp, nil
}

func (m *MockChatModel) ModelCapabilities(model string) (graph.ModelCapabilities, bool) {
	return graph.ModelCapabilities{ID: model, ContextLength: 8192}, true
}

// CallCount returns the number of Chat invocations so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears call history, for reuse across test cases.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

var _ graph.ChatModel = (*MockChatModel)(nil)
