package graph

import "context"

// ChatModel is the LLM provider interface consumed by extensions. Implementations live in graph/llm/* and
// adapt a specific vendor SDK to this shape; the scheduler itself never
// calls a ChatModel directly — only extensions do.
type ChatModel interface {
	Chat(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (ChatResponse, error)
	ModelCapabilities(model string) (ModelCapabilities, bool)
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatOptions configures a single Chat call, including streaming sinks.
type ChatOptions struct {
	Temperature    float64
	MaxTokens      int
	Tools          []ToolSpec
	ToolChoice     string
	ResponseFormat string
	OnToken        func(delta string)
	OnReasoning    func(delta string)
}

// ChatResponse is a provider's reply to one Chat call.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *RawUsage
}

// RawUsage is the provider-reported token usage before the engine layers on
// context-limit accounting (see TokenUsageDetails).
type RawUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ModelCapabilities describes what a model id supports.
type ModelCapabilities struct {
	ID                  string
	Name                string
	InputModalities     []string
	OutputModalities    []string
	ContextLength       int
	SupportedParameters []string
}
