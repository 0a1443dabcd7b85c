// Package openai provides a graph.ChatModel adapter for OpenAI's Chat
// Completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/flowforge/workflow-engine/graph"
)

// ChatModel implements graph.ChatModel for OpenAI's API. Retry/backoff is
// owned exclusively by the scheduler's error wrapper; this
// adapter does not retry internally, to avoid double-retrying a single
// logical attempt.
type ChatModel struct {
	apiKey       string
	DefaultModel string
}

func NewChatModel(apiKey, defaultModel string) *ChatModel {
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &ChatModel{apiKey: apiKey, DefaultModel: defaultModel}
}

func (m *ChatModel) Chat(ctx context.Context, model string, messages []graph.ChatMessage, opts graph.ChatOptions) (graph.ChatResponse, error) {
	if ctx.Err() != nil {
		return graph.ChatResponse{}, ctx.Err()
	}
	if m.apiKey == "" {
		return graph.ChatResponse{}, errors.New("openai API key is required")
	}
	if model == "" {
		model = m.DefaultModel
	}

	client := openaisdk.NewClient(option.WithAPIKey(m.apiKey), option.WithMaxRetries(0))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: convertMessages(messages),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openaisdk.Float(opts.Temperature)
	}
	if len(opts.Tools) > 0 {
		params.Tools = convertTools(opts.Tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return graph.ChatResponse{}, &graph.ProviderError{Err: fmt.Errorf("openai: %w", err), StatusCode: extractStatusCode(err)}
	}

	out := convertResponse(resp)
	if opts.OnToken != nil && out.Content != "" {
		opts.OnToken(out.Content)
	}
	out.Usage = &graph.RawUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return out, nil
}

func (m *ChatModel) ModelCapabilities(model string) (graph.ModelCapabilities, bool) {
	caps, ok := knownCapabilities[model]
	return caps, ok
}

var knownCapabilities = map[string]graph.ModelCapabilities{
	"gpt-4o":        {ID: "gpt-4o", Name: "GPT-4o", ContextLength: 128000, InputModalities: []string{"text", "image"}, OutputModalities: []string{"text"}},
	"gpt-4o-mini":   {ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextLength: 128000, InputModalities: []string{"text", "image"}, OutputModalities: []string{"text"}},
	"gpt-3.5-turbo": {ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextLength: 16385, InputModalities: []string{"text"}, OutputModalities: []string{"text"}},
}

func convertMessages(messages []graph.ChatMessage) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case graph.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case graph.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		case graph.RoleTool:
			result[i] = openaisdk.ToolMessage(msg.Content, msg.ToolName)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertTools(tools []graph.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) graph.ChatResponse {
	out := graph.ChatResponse{}
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Content = msg.Content
	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]graph.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			out.ToolCalls[i] = graph.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: parseToolArguments(tc.Function.Arguments)}
		}
	}
	return out
}

func parseToolArguments(jsonStr string) map[string]any {
	if jsonStr == "" {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return map[string]any{"_raw": jsonStr}
	}
	return result
}

func extractStatusCode(err error) int {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

var _ graph.ChatModel = (*ChatModel)(nil)
