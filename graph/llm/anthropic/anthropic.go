// Package anthropic provides a graph.ChatModel adapter for Anthropic's
// Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowforge/workflow-engine/graph"
)

// ChatModel implements graph.ChatModel for Claude models. DefaultModel is
// used when a caller passes an empty model string to Chat.
type ChatModel struct {
	apiKey       string
	DefaultModel string
}

// NewChatModel constructs an Anthropic-backed ChatModel.
func NewChatModel(apiKey, defaultModel string) *ChatModel {
	if defaultModel == "" {
		defaultModel = "claude-3-5-sonnet-20241022"
	}
	return &ChatModel{apiKey: apiKey, DefaultModel: defaultModel}
}

func (m *ChatModel) Chat(ctx context.Context, model string, messages []graph.ChatMessage, opts graph.ChatOptions) (graph.ChatResponse, error) {
	if ctx.Err() != nil {
		return graph.ChatResponse{}, ctx.Err()
	}
	if m.apiKey == "" {
		return graph.ChatResponse{}, errors.New("anthropic API key is required")
	}
	if model == "" {
		model = m.DefaultModel
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(m.apiKey), option.WithMaxRetries(0))

	systemPrompt, conv := extractSystemPrompt(messages)
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  convertMessages(conv),
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(opts.Tools) > 0 {
		params.Tools = convertTools(opts.Tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return graph.ChatResponse{}, &graph.ProviderError{Err: fmt.Errorf("anthropic: %w", err), StatusCode: extractStatusCode(err)}
	}

	out := convertResponse(resp)
	if opts.OnToken != nil && out.Content != "" {
		opts.OnToken(out.Content)
	}
	out.Usage = &graph.RawUsage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return out, nil
}

func (m *ChatModel) ModelCapabilities(model string) (graph.ModelCapabilities, bool) {
	caps, ok := knownCapabilities[model]
	return caps, ok
}

var knownCapabilities = map[string]graph.ModelCapabilities{
	"claude-3-5-sonnet-20241022": {ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextLength: 200000, InputModalities: []string{"text", "image"}, OutputModalities: []string{"text"}},
	"claude-3-opus-20240229":     {ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", ContextLength: 200000, InputModalities: []string{"text", "image"}, OutputModalities: []string{"text"}},
	"claude-3-haiku-20240307":    {ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextLength: 200000, InputModalities: []string{"text", "image"}, OutputModalities: []string{"text"}},
}

func extractSystemPrompt(messages []graph.ChatMessage) (string, []graph.ChatMessage) {
	var systemPrompt string
	var rest []graph.ChatMessage
	for _, msg := range messages {
		if msg.Role == graph.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		} else {
			rest = append(rest, msg)
		}
	}
	return systemPrompt, rest
}

func convertMessages(messages []graph.ChatMessage) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case graph.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertTools(tools []graph.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := t.Schema["required"].([]string); ok {
				required = req
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) graph.ChatResponse {
	out := graph.ChatResponse{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, graph.ToolCall{ID: b.ID, Name: b.Name, Arguments: convertToolInput(b.Input)})
		}
	}
	return out
}

func convertToolInput(input any) map[string]any {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]any); ok {
		return m
	}
	return map[string]any{"_raw": input}
}

// extractStatusCode pulls an HTTP status code out of the SDK's error type
// when available, so graph.Classify can prefer it over keyword matching.
func extractStatusCode(err error) int {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

var _ graph.ChatModel = (*ChatModel)(nil)
