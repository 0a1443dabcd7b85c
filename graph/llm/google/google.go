// Package google provides a graph.ChatModel adapter for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/flowforge/workflow-engine/graph"
)

// ChatModel implements graph.ChatModel for Gemini models. It surfaces
// Gemini's safety-filter blocks as a distinct *SafetyFilterError rather than
// a generic provider error, so callers can decide whether a blocked
// generation should retry, branch, or fail the node outright.
type ChatModel struct {
	apiKey       string
	DefaultModel string
	client       googleClient
}

// googleClient isolates the genai SDK call so tests can substitute a fake
// without an API key or network access.
type googleClient interface {
	generateContent(ctx context.Context, model string, parts []genai.Part, sysPrompt string, tools []*genai.Tool, maxTokens int32) (*genai.GenerateContentResponse, error)
}

func NewChatModel(apiKey, defaultModel string) *ChatModel {
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash"
	}
	return &ChatModel{
		apiKey:       apiKey,
		DefaultModel: defaultModel,
		client:       &defaultGoogleClient{apiKey: apiKey},
	}
}

func (m *ChatModel) Chat(ctx context.Context, model string, messages []graph.ChatMessage, opts graph.ChatOptions) (graph.ChatResponse, error) {
	if ctx.Err() != nil {
		return graph.ChatResponse{}, ctx.Err()
	}
	if m.apiKey == "" {
		return graph.ChatResponse{}, errors.New("google API key is required")
	}
	if model == "" {
		model = m.DefaultModel
	}

	var maxTokens int32
	if opts.MaxTokens > 0 {
		maxTokens = int32(opts.MaxTokens)
	}
	var tools []*genai.Tool
	if len(opts.Tools) > 0 {
		tools = convertTools(opts.Tools)
	}
	sysPrompt := extractSystemPrompt(messages)
	parts := convertMessages(messages)

	resp, err := m.client.generateContent(ctx, model, parts, sysPrompt, tools, maxTokens)
	if err != nil {
		return graph.ChatResponse{}, &graph.ProviderError{Err: fmt.Errorf("google: %w", err)}
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return graph.ChatResponse{}, handleSafetyFilterError(resp.Candidates[0])
	}

	out := convertResponse(resp)
	if opts.OnToken != nil && out.Content != "" {
		opts.OnToken(out.Content)
	}
	if resp.UsageMetadata != nil {
		out.Usage = &graph.RawUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func (m *ChatModel) ModelCapabilities(model string) (graph.ModelCapabilities, bool) {
	caps, ok := knownCapabilities[model]
	return caps, ok
}

var knownCapabilities = map[string]graph.ModelCapabilities{
	"gemini-1.5-pro":   {ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextLength: 2000000, InputModalities: []string{"text", "image", "audio", "video"}, OutputModalities: []string{"text"}},
	"gemini-1.5-flash": {ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextLength: 1000000, InputModalities: []string{"text", "image", "audio", "video"}, OutputModalities: []string{"text"}},
}

// SafetyFilterError reports that Gemini declined to generate content because
// a safety filter blocked it. Category names the HarmCategory that tripped
// the block; Reason is the raw FinishReason string.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns the raw Gemini finish reason that produced this error.
func (e *SafetyFilterError) Reason() string { return e.reason }

func handleSafetyFilterError(candidate *genai.Candidate) *SafetyFilterError {
	category := "UNSPECIFIED"
	for _, r := range candidate.SafetyRatings {
		if r.Blocked {
			category = r.Category.String()
			break
		}
	}
	return &SafetyFilterError{reason: candidate.FinishReason.String(), category: category}
}

// defaultGoogleClient is the production googleClient backed by the genai SDK.
// A fresh genai.Client is created per call and closed immediately after,
// since Gemini's client is cheap to construct and the adapter has no
// natural place to own a longer-lived connection between Chat calls.
type defaultGoogleClient struct {
	apiKey string
}

func (c *defaultGoogleClient) generateContent(ctx context.Context, model string, parts []genai.Part, sysPrompt string, tools []*genai.Tool, maxTokens int32) (*genai.GenerateContentResponse, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(model)
	if maxTokens > 0 {
		genModel.MaxOutputTokens = &maxTokens
	}
	if len(tools) > 0 {
		genModel.Tools = tools
	}
	if sysPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(sysPrompt))
	}

	return genModel.GenerateContent(ctx, parts...)
}

func extractSystemPrompt(messages []graph.ChatMessage) string {
	var sys string
	for _, m := range messages {
		if m.Role == graph.RoleSystem {
			if sys != "" {
				sys += "\n\n"
			}
			sys += m.Content
		}
	}
	return sys
}

func convertMessages(messages []graph.ChatMessage) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Role == graph.RoleSystem || msg.Content == "" {
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return parts
}

func convertTools(tools []graph.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]any); ok {
				ps := &genai.Schema{}
				if typeStr, ok := propMap["type"].(string); ok {
					ps.Type = convertTypeString(typeStr)
				}
				if desc, ok := propMap["description"].(string); ok {
					ps.Description = desc
				}
				properties[key] = ps
			}
		}
		result.Properties = properties
	}
	if required, ok := schema["required"].([]any); ok {
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(resp *genai.GenerateContentResponse) graph.ChatResponse {
	out := graph.ChatResponse{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, graph.ToolCall{Name: p.Name, Arguments: p.Args})
		}
	}
	return out
}

var _ graph.ChatModel = (*ChatModel)(nil)
