package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// AgentExtension invokes the LLM over the running conversation plus the
// node's system prompt, iterating tool calls until the model stops
// requesting them or a safety limit is hit.
type AgentExtension struct {
	LLM       ChatModel
	Compactor *Compactor
}

const defaultMaxToolIterations = 10

func (a *AgentExtension) Execute(ctx context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var data AgentData
	if err := decodeData(node.Data, &data); err != nil {
		return ExtensionResult{}, err
	}

	model := data.Model
	if model == "" {
		model = ec.DefaultModel
	}

	messages := ec.History()
	if data.SystemPrompt != "" {
		messages = append([]ChatMessage{{Role: RoleSystem, Content: data.SystemPrompt}}, messages...)
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: ec.CurrentInput})

	if ec.Compaction != nil || data.Compaction != nil {
		cfg := data.Compaction
		if cfg == nil {
			cfg = ec.Compaction
		}
		compactor := a.Compactor
		if compactor == nil {
			counter := ec.TokenCounter
			if counter == nil {
				counter = NewDefaultTokenCounter()
			}
			compactor = &Compactor{Counter: counter, LLM: a.LLM}
		}
		rewritten, event, err := compactor.Compact(ctx, cfg, messages, model)
		if err == nil && event.Compacted {
			messages = rewritten
			if ec.Callbacks != nil {
				ec.Callbacks.OnContextCompacted(event)
			}
		}
	}

	tools := resolveToolSpecs(data.Tools, ec)

	maxIter := data.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolIterations
	}
	onLimit := data.OnMaxToolIterations
	if onLimit == "" {
		onLimit = "warning"
	}

	opts := ChatOptions{Temperature: data.Temperature, MaxTokens: data.MaxTokens, Tools: tools}
	if ec.Callbacks != nil {
		opts.OnToken = func(delta string) { ec.Callbacks.OnToken(node.ID, delta) }
		opts.OnReasoning = func(delta string) { ec.Callbacks.OnReasoning(node.ID, delta) }
	}

	var finalContent string
	for iter := 0; ; iter++ {
		if iter >= maxIter {
			switch onLimit {
			case "error":
				return ExtensionResult{}, fmt.Errorf("agent %s exceeded max tool iterations (%d)", node.ID, maxIter)
			case "hitl":
				extra, err := a.approveIterationLimit(ctx, node, ec, data, maxIter)
				if err != nil {
					return ExtensionResult{}, err
				}
				maxIter += extra
				continue
			default: // warning
				messages = append(messages, ChatMessage{Role: RoleSystem, Content: "Tool iteration limit reached; finalizing response."})
				opts.Tools = nil
				resp, err := a.LLM.Chat(ctx, model, messages, opts)
				if err != nil {
					return ExtensionResult{}, err
				}
				finalContent = resp.Content
			}
			break
		}

		resp, err := a.LLM.Chat(ctx, model, messages, opts)
		if err != nil {
			return ExtensionResult{}, err
		}

		if resp.Usage != nil && ec.Callbacks != nil {
			limit := defaultContextLimit
			if ec.TokenCounter != nil {
				limit = ec.TokenCounter.Limit(model)
			}
			ec.Callbacks.OnTokenUsage(node.ID, TokenUsageDetails{
				Model:            model,
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
				ContextLimit:     limit,
				RemainingContext: limit - resp.Usage.TotalTokens,
			})
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		messages = append(messages, ChatMessage{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			if ec.Callbacks != nil {
				ec.Callbacks.OnToolCall(node.ID, call)
			}
			result, err := runTool(ctx, ec, call)
			if err != nil {
				result = map[string]any{"error": err.Error()}
			}
			messages = append(messages, ChatMessage{Role: RoleTool, Content: stringifyToolResult(result), ToolName: call.Name})
		}
	}

	var next []string
	for _, c := range g.OutgoingEdges(node.ID, "") {
		next = append(next, c.NodeID)
	}
	return ExtensionResult{Output: finalContent, NextNodes: next, EmitAssistant: true}, nil
}

// approveIterationLimit pauses for human approval when an agent hits its
// tool-iteration cap with OnMaxToolIterations set to "hitl", rather than
// erroring outright. Approval grants one more default-sized window of tool
// iterations; rejection surfaces the same errHITLRejected the wrapper's own
// HITL approval path raises.
func (a *AgentExtension) approveIterationLimit(ctx context.Context, node *Node, ec *ExecutionContext, data AgentData, maxIter int) (int, error) {
	if ec.HITL == nil {
		return 0, fmt.Errorf("agent %s requires approval to continue past %d tool iterations, but no HITL callback is configured", node.ID, maxIter)
	}
	cfg := data.HITL
	if cfg == nil {
		cfg = &HITLConfig{}
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Agent %s has used %d tool iterations without finishing. Approve continuing?", node.ID, maxIter)
	}
	waitCfg := HITLConfig{Mode: HITLApproval, Prompt: prompt, Options: cfg.Options, Timeout: cfg.Timeout, DefaultAction: cfg.DefaultAction}
	req := buildHITLRequest(node, ec, &waitCfg, "")
	if ec.Callbacks != nil {
		ec.Callbacks.OnHITLRequest(req)
	}
	resp, err := waitHITL(ctx, ec, ec.HITL, req, waitCfg)
	if err != nil {
		return 0, err
	}
	if resp.Action != ActionApprove && resp.Action != ActionSubmit {
		return 0, NewStructuredError(errHITLRejected, node.ID, node.Type, 1)
	}
	return defaultMaxToolIterations, nil
}

func (a *AgentExtension) Validate(node *Node, _ *Graph) error {
	var data AgentData
	if err := decodeData(node.Data, &data); err != nil {
		return &StructuredError{Message: err.Error(), Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

func resolveToolSpecs(names []string, ec *ExecutionContext) []ToolSpec {
	if len(names) == 0 || ec.ToolSpecs == nil {
		return nil
	}
	specs := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		if s, ok := ec.ToolSpecs[n]; ok {
			specs = append(specs, s)
		}
	}
	return specs
}

func runTool(ctx context.Context, ec *ExecutionContext, call ToolCall) (map[string]any, error) {
	if ec.Tools == nil {
		return nil, errors.New("no tool handler registered")
	}
	handler, ok := ec.Tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	return handler(ctx, call)
}

func stringifyToolResult(result map[string]any) string {
	if v, ok := result["text"].(string); ok {
		return v
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

var _ Extension = (*AgentExtension)(nil)
