package graph

import (
	"context"
	"fmt"
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TokenCounter approximates token counts and exposes per-model context
// limits, used both for compaction thresholds and TokenUsageDetails.
type TokenCounter interface {
	Count(text, model string) int
	Limit(model string) int
}

// modelLimits is a lookup table of known context windows; unknown models
// fall back to 8192.
var modelLimits = map[string]int{
	"gpt-4o":                     128000,
	"gpt-4o-mini":                128000,
	"gpt-4-turbo":                128000,
	"gpt-3.5-turbo":              16385,
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-opus-20240229":     200000,
	"claude-3-sonnet-20240229":   200000,
	"claude-3-haiku-20240307":    200000,
	"gemini-1.5-pro":             2000000,
	"gemini-1.5-flash":           1000000,
	"gemini-1.0-pro":             32000,
}

const defaultContextLimit = 8192

// DefaultTokenCounter counts tokens using tiktoken-go's cl100k_base BPE for
// OpenAI-family models (an exact count for the model family the library
// supports) and a ceil(len/4) heuristic for every other provider, since
// Anthropic and Google do not expose an equivalent local tokenizer.
type DefaultTokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewDefaultTokenCounter loads the cl100k_base encoding once; if it cannot
// be loaded (e.g. no network access to fetch the BPE ranks on first use),
// the counter transparently falls back to the heuristic for every model.
func NewDefaultTokenCounter() *DefaultTokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &DefaultTokenCounter{}
	}
	return &DefaultTokenCounter{enc: enc}
}

func (c *DefaultTokenCounter) Count(text, model string) int {
	if c.enc != nil && strings.HasPrefix(model, "gpt-") {
		return len(c.enc.Encode(text, nil, nil))
	}
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func (c *DefaultTokenCounter) Limit(model string) int {
	if l, ok := modelLimits[model]; ok {
		return l
	}
	return defaultContextLimit
}

// CompactionStrategy selects how the compacted prefix of history is
// rewritten.
type CompactionStrategy string

const (
	StrategyTruncate  CompactionStrategy = "truncate"
	StrategySummarize CompactionStrategy = "summarize"
	StrategyCustom    CompactionStrategy = "custom"
)

// CustomCompactor rewrites the to-compact prefix of messages into a
// replacement set (typically a single summary message).
type CustomCompactor func(ctx context.Context, toCompact []ChatMessage) ([]ChatMessage, error)

// CompactionConfig configures the Compactor.
type CompactionConfig struct {
	Threshold       any // "auto" or an int
	PreserveRecent  int // default 5
	Strategy        CompactionStrategy
	SummarizeModel  string // falls back to the current model if empty
	SummarizePrompt string // template with {{messages}} placeholder
	Custom          CustomCompactor
}

// CompactionEvent is emitted after a compaction pass.
type CompactionEvent struct {
	Compacted         bool
	Messages          []ChatMessage
	TokensBefore      int
	TokensAfter       int
	MessagesCompacted int
	Summary           string
}

// Compactor rewrites history to stay under a token budget before an
// LLM-using extension (Agent/Router/WhileLoop) invokes the model.
type Compactor struct {
	Counter TokenCounter
	LLM     ChatModel
}

// resolveThreshold computes the effective token threshold: "auto" means
// max(limit-10000, 1000); an explicit int is used as-is.
func (c *Compactor) resolveThreshold(cfg *CompactionConfig, model string) int {
	if cfg.Threshold == "auto" || cfg.Threshold == nil {
		limit := c.Counter.Limit(model)
		t := limit - 10000
		if t < 1000 {
			t = 1000
		}
		return t
	}
	if n, ok := cfg.Threshold.(int); ok {
		return n
	}
	return defaultContextLimit
}

// Compact runs the compaction algorithm in place, returning the (possibly
// unchanged) message slice and the event describing what happened. A no-op
// pass still returns Compacted=false so callers can skip emitting an event.
func (c *Compactor) Compact(ctx context.Context, cfg *CompactionConfig, messages []ChatMessage, model string) ([]ChatMessage, CompactionEvent, error) {
	preserveRecent := cfg.PreserveRecent
	if preserveRecent <= 0 {
		preserveRecent = 5
	}

	tokensBefore := 0
	for _, m := range messages {
		tokensBefore += c.Counter.Count(m.Content, model)
	}

	threshold := c.resolveThreshold(cfg, model)
	if tokensBefore <= threshold {
		return messages, CompactionEvent{Compacted: false, Messages: messages, TokensBefore: tokensBefore, TokensAfter: tokensBefore}, nil
	}

	if len(messages) <= preserveRecent {
		return messages, CompactionEvent{Compacted: false, Messages: messages, TokensBefore: tokensBefore, TokensAfter: tokensBefore}, nil
	}

	toCompact := messages[:len(messages)-preserveRecent]
	toPreserve := messages[len(messages)-preserveRecent:]
	if len(toCompact) == 0 {
		return messages, CompactionEvent{Compacted: false, Messages: messages, TokensBefore: tokensBefore, TokensAfter: tokensBefore}, nil
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategySummarize
	}

	var rewritten []ChatMessage
	var summary string
	switch strategy {
	case StrategyTruncate:
		rewritten = toPreserve
	case StrategyCustom:
		if cfg.Custom == nil {
			rewritten = toPreserve
		} else if repl, err := cfg.Custom(ctx, toCompact); err == nil {
			rewritten = append(repl, toPreserve...)
		} else {
			rewritten = toPreserve
		}
	default: // StrategySummarize
		summaryModel := cfg.SummarizeModel
		if summaryModel == "" {
			summaryModel = model
		}
		s, err := c.summarize(ctx, cfg, toCompact, summaryModel)
		if err != nil || c.LLM == nil {
			rewritten = toPreserve
		} else {
			summary = s
			msg := ChatMessage{Role: RoleSystem, Content: "[Previous conversation summary]: " + s}
			rewritten = append([]ChatMessage{msg}, toPreserve...)
		}
	}

	tokensAfter := 0
	for _, m := range rewritten {
		tokensAfter += c.Counter.Count(m.Content, model)
	}

	event := CompactionEvent{
		Compacted:         true,
		Messages:          rewritten,
		TokensBefore:      tokensBefore,
		TokensAfter:       tokensAfter,
		MessagesCompacted: len(toCompact),
		Summary:           summary,
	}
	return rewritten, event, nil
}

func (c *Compactor) summarize(ctx context.Context, cfg *CompactionConfig, toCompact []ChatMessage, model string) (string, error) {
	if c.LLM == nil {
		return "", fmt.Errorf("no summarizer model configured")
	}
	prompt := cfg.SummarizePrompt
	if prompt == "" {
		prompt = "Summarize the following conversation concisely, preserving key facts and decisions:\n\n{{messages}}"
	}
	var sb strings.Builder
	for _, m := range toCompact {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	prompt = strings.ReplaceAll(prompt, "{{messages}}", sb.String())

	resp, err := c.LLM.Chat(ctx, model, []ChatMessage{{Role: RoleUser, Content: prompt}}, ChatOptions{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
