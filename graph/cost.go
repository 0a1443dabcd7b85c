package graph

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing is a model's USD cost per 1M input/output tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing is a snapshot of published per-model rates for the
// providers wired into graph/llm. It drifts as providers reprice; operators
// running this engine against current rates should call
// CostTracker.SetCustomPricing rather than expect this table to track
// vendor pricing pages automatically.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o": {
		InputPer1M:  2.50,
		OutputPer1M: 10.00,
	},
	"gpt-4o-2024-08-06": {
		InputPer1M:  2.50,
		OutputPer1M: 10.00,
	},
	"gpt-4o-mini": {
		InputPer1M:  0.15,
		OutputPer1M: 0.60,
	},
	"gpt-4-turbo": {
		InputPer1M:  10.00,
		OutputPer1M: 30.00,
	},
	"gpt-4-turbo-2024-04-09": {
		InputPer1M:  10.00,
		OutputPer1M: 30.00,
	},
	"gpt-3.5-turbo": {
		InputPer1M:  0.50,
		OutputPer1M: 1.50,
	},
	"claude-3-5-sonnet-20241022": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},
	"claude-3.5-sonnet": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},
	"claude-3-opus-20240229": {
		InputPer1M:  15.00,
		OutputPer1M: 75.00,
	},
	"claude-3-opus": {
		InputPer1M:  15.00,
		OutputPer1M: 75.00,
	},
	"claude-3-sonnet-20240229": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},
	"claude-3-sonnet": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},
	"claude-3-haiku-20240307": {
		InputPer1M:  0.25,
		OutputPer1M: 1.25,
	},
	"claude-3-haiku": {
		InputPer1M:  0.25,
		OutputPer1M: 1.25,
	},
	"gemini-1.5-pro": {
		InputPer1M:  1.25,
		OutputPer1M: 5.00,
	},
	"gemini-1.5-pro-001": {
		InputPer1M:  1.25,
		OutputPer1M: 5.00,
	},
	"gemini-1.5-flash": {
		InputPer1M:  0.075,
		OutputPer1M: 0.30,
	},
	"gemini-1.5-flash-001": {
		InputPer1M:  0.075,
		OutputPer1M: 0.30,
	},
	"gemini-1.0-pro": {
		InputPer1M:  0.50,
		OutputPer1M: 1.50,
	},
}

// LLMCall is one recorded LLM invocation: what model, how many tokens each
// way, what it cost, and which node made it.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates USD spend for a single run from per-call token
// counts, so a run's total cost and per-model breakdown are available
// without re-deriving them from raw callback events after the fact. It is
// fed exclusively through costCallbacks.OnTokenUsage; nothing else should
// call RecordLLMCall directly outside of tests.
type CostTracker struct {
	RunID    string
	Currency string

	Pricing map[string]ModelPricing

	Calls      []LLMCall
	TotalCost  float64
	ModelCosts map[string]float64

	InputTokens  int64
	OutputTokens int64

	CreatedAt time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker returns a tracker seeded with defaultModelPricing. runID
// ties the accumulated totals back to the run that produced them.
func NewCostTracker(runID, currency string) *CostTracker {
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    defaultModelPricing,
		Calls:      make([]LLMCall, 0, 100),
		ModelCosts: make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// RecordLLMCall prices one call's token usage against ct.Pricing and folds
// it into the running totals. A model absent from the pricing table is
// still recorded, at zero cost, rather than rejected — an unpriced model
// showing $0.00 in a cost report is a more useful signal to an operator
// than a dropped call, and SetCustomPricing is the intended fix. The error
// return exists for future pricing-source failures (e.g. a live pricing
// API) and is always nil today.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) error {
	if !ct.enabled {
		return nil
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing, ok := ct.Pricing[model]
	if !ok {
		pricing = ModelPricing{}
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	totalCost := inputCost + outputCost

	ct.Calls = append(ct.Calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      totalCost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})

	ct.TotalCost += totalCost
	ct.ModelCosts[model] += totalCost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)

	return nil
}

// GetTotalCost returns the cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.TotalCost
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.ModelCosts))
	for model, cost := range ct.ModelCosts {
		costs[model] = cost
	}
	return costs
}

// GetCallHistory returns a copy of every recorded call, in call order.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]LLMCall, len(ct.Calls))
	copy(calls, ct.Calls)
	return calls
}

// GetTokenUsage returns total input and output token counts across calls.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.InputTokens, ct.OutputTokens
}

// SetCustomPricing overrides (or adds) pricing for one model, for
// enterprise rates or a model defaultModelPricing doesn't know about.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{
		InputPer1M:  inputPer1M,
		OutputPer1M: outputPer1M,
	}
}

// Disable temporarily disables cost tracking (useful for testing).
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable re-enables cost tracking after Disable().
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded calls and cumulative totals. Pricing overrides
// survive a Reset.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.Calls = make([]LLMCall, 0, 100)
	ct.TotalCost = 0
	ct.ModelCosts = make(map[string]float64)
	ct.InputTokens = 0
	ct.OutputTokens = 0
}

// String returns a human-readable summary, e.g. for log lines at run end.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID,
		len(ct.Calls),
		ct.TotalCost,
		ct.Currency,
		ct.InputTokens,
		ct.OutputTokens,
	)
}
