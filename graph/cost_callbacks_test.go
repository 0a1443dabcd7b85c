package graph

import "testing"

func TestCostCallbacks_OnTokenUsage_RecordsCall(t *testing.T) {
	tracker := NewCostTracker("run-1", "USD")
	cc := &costCallbacks{Callbacks: DefaultCallbacks{}, cost: tracker}

	cc.OnTokenUsage("agentA", TokenUsageDetails{
		Model:            "claude-3-5-sonnet-20241022",
		PromptTokens:     1000,
		CompletionTokens: 500,
	})

	if got := len(tracker.GetCallHistory()); got != 1 {
		t.Fatalf("expected 1 recorded call, got %d", got)
	}
	in, out := tracker.GetTokenUsage()
	if in != 1000 || out != 500 {
		t.Fatalf("expected (1000, 500) tokens, got (%d, %d)", in, out)
	}
	if tracker.GetTotalCost() <= 0 {
		t.Fatal("expected a positive total cost for a known model")
	}
}

func TestCostCallbacks_ForwardsToParent(t *testing.T) {
	seen := false
	parent := &recordingCallbacks{onTokenUsage: func(string, TokenUsageDetails) { seen = true }}
	cc := &costCallbacks{Callbacks: parent, cost: NewCostTracker("run-1", "USD")}

	cc.OnTokenUsage("agentA", TokenUsageDetails{Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 5})

	if !seen {
		t.Fatal("expected costCallbacks to forward OnTokenUsage to the wrapped callbacks")
	}
}

// recordingCallbacks lets a single test hook into one Callbacks method
// without implementing the entire interface by hand.
type recordingCallbacks struct {
	DefaultCallbacks
	onTokenUsage func(nodeID string, u TokenUsageDetails)
}

func (r *recordingCallbacks) OnTokenUsage(nodeID string, u TokenUsageDetails) {
	if r.onTokenUsage != nil {
		r.onTokenUsage(nodeID, u)
	}
}
