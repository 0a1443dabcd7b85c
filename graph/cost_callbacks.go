package graph

// costCallbacks wraps a Callbacks implementation so that every
// OnTokenUsage event also feeds the scheduler's CostTracker, without
// requiring the extensions that emit token usage to know a CostTracker
// exists at all.
type costCallbacks struct {
	Callbacks
	cost *CostTracker
}

func (c *costCallbacks) OnTokenUsage(nodeID string, u TokenUsageDetails) {
	_ = c.cost.RecordLLMCall(u.Model, u.PromptTokens, u.CompletionTokens, nodeID)
	c.Callbacks.OnTokenUsage(nodeID, u)
}
