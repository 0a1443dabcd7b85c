package graph

// metricsCallbacks wraps a Callbacks implementation so token usage and
// context compaction events also feed a PrometheusMetrics collector,
// mirroring how costCallbacks feeds a CostTracker off the same hooks.
type metricsCallbacks struct {
	Callbacks
	metrics *PrometheusMetrics
}

func (m *metricsCallbacks) OnTokenUsage(nodeID string, u TokenUsageDetails) {
	m.metrics.RecordTokenUsage(u.Model, u.PromptTokens, u.CompletionTokens)
	m.Callbacks.OnTokenUsage(nodeID, u)
}

func (m *metricsCallbacks) OnContextCompacted(event CompactionEvent) {
	m.metrics.IncrementCompactions()
	m.Callbacks.OnContextCompacted(event)
}
