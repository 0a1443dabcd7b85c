package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects the Prometheus series a running engine exposes
// for operators: per-node latency, retry counts, token spend, context
// compaction activity, and how many nodes are currently parked waiting on a
// human. Every series is namespaced "workflow_".
//
//   - step_latency_ms (histogram, run_id/node_id/status): node execution
//     duration, bucketed 1ms-10s, for p50/p95/p99 dashboards.
//   - retries_total (counter, node_id/code): retry attempts, labeled by the
//     ErrorCode that triggered the retry so flaky-node patterns show up by
//     failure class rather than one undifferentiated count.
//   - tokens_total (counter, model/kind): cumulative input/output token
//     usage per model, fed from the same OnTokenUsage hook that drives
//     CostTracker.
//   - compactions_total (counter): context compaction events across the run.
//   - hitl_pending (gauge): HITL requests currently awaiting a human
//     response, read from a HITLCoordinator.
//
// Thread-safe: Prometheus collectors are safe for concurrent use; enabled is
// guarded by mu so Disable/Enable don't race a concurrent recording call.
type PrometheusMetrics struct {
	stepLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	compactions prometheus.Counter
	hitlPending prometheus.Gauge

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the engine's metric series with registry.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() to isolate a test or a single embedded engine.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflow",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds, from dispatch to completion",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts, labeled by the triggering error code",
	}, []string{"node_id", "code"})

	pm.tokens = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "tokens_total",
		Help:      "Cumulative LLM token usage by model and kind (input/output)",
	}, []string{"model", "kind"})

	pm.compactions = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "workflow",
		Name:      "compactions_total",
		Help:      "Cumulative count of context compaction events across all agent nodes",
	})

	pm.hitlPending = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "workflow",
		Name:      "hitl_pending",
		Help:      "Number of human-in-the-loop requests currently awaiting a response",
	})

	return pm
}

// RecordStepLatency records a node's execution duration for the
// step_latency_ms histogram. status is "success", "error", or "timeout".
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries records one retry attempt against nodeID, labeled with
// the ErrorCode that caused it (see errors.go).
func (pm *PrometheusMetrics) IncrementRetries(nodeID string, code ErrorCode) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(nodeID, string(code)).Inc()
}

// RecordTokenUsage adds input/output token counts for model to the
// tokens_total counter. Called from the same OnTokenUsage hook that drives
// CostTracker, so the two stay consistent.
func (pm *PrometheusMetrics) RecordTokenUsage(model string, inputTokens, outputTokens int) {
	if !pm.isEnabled() {
		return
	}
	if inputTokens > 0 {
		pm.tokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		pm.tokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// IncrementCompactions records one context compaction event.
func (pm *PrometheusMetrics) IncrementCompactions() {
	if !pm.isEnabled() {
		return
	}
	pm.compactions.Inc()
}

// UpdateHITLPending sets the number of HITL requests currently awaiting a
// response, typically read from a HITLCoordinator's Pending().
func (pm *PrometheusMetrics) UpdateHITLPending(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.hitlPending.Set(float64(count))
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges (useful for testing). Counters and histograms are
// cumulative by Prometheus design and cannot be reset in place.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.hitlPending.Set(0)
}
