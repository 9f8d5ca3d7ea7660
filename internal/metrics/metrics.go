// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profiler",
		Name:      "workflows_total",
		Help:      "Workflows by terminal status.",
	}, []string{"status"})

	workflowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "profiler",
		Name:      "workflow_duration_seconds",
		Help:      "End-to-end workflow duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profiler",
		Name:      "llm_calls_total",
		Help:      "LLM calls by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	eventsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "profiler",
		Name:      "events_emitted_total",
		Help:      "Transparency events emitted.",
	})
)

// ObserveWorkflow records one finished workflow.
func ObserveWorkflow(status string, d time.Duration) {
	workflowsTotal.WithLabelValues(status).Inc()
	workflowDuration.Observe(d.Seconds())
}

// ObserveLLMCall records one model round-trip.
func ObserveLLMCall(purpose string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	llmCallsTotal.WithLabelValues(purpose, outcome).Inc()
}

// ObserveEvent records one emitted transparency event.
func ObserveEvent() {
	eventsEmitted.Inc()
}
