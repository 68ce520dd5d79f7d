// Package metrics exposes Prometheus collectors for invocations, model calls,
// tool calls and session persistence.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agenttree/core"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTransient = "transient"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
)

var (
	// EventsTotal counts events delivered by the runner
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenttree_events_total",
			Help: "Total number of events delivered",
		},
		[]string{"author", "kind"},
	)

	// ModelCallsTotal counts model generations by outcome
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenttree_model_calls_total",
			Help: "Total number of model calls",
		},
		[]string{"provider", "outcome"},
	)

	// ModelRetriesTotal counts retried transient model failures
	ModelRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenttree_model_retries_total",
			Help: "Total number of model call retries",
		},
		[]string{"provider"},
	)

	// ToolCallsTotal counts tool invocations
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenttree_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "outcome"},
	)

	// InvocationDuration tracks how long invocations run
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenttree_invocation_duration_seconds",
			Help:    "Invocation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// PersistFailures counts events the runner failed to persist
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agenttree_persist_failures_total",
			Help: "Total number of events that failed to persist",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// EventKind classifies ev for the kind label.
func EventKind(ev core.Event) string {
	switch {
	case ev.Partial:
		return "partial"
	case ev.IsError():
		return "error"
	case len(ev.GetFunctionCalls()) > 0:
		return "tool_call"
	case len(ev.GetFunctionResponses()) > 0:
		return "tool_result"
	case ev.Content != nil:
		return "message"
	default:
		return "control"
	}
}

// RecordEvent counts a delivered event
func RecordEvent(ev core.Event) {
	EventsTotal.WithLabelValues(ev.Author, EventKind(ev)).Inc()
}

// RecordModelCall records one model generation
func RecordModelCall(provider, outcome string) {
	ModelCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordModelRetry records one retry of a transient model failure
func RecordModelRetry(provider string) {
	ModelRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordToolCall records a tool invocation
func RecordToolCall(tool, outcome string) {
	ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordInvocation records a finished invocation
func RecordInvocation(outcome string, durationSeconds float64) {
	InvocationDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordPersistFailure records an event that could not be persisted
func RecordPersistFailure() {
	PersistFailures.Inc()
}
