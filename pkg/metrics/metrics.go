// Package metrics exposes Prometheus instrumentation for the coach runtime.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coach"

// Exchange outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeConflict = "conflict"
)

// Proposal lifecycle events.
const (
	ProposalReceived = "received"
	ProposalReplaced = "replaced"
	ProposalAccepted = "accepted"
	ProposalDeclined = "declined"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	exchanges        *prometheus.CounterVec
	exchangeDuration prometheus.Histogram
	fragments        prometheus.Counter
	staleEvents      prometheus.Counter
	threadBindings   prometheus.Counter
	proposals        *prometheus.CounterVec
	historyRequests  *prometheus.CounterVec
}

// New creates and registers the coach collectors plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Completed exchanges by outcome.",
		}, []string{"outcome"}),
		exchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from send to terminal event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_applied_total",
			Help:      "Stream fragments folded into assistant turns.",
		}),
		staleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_events_dropped_total",
			Help:      "Fragments and terminal events dropped because their call was superseded.",
		}),
		threadBindings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_bindings_total",
			Help:      "Conversations bound to a server-assigned thread id.",
		}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_proposals_total",
			Help:      "Plan proposal lifecycle events.",
		}, []string{"event"}),
		historyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_requests_total",
			Help:      "Transcript history requests served by status code class.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.exchanges,
		m.exchangeDuration,
		m.fragments,
		m.staleEvents,
		m.threadBindings,
		m.proposals,
		m.historyRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveExchange records a finished exchange.
func (m *Metrics) ObserveExchange(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
	m.exchangeDuration.Observe(elapsed.Seconds())
}

// FragmentApplied counts a fragment folded into a turn.
func (m *Metrics) FragmentApplied() {
	if m == nil {
		return
	}
	m.fragments.Inc()
}

// StaleEventDropped counts an event from a superseded call.
func (m *Metrics) StaleEventDropped() {
	if m == nil {
		return
	}
	m.staleEvents.Inc()
}

// ThreadBound counts an Ephemeral to Bound transition.
func (m *Metrics) ThreadBound() {
	if m == nil {
		return
	}
	m.threadBindings.Inc()
}

// Proposal counts a plan proposal lifecycle event.
func (m *Metrics) Proposal(event string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(event).Inc()
}

// HistoryRequest counts a history request by status code.
func (m *Metrics) HistoryRequest(status int) {
	if m == nil {
		return
	}
	m.historyRequests.WithLabelValues(statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
