// Package telemetry exposes Prometheus metrics for the gateway. The /metrics
// endpoint is mounted only when metrics are enabled in configuration.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's instruments behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	sseSessions    prometheus.Gauge
	sessionsOpened prometheus.Counter
	toolCalls      *prometheus.CounterVec
	tokensIssued   prometheus.Counter
	embedderState  *prometheus.GaugeVec
	processRSS     prometheus.Gauge
}

// New creates and registers the gateway instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		sseSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daydreamer_sse_sessions_active",
			Help: "Currently open SSE sessions.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daydreamer_sse_sessions_opened_total",
			Help: "SSE sessions opened since start.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "daydreamer_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "daydreamer_oauth_tokens_issued_total",
			Help: "Access tokens issued by the embedded authorization server.",
		}),
		embedderState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "daydreamer_embedder_state",
			Help: "Embedder state flags: loaded, breaker_open.",
		}, []string{"state"}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daydreamer_process_rss_bytes",
			Help: "Resident set size of the gateway process.",
		}),
	}
	registry.MustRegister(
		m.sseSessions,
		m.sessionsOpened,
		m.toolCalls,
		m.tokensIssued,
		m.embedderState,
		m.processRSS,
		collectors.NewGoCollector(),
	)
	return m
}

// SessionOpened records a new SSE session.
func (m *Metrics) SessionOpened() {
	m.sseSessions.Inc()
	m.sessionsOpened.Inc()
}

// SessionClosed records a closed SSE session.
func (m *Metrics) SessionClosed() {
	m.sseSessions.Dec()
}

// ToolCall records a tool invocation outcome, "ok" or an error category.
func (m *Metrics) ToolCall(tool, outcome string) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// TokenIssued records a minted access token.
func (m *Metrics) TokenIssued() {
	m.tokensIssued.Inc()
}

// SetEmbedderLoaded reflects whether the model is resident.
func (m *Metrics) SetEmbedderLoaded(loaded bool) {
	m.embedderState.WithLabelValues("loaded").Set(boolGauge(loaded))
}

// SetBreakerOpen reflects the memory circuit breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	m.embedderState.WithLabelValues("breaker_open").Set(boolGauge(open))
}

// SetProcessRSS records the latest resident memory sample in bytes.
func (m *Metrics) SetProcessRSS(rss uint64) {
	m.processRSS.Set(float64(rss))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
