// ABOUTME: Prometheus collectors for sessions, dispatch outcomes, tool calls, and routing.
// ABOUTME: Uses a private registry served through promhttp.

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	sessionsEvicted  prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	toolCallSeconds  *prometheus.HistogramVec
	routeOutcomes    *prometheus.CounterVec
	backendCallTotal *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meili_gateway_sessions_active",
		Help: "Number of MCP sessions currently held in the session store",
	})
	m.sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meili_gateway_sessions_created_total",
		Help: "Total MCP sessions created by initialize handshakes",
	})
	m.sessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meili_gateway_sessions_evicted_total",
		Help: "Total MCP sessions removed by the idle sweep",
	})
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meili_gateway_requests_total",
		Help: "Dispatched MCP requests by classification and HTTP status",
	}, []string{"classification", "status"})
	m.toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meili_gateway_tool_calls_total",
		Help: "Tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})
	m.toolCallSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meili_gateway_tool_call_duration_seconds",
		Help:    "Tool invocation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
	m.routeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meili_gateway_route_decisions_total",
		Help: "AI router decisions by reason code (ok for a selected tool)",
	}, []string{"reason_code"})
	m.backendCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meili_gateway_llm_calls_total",
		Help: "Language-model backend calls by provider and outcome",
	}, []string{"provider", "outcome"})

	collectors := []prometheus.Collector{
		m.sessionsActive, m.sessionsCreated, m.sessionsEvicted,
		m.requestsTotal, m.toolCallsTotal, m.toolCallSeconds,
		m.routeOutcomes, m.backendCallTotal,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SessionCreated records a new session and the resulting store size.
func (m *Metrics) SessionCreated(active int) {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Set(float64(active))
}

// SessionsEvicted records n idle evictions and the resulting store size.
func (m *Metrics) SessionsEvicted(n, active int) {
	if m == nil {
		return
	}
	m.sessionsEvicted.Add(float64(n))
	m.sessionsActive.Set(float64(active))
}

// SessionsActive sets the active session gauge.
func (m *Metrics) SessionsActive(active int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(active))
}

// Request counts one dispatched request.
func (m *Metrics) Request(classification string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(classification, fmt.Sprint(status)).Inc()
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.toolCallSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RouteDecision records one AI router outcome.
func (m *Metrics) RouteDecision(reasonCode string) {
	if m == nil {
		return
	}
	if reasonCode == "" {
		reasonCode = "ok"
	}
	m.routeOutcomes.WithLabelValues(reasonCode).Inc()
}

// BackendCall records one language-model call.
func (m *Metrics) BackendCall(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.backendCallTotal.WithLabelValues(provider, outcome).Inc()
}
