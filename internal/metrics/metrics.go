// Package metrics holds the Prometheus collectors shared by the broker and
// the MCP gateway. All methods are safe on a nil *Metrics so components can be
// built without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type Metrics struct {
	AuthAttempts     *prometheus.CounterVec
	AuthDuration     *prometheus.HistogramVec
	AuthResults      *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	StoreOps         *prometheus.CounterVec
	SessionsSwept    prometheus.Counter
	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grcbridge_archer_auth_attempts_total",
			Help: "Single-protocol Archer login attempts by protocol and outcome",
		}, []string{"protocol", "outcome"}),
		AuthDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grcbridge_archer_auth_duration_seconds",
			Help:    "Latency of single-protocol Archer login attempts",
			Buckets: latencyBuckets,
		}, []string{"protocol"}),
		AuthResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grcbridge_archer_auth_results_total",
			Help: "Outcome of the REST-then-SOAP negotiation (REST, SOAP or failed)",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grcbridge_session_refreshes_total",
			Help: "Session refresh attempts by result",
		}, []string{"result"}),
		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grcbridge_session_store_ops_total",
			Help: "Session store operations by backend, operation and result",
		}, []string{"store", "op", "result"}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "grcbridge_sessions_swept_total",
			Help: "Expired sessions removed by the background sweeper",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "grcbridge_tool_calls_total",
			Help: "Tool executions by tool and result",
		}, []string{"tool", "result"}),
		ToolCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grcbridge_tool_call_duration_seconds",
			Help:    "Latency of forwarded tool executions",
			Buckets: latencyBuckets,
		}, []string{"tool"}),
	}
}

func (m *Metrics) ObserveAuthAttempt(protocol string, ok bool, start time.Time) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(protocol, outcome(ok)).Inc()
	m.AuthDuration.WithLabelValues(protocol).Observe(time.Since(start).Seconds())
}

// IncAuthResult records which protocol won, or "failed".
func (m *Metrics) IncAuthResult(result string) {
	if m == nil {
		return
	}
	m.AuthResults.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStoreOp(store, op string, err error) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(store, op, outcome(err == nil)).Inc()
}

func (m *Metrics) AddSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

func (m *Metrics) ObserveToolCall(tool, result string, start time.Time) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
