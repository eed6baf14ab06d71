// Package observability provides Prometheus metrics and the optional ops
// HTTP listener for sandbox-mcp.
package observability

import "github.com/prometheus/client_golang/prometheus"

// SandboxBuckets covers tool and sandbox latencies from 50ms to 10 minutes.
var SandboxBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

var (
	// ToolCallsTotal counts tool calls by tool name and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_mcp_tool_calls_total",
			Help: "Tool calls",
		},
		[]string{"tool", "status"},
	)

	// ToolDuration records tool call duration in seconds.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_mcp_tool_duration_seconds",
			Help:    "Tool call duration",
			Buckets: SandboxBuckets,
		},
		[]string{"tool"},
	)

	// SessionsActive tracks the number of live sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_mcp_sessions_active",
			Help: "Active sessions",
		},
	)

	// SessionsCreatedTotal counts sandboxes created for sessions.
	SessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_mcp_sessions_created_total",
			Help: "Sessions created",
		},
	)

	// SessionEvictionsTotal counts sessions removed by the idle sweep.
	SessionEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_mcp_session_evictions_total",
			Help: "Idle sessions evicted",
		},
	)

	// SandboxCreateDuration records how long sandbox creation takes.
	SandboxCreateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandbox_mcp_sandbox_create_duration_seconds",
			Help:    "Sandbox creation latency",
			Buckets: SandboxBuckets,
		},
		[]string{"status"},
	)

	// OpsRequestsTotal counts requests served by the ops listener.
	OpsRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_mcp_ops_requests_total",
			Help: "Ops listener requests",
		},
		[]string{"path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ToolCallsTotal,
		ToolDuration,
		SessionsActive,
		SessionsCreatedTotal,
		SessionEvictionsTotal,
		SandboxCreateDuration,
		OpsRequestsTotal,
	)
}
