package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the runtime's Prometheus metric set. Counters and
// histograms are registered on the default registry once, at startup.
type Metrics struct {
	// TurnCounter counts completed agent turns.
	// Labels: agent_id, outcome (ok|error|cancelled|iteration_cap)
	TurnCounter *prometheus.CounterVec

	// ProviderRequestDuration measures streaming completion latency in
	// seconds, from request start to stream end.
	// Labels: model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests.
	// Labels: model, status (success|error|retry)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokens tracks token consumption reported by the provider.
	// Labels: model, type (prompt|completion)
	ProviderTokens *prometheus.CounterVec

	// MalformedToolArgs counts tool calls whose streamed argument JSON
	// did not parse and was replaced with an empty object.
	MalformedToolArgs prometheus.Counter

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|timeout|denied|halted)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionCounter counts context compactions.
	// Labels: agent_id, status (success|fallback)
	CompactionCounter *prometheus.CounterVec

	// ActiveAgents tracks the current pool size.
	ActiveAgents prometheus.Gauge

	// RPCRequestCounter counts JSON-RPC requests.
	// Labels: method, status (ok|error)
	RPCRequestCounter *prometheus.CounterVec

	// MCPRequestCounter counts MCP tool calls.
	// Labels: server, status (success|error)
	MCPRequestCounter *prometheus.CounterVec
}

// NewMetrics registers and returns the metric set. Call once at
// startup; promauto panics on duplicate registration.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_turns_total",
				Help: "Completed agent turns by agent and outcome",
			},
			[]string{"agent_id", "outcome"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus3_provider_request_duration_seconds",
				Help:    "Duration of streaming completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_provider_requests_total",
				Help: "Provider requests by model and status",
			},
			[]string{"model", "status"},
		),

		ProviderTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_provider_tokens_total",
				Help: "Tokens consumed by model and type",
			},
			[]string{"model", "type"},
		),

		MalformedToolArgs: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nexus3_malformed_tool_args_total",
				Help: "Tool calls whose streamed argument JSON failed to parse",
			},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_tool_executions_total",
				Help: "Tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus3_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),

		CompactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_compactions_total",
				Help: "Context compactions by agent and status",
			},
			[]string{"agent_id", "status"},
		),

		ActiveAgents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus3_active_agents",
				Help: "Current number of agents in the pool",
			},
		),

		RPCRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_rpc_requests_total",
				Help: "JSON-RPC requests by method and status",
			},
			[]string{"method", "status"},
		),

		MCPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus3_mcp_requests_total",
				Help: "MCP tool calls by server and status",
			},
			[]string{"server", "status"},
		),
	}
}
