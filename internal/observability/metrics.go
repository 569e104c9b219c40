package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting turn-pipeline
// metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn duration and first-token latency
//   - LLM request performance per vendor, model, and tier
//   - Token consumption per tier
//   - Tool execution patterns and latencies
//   - Web search circuit-breaker trips
//   - Background analysis run outcomes
type Metrics struct {
	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: category, specialist
	TurnDuration *prometheus.HistogramVec

	// FirstTokenLatency measures time to the first streamed token in seconds.
	// Labels: vendor, model
	FirstTokenLatency *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: vendor, model, tier (utility|reasoning|deep_thinking)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: vendor, model, tier, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: vendor, tier, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// UtilityCallsPerTurn observes the utility-call count at turn end.
	// Labels: category_bucket (log|nonlog)
	UtilityCallsPerTurn *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// WebSearchBreakerOpens counts circuit-breaker open transitions.
	// Labels: upstream (duckduckgo|wikipedia|pubmed)
	WebSearchBreakerOpens *prometheus.CounterVec

	// AnalysisRunCounter counts longitudinal analysis runs.
	// Labels: run_type (daily|weekly|monthly), status (completed|failed|reused)
	AnalysisRunCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and kind.
	// Labels: component (turn|provider|tool|analysis), kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalcoach_turn_duration_seconds",
				Help:    "End-to-end duration of chat turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"category", "specialist"},
		),

		FirstTokenLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalcoach_first_token_latency_seconds",
				Help:    "Latency to first streamed token in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"vendor", "model"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalcoach_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"vendor", "model", "tier"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalcoach_llm_requests_total",
				Help: "Total LLM requests by vendor, model, tier, and status",
			},
			[]string{"vendor", "model", "tier", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalcoach_llm_tokens_total",
				Help: "Total tokens used by vendor, tier, and type",
			},
			[]string{"vendor", "tier", "type"},
		),

		UtilityCallsPerTurn: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalcoach_utility_calls_per_turn",
				Help:    "Utility-tier LLM calls consumed per turn",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
			[]string{"category_bucket"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalcoach_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalcoach_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"tool_name"},
		),

		WebSearchBreakerOpens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalcoach_websearch_breaker_opens_total",
				Help: "Circuit-breaker open transitions per search upstream",
			},
			[]string{"upstream"},
		),

		AnalysisRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalcoach_analysis_runs_total",
				Help: "Longitudinal analysis runs by type and status",
			},
			[]string{"run_type", "status"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalcoach_errors_total",
				Help: "Errors by component and kind",
			},
			[]string{"component", "kind"},
		),
	}
}
