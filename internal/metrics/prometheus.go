package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpilot_requests_total",
			Help: "Total requests by endpoint",
		},
		[]string{"endpoint"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpilot_errors_total",
			Help: "Total errors by pipeline stage",
		},
		[]string{"stage"},
	)

	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpilot_ratelimit_decisions_total",
			Help: "Rate limit admission decisions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	StageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docpilot_stage_latency_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	RetrievedCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docpilot_retrieved_count",
			Help:    "Candidates returned per retrieval method",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"method"},
	)

	FusedCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docpilot_fused_count",
			Help:    "Candidates after fusion and deduplication",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	UsedCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docpilot_used_count",
			Help:    "Chunks included in the assembled context",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	ContextLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docpilot_context_length_chars",
			Help:    "Assembled context length in characters",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000},
		},
	)

	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpilot_tokens_total",
			Help: "Completion API tokens used by type",
		},
		[]string{"type"},
	)

	ToolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpilot_tool_invocations_total",
			Help: "Tool invocations by tool name and status",
		},
		[]string{"tool", "status"},
	)

	DegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpilot_degraded_total",
			Help: "Queries answered in a degraded mode, by stage",
		},
		[]string{"stage"},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docpilot_documents_ingested_total",
			Help: "Total documents ingested",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(StageLatency)
	prometheus.MustRegister(RetrievedCount)
	prometheus.MustRegister(FusedCount)
	prometheus.MustRegister(UsedCount)
	prometheus.MustRegister(ContextLength)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(ToolInvocations)
	prometheus.MustRegister(DegradedTotal)
	prometheus.MustRegister(DocumentsIngested)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
