package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query lifecycle metrics
	QueriesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_queries_started_total",
			Help: "Total number of research queries started",
		},
	)

	QueriesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_queries_completed_total",
			Help: "Total number of research queries reaching a terminal status",
		},
		[]string{"status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_query_duration_seconds",
			Help:    "Wall-clock duration of a research query",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	IterationsPerQuery = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_iterations_per_query",
			Help:    "Number of reasoning iterations per query",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	// Tool metrics
	ToolInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_tool_invocations_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "success"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Model call metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_llm_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"purpose", "success"},
	)

	LLMTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_llm_tokens_used",
			Help:    "Tokens used per model call",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000},
		},
	)

	// Parser metrics
	ParseRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_parse_repairs_total",
			Help: "Model outputs that only decoded after the repair pass",
		},
	)

	ParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_parse_failures_total",
			Help: "Model outputs that could not be decoded at all",
		},
	)
)
