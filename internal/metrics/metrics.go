package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OracleCalls counts relation inference calls by outcome ("ok", "retry", "error").
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linker_oracle_calls_total",
		Help: "Relation inference calls by outcome",
	}, []string{"outcome"})

	// OracleLatency tracks the latency of successful inference calls.
	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linker_oracle_latency_seconds",
		Help:    "Relation inference latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
	})

	// OracleTokens counts tokens by direction ("input", "output").
	OracleTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linker_oracle_tokens_total",
		Help: "Tokens consumed by relation inference",
	}, []string{"direction"})

	OracleCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linker_oracle_cost_total",
		Help: "Summed cost of relation inference",
	})

	Hallucinations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linker_hallucinations_total",
		Help: "Predicted edges whose answer named other entities than requested",
	})

	MalformedAnswers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linker_malformed_answers_total",
		Help: "Oracle answers without three usable values",
	})

	// Files counts processed files by status ("written", "resumed", "failed", "invalid").
	Files = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linker_files_total",
		Help: "Processed input files by status",
	}, []string{"status"})

	// Sources counts sources by outcome ("committed", "skipped", "locked", "failed").
	Sources = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linker_sources_total",
		Help: "Input sources by outcome",
	}, []string{"outcome"})
)
