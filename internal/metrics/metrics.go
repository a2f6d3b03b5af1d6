package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal counts completed analysis runs, labeled by outcome.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_analyses_total",
		Help: "The total number of analysis runs",
	}, []string{"backend", "status"}) // status: completed, cancelled, rate_limited, failed

	// AnalysisDuration measures the wall time of one streaming run.
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "review_analysis_duration_seconds",
		Help:    "Time taken to stream one analysis",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})

	// StreamChunks counts chunks delivered to consumers, labeled by kind.
	StreamChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_stream_chunks_total",
		Help: "The total number of stream chunks delivered",
	}, []string{"kind"}) // kind: text, usage

	// CredentialRotations counts selectActive outcomes.
	CredentialRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_credential_rotations_total",
		Help: "The total number of credential selections",
	}, []string{"purpose", "outcome"}) // outcome: selected, exhausted, fallback

	// CredentialRateLimits counts credentials marked rate-limited.
	CredentialRateLimits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_credential_rate_limits_total",
		Help: "The total number of rate-limit stamps recorded",
	})

	// HistorySaves counts history commits, labeled by result.
	HistorySaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_history_saves_total",
		Help: "The total number of history save attempts",
	}, []string{"status"}) // status: success, reduced_cap, failed

	// HistoryEvictions counts entries trimmed from the log tail.
	HistoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_history_evictions_total",
		Help: "The total number of history entries evicted at capacity",
	})

	// APIRequests counts dashboard API requests, labeled by route and status.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_api_requests_total",
		Help: "The total number of dashboard API requests",
	}, []string{"route", "status"})
)
