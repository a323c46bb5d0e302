// Package metrics defines the Prometheus instruments exported by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenantrag"

var (
	// EmbedCalls counts remote embedding calls.
	// Labels: result (success, transient, fatal)
	EmbedCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Total number of remote embedding calls by outcome",
		},
		[]string{"result"},
	)

	// EmbedDuration tracks remote embedding call latency.
	EmbedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "call_duration_seconds",
			Help:      "Duration of remote embedding calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// IndexOperations counts index mutations and searches.
	// Labels: op (add, remove, search, load, persist), result (success, error)
	IndexOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Total number of vector index operations",
		},
		[]string{"op", "result"},
	)

	// SearchDuration tracks nearest-neighbor search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "search_duration_seconds",
			Help:      "Duration of vector searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// IndexEvictions counts tenant indices dropped from memory.
	IndexEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "evictions_total",
			Help:      "Total number of tenant indices evicted from memory",
		},
	)

	// TaskTransitions counts task state changes.
	// Labels: state (the state entered)
	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Total number of ingestion task state transitions",
		},
		[]string{"state"},
	)

	// TaskBacklog is the number of admitted, non-terminal tasks.
	TaskBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "backlog",
			Help:      "Number of pending or processing ingestion tasks",
		},
	)

	// TaskRejections counts submissions refused because the backlog was full.
	TaskRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "rejections_total",
			Help:      "Total number of submissions rejected for capacity",
		},
	)

	// ChunksIngested counts chunks by outcome.
	// Labels: result (indexed, skipped, superseded)
	ChunksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Total number of chunks processed by outcome",
		},
		[]string{"result"},
	)

	// Queries counts answered queries.
	// Labels: result (success, error)
	Queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of queries by outcome",
		},
		[]string{"result"},
	)

	// QueryDuration tracks end-to-end query latency.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of queries including generation in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Outcome returns the result label for an operation error.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
