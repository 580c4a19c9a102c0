// Package metrics defines the Prometheus instrumentation for brickradar.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream fetch metrics.
var (
	// UpstreamFetchesTotal counts live calls to the marketplace APIs.
	UpstreamFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickradar_upstream_fetches_total",
		Help: "Total number of live upstream API calls",
	}, []string{"source", "status"}) // status: ok, upstream_error, transport_error

	// UpstreamFetchDuration measures live upstream call latency.
	UpstreamFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brickradar_upstream_fetch_duration_seconds",
		Help:    "Latency of live upstream API calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"source"})
)

// Cache metrics.
var (
	// CacheRequestsTotal counts cache lookups by outcome.
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickradar_cache_requests_total",
		Help: "Total cache lookups for upstream fetch outcomes",
	}, []string{"op", "result"}) // result: hit, miss, bypass

	// CacheErrorsTotal counts redis failures on the cache path.
	CacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brickradar_cache_errors_total",
		Help: "Total redis errors while reading or writing the API cache",
	})
)

// Storage metrics.
var (
	// QueryLogWritesTotal counts appended query log records.
	QueryLogWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickradar_query_log_writes_total",
		Help: "Total query log records written",
	}, []string{"status"}) // status: ok, error

	// ResultUpsertsTotal counts result store upserts.
	ResultUpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickradar_result_upserts_total",
		Help: "Total result store upserts",
	}, []string{"status"})

	// HistoryReadsTotal counts history window reads.
	HistoryReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brickradar_history_reads_total",
		Help: "Total history window reads",
	})
)

// Rate limiter metrics.
var (
	// RateLimitDeferredTotal counts fetches delayed by the outbound limiter.
	RateLimitDeferredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickradar_rate_limit_deferred_total",
		Help: "Total upstream fetches delayed waiting for a rate limit token",
	}, []string{"source"})
)
