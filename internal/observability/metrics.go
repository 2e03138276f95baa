// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	frameCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frame_cache_results_total",
			Help: "Frame cache lookups by outcome (hit, miss, coalesced).",
		},
		[]string{"outcome"},
	)

	frameCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frame_cache_evictions_total",
			Help: "Entries evicted from the frame cache.",
		},
	)

	frameCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frame_cache_entries",
			Help: "Entries currently held by the frame cache.",
		},
	)

	frameCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frame_cache_bytes",
			Help: "Estimated bytes held by the frame cache.",
		},
	)

	capacityViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frame_cache_capacity_violations_total",
			Help: "Budget invariant breaches observed by the frame cache.",
		},
	)

	datasetCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_cache_results_total",
			Help: "Dataset handle cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	prefetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_total",
			Help: "Prefetch tasks by outcome (success, failure, cancelled, skipped, dropped).",
		},
		[]string{"outcome"},
	)

	frameLoadSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frame_load_duration_seconds",
			Help:    "Time to fetch and process one frame on a cache miss.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Full cache invalidations by reason.",
		},
		[]string{"reason"},
	)
)

// Collectors returns every service collector so a second registry
// (the ops endpoint) can expose them alongside its runtime and
// process collectors. promauto already bound them to the default
// registry; a collector may serve any number of registries.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		frameCacheResults,
		frameCacheEvictions,
		frameCacheEntries,
		frameCacheBytes,
		capacityViolations,
		datasetCacheResults,
		prefetchOutcomes,
		frameLoadSeconds,
		invalidationsTotal,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncFrameHit()       { frameCacheResults.WithLabelValues("hit").Inc() }
func IncFrameMiss()      { frameCacheResults.WithLabelValues("miss").Inc() }
func IncFrameCoalesced() { frameCacheResults.WithLabelValues("coalesced").Inc() }

func IncDatasetHit()  { datasetCacheResults.WithLabelValues("hit").Inc() }
func IncDatasetMiss() { datasetCacheResults.WithLabelValues("miss").Inc() }

func AddEvictions(n int) { frameCacheEvictions.Add(float64(n)) }

func SetFrameCacheSize(entries int, bytes int64) {
	frameCacheEntries.Set(float64(entries))
	frameCacheBytes.Set(float64(bytes))
}

func IncCapacityViolation() { capacityViolations.Inc() }

func IncPrefetch(outcome string) { prefetchOutcomes.WithLabelValues(outcome).Inc() }

func ObserveFrameLoad(durationSeconds float64) { frameLoadSeconds.Observe(durationSeconds) }

func IncInvalidation(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	invalidationsTotal.WithLabelValues(reason).Inc()
}
