package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here and registered on the default
// registry, so every binary linking this package exports them (with zero values
// until used).

// namespace defines the global prefix for all metrics (e.g., bifrost_...).
const namespace = "bifrost"

// lowLatencyBuckets defines custom buckets for hot-path operations (evaluation).
// Standard buckets are too coarse (starting at 5ms), so we add sub-millisecond resolution.
// Range: 50µs to 100ms.
var lowLatencyBuckets = []float64{.00005, .0001, .00025, .0005, .001, .002, .005, .010, .025, .050, .100}

var (
	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvaluationsTotal counts evaluation results by outcome.
	// Metric: bifrost_evaluator_evaluations_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluator",
		Name:      "evaluations_total",
		Help:      "Total flag evaluations by outcome",
	}, []string{"outcome"}) // condition, default_rule, killed, traffic_allocation_failed, not_found, exception, unsupported

	// EvaluationDuration measures the latency of one evaluator call.
	// Metric: bifrost_evaluator_evaluation_seconds
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluator",
		Name:      "evaluation_seconds",
		Help:      "Time taken to evaluate one or many flags",
		Buckets:   lowLatencyBuckets,
	}, []string{"method"}) // one, many, by_sets

	// --- Storage L1 Metrics (Otter) ---

	StorageCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "l1_cache_hits_total",
		Help:      "Total compiled flag lookups served from the in-memory cache",
	})

	StorageCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "l1_cache_misses_total",
		Help:      "Total compiled flag lookups that went to Redis",
	})

	// Otter tracks item count, not byte size.
	StorageCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "l1_cache_items_count",
		Help:      "Current number of compiled flags in the L1 cache",
	})

	StorageLookupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "lookup_errors_total",
		Help:      "Total failed storage lookups",
	}, []string{"op"}) // flag, flags, flag_sets, segment, decode

	// -------------------------------------------------------------------------
	// IMPRESSIONS PIPELINE
	// -------------------------------------------------------------------------

	ImpressionsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "impressions",
		Name:      "queued_total",
		Help:      "Total impressions accepted into the upload queue",
	})

	// ImpressionsDropped tracks impressions rejected because the queue was full.
	ImpressionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "impressions",
		Name:      "dropped_total",
		Help:      "Total impressions dropped due to queue capacity",
	})

	ImpressionsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "impressions",
		Name:      "deduplicated_total",
		Help:      "Total impressions suppressed from upload by deduplication",
	})

	ImpressionCountsTracked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "impressions",
		Name:      "counts_tracked_total",
		Help:      "Total impressions folded into per-flag hourly counters",
	})

	UniqueKeysTracked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "impressions",
		Name:      "unique_keys_tracked_total",
		Help:      "Total new (flag, key) pairs recorded by the unique keys tracker",
	})

	// -------------------------------------------------------------------------
	// FLUSHERS (Background tasks)
	// -------------------------------------------------------------------------

	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "flushes_total",
		Help:      "Total telemetry flush chunks by stream",
	}, []string{"stream", "status"}) // impressions|counts|unique_keys, success|fail

	// FlushDuration measures one full flush (all chunks) of a stream.
	// Metric: bifrost_recorder_flush_duration_seconds
	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "flush_duration_seconds",
		Help:      "Time taken to flush one telemetry stream",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stream"})

	// -------------------------------------------------------------------------
	// SYNCER (Definitions file reload)
	// -------------------------------------------------------------------------

	SyncerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycles_total",
		Help:      "Total definitions sync cycles by result",
	}, []string{"status"}) // reloaded, unchanged, fail

	// SyncerLastReload is the unix time of the last successful reload.
	// Metric: bifrost_syncer_last_reload_timestamp_seconds
	SyncerLastReload = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "last_reload_timestamp_seconds",
		Help:      "Unix time of the last successful definitions reload",
	})

	// -------------------------------------------------------------------------
	// EVALUATION API (HTTP)
	// -------------------------------------------------------------------------

	// APIReqDuration measures the latency of HTTP requests.
	// Metric: bifrost_api_http_handling_seconds
	APIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP evaluation requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// APIReqTotal counts the total number of HTTP requests.
	// Metric: bifrost_api_http_requests_total
	APIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP evaluation requests",
	}, []string{"method", "path", "code"})
)

// ImpressionStats reports impressions pipeline activity to Prometheus.
// It satisfies impressions.Stats.
type ImpressionStats struct{}

func (ImpressionStats) Queued(n int)       { ImpressionsQueued.Add(float64(n)) }
func (ImpressionStats) Dropped(n int)      { ImpressionsDropped.Add(float64(n)) }
func (ImpressionStats) Deduplicated(n int) { ImpressionsDeduplicated.Add(float64(n)) }
func (ImpressionStats) Counted(n int)      { ImpressionCountsTracked.Add(float64(n)) }
func (ImpressionStats) UniqueKeys(n int)   { UniqueKeysTracked.Add(float64(n)) }
