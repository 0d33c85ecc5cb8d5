package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline Prometheus metrics.
var (
	RecommendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommend_requests_total",
			Help:      "Total recommend calls by outcome",
		},
		[]string{"deployment", "status", "kind"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"deployment", "stage"},
	)

	StageRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "Stage retries after a timeout",
		},
		[]string{"deployment", "stage"},
	)

	RerankFailedScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_failed_scores_total",
			Help:      "Candidates excluded because their score could not be computed",
		},
		[]string{"scorer"},
	)

	CandidatePoolSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_pool_size",
			Help:      "Number of candidates after fusion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"deployment"},
	)

	SnapshotSwapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_swaps_total",
			Help:      "Index snapshot swaps",
		},
		[]string{"deployment"},
	)

	SnapshotItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_items",
			Help:      "Items in the live index snapshot",
		},
		[]string{"deployment"},
	)

	SnapshotSkippedItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_skipped_items",
			Help:      "Corpus items left out of the live snapshot",
		},
		[]string{"deployment"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RecommendCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommend_cache_total",
			Help:      "Response cache hits and misses",
		},
		[]string{"deployment", "result"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		RecommendRequestsTotal,
		StageDuration,
		StageRetriesTotal,
		RerankFailedScoresTotal,
		CandidatePoolSize,
		SnapshotSwapsTotal,
		SnapshotItems,
		SnapshotSkippedItems,
		CircuitBreakerState,
		RecommendCacheTotal,
	)
	pipelineMetricsRegistered = true
}
