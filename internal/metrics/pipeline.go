package metrics

import "github.com/prometheus/client_golang/prometheus"

// Mosaic pipeline and upstream Prometheus metrics.
var (
	MosaicStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mosaic_stage_duration_seconds",
			Help:      "Mosaic pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"stage"},
	)

	MosaicStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mosaic_stage_total",
			Help:      "Mosaic pipeline stage outcomes",
		},
		[]string{"stage", "result"}, // "ok" / "error" / "timeout"
	)

	MosaicsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mosaics_created_total",
			Help:      "Mosaics published to the tile server",
		},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to external services",
		},
		[]string{"service", "operation", "status"},
	)

	ResponseCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_total",
			Help:      "Metadata response cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers mosaic, upstream and cache metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(MosaicStageDuration)
	prometheus.MustRegister(MosaicStageTotal)
	prometheus.MustRegister(MosaicsCreatedTotal)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(ResponseCacheTotal)
	prometheus.MustRegister(CircuitBreakerState)
	pipelineMetricsRegistered = true
}
