package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docengine",
			Name:      "provider_requests_total",
			Help:      "Total VisionExtractor requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docengine",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of VisionExtractor requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	pagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docengine",
			Name:      "pages_processed_total",
			Help:      "Total pages processed by result (vision, ocr_fallback, error)",
		},
		[]string{"result"},
	)

	documentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docengine",
			Name:      "documents_processed_total",
			Help:      "Total documents reaching a terminal status",
		},
		[]string{"status"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docengine",
			Name:      "retries_total",
			Help:      "Total number of per-page extraction retries",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docengine",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each PipelineEngine stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docengine",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by provider, model and action",
		},
		[]string{"provider", "model", "action"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docengine",
			Name:      "queue_depth",
			Help:      "JobQueue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)

	documentsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docengine",
			Name:      "documents_in_progress",
			Help:      "Documents currently being processed by this worker pool",
		},
	)
)

// Init registers all collectors against the default registry.
func Init() {
	prometheus.MustRegister(
		providerReqs, providerLatency, pagesProcessed, documentsProcessed,
		retriesTotal, stageDuration, breakerEvents, queueDepth, documentsInProgress,
	)
}

// Handler returns the http.Handler for /metrics.
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(provider, model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(provider, model, result).Inc()
	providerLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncPageResult(result string)     { pagesProcessed.WithLabelValues(result).Inc() }
func IncDocumentResult(status string) { documentsProcessed.WithLabelValues(status).Inc() }
func IncRetry()                       { retriesTotal.Inc() }

func ObserveStage(stage string, dur time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

func BreakerOpened(provider, model string) { breakerEvents.WithLabelValues(provider, model, "opened").Inc() }
func BreakerClosed(provider, model string) { breakerEvents.WithLabelValues(provider, model, "closed").Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func IncInProgress() { documentsInProgress.Inc() }
func DecInProgress() { documentsInProgress.Dec() }
