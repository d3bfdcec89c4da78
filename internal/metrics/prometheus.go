package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sopdesk_sync_duration_seconds",
			Help:    "Discovery and sync cycle duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sopdesk_sync_total",
			Help: "Total sync cycles run",
		},
		[]string{"kind", "status"},
	)

	DocumentsIndexed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sopdesk_documents_indexed",
			Help: "Procedure documents in the current index snapshot",
		},
	)

	SyncErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sopdesk_sync_page_errors_total",
			Help: "Per-page extraction failures across all syncs",
		},
	)

	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sopdesk_search_results_count",
			Help:    "Results returned per search",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sopdesk_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sopdesk_context_confidence_score",
			Help:    "Context confidence metrics per assist request",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"metric"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sopdesk_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sopdesk_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AssistRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sopdesk_assist_requests_total",
			Help: "Assist requests processed",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncTotal)
	prometheus.MustRegister(DocumentsIndexed)
	prometheus.MustRegister(SyncErrors)
	prometheus.MustRegister(SearchResults)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(AssistRequests)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
