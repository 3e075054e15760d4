// Package metrics defines the Prometheus collectors used by the comment index
// and its HTTP surface, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
	DocsDeletedTotal     prometheus.Counter
	IndexCommitsTotal    *prometheus.CounterVec
	IndexCommitDuration  prometheus.Histogram
	IndexGeneration      prometheus.Gauge
	IndexSegments        prometheus.Gauge
	IndexLiveDocs        prometheus.Gauge
	IndexRefreshesTotal  prometheus.Counter
	IndexMergesTotal     prometheus.Counter
	EventsConsumedTotal  *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on reg. Tests pass a fresh
// prometheus.NewRegistry(); the binaries pass prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of distinct ids returned per search query.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents added to the index.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_deleted_total",
				Help: "Total delete-by-id requests applied to the index.",
			},
		),
		IndexCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Total index commits by status.",
			},
			[]string{"status"},
		),
		IndexCommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_commit_duration_seconds",
				Help:    "Time spent making a generation durable.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_generation",
				Help: "Latest committed index generation.",
			},
		),
		IndexSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_segments",
				Help: "Number of segments in the latest generation.",
			},
		),
		IndexLiveDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_live_documents",
				Help: "Number of searchable documents in the latest generation.",
			},
		),
		IndexRefreshesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_refreshes_total",
				Help: "Total snapshot swaps performed before a search.",
			},
		),
		IndexMergesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_merges_total",
				Help: "Total segment merges.",
			},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluation_events_consumed_total",
				Help: "Evaluation events consumed from Kafka by type and status.",
			},
			[]string{"type", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.IndexCommitsTotal,
		m.IndexCommitDuration,
		m.IndexGeneration,
		m.IndexSegments,
		m.IndexLiveDocs,
		m.IndexRefreshesTotal,
		m.IndexMergesTotal,
		m.EventsConsumedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
