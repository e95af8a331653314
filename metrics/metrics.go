// Package metrics provides Prometheus metrics for similarity ranking and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricSimilarityRequests     = "similarity_requests_total"
	MetricSimilarityRankDuration = "similarity_rank_duration_seconds"
	MetricSimilarityItems        = "similarity_items_total"
	MetricEmbeddingCacheRequests = "embedding_cache_requests_total"
	MetricHTTPRequestsTotal      = "http_requests_total"
	MetricHTTPRequestDuration    = "http_request_duration_seconds"
)

// Metrics is safe for concurrent use. A nil *Metrics discards all observations.
type Metrics struct {
	similarityRequests     *prometheus.CounterVec
	similarityRankDuration *prometheus.HistogramVec
	similarityItems        *prometheus.CounterVec
	embeddingCacheRequests *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
}

// New creates the metrics. Call Register to expose them.
func New() *Metrics {
	return &Metrics{
		similarityRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSimilarityRequests,
				Help: "Total number of similarity ranking requests by strategy and outcome",
			},
			[]string{"strategy", "status"},
		),
		similarityRankDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricSimilarityRankDuration,
				Help:    "Time taken to rank the items of a similarity request",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"strategy"},
		),
		similarityItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSimilarityItems,
				Help: "Total number of items received, by whether they were scored or dropped",
			},
			[]string{"strategy", "outcome"},
		),
		embeddingCacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEmbeddingCacheRequests,
				Help: "Total number of embedding cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.similarityRequests,
		m.similarityRankDuration,
		m.similarityItems,
		m.embeddingCacheRequests,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRank records the outcome of ranking a single request.
// status is "ok" or "error". scored is the number of items in the response.
func (m *Metrics) ObserveRank(strategy, status string, duration time.Duration, items, scored int) {
	if m == nil {
		return
	}
	m.similarityRequests.WithLabelValues(strategy, status).Inc()
	m.similarityRankDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if status != "ok" {
		return
	}
	m.similarityItems.WithLabelValues(strategy, "scored").Add(float64(scored))
	m.similarityItems.WithLabelValues(strategy, "dropped").Add(float64(items - scored))
}

// ObserveCacheLookup satisfies embedder.CacheObserver.
func (m *Metrics) ObserveCacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCacheRequests.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": status,
	}
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}
