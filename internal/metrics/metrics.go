// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	linksProcessedTotal        *prometheus.CounterVec
	linkDurationSeconds        *prometheus.HistogramVec
	entitiesPersistedTotal     *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	breakerTripsTotal          prometheus.Counter
	breakerBlockedDomains      prometheus.Gauge
	queueLinks                 *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		linksProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_links_processed_total",
				Help: "Total number of link attempts, labeled by final status and failure kind.",
			},
			[]string{"status", "failure_kind"},
		)

		linkDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_link_duration_seconds",
				Help:    "Histogram of per-link processing time, labeled by final status.",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 120, 240},
			},
			[]string{"status"},
		)

		entitiesPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_entities_persisted_total",
				Help: "Total number of entities written, labeled by entity type.",
			},
			[]string{"entity"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_extractions_total",
				Help: "Total number of extraction calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		breakerTripsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_breaker_trips_total",
				Help: "Total number of times a domain circuit opened.",
			},
		)

		breakerBlockedDomains = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_breaker_blocked_domains",
				Help: "Number of domains currently refused by the circuit breaker.",
			},
		)

		queueLinks = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_queue_links",
				Help: "Links in the store, labeled by status, as of the last status probe.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of workers currently processing a link.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain spacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLink records one finished link attempt.
func ObserveLink(status, failureKind string, duration time.Duration) {
	Init()
	linksProcessedTotal.WithLabelValues(status, failureKind).Inc()
	linkDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveEntities adds n persisted entities of the given type.
func ObserveEntities(entity string, n int) {
	if n <= 0 {
		return
	}
	Init()
	entitiesPersistedTotal.WithLabelValues(entity).Add(float64(n))
}

// ObserveExtraction counts one extraction call.
func ObserveExtraction(provider, outcome string) {
	Init()
	if provider == "" {
		provider = "none"
	}
	extractionsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveBreakerTrip counts a domain circuit opening.
func ObserveBreakerTrip() {
	Init()
	breakerTripsTotal.Inc()
}

// SetBlockedDomains sets the blocked-domain gauge.
func SetBlockedDomains(n int) {
	Init()
	breakerBlockedDomains.Set(float64(n))
}

// SetQueueDepth records the link count for one status.
func SetQueueDepth(status string, n int) {
	Init()
	queueLinks.WithLabelValues(status).Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a per-domain spacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
