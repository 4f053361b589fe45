// Package metrics exposes process-wide Prometheus collectors for outbound
// requests, sitemap pages, artifacts and the status server. Run and task
// counters are owned by the progress Prometheus sink.
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
	fetchAttemptsTotal            *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	sitemapPagesTotal             *prometheus.CounterVec
	artifactsWrittenTotal         *prometheus.CounterVec
	artifactBytesTotal            *prometheus.CounterVec
	harvestActiveWorkers          prometheus.Gauge
	harvestRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_requests_total",
				Help: "Total number of outbound requests, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		sitemapPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sitemap_pages_total",
				Help: "Total number of sitemap pages requested, labeled by type and result.",
			},
			[]string{"type", "result"},
		)

		artifactsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_artifacts_written_total",
				Help: "Total number of artifacts persisted, labeled by kind.",
			},
			[]string{"kind"},
		)

		artifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_artifact_bytes_total",
				Help: "Total number of artifact bytes persisted, labeled by kind.",
			},
			[]string{"kind"},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		harvestRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
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

// StatusClass collapses an HTTP status into "2xx".."5xx", or "error" for
// transport failures (code 0).
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound request.
func ObserveFetch(site string, code int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitizedSite, StatusClass(code)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveSitemapPage records one sitemap page result ("ok", "exhausted",
// "denied", "malformed" or "error").
func ObserveSitemapPage(resourceType, result string) {
	Init()
	sitemapPagesTotal.WithLabelValues(resourceType, result).Inc()
}

// ObserveArtifact records a persisted artifact of the given kind.
func ObserveArtifact(kind string, size int) {
	Init()
	artifactsWrittenTotal.WithLabelValues(kind).Inc()
	if size > 0 {
		artifactBytesTotal.WithLabelValues(kind).Add(float64(size))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvestRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
