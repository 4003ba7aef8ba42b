// Package metrics exposes Prometheus collectors for the portal services.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	aiCallsTotal               *prometheus.CounterVec
	aiCallDurationSeconds      *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	scrapedItemsTotal          *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	robotsFallbacksTotal       *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_jobs_total",
				Help: "Total number of jobs finished, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_job_duration_seconds",
				Help:    "Histogram of job run times, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		aiCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_ai_calls_total",
				Help: "Total number of AI provider calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		aiCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_ai_call_duration_seconds",
				Help:    "Histogram of AI provider latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_content_cache_lookups_total",
				Help: "Content cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		scrapedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_scraped_items_total",
				Help: "Scraped items, labeled by outcome (stored or duplicate).",
			},
			[]string{"outcome"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_fetches_total",
				Help: "Outbound source fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_fetch_bytes_total",
				Help: "Bytes fetched from sources, labeled by site.",
			},
			[]string{"site"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_robots_fallback_total",
				Help: "Fetches that proceeded without a readable robots.txt, labeled by cause.",
			},
			[]string{"cause"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob records a finished job.
func ObserveJob(kind, status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(kind, status).Inc()
	jobDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
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

// ObserveAICall records one provider call.
func ObserveAICall(provider string, err error, duration time.Duration) {
	Init()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	aiCallsTotal.WithLabelValues(provider, outcome).Inc()
	aiCallDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveCacheLookup records a content cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveScrapedItems adds stored and duplicate item counts.
func ObserveScrapedItems(stored, duplicates int) {
	Init()
	scrapedItemsTotal.WithLabelValues("stored").Add(float64(stored))
	scrapedItemsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
}

// ObserveFetch records a source fetch.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRobotsFallback counts a robots.txt that could not be read.
func ObserveRobotsFallback(cause string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(cause).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}
