// Package metrics exposes Prometheus collectors for the credits bot.
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
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	queueDepth                 prometheus.Gauge
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	ledgerDenialsTotal         prometheus.Counter
	navigationSessions         prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditsbot_jobs_total",
				Help: "Total number of jobs that reached a terminal state, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditsbot_active_jobs",
				Help: "Number of admitted jobs currently executing.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditsbot_queue_depth",
				Help: "Number of jobs waiting for admission.",
			},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditsbot_fetch_attempts_total",
				Help: "Total number of retrieval attempts, labeled by site, strategy and verdict.",
			},
			[]string{"site", "strategy", "verdict"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditsbot_fetch_bytes_total",
				Help: "Total number of bytes retrieved, labeled by site.",
			},
			[]string{"site"},
		)

		ledgerDenialsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "creditsbot_ledger_denials_total",
				Help: "Total number of jobs rejected for lack of credits.",
			},
		)

		navigationSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditsbot_navigation_sessions",
				Help: "Number of open report navigation sessions.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for a terminal outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveFetchAttempt records one retrieval attempt and its payload size.
func ObserveFetchAttempt(rawURL, strategy, verdict string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, strategy, verdict).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveLedgerDenial increments the denial counter.
func ObserveLedgerDenial() {
	Init()
	ledgerDenialsTotal.Inc()
}

// IncNavigationSessions increments the open sessions gauge.
func IncNavigationSessions() {
	Init()
	navigationSessions.Inc()
}

// DecNavigationSessions decrements the open sessions gauge.
func DecNavigationSessions() {
	Init()
	navigationSessions.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
