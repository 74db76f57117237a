// Package metrics exposes Prometheus collectors for the harvester service.
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
	activeWorkers              prometheus.Gauge
	activeSessions             prometheus.Gauge
	webhookAttemptsTotal       *prometheus.CounterVec
	extractionCardsTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times. Observe helpers are
// no-ops until Init has run.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Jobs reaching a terminal state, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Workers currently processing a job.",
			},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_sessions",
				Help: "Logged-in browser sessions held by the registry.",
			},
		)

		webhookAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_webhook_attempts_total",
				Help: "Webhook delivery attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		extractionCardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_extraction_cards_total",
				Help: "Extracted card candidates, labeled by profile and outcome.",
			},
			[]string{"profile", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the navigation throttle.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveJob counts a job reaching status.
func ObserveJob(kind, status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// SetActiveSessions records the registry size.
func SetActiveSessions(n int) {
	if activeSessions != nil {
		activeSessions.Set(float64(n))
	}
}

// ObserveWebhookAttempt counts one delivery attempt outcome.
func ObserveWebhookAttempt(outcome string) {
	if webhookAttemptsTotal == nil {
		return
	}
	webhookAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveExtraction adds n candidates with the given outcome.
func ObserveExtraction(profile, outcome string, n int) {
	if extractionCardsTotal == nil || n <= 0 {
		return
	}
	extractionCardsTotal.WithLabelValues(profile, outcome).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
