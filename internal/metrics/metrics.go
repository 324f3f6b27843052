// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal            *prometheus.CounterVec
	rateLimitDelaySeconds *prometheus.HistogramVec
	backoffsTotal         *prometheus.CounterVec
	proxyEvictionsTotal   prometheus.Counter
	checkpointSavesTotal  *prometheus.CounterVec
	frontierSize          *prometheus.GaugeVec
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of URLs processed, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter wait durations per host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"host"},
		)

		backoffsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_backoffs_total",
				Help: "Total number of backoffs initiated, labeled by kind (host or ip).",
			},
			[]string{"kind"},
		)

		proxyEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_proxy_evictions_total",
				Help: "Total number of proxy assignments evicted after permanent failures.",
			},
		)

		checkpointSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_checkpoint_saves_total",
				Help: "Total number of checkpoint saves, labeled by trigger (interval or shutdown).",
			},
			[]string{"trigger"},
		)

		frontierSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_frontier_size",
				Help: "Number of URLs currently pending, labeled by mode.",
			},
			[]string{"mode"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of in-flight URL dispatches.",
			},
		)
	})
}

// SanitizeHost sanitizes a URL or hostname into a lowercase hostname label.
// It returns "unknown" if the value is invalid.
func SanitizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the processed-page counter.
func ObservePage(host string, outcome string) {
	pagesTotal.WithLabelValues(SanitizeHost(host), outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// ObserveBackoff increments the backoff counter for the given kind.
func ObserveBackoff(kind string) {
	backoffsTotal.WithLabelValues(kind).Inc()
}

// ObserveProxyEviction increments the eviction counter.
func ObserveProxyEviction() {
	proxyEvictionsTotal.Inc()
}

// ObserveCheckpointSave increments the checkpoint save counter.
func ObserveCheckpointSave(trigger string) {
	checkpointSavesTotal.WithLabelValues(trigger).Inc()
}

// SetFrontierSize records the current pending-work size for a mode.
func SetFrontierSize(mode string, n int) {
	frontierSize.WithLabelValues(mode).Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
