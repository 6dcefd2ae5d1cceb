package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request counts and latency for the HTTP surface.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// EngineMetrics records trust-engine evaluation counts and latency.
type EngineMetrics struct {
	evaluations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	httpOnce     sync.Once
	httpRegistry *HTTPMetrics

	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// HTTP returns the lazily-initialized HTTP metrics registry.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "identity_server",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and status.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "identity_server",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency)
	})
	return httpRegistry
}

// Observe records the outcome of one HTTP request.
func (m *HTTPMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// Engine returns the lazily-initialized trust engine metrics registry.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "identity_server",
				Subsystem: "engine",
				Name:      "evaluations_total",
				Help:      "Total trust engine evaluations segmented by kind.",
			}, []string{"kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "identity_server",
				Subsystem: "engine",
				Name:      "evaluation_duration_seconds",
				Help:      "Latency distribution of idt/penalty evaluations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
		}
		prometheus.MustRegister(engineRegistry.evaluations, engineRegistry.latency)
	})
	return engineRegistry
}

// Observe records one idt or penalty evaluation. kind is "idt" or "penalty".
func (m *EngineMetrics) Observe(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(kind).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}
