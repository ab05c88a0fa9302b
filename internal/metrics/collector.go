package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anchor"

// Reply outcomes used as label values on reply metrics.
const (
	OutcomeSuccess           = "success"
	OutcomeMissingCredential = "missing_credential"
	OutcomeUpstreamError     = "upstream_error"
	OutcomeEmptyReply        = "empty_reply"
	OutcomeFailure           = "failure"
)

// Collector owns a private Prometheus registry with the gateway's metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	repliesTotal     *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	promptTokens     prometheus.Histogram
	activeRequests   prometheus.Gauge

	startTime time.Time
}

// NewCollector creates a Collector and registers its metrics, plus the Go
// runtime and process collectors, on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total gateway requests by resolved route, method and status code.",
			},
			[]string{"route", "method", "status"},
		),

		repliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replies_total",
				Help:      "Total reply requests by upstream outcome.",
			},
			[]string{"outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Duration of chat completion calls in seconds.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"outcome"},
		),

		promptTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prompt_tokens",
				Help:      "Estimated prompt tokens per reply request.",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
			},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of gateway requests currently being processed.",
			},
		),

		startTime: time.Now(),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.repliesTotal,
		c.upstreamDuration,
		c.promptTokens,
		c.activeRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest counts one finished gateway request.
func (c *Collector) RecordRequest(route, method string, status int) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// RecordReply counts one reply outcome and, when the upstream was actually
// called, observes the call duration.
func (c *Collector) RecordReply(outcome string, upstream time.Duration) {
	if c == nil {
		return
	}
	c.repliesTotal.WithLabelValues(outcome).Inc()
	if upstream > 0 {
		c.upstreamDuration.WithLabelValues(outcome).Observe(upstream.Seconds())
	}
}

// ObservePromptTokens records a prompt size estimate. Zero estimates are
// skipped since they mean no encoder was available.
func (c *Collector) ObservePromptTokens(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.promptTokens.Observe(float64(n))
}

// IncrementActive marks a request as in flight.
func (c *Collector) IncrementActive() {
	if c == nil {
		return
	}
	c.activeRequests.Inc()
}

// DecrementActive marks an in-flight request as finished.
func (c *Collector) DecrementActive() {
	if c == nil {
		return
	}
	c.activeRequests.Dec()
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
