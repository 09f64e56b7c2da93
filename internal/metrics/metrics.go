// Package metrics exposes daemon metrics in the Prometheus format on a
// private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ct_secretsd"

// Collector holds every metric the daemon records.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	storageOps *prometheus.CounterVec

	validations       *prometheus.CounterVec
	validationLatency *prometheus.HistogramVec

	proxyStarts *prometheus.CounterVec
}

// NewCollector registers the daemon metrics on a fresh registry. running,
// when non-nil, backs the proxy_running gauge.
func NewCollector(running func() bool) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"route"}),
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Secret storage operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "validations_total",
			Help:      "Provider key validations by provider and result.",
		}, []string{"provider", "result"}),
		validationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "validation_duration_seconds",
			Help:      "Provider key validation latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		proxyStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "starts_total",
			Help:      "Proxy start attempts by provider and result.",
		}, []string{"provider", "result"}),
	}

	registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.storageOps,
		c.validations,
		c.validationLatency,
		c.proxyStarts,
	)

	if running != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "running",
			Help:      "1 when the supervised proxy is running.",
		}, func() float64 {
			if running() {
				return 1
			}
			return 0
		}))
	}

	return c
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordHTTP records a completed request.
func (c *Collector) RecordHTTP(route, method string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordStorage records a storage operation. Its signature matches
// storage.ObserverFunc.
func (c *Collector) RecordStorage(backend, op string, ok bool) {
	c.storageOps.WithLabelValues(backend, op, result(ok)).Inc()
}

// RecordValidation records a provider key validation.
func (c *Collector) RecordValidation(provider string, ok bool, d time.Duration) {
	c.validations.WithLabelValues(provider, result(ok)).Inc()
	c.validationLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordProxyStart records a proxy start attempt.
func (c *Collector) RecordProxyStart(provider string, ok bool) {
	c.proxyStarts.WithLabelValues(provider, result(ok)).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
