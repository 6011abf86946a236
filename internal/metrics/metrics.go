// Package metrics exposes Prometheus counters for story generation and the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storyspark"

// Collector owns a private registry so several instances can coexist in one process.
type Collector struct {
	registry           *prometheus.Registry
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	relayDeliveries    *prometheus.CounterVec
	relayConnections   prometheus.Gauge
}

// NewCollector registers the StorySpark metrics plus the Go runtime collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Story generation attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Latency of calls to the generation provider.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"kind"},
		),
		relayDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_messages_total",
				Help:      "Relay messages by outcome.",
			},
			[]string{"outcome"},
		),
		relayConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_connections",
				Help:      "Currently connected relay members.",
			},
		),
	}
}

// ObserveGeneration records a generation outcome.
func (c *Collector) ObserveGeneration(kind string, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(kind, outcome).Inc()
	c.generationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveRelay records how many members received a relayed message and how many were skipped.
func (c *Collector) ObserveRelay(delivered int, dropped int) {
	if c == nil {
		return
	}
	c.relayDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	c.relayDeliveries.WithLabelValues("dropped").Add(float64(dropped))
}

// ConnectionOpened increments the live connection gauge.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.relayConnections.Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.relayConnections.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
