// Package metrics holds the Prometheus collectors exposed on the admin /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry and every application metric.
// All methods are safe on a nil receiver so components can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	Updates         *prometheus.CounterVec
	UpdateDuration  *prometheus.HistogramVec
	Transitions     *prometheus.CounterVec
	PersistFailures prometheus.Counter

	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	Broadcasts          prometheus.Counter
	BroadcastDeliveries *prometheus.CounterVec
}

// New builds a Collector with metrics under the given namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Telegram updates handled, by handler and outcome.",
		}, []string{"handler", "outcome"}),
		UpdateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Time spent handling a Telegram update.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Conversation state transitions.",
		}, []string{"from", "to"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_persist_failures_total",
			Help:      "Session writes that failed after retries.",
		}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Places provider calls, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Places provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast runs started.",
		}),
		BroadcastDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast deliveries, by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Updates,
		c.UpdateDuration,
		c.Transitions,
		c.PersistFailures,
		c.ProviderRequests,
		c.ProviderDuration,
		c.BreakerState,
		c.Broadcasts,
		c.BroadcastDeliveries,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the Prometheus exposition format for this collector.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveUpdate(handler, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Updates.WithLabelValues(handler, outcome).Inc()
	c.UpdateDuration.WithLabelValues(handler).Observe(d.Seconds())
}

func (c *Collector) ObserveTransition(from, to string) {
	if c == nil || from == to {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) ObservePersistFailure() {
	if c == nil {
		return
	}
	c.PersistFailures.Inc()
}

func (c *Collector) ObserveProvider(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ProviderRequests.WithLabelValues(endpoint, outcome).Inc()
	c.ProviderDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (c *Collector) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

func (c *Collector) ObserveBroadcast() {
	if c == nil {
		return
	}
	c.Broadcasts.Inc()
}

func (c *Collector) ObserveDelivery(outcome string) {
	if c == nil {
		return
	}
	c.BroadcastDeliveries.WithLabelValues(outcome).Inc()
}
