// Package metrics exposes reconciliation counters to Prometheus.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parcelsync"

// Cycle outcomes.
const (
	CycleCompleted = "completed"
	CycleSkipped   = "skipped"
	CycleFailed    = "failed"
)

// Carrier and marketplace call results.
const (
	ResultOK             = "ok"
	ResultNotThisCarrier = "not_this_carrier"
	ResultThrottled      = "throttled"
	ResultError          = "error"
	ResultExpired        = "expired"
)

type Metrics struct {
	registry *prometheus.Registry

	cycles              *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	orders              *prometheus.CounterVec
	carrierCalls        *prometheus.CounterVec
	marketplaceBatches  *prometheus.CounterVec
	attributionFailures prometheus.Counter
	droppedEvents       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed reconciliation cycles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order outcomes aggregated from cycle summaries.",
		}, []string{"outcome"}),
		carrierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_calls_total",
			Help:      "Carrier status calls by carrier and result.",
		}, []string{"carrier", "result"}),
		marketplaceBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "marketplace_batches_total",
			Help:      "Marketplace batch requests by result.",
		}, []string{"result"}),
		attributionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_failures_total",
			Help:      "Marketplace records dropped because no credential could be attributed.",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.orders, m.carrierCalls,
		m.marketplaceBatches, m.attributionFailures, m.droppedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OrderCounts mirrors the per-cycle summary counters.
type OrderCounts struct {
	NewlyTracked  int
	StatusUpdated int
	Delivered     int
	Cancelled     int
	Errored       int
}

func (m *Metrics) CycleFinished(d time.Duration, c OrderCounts) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(CycleCompleted).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.orders.WithLabelValues("newly_tracked").Add(float64(c.NewlyTracked))
	m.orders.WithLabelValues("status_updated").Add(float64(c.StatusUpdated))
	m.orders.WithLabelValues("delivered").Add(float64(c.Delivered))
	m.orders.WithLabelValues("cancelled").Add(float64(c.Cancelled))
	m.orders.WithLabelValues("errored").Add(float64(c.Errored))
}

func (m *Metrics) Cycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CarrierCall(carrierID, result string) {
	if m == nil {
		return
	}
	m.carrierCalls.WithLabelValues(carrierID, result).Inc()
}

func (m *Metrics) MarketplaceBatch(result string) {
	if m == nil {
		return
	}
	m.marketplaceBatches.WithLabelValues(result).Inc()
}

func (m *Metrics) AttributionFailure() {
	if m == nil {
		return
	}
	m.attributionFailures.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}
