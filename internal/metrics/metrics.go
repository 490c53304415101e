// Package metrics exposes the engine's operational counters as
// Prometheus collectors, served by the API's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the engine counters on a private registry so two
// engines in one process (e.g. tests) never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	TicksProcessed  prometheus.Counter
	OrdersSubmitted prometheus.Counter
	OrdersRejected  prometheus.Counter
	OrdersCancelled prometheus.Counter
	TradesExecuted  prometheus.Counter
	RiskExits       prometheus.Counter
	BreakerTrips    prometheus.Counter
	Equity          prometheus.Gauge
}

// NewCollector creates and registers the engine collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		TicksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "ticks_processed_total",
			Help: "Ticks fully processed by the driver loop.",
		}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "orders_submitted_total",
			Help: "Orders accepted by validation and sent for execution.",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "orders_rejected_total",
			Help: "Orders rejected by the validation gate.",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "orders_cancelled_total",
			Help: "Orders cancelled by the matching engine or broker.",
		}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "trades_executed_total",
			Help: "Trades applied to the portfolio.",
		}),
		RiskExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "risk_exits_total",
			Help: "Exit orders forced by stops or the circuit breaker.",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamalpha", Name: "circuit_breaker_trips_total",
			Help: "Circuit breaker trips this session.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamalpha", Name: "portfolio_equity",
			Help: "Last recorded portfolio total value.",
		}),
	}

	c.registry.MustRegister(
		c.TicksProcessed, c.OrdersSubmitted, c.OrdersRejected,
		c.OrdersCancelled, c.TradesExecuted, c.RiskExits,
		c.BreakerTrips, c.Equity,
	)
	return c
}

// Handler serves this collector's registry in the Prometheus text
// format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
