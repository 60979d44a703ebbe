// Package observability holds the Prometheus metrics and the logrus logger
// shared by the service.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verification outcomes used as the outcome label.
const (
	OutcomeAccepted         = "accepted"
	OutcomeDuplicate        = "duplicate"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeUnauthenticated  = "unauthenticated"
	OutcomeRejected         = "rejected"
	OutcomeError            = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrdersCreatedTotal       *prometheus.CounterVec
	VerificationsTotal       *prometheus.CounterVec
	OrderCacheLookupsTotal   *prometheus.CounterVec
	EntitlementWriteFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashmetrics_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashmetrics_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OrdersCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashmetrics_orders_created_total",
				Help: "Gateway orders created, by plan and billing period",
			},
			[]string{"plan", "period"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashmetrics_payment_verifications_total",
				Help: "Payment verifications, by outcome",
			},
			[]string{"outcome"},
		),
		OrderCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashmetrics_order_cache_lookups_total",
				Help: "Order cache lookups, by result",
			},
			[]string{"result"},
		),
		EntitlementWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashmetrics_entitlement_write_failures_total",
				Help: "Payments recorded whose entitlement update failed",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersCreatedTotal,
		m.VerificationsTotal,
		m.OrderCacheLookupsTotal,
		m.EntitlementWriteFailures,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOrderCacheLookup(result string) {
	m.OrderCacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOrderCreated(plan, period string) {
	m.OrdersCreatedTotal.WithLabelValues(plan, period).Inc()
}

func (m *Metrics) ObserveVerification(outcome string) {
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEntitlementWriteFailure() {
	m.EntitlementWriteFailures.Inc()
}
