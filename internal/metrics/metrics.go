package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	SalesCompleted     *prometheus.CounterVec
	SalesRevenue       prometheus.Counter
	InventoryMovements *prometheus.CounterVec
	EventsDropped      prometheus.Counter
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retailpos_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retailpos_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		SalesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retailpos_sales_completed_total",
			Help: "Completed sales by channel",
		}, []string{"channel"}),
		SalesRevenue: factory.NewCounter(prometheus.CounterOpts{
			Name: "retailpos_sales_revenue_cents_total",
			Help: "Total value of completed sales in cents",
		}),
		InventoryMovements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retailpos_inventory_movements_total",
			Help: "Inventory ledger rows written by movement type",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "retailpos_events_dropped_total",
			Help: "Domain events that could not be enqueued for publishing",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(route string, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordSale(channel string, totalCents int64) {
	if m == nil {
		return
	}
	m.SalesCompleted.WithLabelValues(channel).Inc()
	if totalCents > 0 {
		m.SalesRevenue.Add(float64(totalCents))
	}
}

func (m *Metrics) RecordMovement(movementType string) {
	if m == nil {
		return
	}
	m.InventoryMovements.WithLabelValues(movementType).Inc()
}

func (m *Metrics) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
