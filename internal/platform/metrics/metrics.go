package metrics

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the service exports. Each Collector has its
// own registry so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	ConflictsTotal    *prometheus.CounterVec
	MutationsTotal    *prometheus.CounterVec
	BulkRejectedTotal *prometheus.CounterVec
	BulkErrorsTotal   *prometheus.CounterVec
}

func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		ConflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "allocation",
			Name:      "conflicts_total",
			Help:      "Bed and ward mutations rejected by the allocation guard, by conflict kind.",
		}, []string{"kind"}),

		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "allocation",
			Name:      "mutations_total",
			Help:      "Guarded mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		BulkRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "bulk",
			Name:      "rejected_total",
			Help:      "Bulk batches that failed validation, by entity type.",
		}, []string{"entity"}),

		BulkErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "bulk",
			Name:      "validation_errors_total",
			Help:      "Indexed validation errors reported for bulk batches, by entity type.",
		}, []string{"entity"}),
	}
}

// RegisterPool exports pgx pool gauges read at scrape time.
func (c *Collector) RegisterPool(serviceName string, pool *pgxpool.Pool) {
	factory := promauto.With(c.registry)
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(pool.Stat()) })
	}
	gauge("total_connections", "Connections currently held by the pool.",
		func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("acquired_connections", "Connections currently checked out.",
		func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("idle_connections", "Idle connections in the pool.",
		func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
}

// ConflictRaised counts a guard rejection.
func (c *Collector) ConflictRaised(kind string) {
	c.ConflictsTotal.WithLabelValues(kind).Inc()
}

// MutationCompleted counts a guarded mutation as ok or failed.
func (c *Collector) MutationCompleted(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.MutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// BulkRejected counts a batch that failed validation and its error count.
func (c *Collector) BulkRejected(entity string, errorCount int) {
	c.BulkRejectedTotal.WithLabelValues(entity).Inc()
	c.BulkErrorsTotal.WithLabelValues(entity).Add(float64(errorCount))
}

// Registry exposes the collector's registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
