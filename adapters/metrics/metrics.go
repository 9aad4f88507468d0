// Package metrics provides Prometheus metrics collection for entitygate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reload results.
const (
	ReloadSuccess = "success"
	ReloadFailure = "failure"
)

// Collector holds all Prometheus metrics for entitygate.
type Collector struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads    *prometheus.CounterVec
	ConfigLastReload prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return newCollector(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	return newCollector(reg, reg)
}

func newCollector(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitygate",
				Name:      "operations_total",
				Help:      "Total number of entity operations by outcome",
			},
			[]string{"entity", "operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "entitygate",
				Name:      "operation_duration_seconds",
				Help:      "Entity operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"entity", "operation"},
		),
		ConfigReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitygate",
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads by result",
			},
			[]string{"result"},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "entitygate",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful configuration reload",
			},
		),
		gatherer: gatherer,
	}
}

// ObserveOperation records one completed entity operation.
func (c *Collector) ObserveOperation(entity, operation, outcome string, d time.Duration) {
	c.OperationsTotal.WithLabelValues(entity, operation, outcome).Inc()
	c.OperationDuration.WithLabelValues(entity, operation).Observe(d.Seconds())
}

// ObserveReload records a configuration reload attempt.
func (c *Collector) ObserveReload(err error) {
	if err != nil {
		c.ConfigReloads.WithLabelValues(ReloadFailure).Inc()
		return
	}
	c.ConfigReloads.WithLabelValues(ReloadSuccess).Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

// Handler serves the collected metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
