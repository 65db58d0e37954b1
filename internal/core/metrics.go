package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudsync/cloudsync/internal/model"
)

// Label names used by the run metrics.
const (
	LabelOperation = "operation"
	LabelAction    = "action"
)

// Metrics holds the counters of a run. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	itemsTotal *prometheus.CounterVec
	lastRun    *prometheus.GaugeVec
}

// NewMetrics creates the run metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudsync",
				Name:      "items_total",
				Help:      "Items handled per operation and action",
			},
			[]string{LabelOperation, LabelAction},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cloudsync",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last finished run per operation",
			},
			[]string{LabelOperation},
		),
	}
	m.registry.MustRegister(m.itemsTotal, m.lastRun)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Inc counts one item for op and action.
func (m *Metrics) Inc(op model.Operation, action string) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(string(op), action).Inc()
}

// Finished records the completion time of op.
func (m *Metrics) Finished(op model.Operation, at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.WithLabelValues(string(op)).Set(float64(at.Unix()))
}

// WriteTextfile writes the metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
