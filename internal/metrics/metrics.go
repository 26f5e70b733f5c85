// Package metrics holds the Prometheus instruments for batch processing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "regionqueue"

type Metrics struct {
	ItemsProcessed      *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	GenerationRetries   prometheus.Counter
	ContentSaveFailures prometheus.Counter
	ActiveLoops         prometheus.Gauge
	ItemCost            prometheus.Counter
	BatchTransitions    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every instrument on registry. Tests pass a fresh
// prometheus.NewRegistry so repeated construction does not collide.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Queue items that reached a terminal status.",
		}, []string{"status"}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of a single content generation call.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		GenerationRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Generation attempts beyond the first for an item.",
		}),
		ContentSaveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_content_save_failures_total",
			Help:      "Completed items whose content could not be stored.",
		}),
		ActiveLoops: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loops",
			Help:      "Batch worker loops running in this process.",
		}),
		ItemCost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_cost_total",
			Help:      "Sum of actual cost recorded for completed items.",
		}),
		BatchTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_transitions_total",
			Help:      "Batch status transitions by target status.",
		}, []string{"to"}),
		gatherer: registry,
	}
}

// NewNop returns instruments bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
