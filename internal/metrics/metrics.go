package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the replay engine's Prometheus instruments.
type Collector struct {
	rowsStored      prometheus.Counter
	samples         *prometheus.CounterVec
	priorityUpdates *prometheus.CounterVec
	storeErrors     prometheus.Counter

	size          prometheus.Gauge
	totalPriority prometheus.Gauge
	maxPriority   prometheus.Gauge
	beta          prometheus.Gauge

	sampledPriority prometheus.Histogram
	weights         prometheus.Histogram
}

// NewCollector registers the instruments with reg. Passing a fresh registry
// keeps tests isolated from the default one.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		rowsStored: f.NewCounter(prometheus.CounterOpts{
			Name: "replay_rows_stored_total",
			Help: "Rows written into the replay buffer",
		}),
		samples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_samples_total",
			Help: "Sample requests by result",
		}, []string{"result"}),
		priorityUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_priority_updates_total",
			Help: "Rows reprioritized from learner feedback, by result",
		}, []string{"result"}),
		storeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "replay_store_errors_total",
			Help: "Rejected store calls",
		}),
		size: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_buffer_size",
			Help: "Rows currently held by the buffer",
		}),
		totalPriority: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_priority_total",
			Help: "Sum of all priorities (sum-tree root)",
		}),
		maxPriority: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_priority_max",
			Help: "Priority assigned to newly stored rows",
		}),
		beta: f.NewGauge(prometheus.GaugeOpts{
			Name: "replay_importance_beta",
			Help: "Current importance-sampling exponent",
		}),
		sampledPriority: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "replay_sampled_priority",
			Help:    "Priorities of sampled rows",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		weights: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "replay_importance_weight",
			Help:    "Importance-sampling weights of sampled rows",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
}

// Stored records a successful store of n rows.
func (c *Collector) Stored(n, size int) {
	c.rowsStored.Add(float64(n))
	c.size.Set(float64(size))
}

// StoreFailed records a rejected store.
func (c *Collector) StoreFailed() {
	c.storeErrors.Inc()
}

// Sampled records a produced batch.
func (c *Collector) Sampled(priorities, weights []float64, beta float64) {
	c.samples.WithLabelValues("ok").Inc()
	for _, p := range priorities {
		c.sampledPriority.Observe(p)
	}
	for _, w := range weights {
		c.weights.Observe(w)
	}
	c.beta.Set(beta)
}

// ColdStart records a sample request answered with no batch.
func (c *Collector) ColdStart() {
	c.samples.WithLabelValues("cold_start").Inc()
}

// Reprioritized records a feedback call.
func (c *Collector) Reprioritized(updated, stale int) {
	c.priorityUpdates.WithLabelValues("updated").Add(float64(updated))
	c.priorityUpdates.WithLabelValues("stale").Add(float64(stale))
}

// Priorities publishes the tree totals.
func (c *Collector) Priorities(total, max float64) {
	c.totalPriority.Set(total)
	c.maxPriority.Set(max)
}
