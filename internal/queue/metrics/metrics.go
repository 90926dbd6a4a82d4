package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the job queue.
type Metrics struct {
	Depth     prometheus.Gauge
	Active    prometheus.Gauge
	Enqueued  *prometheus.CounterVec
	Rejected  *prometheus.CounterVec
	Completed *prometheus.CounterVec
	WaitTime  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Depth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beatframe_queue_depth",
			Help: "Jobs waiting in the queue",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beatframe_queue_active_jobs",
			Help: "Jobs currently running (0 or 1)",
		}),
		Enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_queue_enqueued_total",
			Help: "Jobs accepted into the queue by engine",
		}, []string{"engine"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_queue_rejected_total",
			Help: "Submissions refused by reason",
		}, []string{"reason"}),
		Completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_queue_completed_total",
			Help: "Jobs reaching a terminal status",
		}, []string{"engine", "status"}),
		WaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "beatframe_queue_wait_seconds",
			Help:    "Time between submission and start",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

func (m *Metrics) SetDepth(n int) {
	m.Depth.Set(float64(n))
}

func (m *Metrics) SetActive(running bool) {
	if running {
		m.Active.Set(1)
		return
	}
	m.Active.Set(0)
}

func (m *Metrics) IncrementEnqueued(engine string) {
	m.Enqueued.WithLabelValues(engine).Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementCompleted(engine, status string) {
	m.Completed.WithLabelValues(engine, status).Inc()
}

func (m *Metrics) ObserveWait(seconds float64) {
	m.WaitTime.Observe(seconds)
}
