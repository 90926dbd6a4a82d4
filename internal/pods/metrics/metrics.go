package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the pod lease.
type Metrics struct {
	ActiveLease  prometheus.Gauge
	Recruitments *prometheus.CounterVec
	ReadyTime    prometheus.Histogram
	Reaped       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveLease: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beatframe_pod_lease_active",
			Help: "1 while a pod lease is held",
		}),
		Recruitments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_pod_recruitments_total",
			Help: "Pod recruit attempts by outcome",
		}, []string{"outcome"}),
		ReadyTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "beatframe_pod_ready_seconds",
			Help:    "Time from pod creation until Ollama serves the model",
			Buckets: prometheus.ExponentialBuckets(5, 2, 9),
		}),
		Reaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "beatframe_pod_leases_reaped_total",
			Help: "Expired leases whose pod was terminated",
		}),
	}
}

func (m *Metrics) SetActive(held bool) {
	if held {
		m.ActiveLease.Set(1)
		return
	}
	m.ActiveLease.Set(0)
}

func (m *Metrics) IncrementRecruitment(outcome string) {
	m.Recruitments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReady(seconds float64) {
	m.ReadyTime.Observe(seconds)
}

func (m *Metrics) IncrementReaped() {
	m.Reaped.Inc()
}
