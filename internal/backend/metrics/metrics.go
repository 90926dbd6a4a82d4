package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks calls to the projects/tracks backend.
type Metrics struct {
	Forwards     *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	CircuitState prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Forwards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_backend_forwards_total",
			Help: "Backend calls by route and outcome (ok, client_error, fallback, error, short_circuit)",
		}, []string{"route", "outcome"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beatframe_backend_request_duration_seconds",
			Help:    "Backend round trip time",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		CircuitState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beatframe_backend_circuit_open",
			Help: "1 while the backend circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncrementForward(route, outcome string) {
	m.Forwards.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) ObserveLatency(route string, seconds float64) {
	m.Latency.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitState.Set(1)
		return
	}
	m.CircuitState.Set(0)
}
