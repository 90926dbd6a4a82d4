package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_ratelimit_decisions_total",
			Help: "Rate limit checks by scope and outcome (allowed, limited, error)",
		}, []string{"scope", "outcome"}),
	}
}

func (m *Metrics) IncrementDecision(scope, outcome string) {
	m.Decisions.WithLabelValues(scope, outcome).Inc()
}
