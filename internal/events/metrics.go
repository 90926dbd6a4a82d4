package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Dropped *prometheus.CounterVec
	Failed  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_events_dropped_total",
			Help: "Events discarded because the publish buffer was full",
		}, []string{"type"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_events_failed_total",
			Help: "Events the sink refused",
		}, []string{"type"}),
	}
}
