package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	JobsFinished    *prometheus.CounterVec
	SubmitFailures  *prometheus.CounterVec
	PollAttempts    *prometheus.HistogramVec
	RunDuration     *prometheus.HistogramVec
	TransientErrors *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_workflow_jobs_finished_total",
			Help: "Workflow runs by engine and terminal outcome",
		}, []string{"engine", "outcome"}),
		SubmitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_workflow_submit_failures_total",
			Help: "Submissions rejected by the engine, by error category",
		}, []string{"engine", "category"}),
		PollAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beatframe_workflow_poll_attempts",
			Help:    "Status checks needed before a run finished",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 120},
		}, []string{"engine"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beatframe_workflow_run_duration_seconds",
			Help:    "Wall time from submit to terminal outcome",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"engine"}),
		TransientErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beatframe_workflow_transient_poll_errors_total",
			Help: "Retryable status-check failures that did not stop the run",
		}, []string{"engine"}),
	}
}

func (m *Metrics) ObserveFinished(engine, outcome string, attempts int, seconds float64) {
	m.JobsFinished.WithLabelValues(engine, outcome).Inc()
	m.PollAttempts.WithLabelValues(engine).Observe(float64(attempts))
	m.RunDuration.WithLabelValues(engine).Observe(seconds)
}

func (m *Metrics) IncrementSubmitFailure(engine, category string) {
	m.SubmitFailures.WithLabelValues(engine, category).Inc()
}

func (m *Metrics) IncrementTransient(engine string) {
	m.TransientErrors.WithLabelValues(engine).Inc()
}
