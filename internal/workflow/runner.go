package workflow

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"beatframe/internal/providers"
	"beatframe/internal/workflow/metrics"
)

// Result describes a finished run. Error is set for error and timeout outcomes.
type Result struct {
	RemoteID string
	Status   Outcome
	Output   map[string]any
	Attempts int
	Error    string
}

type Runner struct {
	poller  Poller
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

func NewRunner(poller Poller, opts ...Option) *Runner {
	r := &Runner{
		poller: poller,
		logger: slog.Default(),
		tracer: otel.Tracer("beatframe/workflow"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SubmittedFunc is told the remote id as soon as the engine accepts the job.
type SubmittedFunc func(job providers.RemoteJob)

// Run submits sub once and polls until a terminal outcome. The returned error
// is non-nil only when submission fails; poll failures, timeouts and
// cancellation are reported in Result.
func (r *Runner) Run(ctx context.Context, engine providers.Engine, sub providers.Submission, onSubmitted SubmittedFunc) (Result, error) {
	name := engine.Name()
	ctx, span := r.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("engine", name),
		attribute.String("workflow", sub.Workflow),
	))
	defer span.End()

	start := r.now()
	job, err := r.submit(ctx, engine, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		if r.metrics != nil {
			r.metrics.IncrementSubmitFailure(name, string(providers.GetCategory(err)))
		}
		r.logger.WarnContext(ctx, "workflow submit failed", "engine", name, "workflow", sub.Workflow, "error", err)
		return Result{}, providers.ToDomainError(err)
	}
	span.SetAttributes(attribute.String("remote_id", job.ID))
	if onSubmitted != nil {
		onSubmitted(job)
	}

	res := Result{RemoteID: job.ID}
	var last providers.RemoteStatus
	outcome, pollErr := r.poller.Poll(ctx, func(ctx context.Context, attempt int) (bool, error) {
		res.Attempts = attempt
		st, err := engine.Status(ctx, job.ID)
		if err != nil {
			if providers.IsRetryable(err) {
				if r.metrics != nil {
					r.metrics.IncrementTransient(name)
				}
				r.logger.DebugContext(ctx, "transient status error", "engine", name, "remote_id", job.ID, "attempt", attempt, "error", err)
			}
			return false, err
		}
		last = st
		switch st.State {
		case providers.StateSucceeded:
			return true, nil
		case providers.StateFailed:
			return true, providers.NewProviderError(providers.ErrorInternal, name, st.Error, nil)
		default:
			return false, nil
		}
	})

	res.Status = outcome
	switch outcome {
	case OutcomeSuccess:
		res.Output = last.Output
	case OutcomeError:
		res.Error = last.Error
		if res.Error == "" && pollErr != nil {
			res.Error = pollErr.Error()
		}
	case OutcomeTimeout:
		res.Error = pollErr.Error()
	case OutcomeCanceled:
		res.Error = "polling stopped locally; remote job not cancelled"
	}

	if outcome != OutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)), attribute.Int("attempts", res.Attempts))
	if r.metrics != nil {
		r.metrics.ObserveFinished(name, string(outcome), res.Attempts, r.now().Sub(start).Seconds())
	}
	r.logger.InfoContext(ctx, "workflow finished",
		"engine", name,
		"remote_id", job.ID,
		"outcome", outcome,
		"attempts", res.Attempts,
	)
	return res, nil
}

func (r *Runner) submit(ctx context.Context, engine providers.Engine, sub providers.Submission) (providers.RemoteJob, error) {
	ctx, span := r.tracer.Start(ctx, "workflow.submit")
	defer span.End()
	job, err := engine.Submit(ctx, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
	}
	return job, err
}
