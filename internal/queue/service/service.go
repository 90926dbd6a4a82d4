// Package service runs the generation queue: at most one job is active at a
// time and the rest wait in submission order.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"beatframe/internal/events"
	"beatframe/internal/notify"
	"beatframe/internal/providers"
	"beatframe/internal/queue/metrics"
	"beatframe/internal/queue/models"
	"beatframe/internal/workflow"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/sentinel"
	"beatframe/pkg/requestcontext"
)

const (
	defaultCapacity     = 100
	defaultIdleInterval = 2 * time.Second
	defaultHeartbeat    = 15 * time.Second
	staleHeartbeats     = 4
	notifyTimeout       = 15 * time.Second
	healthTimeout       = 3 * time.Second
)

type Store interface {
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, jobID id.JobID) (*models.Job, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Job, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Job, error)
	CountByStatus(ctx context.Context, status models.Status) (int, error)
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.Job, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	Execute(ctx context.Context, jobID id.JobID, validate func(*models.Job) error, mutate func(*models.Job)) (*models.Job, error)
}

type Engines interface {
	Get(name string) (providers.Engine, bool)
	Names() []string
}

type Runner interface {
	Run(ctx context.Context, engine providers.Engine, sub providers.Submission, onSubmitted workflow.SubmittedFunc) (workflow.Result, error)
}

// Manager owns the job lifecycle from submission to terminal status.
type Manager struct {
	store   Store
	engines Engines
	runner  Runner

	workerID     string
	capacity     int
	idleInterval time.Duration
	heartbeat    time.Duration
	publisher    events.Publisher
	notifier     notify.Notifier
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	// enqueueMu makes the capacity check and insert atomic.
	enqueueMu sync.Mutex
	wake      chan struct{}
	pending   sync.WaitGroup
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithCapacity bounds the number of waiting jobs.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithIdleInterval sets how often an idle worker re-checks the store.
func WithIdleInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleInterval = d
		}
	}
}

// WithWorkerID names this worker on the jobs it claims. Replicas sharing a
// store need distinct ids.
func WithWorkerID(workerID string) Option {
	return func(m *Manager) {
		if workerID != "" {
			m.workerID = workerID
		}
	}
}

// WithHeartbeat sets how often a running job is touched. A job whose owner
// missed four heartbeats may be failed by another worker.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(store Store, engines Engines, runner Runner, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		engines:      engines,
		runner:       runner,
		workerID:     uuid.NewString(),
		capacity:     defaultCapacity,
		idleInterval: defaultIdleInterval,
		heartbeat:    defaultHeartbeat,
		publisher:    events.Noop{},
		notifier:     notify.Noop{},
		logger:       slog.Default(),
		now:          time.Now,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) WorkerID() string {
	return m.workerID
}

func (m *Manager) staleAfter() time.Duration {
	return staleHeartbeats * m.heartbeat
}

// requestTime prefers the time pinned on the incoming request.
func (m *Manager) requestTime(ctx context.Context) time.Time {
	if t, ok := requestcontext.TimeFrom(ctx); ok {
		return t.UTC()
	}
	return m.now().UTC()
}

// Engines lists the registered engine names.
func (m *Manager) Engines() []string {
	return m.engines.Names()
}

// EngineHealth checks every registered engine concurrently.
func (m *Manager) EngineHealth(ctx context.Context) []models.EngineHealth {
	names := m.engines.Names()
	out := make([]models.EngineHealth, len(names))
	var g errgroup.Group
	for i, name := range names {
		out[i] = models.EngineHealth{Name: name}
		engine, ok := m.engines.Get(name)
		if !ok {
			out[i].Error = "not registered"
			continue
		}
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			if err := engine.Health(hctx); err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Healthy = true
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Enqueue validates and stores a submission.
func (m *Manager) Enqueue(ctx context.Context, userID id.UserID, engine, workflowName string, params json.RawMessage) (*models.Job, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if _, ok := m.engines.Get(engine); !ok {
		m.incrementRejected("unknown_engine")
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown engine %q", engine))
	}

	job, err := models.NewJob(id.NewJobID(), userID, engine, workflowName, params, m.requestTime(ctx))
	if err != nil {
		m.incrementRejected("invalid")
		return nil, err
	}

	depth, err := m.insert(ctx, job)
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.IncrementEnqueued(engine)
		m.metrics.SetDepth(depth)
	}
	m.publish(ctx, job, events.JobQueued)
	m.logger.InfoContext(ctx, "job queued",
		"job_id", job.ID,
		"user_id", userID,
		"engine", engine,
		"depth", depth,
	)
	m.signal()
	return job, nil
}

func (m *Manager) insert(ctx context.Context, job *models.Job) (int, error) {
	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	queued, err := m.store.CountByStatus(ctx, models.StatusQueued)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read queue depth")
	}
	if queued >= m.capacity {
		m.incrementRejected("capacity")
		return 0, dErrors.New(dErrors.CodeRateLimited, "queue is full, try again later")
	}
	if err := m.store.Create(ctx, job); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to queue job")
	}
	return queued + 1, nil
}

// Get returns a job owned by userID. Other users' jobs are reported as missing.
func (m *Manager) Get(ctx context.Context, userID id.UserID, jobID id.JobID) (*models.Job, error) {
	job, err := m.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, translateStoreError(err, "failed to load job")
	}
	if !job.OwnedBy(userID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	return job, nil
}

func (m *Manager) List(ctx context.Context, userID id.UserID) ([]*models.Job, error) {
	jobs, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list jobs")
	}
	return jobs, nil
}

// Cancel withdraws a queued job. Running jobs are never cancelled remotely.
func (m *Manager) Cancel(ctx context.Context, userID id.UserID, jobID id.JobID) (*models.Job, error) {
	now := m.requestTime(ctx)
	job, err := m.store.Execute(ctx, jobID,
		func(j *models.Job) error {
			if !j.OwnedBy(userID) {
				return dErrors.New(dErrors.CodeNotFound, "job not found")
			}
			return j.CanCancel()
		},
		func(j *models.Job) { j.ApplyCancel(now) },
	)
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, translateStoreError(err, "failed to cancel job")
	}

	m.refreshDepth(ctx)
	if m.metrics != nil {
		m.metrics.IncrementCompleted(job.Engine, string(job.Status))
	}
	m.publish(ctx, job, events.JobCanceled)
	m.logger.InfoContext(ctx, "job canceled", "job_id", job.ID, "user_id", userID)
	return job, nil
}

// Depth reports how many jobs are waiting.
func (m *Manager) Depth(ctx context.Context) (int, error) {
	n, err := m.store.CountByStatus(ctx, models.StatusQueued)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read queue depth")
	}
	return n, nil
}

// Recover fails running jobs this worker can no longer finish: its own
// leftovers from a previous process and jobs whose owner stopped
// heartbeating. Their remote state is unknown, so they are not resumed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	running, err := m.store.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list running jobs")
	}
	recovered := 0
	for _, candidate := range running {
		now := m.now().UTC()
		job, err := m.store.Execute(ctx, candidate.ID,
			func(j *models.Job) error {
				if !j.IsStale(m.workerID, now, m.staleAfter()) {
					return sentinel.ErrInvalidState
				}
				return nil
			},
			func(j *models.Job) { _ = j.Interrupt(now) },
		)
		if err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) || errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return recovered, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recover job")
		}
		recovered++
		m.logger.WarnContext(ctx, "interrupted job marked failed",
			"job_id", job.ID,
			"engine", job.Engine,
			"previous_worker", candidate.WorkerID,
		)
		m.finished(ctx, job)
	}
	m.refreshDepth(ctx)
	return recovered, nil
}

// Prune deletes finished jobs older than retention.
func (m *Manager) Prune(ctx context.Context, retention time.Duration) (int, error) {
	n, err := m.store.DeleteFinishedBefore(ctx, m.now().UTC().Add(-retention))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to prune jobs")
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "pruned finished jobs", "count", n, "retention", retention)
	}
	return n, nil
}

// Run is the single queue worker. It returns nil when ctx is cancelled; a job
// in flight at that moment is marked failed.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "queue worker started", "capacity", m.capacity, "worker_id", m.workerID)
	ticker := time.NewTicker(m.idleInterval)
	defer ticker.Stop()
	staleTicker := time.NewTicker(m.staleAfter())
	defer staleTicker.Stop()

	for {
		processed, err := m.ProcessNext(ctx)
		if ctx.Err() != nil {
			m.logger.Info("queue worker stopped")
			return nil
		}
		if err != nil {
			m.logger.ErrorContext(ctx, "queue worker error", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			m.logger.Info("queue worker stopped")
			return nil
		case <-m.wake:
		case <-ticker.C:
		case <-staleTicker.C:
			if _, err := m.Recover(ctx); err != nil {
				m.logger.ErrorContext(ctx, "stale job recovery failed", "error", err)
			}
		}
	}
}

// ProcessNext claims and executes the oldest queued job. It reports false
// when nothing was claimed.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	job, err := m.store.ClaimNext(ctx, m.workerID, m.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("claim next job: %w", err)
	}
	m.execute(ctx, job)
	return true, nil
}

func (m *Manager) execute(ctx context.Context, job *models.Job) {
	// Terminal writes must land even when the worker is shutting down.
	persistCtx := context.WithoutCancel(ctx)
	log := m.logger.With("job_id", job.ID.String(), "engine", job.Engine)

	if m.metrics != nil {
		m.metrics.SetActive(true)
		m.refreshDepth(ctx)
		if job.StartedAt != nil {
			m.metrics.ObserveWait(job.StartedAt.Sub(job.CreatedAt).Seconds())
		}
		defer m.metrics.SetActive(false)
	}
	m.publish(ctx, job, events.JobStarted)
	log.InfoContext(ctx, "job started", "worker_id", m.workerID)

	beatCtx, stopBeat := context.WithCancel(ctx)
	beatDone := make(chan struct{})
	go func() {
		defer close(beatDone)
		m.keepAlive(beatCtx, job.ID)
	}()
	outcome := m.run(ctx, job, log)
	stopBeat()
	<-beatDone

	m.finish(persistCtx, job.ID, outcome, log)
}

// jobOutcome is the terminal write computed by run. interrupt marks a job the
// worker abandoned.
type jobOutcome struct {
	status    models.Status
	remoteID  string
	output    map[string]any
	errMsg    string
	attempts  int
	interrupt bool
}

func (m *Manager) run(ctx context.Context, job *models.Job, log *slog.Logger) jobOutcome {
	engine, ok := m.engines.Get(job.Engine)
	if !ok {
		return jobOutcome{status: models.StatusFailed, errMsg: "engine no longer registered"}
	}

	sub := providers.Submission{Workflow: job.Workflow, Params: job.Params}
	res, err := m.runner.Run(ctx, engine, sub, func(remote providers.RemoteJob) {
		_, err := m.store.Execute(context.WithoutCancel(ctx), job.ID,
			func(j *models.Job) error { return j.HeldBy(m.workerID) },
			func(j *models.Job) { j.SetRemote(remote.ID) },
		)
		if err != nil {
			log.WarnContext(ctx, "failed to record remote id", "remote_id", remote.ID, "error", err)
		}
	})
	if err != nil {
		return jobOutcome{status: models.StatusFailed, errMsg: submitFailure(err)}
	}

	out := jobOutcome{remoteID: res.RemoteID, attempts: res.Attempts}
	switch res.Status {
	case workflow.OutcomeSuccess:
		out.status, out.output = models.StatusSucceeded, res.Output
	case workflow.OutcomeTimeout:
		out.status, out.errMsg = models.StatusTimedOut, res.Error
	case workflow.OutcomeCanceled:
		out.status, out.interrupt = models.StatusFailed, true
	default:
		out.status, out.errMsg = models.StatusFailed, res.Error
	}
	return out
}

// keepAlive refreshes the job heartbeat until ctx is done or the job is no
// longer held by this worker.
func (m *Manager) keepAlive(ctx context.Context, jobID id.JobID) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.now().UTC()
			_, err := m.store.Execute(ctx, jobID,
				func(j *models.Job) error { return j.HeldBy(m.workerID) },
				func(j *models.Job) { j.Heartbeat(now) },
			)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.WarnContext(ctx, "job heartbeat stopped", "job_id", jobID, "error", err)
				}
				return
			}
		}
	}
}

// finish writes the outcome only while this worker still holds the job. A job
// already failed by another worker keeps that result and emits nothing more.
func (m *Manager) finish(ctx context.Context, jobID id.JobID, out jobOutcome, log *slog.Logger) {
	now := m.now().UTC()
	var applyErr error
	job, err := m.store.Execute(ctx, jobID,
		func(j *models.Job) error { return j.HeldBy(m.workerID) },
		func(j *models.Job) {
			if out.remoteID != "" {
				j.SetRemote(out.remoteID)
			}
			if out.interrupt {
				j.Attempts = out.attempts
				applyErr = j.Interrupt(now)
				return
			}
			applyErr = j.Complete(out.status, out.output, out.errMsg, out.attempts, now)
		},
	)
	switch {
	case dErrors.HasCode(err, dErrors.CodeConflict):
		log.WarnContext(ctx, "job finished elsewhere, dropping outcome", "status", out.status, "error", err)
		return
	case err != nil:
		log.ErrorContext(ctx, "failed to persist finished job", "status", out.status, "error", err)
		return
	case applyErr != nil:
		log.ErrorContext(ctx, "invalid job completion", "error", applyErr)
		return
	}
	m.finished(ctx, job)
}

// submitFailure keeps the upstream status and body next to the coded message.
func submitFailure(err error) string {
	msg := dErrors.MessageOf(err)
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		if msg == "" {
			return pe.Error()
		}
		return msg + ": " + pe.Error()
	}
	if msg == "" {
		return err.Error()
	}
	return msg
}

// finished publishes the terminal event and notifies in the background.
func (m *Manager) finished(ctx context.Context, job *models.Job) {
	if m.metrics != nil {
		m.metrics.IncrementCompleted(job.Engine, string(job.Status))
	}
	m.publish(ctx, job, terminalEvent(job.Status))
	m.logger.InfoContext(ctx, "job finished",
		"job_id", job.ID,
		"engine", job.Engine,
		"status", job.Status,
		"attempts", job.Attempts,
	)

	notice := buildNotice(job)
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(nctx, notice); err != nil {
			m.logger.WarnContext(nctx, "job notification failed", "job_id", notice.JobID, "error", err)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

func (m *Manager) publish(ctx context.Context, job *models.Job, typ events.Type) {
	event := events.Event{
		Type:      typ,
		JobID:     job.ID.String(),
		UserID:    job.UserID.String(),
		Engine:    job.Engine,
		Status:    string(job.Status),
		Timestamp: m.now().UTC(),
	}
	if job.RemoteID != "" || job.Error != "" {
		event.Detail = map[string]string{}
		if job.RemoteID != "" {
			event.Detail["remote_id"] = job.RemoteID
		}
		if job.Error != "" {
			event.Detail["error"] = job.Error
		}
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish job event", "job_id", job.ID, "type", typ, "error", err)
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) refreshDepth(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	if n, err := m.store.CountByStatus(ctx, models.StatusQueued); err == nil {
		m.metrics.SetDepth(n)
	}
}

func (m *Manager) incrementRejected(reason string) {
	if m.metrics != nil {
		m.metrics.IncrementRejected(reason)
	}
}

func terminalEvent(status models.Status) events.Type {
	switch status {
	case models.StatusSucceeded:
		return events.JobSucceeded
	case models.StatusTimedOut:
		return events.JobTimedOut
	case models.StatusCanceled:
		return events.JobCanceled
	default:
		return events.JobFailed
	}
}

func buildNotice(job *models.Job) notify.Notice {
	subject := fmt.Sprintf("Beatframe job %s %s", job.ID, job.Status)
	text := fmt.Sprintf("Engine %s finished job %s with status %s.", job.Engine, job.ID, job.Status)
	if job.Error != "" {
		text += " Error: " + job.Error
	}
	if video, ok := job.Output["video"].(string); ok && strings.HasPrefix(video, "http") {
		text += " Output: " + video
	} else if files, ok := job.Output["files"]; ok {
		text += fmt.Sprintf(" Output files: %v", files)
	}
	return notify.Notice{
		Subject: subject,
		Text:    text,
		JobID:   job.ID.String(),
		UserID:  job.UserID.String(),
		Status:  string(job.Status),
	}
}

func translateStoreError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "job not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
