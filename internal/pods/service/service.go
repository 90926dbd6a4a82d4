// Package service manages the single rented Ollama pod: recruit it, wait for
// the model to be served, release it, and reap it once the lease expires.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beatframe/internal/events"
	"beatframe/internal/platform/config"
	"beatframe/internal/pods/metrics"
	"beatframe/internal/pods/models"
	"beatframe/internal/providers"
	"beatframe/internal/providers/ollama"
	"beatframe/internal/providers/runpod"
	"beatframe/internal/workflow"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/platform/sentinel"
)

// reapGrace keeps an expired lease visible long enough to terminate its pod.
const reapGrace = 15 * time.Minute

// ErrLeaseHeld is returned by Recruit together with the current lease.
var ErrLeaseHeld = dErrors.New(dErrors.CodeConflict, "a pod lease is already held")

type Store interface {
	Acquire(ctx context.Context, lease *models.Lease, retention time.Duration) error
	Get(ctx context.Context) (*models.Lease, error)
	Update(ctx context.Context, lease *models.Lease) error
	Release(ctx context.Context, leaseID id.LeaseID) error
}

// Pods is the RunPod pod REST resource.
type Pods interface {
	Create(ctx context.Context, spec runpod.PodSpec) (runpod.Pod, error)
	Get(ctx context.Context, podID string) (runpod.Pod, error)
	Terminate(ctx context.Context, podID string) error
}

// Probe talks to the Ollama server on a pod.
type Probe interface {
	Tags(ctx context.Context) ([]ollama.Model, error)
	Pull(ctx context.Context, model string) error
}

type ProbeFactory func(endpoint string) Probe

type Service struct {
	store  Store
	pods   Pods
	probe  ProbeFactory
	cfg    config.PodsConfig
	poller workflow.Poller

	publisher events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu        sync.Mutex
	readiness map[id.LeaseID]*readiness
	pending   sync.WaitGroup
}

// readiness is one background readiness poll, keyed by its lease.
type readiness struct {
	cancel context.CancelFunc
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, pods Pods, probe ProbeFactory, cfg config.PodsConfig, opts ...Option) *Service {
	s := &Service{
		store:     store,
		pods:      pods,
		probe:     probe,
		cfg:       cfg,
		poller:    workflow.NewPoller(cfg.ReadyInterval, cfg.ReadyAttempts),
		publisher: events.Noop{},
		logger:    slog.Default(),
		now:       time.Now,
		readiness: make(map[id.LeaseID]*readiness),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recruit claims the slot and rents a pod for model (the configured default
// when empty). It returns as soon as the pod exists; readiness is awaited in
// the background. When the slot is taken it returns the current lease and
// ErrLeaseHeld.
func (s *Service) Recruit(ctx context.Context, model string) (*models.Lease, error) {
	if model == "" {
		model = s.cfg.DefaultModel
	}
	lease, err := models.NewLease(id.NewLeaseID(), model, s.cfg.GPUType, s.cfg.LeaseTTL, s.now().UTC())
	if err != nil {
		return nil, err
	}

	current, err := s.claim(ctx, lease)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			s.incrementRecruitment("conflict")
		}
		return current, err
	}

	persistCtx := context.WithoutCancel(ctx)
	pod, err := s.pods.Create(ctx, s.podSpec(lease))
	if err != nil {
		s.incrementRecruitment("create_failed")
		if relErr := s.store.Release(persistCtx, lease.ID); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to free pod slot", "lease_id", lease.ID, "error", relErr)
		}
		s.logger.ErrorContext(ctx, "pod creation failed", "lease_id", lease.ID, "error", err)
		return nil, providers.ToDomainError(err)
	}

	lease.AttachPod(pod.ID, pod.ProxyURL(s.cfg.OllamaPort), pod.CostPerHr)
	if err := s.store.Update(persistCtx, lease); err != nil {
		s.teardown(persistCtx, lease, "slot_lost")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record pod")
	}

	if s.metrics != nil {
		s.metrics.SetActive(true)
	}
	s.publish(ctx, lease, events.LeaseAcquired, nil)
	s.logger.InfoContext(ctx, "pod recruited",
		"lease_id", lease.ID,
		"pod_id", pod.ID,
		"model", model,
		"cost_per_hr", pod.CostPerHr,
	)
	s.awaitReady(ctx, lease)
	return lease.Clone(), nil
}

// claim takes the slot for lease. An expired holder is reaped and the claim
// retried once.
func (s *Service) claim(ctx context.Context, lease *models.Lease) (*models.Lease, error) {
	for range 2 {
		err := s.store.Acquire(ctx, lease, s.cfg.LeaseTTL+reapGrace)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim pod slot")
		}
		current, err := s.live(ctx)
		if err == nil {
			return current, ErrLeaseHeld
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
	}
	return nil, dErrors.New(dErrors.CodeConflict, "pod slot is busy, try again")
}

// Release terminates the pod (best effort) and frees the slot. It returns the
// released lease, or nil when nothing was held.
func (s *Service) Release(ctx context.Context) (*models.Lease, error) {
	lease, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pod lease")
	}
	s.stopReadiness(lease.ID)
	s.teardown(context.WithoutCancel(ctx), lease, "released")
	return lease, nil
}

// Current returns the live lease. Expired leases are reaped and reported as
// missing.
func (s *Service) Current(ctx context.Context) (*models.Lease, error) {
	lease, err := s.live(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no pod lease")
		}
		return nil, err
	}
	return lease, nil
}

// Ready returns the lease only when its pod serves the model.
func (s *Service) Ready(ctx context.Context) (*models.Lease, error) {
	lease, err := s.live(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnavailable, "no pod is leased")
		}
		return nil, err
	}
	if !lease.IsReady() {
		return nil, dErrors.New(dErrors.CodeUnavailable, "pod is still provisioning")
	}
	return lease, nil
}

// Resume restarts readiness polling for a lease left provisioning by a
// previous process.
func (s *Service) Resume(ctx context.Context) error {
	lease, err := s.live(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.SetActive(true)
	}
	if lease.Status == models.StatusProvisioning && lease.Endpoint != "" {
		s.logger.InfoContext(ctx, "resuming pod readiness", "lease_id", lease.ID, "pod_id", lease.PodID)
		s.awaitReady(ctx, lease)
	}
	return nil
}

// RunReaper checks the lease every interval so an expired pod is terminated
// even when nobody asks for it. It returns nil when ctx is cancelled.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "pod lease check failed", "error", err)
			}
		}
	}
}

// Reconcile reaps an expired lease and releases one whose pod no longer
// exists on RunPod, so the slot does not stay blocked by a dead pod.
func (s *Service) Reconcile(ctx context.Context) error {
	lease, err := s.live(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return err
	}
	if lease.PodID == "" {
		return nil
	}
	pod, err := s.pods.Get(ctx, lease.PodID)
	switch {
	case providers.GetCategory(err) == providers.ErrorNotFound:
	case err != nil:
		return fmt.Errorf("get pod %s: %w", lease.PodID, err)
	case pod.IsGone():
	default:
		return nil
	}
	s.logger.WarnContext(ctx, "leased pod is gone", "lease_id", lease.ID, "pod_id", lease.PodID, "desired_status", pod.DesiredStatus)
	s.stopReadiness(lease.ID)
	s.teardown(context.WithoutCancel(ctx), lease, "pod_gone")
	return nil
}

// Close stops readiness polling and waits for it to return. The lease itself
// is kept.
func (s *Service) Close() {
	s.mu.Lock()
	for _, r := range s.readiness {
		r.cancel()
	}
	s.mu.Unlock()
	s.pending.Wait()
}

// live returns the held lease, reaping it when expired. sentinel.ErrNotFound
// means the slot is free.
func (s *Service) live(ctx context.Context) (*models.Lease, error) {
	lease, err := s.store.Get(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read pod lease")
	}
	if lease.IsExpired(s.now()) {
		s.logger.InfoContext(ctx, "pod lease expired", "lease_id", lease.ID, "pod_id", lease.PodID)
		s.stopReadiness(lease.ID)
		s.teardown(context.WithoutCancel(ctx), lease, "expired")
		if s.metrics != nil {
			s.metrics.IncrementReaped()
		}
		return nil, fmt.Errorf("lease %s expired: %w", lease.ID, sentinel.ErrNotFound)
	}
	return lease, nil
}

// awaitReady polls the lease's pod in the background. A second call for the
// same lease replaces the first; polls for other leases are left alone.
func (s *Service) awaitReady(ctx context.Context, lease *models.Lease) {
	readyCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &readiness{cancel: cancel}
	s.mu.Lock()
	if prev, ok := s.readiness[lease.ID]; ok {
		prev.cancel()
	}
	s.readiness[lease.ID] = r
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer s.finishReadiness(lease.ID, r)
		s.waitReady(readyCtx, lease.Clone())
	}()
}

func (s *Service) stopReadiness(leaseID id.LeaseID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.readiness[leaseID]; ok {
		r.cancel()
		delete(s.readiness, leaseID)
	}
}

func (s *Service) finishReadiness(leaseID id.LeaseID, r *readiness) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.cancel()
	if s.readiness[leaseID] == r {
		delete(s.readiness, leaseID)
	}
}

func (s *Service) waitReady(ctx context.Context, lease *models.Lease) {
	log := s.logger.With("lease_id", lease.ID.String(), "pod_id", lease.PodID)
	probe := s.probe(lease.Endpoint)
	pulled := false

	outcome, err := s.poller.Poll(ctx, func(ctx context.Context, attempt int) (bool, error) {
		tags, err := probe.Tags(ctx)
		if err != nil {
			// The proxy answers 404/502 until the container is up.
			log.DebugContext(ctx, "pod not answering yet", "attempt", attempt, "error", err)
			return false, nil
		}
		if ollama.HasModel(tags, lease.Model) {
			return true, nil
		}
		if !pulled {
			log.InfoContext(ctx, "pulling model", "model", lease.Model)
			if err := probe.Pull(ctx, lease.Model); err != nil {
				log.WarnContext(ctx, "model pull failed", "model", lease.Model, "error", err)
			} else {
				pulled = true
			}
		}
		return false, nil
	})

	persistCtx := context.WithoutCancel(ctx)
	switch outcome {
	case workflow.OutcomeSuccess:
		now := s.now().UTC()
		if err := lease.MarkReady(now); err != nil {
			log.ErrorContext(persistCtx, "invalid lease transition", "error", err)
			return
		}
		if err := s.store.Update(persistCtx, lease); err != nil {
			log.WarnContext(persistCtx, "lease gone before pod became ready", "error", err)
			return
		}
		s.incrementRecruitment("ready")
		if s.metrics != nil {
			s.metrics.ObserveReady(now.Sub(lease.AcquiredAt).Seconds())
		}
		s.publish(persistCtx, lease, events.LeaseReady, nil)
		log.InfoContext(persistCtx, "pod ready", "endpoint", lease.Endpoint, "model", lease.Model)
	case workflow.OutcomeCanceled:
		log.InfoContext(persistCtx, "pod readiness polling stopped")
	default:
		label := "failed"
		if outcome == workflow.OutcomeTimeout {
			label = "timeout"
		}
		s.incrementRecruitment(label)
		log.WarnContext(persistCtx, "pod did not become ready", "outcome", outcome, "error", err)
		s.teardown(persistCtx, lease, "not_ready")
	}
}

// teardown terminates the pod and frees the slot. Both steps are best effort.
func (s *Service) teardown(ctx context.Context, lease *models.Lease, reason string) {
	if lease.PodID != "" {
		if err := s.pods.Terminate(ctx, lease.PodID); err != nil {
			s.logger.ErrorContext(ctx, "failed to terminate pod", "lease_id", lease.ID, "pod_id", lease.PodID, "error", err)
		}
	}
	if err := s.store.Release(ctx, lease.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to free pod slot", "lease_id", lease.ID, "error", err)
	}
	lease.MarkReleased()
	s.refreshActive(ctx)
	s.publish(ctx, lease, events.LeaseReleased, map[string]string{"reason": reason})
	s.logger.InfoContext(ctx, "pod released", "lease_id", lease.ID, "pod_id", lease.PodID, "reason", reason)
}

func (s *Service) podSpec(lease *models.Lease) runpod.PodSpec {
	return runpod.PodSpec{
		Name:            "beatframe-ollama-" + lease.ID.String()[:8],
		ImageName:       s.cfg.Image,
		GPUTypeIDs:      []string{s.cfg.GPUType},
		GPUCount:        1,
		CloudType:       s.cfg.CloudType,
		ContainerDiskGB: s.cfg.ContainerDiskGB,
		VolumeInGB:      s.cfg.VolumeInGB,
		Ports:           []string{fmt.Sprintf("%d/http", s.cfg.OllamaPort)},
		Env: map[string]string{
			"OLLAMA_HOST":       fmt.Sprintf("0.0.0.0:%d", s.cfg.OllamaPort),
			"OLLAMA_KEEP_ALIVE": "-1",
		},
	}
}

func (s *Service) publish(ctx context.Context, lease *models.Lease, typ events.Type, detail map[string]string) {
	if lease.PodID != "" {
		if detail == nil {
			detail = map[string]string{}
		}
		detail["pod_id"] = lease.PodID
	}
	event := events.Event{
		Type:      typ,
		LeaseID:   lease.ID.String(),
		Engine:    ollama.EngineName,
		Status:    string(lease.Status),
		Detail:    detail,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lease event", "lease_id", lease.ID, "type", typ, "error", err)
	}
}

// refreshActive sets the lease gauge from the store, so tearing down a stale
// lease does not hide the one now holding the slot.
func (s *Service) refreshActive(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	_, err := s.store.Get(ctx)
	switch {
	case err == nil:
		s.metrics.SetActive(true)
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.SetActive(false)
	}
}

func (s *Service) incrementRecruitment(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementRecruitment(outcome)
	}
}
