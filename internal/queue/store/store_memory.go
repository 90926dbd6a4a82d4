// Package store persists queued workflow jobs.
//
// Error contract for every implementation:
//   - sentinel.ErrNotFound when the job (or a queued job to claim) does not exist
//   - sentinel.ErrConflict from ClaimNext while another job is running
//   - validate errors from Execute are returned unchanged together with the job
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"beatframe/internal/queue/models"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/sentinel"
)

// InMemoryJobStore keeps jobs in insertion order for FIFO claims. queued is
// the claim index; entries that left the queued status are skipped lazily.
type InMemoryJobStore struct {
	mu      sync.RWMutex
	jobs    map[id.JobID]*models.Job
	order   []id.JobID
	queued  []id.JobID
	running id.JobID
}

func NewMemory() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs: make(map[id.JobID]*models.Job),
	}
}

func (s *InMemoryJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists: %w", job.ID, sentinel.ErrConflict)
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	switch job.Status {
	case models.StatusQueued:
		s.queued = append(s.queued, job.ID)
	case models.StatusRunning:
		s.running = job.ID
	}
	return nil
}

func (s *InMemoryJobStore) FindByID(_ context.Context, jobID id.JobID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %w", sentinel.ErrNotFound)
	}
	return job.Clone(), nil
}

// ListByUser returns the user's jobs, newest first.
func (s *InMemoryJobStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Job, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job.UserID == userID {
			out = append(out, job.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListByStatus returns matching jobs in submission order.
func (s *InMemoryJobStore) ListByStatus(_ context.Context, status models.Status) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Job, 0)
	for _, jobID := range s.order {
		if job := s.jobs[jobID]; job.Status == status {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryJobStore) CountByStatus(_ context.Context, status models.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == status {
			n++
		}
	}
	return n, nil
}

// ClaimNext starts the oldest queued job for workerID unless one is already
// running.
func (s *InMemoryJobStore) ClaimNext(_ context.Context, workerID string, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.IsNil() {
		if job, ok := s.jobs[s.running]; ok && job.Status == models.StatusRunning {
			return nil, fmt.Errorf("job %s is running: %w", job.ID, sentinel.ErrConflict)
		}
		s.running = id.JobID{}
	}
	for len(s.queued) > 0 {
		jobID := s.queued[0]
		s.queued = s.queued[1:]
		next, ok := s.jobs[jobID]
		if !ok || next.Status != models.StatusQueued {
			continue
		}
		if err := next.Start(workerID, now); err != nil {
			return nil, fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
		}
		s.running = jobID
		return next.Clone(), nil
	}
	return nil, fmt.Errorf("no queued job: %w", sentinel.ErrNotFound)
}

// DeleteFinishedBefore drops terminal jobs that finished before cutoff.
func (s *InMemoryJobStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, jobID := range s.order {
		job := s.jobs[jobID]
		if job.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, jobID)
			removed++
			continue
		}
		kept = append(kept, jobID)
	}
	s.order = kept
	return removed, nil
}

// Execute validates and mutates a job under the store lock.
func (s *InMemoryJobStore) Execute(_ context.Context, jobID id.JobID, validate func(*models.Job) error, mutate func(*models.Job)) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %w", sentinel.ErrNotFound)
	}
	if err := validate(job); err != nil {
		return job.Clone(), err
	}
	mutate(job)
	return job.Clone(), nil
}
