// Package store holds the single pod lease slot.
//
// Error contract for every implementation:
//   - Acquire returns sentinel.ErrConflict while any lease occupies the slot
//   - Get returns sentinel.ErrNotFound when the slot is empty
//   - Update and Release return sentinel.ErrNotFound when the slot holds a
//     different lease (or none)
//
// The slot is kept for the retention passed to Acquire, which is longer than
// the lease TTL so the service can still see (and reap) an expired lease.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beatframe/internal/pods/models"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/sentinel"
)

type InMemoryLeaseStore struct {
	mu    sync.Mutex
	lease *models.Lease
	until time.Time
	now   func() time.Time
}

type MemoryOption func(*InMemoryLeaseStore)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryLeaseStore) { s.now = now }
}

func NewMemory(opts ...MemoryOption) *InMemoryLeaseStore {
	s := &InMemoryLeaseStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// occupied must be called with mu held.
func (s *InMemoryLeaseStore) occupied() bool {
	if s.lease == nil {
		return false
	}
	if !s.now().Before(s.until) {
		s.lease = nil
		return false
	}
	return true
}

func (s *InMemoryLeaseStore) Acquire(_ context.Context, lease *models.Lease, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occupied() {
		return fmt.Errorf("pod slot held by lease %s: %w", s.lease.ID, sentinel.ErrConflict)
	}
	s.lease = lease.Clone()
	s.until = s.now().Add(retention)
	return nil
}

func (s *InMemoryLeaseStore) Get(_ context.Context) (*models.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied() {
		return nil, fmt.Errorf("no pod lease: %w", sentinel.ErrNotFound)
	}
	return s.lease.Clone(), nil
}

func (s *InMemoryLeaseStore) Update(_ context.Context, lease *models.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied() || s.lease.ID != lease.ID {
		return fmt.Errorf("lease %s not held: %w", lease.ID, sentinel.ErrNotFound)
	}
	s.lease = lease.Clone()
	return nil
}

func (s *InMemoryLeaseStore) Release(_ context.Context, leaseID id.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied() || s.lease.ID != leaseID {
		return fmt.Errorf("lease %s not held: %w", leaseID, sentinel.ErrNotFound)
	}
	s.lease = nil
	return nil
}
