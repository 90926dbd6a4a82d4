package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"beatframe/internal/pods/models"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/sentinel"
)

type MemoryLeaseStoreSuite struct {
	suite.Suite
	now   time.Time
	store *InMemoryLeaseStore
}

func TestMemoryLeaseStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryLeaseStoreSuite))
}

func (s *MemoryLeaseStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewMemory(WithClock(func() time.Time { return s.now }))
}

func (s *MemoryLeaseStoreSuite) newLease() *models.Lease {
	lease, err := models.NewLease(id.NewLeaseID(), "llama3", "", 30*time.Minute, s.now)
	s.Require().NoError(err)
	return lease
}

func (s *MemoryLeaseStoreSuite) TestAcquireIsExclusive() {
	ctx := context.Background()
	first := s.newLease()
	s.Require().NoError(s.store.Acquire(ctx, first, time.Hour))

	err := s.store.Acquire(ctx, s.newLease(), time.Hour)
	s.ErrorIs(err, sentinel.ErrConflict)

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
}

func (s *MemoryLeaseStoreSuite) TestConcurrentAcquireHasOneWinner() {
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Acquire(ctx, s.newLease(), time.Hour); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
}

func (s *MemoryLeaseStoreSuite) TestRetentionFreesSlot() {
	ctx := context.Background()
	s.Require().NoError(s.store.Acquire(ctx, s.newLease(), time.Hour))

	s.now = s.now.Add(time.Hour)
	_, err := s.store.Get(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.NoError(s.store.Acquire(ctx, s.newLease(), time.Hour))
}

func (s *MemoryLeaseStoreSuite) TestUpdateRequiresSameLease() {
	ctx := context.Background()
	held := s.newLease()
	s.Require().NoError(s.store.Acquire(ctx, held, time.Hour))

	held.AttachPod("pod-1", "https://pod-1-11434.proxy.runpod.net", 0.5)
	s.Require().NoError(s.store.Update(ctx, held))
	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Equal("pod-1", got.PodID)

	s.ErrorIs(s.store.Update(ctx, s.newLease()), sentinel.ErrNotFound)
}

func (s *MemoryLeaseStoreSuite) TestReleaseComparesID() {
	ctx := context.Background()
	held := s.newLease()
	s.Require().NoError(s.store.Acquire(ctx, held, time.Hour))

	s.ErrorIs(s.store.Release(ctx, id.NewLeaseID()), sentinel.ErrNotFound)
	s.Require().NoError(s.store.Release(ctx, held.ID))
	s.ErrorIs(s.store.Release(ctx, held.ID), sentinel.ErrNotFound)

	_, err := s.store.Get(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryLeaseStoreSuite) TestGetReturnsCopy() {
	ctx := context.Background()
	s.Require().NoError(s.store.Acquire(ctx, s.newLease(), time.Hour))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	got.Model = "mutated"

	again, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Equal("llama3", again.Model)
}
