//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"beatframe/internal/pods/models"
	"beatframe/internal/pods/store"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/sentinel"
	"beatframe/pkg/testutil/containers"
)

type RedisLeaseStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisLeaseStore
}

func TestRedisLeaseStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLeaseStoreSuite))
}

func (s *RedisLeaseStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedis(s.redis.Client, "")
}

func (s *RedisLeaseStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLeaseStoreSuite) newLease() *models.Lease {
	lease, err := models.NewLease(id.NewLeaseID(), "llama3", "NVIDIA A40", 30*time.Minute, time.Now().UTC())
	s.Require().NoError(err)
	return lease
}

func (s *RedisLeaseStoreSuite) TestAcquireRoundTrip() {
	ctx := context.Background()
	lease := s.newLease()
	s.Require().NoError(s.store.Acquire(ctx, lease, time.Hour))

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.Equal(lease.ID, got.ID)
	s.Equal(models.StatusProvisioning, got.Status)
	s.WithinDuration(lease.ExpiresAt, got.ExpiresAt, time.Millisecond)

	s.ErrorIs(s.store.Acquire(ctx, s.newLease(), time.Hour), sentinel.ErrConflict)
}

func (s *RedisLeaseStoreSuite) TestUpdateKeepsTTL() {
	ctx := context.Background()
	lease := s.newLease()
	s.Require().NoError(s.store.Acquire(ctx, lease, time.Hour))

	lease.AttachPod("pod-9", "https://pod-9-11434.proxy.runpod.net", 0.79)
	s.Require().NoError(lease.MarkReady(time.Now().UTC()))
	s.Require().NoError(s.store.Update(ctx, lease))

	ttl, err := s.redis.Client.PTTL(ctx, store.DefaultLeaseKey).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)

	got, err := s.store.Get(ctx)
	s.Require().NoError(err)
	s.True(got.IsReady())
	s.Equal("pod-9", got.PodID)

	s.ErrorIs(s.store.Update(ctx, s.newLease()), sentinel.ErrNotFound)
}

func (s *RedisLeaseStoreSuite) TestReleaseComparesID() {
	ctx := context.Background()
	lease := s.newLease()
	s.Require().NoError(s.store.Acquire(ctx, lease, time.Hour))

	s.ErrorIs(s.store.Release(ctx, id.NewLeaseID()), sentinel.ErrNotFound)
	s.Require().NoError(s.store.Release(ctx, lease.ID))

	_, err := s.store.Get(ctx)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisLeaseStoreSuite) TestRetentionExpiresSlot() {
	ctx := context.Background()
	s.Require().NoError(s.store.Acquire(ctx, s.newLease(), 200*time.Millisecond))

	s.Eventually(func() bool {
		_, err := s.store.Get(ctx)
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
	s.NoError(s.store.Acquire(ctx, s.newLease(), time.Hour))
}
