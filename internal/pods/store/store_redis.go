package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"beatframe/internal/pods/models"
	id "beatframe/pkg/domain"
	"beatframe/pkg/platform/sentinel"
)

const DefaultLeaseKey = "beatframe:pods:lease"

// RedisLeaseStore keeps the slot in one key so every replica sees the same
// lease. Acquire is SET NX PX; Update and Release are check-and-set under
// WATCH.
type RedisLeaseStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *RedisLeaseStore {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &RedisLeaseStore{client: client, key: key}
}

func (s *RedisLeaseStore) Acquire(ctx context.Context, lease *models.Lease, retention time.Duration) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key, data, retention).Result()
	if err != nil {
		return fmt.Errorf("acquire pod slot: %w", err)
	}
	if !ok {
		return fmt.Errorf("pod slot already held: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisLeaseStore) Get(ctx context.Context) (*models.Lease, error) {
	return s.read(ctx, s.client)
}

func (s *RedisLeaseStore) Update(ctx context.Context, lease *models.Lease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	return s.swap(ctx, lease.ID, func(pipe redis.Pipeliner) {
		pipe.SetArgs(ctx, s.key, data, redis.SetArgs{KeepTTL: true})
	})
}

func (s *RedisLeaseStore) Release(ctx context.Context, leaseID id.LeaseID) error {
	return s.swap(ctx, leaseID, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, s.key)
	})
}

// swap runs write only if the slot still holds leaseID when EXEC runs.
func (s *RedisLeaseStore) swap(ctx context.Context, leaseID id.LeaseID, write func(redis.Pipeliner)) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		if current.ID != leaseID {
			return fmt.Errorf("lease %s not held: %w", leaseID, sentinel.ErrNotFound)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("pod slot changed concurrently: %w", sentinel.ErrConflict)
	}
	return err
}

func (s *RedisLeaseStore) read(ctx context.Context, c redis.Cmdable) (*models.Lease, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("no pod lease: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read pod slot: %w", err)
	}
	var lease models.Lease
	if err := json.Unmarshal(raw, &lease); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &lease, nil
}
