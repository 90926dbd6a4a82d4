package middleware

import (
	"context"
	"log/slog"
	"time"

	"beatframe/internal/ratelimit/models"
	"beatframe/pkg/platform/circuit"
)

// BucketStore is a sliding-window counter.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// FallbackLimiter checks the primary store (Redis) and switches to an
// in-memory store while the primary keeps failing. Degraded reports whether
// the last answer came from the fallback.
type FallbackLimiter struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFallbackLimiter(primary, fallback BucketStore, breaker *circuit.Breaker, logger *slog.Logger) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (l *FallbackLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	res, _, err := l.allow(ctx, key, limit, window)
	return res, err
}

// AllowDegraded is Allow plus whether the fallback answered.
func (l *FallbackLimiter) AllowDegraded(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, bool, error) {
	return l.allow(ctx, key, limit, window)
}

func (l *FallbackLimiter) allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, bool, error) {
	if !l.breaker.Allow() {
		res, err := l.fallback.Allow(ctx, key, limit, window)
		return res, true, err
	}

	res, err := l.primary.Allow(ctx, key, limit, window)
	if err != nil {
		_, change := l.breaker.RecordFailure()
		if change.Opened {
			l.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback", "error", err)
		}
		res, ferr := l.fallback.Allow(ctx, key, limit, window)
		return res, true, ferr
	}
	if _, change := l.breaker.RecordSuccess(); change.Closed {
		l.logger.InfoContext(ctx, "rate limit store recovered")
	}
	return res, l.breaker.IsOpen(), nil
}
