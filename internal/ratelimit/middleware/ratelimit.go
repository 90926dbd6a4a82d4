// Package middleware applies per-user request limits to HTTP routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"beatframe/internal/ratelimit/metrics"
	"beatframe/internal/ratelimit/models"
	"beatframe/pkg/platform/httputil"
	"beatframe/pkg/requestcontext"
)

const degradedHeader = "X-RateLimit-Status"

type degradedLimiter interface {
	AllowDegraded(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, bool, error)
}

type Middleware struct {
	limiter  BucketStore
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns limiting off entirely.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = mt }
}

func New(limiter BucketStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerUser limits requests per authenticated user within scope, falling back
// to the client IP for anonymous requests. Store errors fail open.
func (m *Middleware) PerUser(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := m.key(ctx, scope)

			result, degraded, err := m.check(ctx, key)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit", "error", err, "scope", scope)
				m.observe(scope, "error")
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set(degradedHeader, "degraded")
			}
			if !result.Allowed {
				m.observe(scope, "limited")
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"user_id", requestcontext.UserID(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeRateLimitExceeded(w, result)
				return
			}
			m.observe(scope, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) key(ctx context.Context, scope string) string {
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		return models.NewUserKey(scope, userID.String())
	}
	ip := requestcontext.ClientIP(ctx)
	if ip == "" {
		ip = "unknown"
	}
	return models.NewIPKey(scope, ip)
}

func (m *Middleware) check(ctx context.Context, key string) (*models.RateLimitResult, bool, error) {
	if dl, ok := m.limiter.(degradedLimiter); ok {
		return dl.AllowDegraded(ctx, key, m.limit, m.window)
	}
	res, err := m.limiter.Allow(ctx, key, m.limit, m.window)
	return res, false, err
}

func (m *Middleware) observe(scope, outcome string) {
	if m.metrics != nil {
		m.metrics.IncrementDecision(scope, outcome)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            "rate_limited",
		ErrorDescription: "Too many submissions. Please try again later.",
		RetryAfter:       result.RetryAfter,
	})
}
