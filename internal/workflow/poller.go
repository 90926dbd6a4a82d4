// Package workflow runs a generation job against an engine: submit once, then
// poll its status on a fixed interval until it finishes or attempts run out.
package workflow

import (
	"context"
	"time"

	"beatframe/internal/providers"
	dErrors "beatframe/pkg/domain-errors"
)

// Outcome classifies how a poll loop ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 120
)

// ErrPollTimeout is returned when MaxAttempts checks pass without a terminal
// state. The remote job is left running.
var ErrPollTimeout = dErrors.New(dErrors.CodeTimeout, "remote job did not finish within the poll budget")

// Check observes the remote job once. done reports a terminal state; a non-nil
// err with done=true is a terminal failure. A retryable err with done=false
// consumes an attempt and polling continues.
type Check func(ctx context.Context, attempt int) (done bool, err error)

// Poller is the single delay-based poll loop shared by workflow dispatch and
// pod readiness.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

func NewPoller(interval time.Duration, maxAttempts int) Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Poller{Interval: interval, MaxAttempts: maxAttempts}
}

// Poll waits Interval before every check. It returns the outcome and the
// error that caused it, nil on success.
func (p Poller) Poll(ctx context.Context, check Check) (Outcome, error) {
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return OutcomeCanceled, ctx.Err()
		case <-timer.C:
		}

		done, err := check(ctx, attempt)
		switch {
		case done && err == nil:
			return OutcomeSuccess, nil
		case done:
			return OutcomeError, err
		case err != nil && ctx.Err() != nil:
			return OutcomeCanceled, ctx.Err()
		case err != nil && !providers.IsRetryable(err):
			return OutcomeError, err
		}
		timer.Reset(p.Interval)
	}
	return OutcomeTimeout, ErrPollTimeout
}
