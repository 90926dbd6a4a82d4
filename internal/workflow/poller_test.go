package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beatframe/internal/providers"
)

func fastPoller(attempts int) Poller {
	return NewPoller(time.Millisecond, attempts)
}

func TestNewPollerDefaults(t *testing.T) {
	p := NewPoller(0, 0)
	assert.Equal(t, 5*time.Second, p.Interval)
	assert.Equal(t, 120, p.MaxAttempts)
}

func TestPollSuccess(t *testing.T) {
	calls := 0
	outcome, err := fastPoller(10).Poll(context.Background(), func(_ context.Context, attempt int) (bool, error) {
		calls++
		assert.Equal(t, calls, attempt)
		return attempt == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, 3, calls)
}

func TestPollTerminalFailure(t *testing.T) {
	boom := errors.New("render failed")
	outcome, err := fastPoller(10).Poll(context.Background(), func(context.Context, int) (bool, error) {
		return true, boom
	})
	assert.Equal(t, OutcomeError, outcome)
	assert.ErrorIs(t, err, boom)
}

func TestPollTimeoutAfterMaxAttempts(t *testing.T) {
	calls := 0
	outcome, err := fastPoller(4).Poll(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return false, nil
	})
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 4, calls)
}

func TestPollRetryableErrorsConsumeAttempts(t *testing.T) {
	calls := 0
	outcome, err := fastPoller(5).Poll(context.Background(), func(_ context.Context, attempt int) (bool, error) {
		calls++
		if attempt < 3 {
			return false, providers.NewProviderError(providers.ErrorProviderOutage, "comfyui", "502", nil)
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, 3, calls)
}

func TestPollNonRetryableErrorStops(t *testing.T) {
	calls := 0
	outcome, err := fastPoller(5).Poll(context.Background(), func(context.Context, int) (bool, error) {
		calls++
		return false, providers.NewProviderError(providers.ErrorAuthentication, "runpod", "401", nil)
	})
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, providers.ErrorAuthentication, providers.GetCategory(err))
	assert.Equal(t, 1, calls)
}

func TestPollCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(time.Hour, 3)
	go cancel()

	outcome, err := p.Poll(ctx, func(context.Context, int) (bool, error) {
		t.Fatal("check must not run after cancellation")
		return false, nil
	})
	assert.Equal(t, OutcomeCanceled, outcome)
	assert.ErrorIs(t, err, context.Canceled)
}
