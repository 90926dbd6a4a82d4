package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
)

func TestNewLease(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		model string
		ttl   time.Duration
		code  dErrors.Code
	}{
		{name: "valid", model: "llama3", ttl: time.Hour},
		{name: "missing model", model: "", ttl: time.Hour, code: dErrors.CodeValidation},
		{name: "model too long", model: string(make([]byte, 129)), ttl: time.Hour, code: dErrors.CodeValidation},
		{name: "zero ttl", model: "llama3", ttl: 0, code: dErrors.CodeInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lease, err := NewLease(id.NewLeaseID(), tt.model, "NVIDIA A40", tt.ttl, now)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, tt.code))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusProvisioning, lease.Status)
			assert.Equal(t, now.Add(tt.ttl), lease.ExpiresAt)
		})
	}
}

func TestLeaseLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lease, err := NewLease(id.NewLeaseID(), "llama3", "", 30*time.Minute, now)
	require.NoError(t, err)

	assert.False(t, lease.IsExpired(now.Add(29*time.Minute)))
	assert.True(t, lease.IsExpired(now.Add(30*time.Minute)))

	lease.AttachPod("pod-1", "https://pod-1-11434.proxy.runpod.net", 0.39)
	require.NoError(t, lease.MarkReady(now.Add(time.Minute)))
	assert.True(t, lease.IsReady())
	require.NotNil(t, lease.ReadyAt)

	err = lease.MarkReady(now.Add(2 * time.Minute))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	clone := lease.Clone()
	*clone.ReadyAt = now.Add(time.Hour)
	assert.Equal(t, now.Add(time.Minute), *lease.ReadyAt)
}
