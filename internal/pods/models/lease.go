package models

import (
	"time"

	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
)

type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusReleased     Status = "released"
)

const maxModelLength = 128

// Lease is the single pod slot. The value is stored as JSON.
//
// Invariants:
//   - At most one lease exists at a time
//   - Endpoint and PodID are set once the pod has been created
//   - ReadyAt is set exactly when the lease becomes ready
type Lease struct {
	ID         id.LeaseID `json:"id"`
	PodID      string     `json:"pod_id,omitempty"`
	Endpoint   string     `json:"endpoint,omitempty"`
	Model      string     `json:"model"`
	Status     Status     `json:"status"`
	GPUType    string     `json:"gpu_type,omitempty"`
	CostPerHr  float64    `json:"cost_per_hr,omitempty"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReadyAt    *time.Time `json:"ready_at,omitempty"`
}

func NewLease(leaseID id.LeaseID, model, gpuType string, ttl time.Duration, now time.Time) (*Lease, error) {
	if model == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "model is required")
	}
	if len(model) > maxModelLength {
		return nil, dErrors.New(dErrors.CodeValidation, "model must be 128 characters or less")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "lease ttl must be positive")
	}
	return &Lease{
		ID:         leaseID,
		Model:      model,
		Status:     StatusProvisioning,
		GPUType:    gpuType,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

func (l *Lease) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

func (l *Lease) IsReady() bool {
	return l.Status == StatusReady
}

// AttachPod records the created pod and where its Ollama server listens.
func (l *Lease) AttachPod(podID, endpoint string, costPerHr float64) {
	l.PodID = podID
	l.Endpoint = endpoint
	l.CostPerHr = costPerHr
}

func (l *Lease) MarkReady(now time.Time) error {
	if l.Status != StatusProvisioning {
		return dErrors.New(dErrors.CodeConflict, "lease is not provisioning")
	}
	l.Status = StatusReady
	l.ReadyAt = &now
	return nil
}

func (l *Lease) MarkReleased() {
	l.Status = StatusReleased
}

func (l *Lease) Clone() *Lease {
	c := *l
	if l.ReadyAt != nil {
		t := *l.ReadyAt
		c.ReadyAt = &t
	}
	return &c
}
