package models

import "time"

// RecruitRequest is the body of POST /api/pods/lease. An empty model uses the
// configured default.
type RecruitRequest struct {
	Model string `json:"model"`
}

type LeaseResponse struct {
	ID         string     `json:"id"`
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

// LeaseConflictResponse is returned with 409 when the slot is taken.
type LeaseConflictResponse struct {
	Error            string        `json:"error"`
	ErrorDescription string        `json:"error_description"`
	Lease            LeaseResponse `json:"lease"`
}

func ToLeaseResponse(l *Lease) LeaseResponse {
	return LeaseResponse{
		ID:         l.ID.String(),
		PodID:      l.PodID,
		Endpoint:   l.Endpoint,
		Model:      l.Model,
		Status:     l.Status,
		GPUType:    l.GPUType,
		CostPerHr:  l.CostPerHr,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
		ReadyAt:    l.ReadyAt,
	}
}
