package models

import (
	"bytes"
	"encoding/json"
	"time"

	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
)

const (
	maxWorkflowLength = 256
	maxParamsBytes    = 512 << 10
	interruptedReason = "interrupted"
)

// Job is one generation request tracked by the queue.
//
// Invariants:
//   - Status transitions follow Status.CanTransitionTo; terminal states are final
//   - StartedAt is set exactly when the job leaves queued for running
//   - FinishedAt is set exactly when the job reaches a terminal status
//   - Error is non-empty for failed, timed_out and interrupted jobs
//   - WorkerID names the worker that claimed a running job; only that worker
//     writes its outcome
type Job struct {
	ID          id.JobID
	UserID      id.UserID
	Engine      string
	Workflow    string
	Params      json.RawMessage
	Status      Status
	RemoteID    string
	Output      map[string]any
	Error       string
	Attempts    int
	WorkerID    string
	CreatedAt   time.Time
	StartedAt   *time.Time
	HeartbeatAt *time.Time
	FinishedAt  *time.Time
}

// NewJob validates a submission and returns a queued job.
func NewJob(jobID id.JobID, userID id.UserID, engine, workflow string, params json.RawMessage, now time.Time) (*Job, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "job owner is required")
	}
	if engine == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "engine is required")
	}
	if len(workflow) > maxWorkflowLength {
		return nil, dErrors.New(dErrors.CodeValidation, "workflow must be 256 characters or less")
	}
	params = bytes.TrimSpace(params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		params = json.RawMessage("{}")
	}
	if len(params) > maxParamsBytes {
		return nil, dErrors.New(dErrors.CodeValidation, "params are too large")
	}
	if params[0] != '{' || !json.Valid(params) {
		return nil, dErrors.New(dErrors.CodeValidation, "params must be a JSON object")
	}
	return &Job{
		ID:        jobID,
		UserID:    userID,
		Engine:    engine,
		Workflow:  workflow,
		Params:    params,
		Status:    StatusQueued,
		CreatedAt: now,
	}, nil
}

func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// OwnedBy reports whether userID submitted the job.
func (j *Job) OwnedBy(userID id.UserID) bool {
	return j.UserID == userID
}

// Start moves a queued job to running on behalf of workerID.
func (j *Job) Start(workerID string, now time.Time) error {
	if !j.Status.CanTransitionTo(StatusRunning) {
		return dErrors.New(dErrors.CodeInvariantViolation, "job is not queued")
	}
	j.Status = StatusRunning
	j.WorkerID = workerID
	j.StartedAt = &now
	j.HeartbeatAt = &now
	return nil
}

// HeldBy rejects writes from anyone but the worker running the job.
func (j *Job) HeldBy(workerID string) error {
	if j.Status != StatusRunning {
		return dErrors.New(dErrors.CodeConflict, "job already finished")
	}
	if j.WorkerID != workerID {
		return dErrors.New(dErrors.CodeConflict, "job is held by another worker")
	}
	return nil
}

func (j *Job) Heartbeat(now time.Time) {
	j.HeartbeatAt = &now
}

// IsStale reports whether a running job can be taken back by workerID: it is
// its own leftover, or its owner stopped heartbeating for staleAfter.
func (j *Job) IsStale(workerID string, now time.Time, staleAfter time.Duration) bool {
	if j.Status != StatusRunning {
		return false
	}
	if j.WorkerID == workerID || j.HeartbeatAt == nil {
		return true
	}
	return now.Sub(*j.HeartbeatAt) >= staleAfter
}

func (j *Job) SetRemote(remoteID string) {
	j.RemoteID = remoteID
}

// CanCancel only admits queued jobs; running jobs are never cancelled remotely.
func (j *Job) CanCancel() error {
	switch {
	case j.Status == StatusRunning:
		return dErrors.New(dErrors.CodeConflict, "running jobs cannot be cancelled")
	case j.Status.IsTerminal():
		return dErrors.New(dErrors.CodeConflict, "job already finished")
	}
	return nil
}

func (j *Job) ApplyCancel(now time.Time) {
	j.finish(StatusCanceled, now)
}

// Complete records the terminal outcome of a running job.
func (j *Job) Complete(status Status, output map[string]any, errMsg string, attempts int, now time.Time) error {
	if j.Status != StatusRunning || !status.IsTerminal() || status == StatusCanceled {
		return dErrors.New(dErrors.CodeInvariantViolation, "invalid job completion")
	}
	if status != StatusSucceeded && errMsg == "" {
		errMsg = string(status)
	}
	j.Output = output
	j.Error = errMsg
	j.Attempts = attempts
	j.finish(status, now)
	return nil
}

// Interrupt fails a job whose worker stopped before it finished.
func (j *Job) Interrupt(now time.Time) error {
	if j.Status != StatusRunning {
		return dErrors.New(dErrors.CodeInvariantViolation, "only running jobs can be interrupted")
	}
	j.Error = interruptedReason
	j.finish(StatusFailed, now)
	return nil
}

func (j *Job) finish(status Status, now time.Time) {
	j.Status = status
	j.FinishedAt = &now
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *Job) Clone() *Job {
	c := *j
	c.Params = append(json.RawMessage(nil), j.Params...)
	if j.Output != nil {
		c.Output = make(map[string]any, len(j.Output))
		for k, v := range j.Output {
			c.Output[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		c.HeartbeatAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
