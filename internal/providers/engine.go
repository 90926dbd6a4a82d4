// Package providers defines the generation engine contract and the shared
// plumbing (error taxonomy, registry, HTTP transport) its clients use.
package providers

import (
	"context"
	"encoding/json"
)

// State is the normalized remote job state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether polling can stop.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Submission is one generation request. Workflow names the pipeline or model;
// Params is the engine-specific JSON payload.
type Submission struct {
	Workflow string
	Params   json.RawMessage
}

// RemoteJob identifies a job accepted by an engine.
type RemoteJob struct {
	ID     string
	Engine string
}

// RemoteStatus is a single observation of a remote job.
type RemoteStatus struct {
	State  State
	Output map[string]any
	Error  string
}

// Engine is implemented by every asynchronous generation backend.
type Engine interface {
	Name() string
	Submit(ctx context.Context, sub Submission) (RemoteJob, error)
	Status(ctx context.Context, remoteID string) (RemoteStatus, error)
	Health(ctx context.Context) error
}

// DecodeParams unmarshals Params into dst; an empty payload leaves dst as is.
func (s Submission) DecodeParams(engine string, dst any) error {
	if len(s.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.Params, dst); err != nil {
		return NewProviderError(ErrorBadData, engine, "params are not valid JSON for this engine", err)
	}
	return nil
}
