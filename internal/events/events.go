// Package events publishes job and lease lifecycle events.
package events

import (
	"context"
	"sync"
	"time"
)

type Type string

const (
	JobQueued    Type = "job.queued"
	JobStarted   Type = "job.started"
	JobSucceeded Type = "job.succeeded"
	JobFailed    Type = "job.failed"
	JobTimedOut  Type = "job.timed_out"
	JobCanceled  Type = "job.canceled"

	LeaseAcquired Type = "lease.acquired"
	LeaseReady    Type = "lease.ready"
	LeaseReleased Type = "lease.released"
)

// Event is the wire shape of every lifecycle record.
type Event struct {
	Type      Type              `json:"type"`
	JobID     string            `json:"job_id,omitempty"`
	LeaseID   string            `json:"lease_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Engine    string            `json:"engine,omitempty"`
	Status    string            `json:"status,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Key partitions events so one job's records stay ordered.
func (e Event) Key() string {
	if e.JobID != "" {
		return e.JobID
	}
	return e.LeaseID
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Memory keeps events in order; used in tests and single-node development.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types lists the event types in publish order.
func (m *Memory) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
