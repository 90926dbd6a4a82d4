package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Async decouples callers from a slow sink. Publish never blocks: when the
// buffer is full the event is dropped and counted. Run drains the buffer.
type Async struct {
	sink    Publisher
	inbox   chan Event
	logger  *slog.Logger
	metrics *Metrics
	dropped atomic.Int64
}

type AsyncOption func(*Async)

func WithMetrics(m *Metrics) AsyncOption {
	return func(a *Async) { a.metrics = m }
}

func NewAsync(sink Publisher, buffer int, logger *slog.Logger, opts ...AsyncOption) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{sink: sink, inbox: make(chan Event, buffer), logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Async) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case a.inbox <- event:
	default:
		a.dropped.Add(1)
		if a.metrics != nil {
			a.metrics.Dropped.WithLabelValues(string(event.Type)).Inc()
		}
		a.logger.Warn("event buffer full, dropping event", "type", event.Type, "key", event.Key())
	}
	return nil
}

// Dropped reports how many events were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Run forwards buffered events until ctx is done, then flushes what is left
// with a short grace period.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case event := <-a.inbox:
			a.forward(ctx, event)
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-a.inbox:
			a.forward(ctx, event)
		default:
			return
		}
	}
}

func (a *Async) forward(ctx context.Context, event Event) {
	if err := a.sink.Publish(ctx, event); err != nil {
		if a.metrics != nil {
			a.metrics.Failed.WithLabelValues(string(event.Type)).Inc()
		}
		a.logger.ErrorContext(ctx, "failed to publish event", "type", event.Type, "key", event.Key(), "error", err)
	}
}
