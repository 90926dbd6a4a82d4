// Package notify tells people a generation job finished.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Notice is a rendered completion message.
type Notice struct {
	Subject string
	Text    string
	JobID   string
	UserID  string
	Status  string
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Noop drops notices.
type Noop struct{}

func (Noop) Notify(context.Context, Notice) error { return nil }

// Multi fans a notice out to every notifier. Each failure is logged; the
// joined error is returned for callers that care.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

// Len reports how many notifiers are configured.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			m.logger.WarnContext(ctx, "notification failed",
				"notifier", fmt.Sprintf("%T", notifier),
				"job_id", n.JobID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
