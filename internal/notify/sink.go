// Package notify delivers fired reminders. Delivery is best effort: callers
// log a failed Deliver and move on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"studyhub/internal/reminder"

	"go.uber.org/zap"
)

var ErrDelivery = errors.New("notification delivery failed")

type Sink interface {
	Deliver(ctx context.Context, r *reminder.Reminder) error
}

type SinkFunc func(ctx context.Context, r *reminder.Reminder) error

func (f SinkFunc) Deliver(ctx context.Context, r *reminder.Reminder) error { return f(ctx, r) }

// LogSink writes each reminder as a structured log line.
type LogSink struct {
	Log *zap.Logger
}

func (s *LogSink) Deliver(_ context.Context, r *reminder.Reminder) error {
	s.Log.Info("reminder due",
		zap.String("reminder_id", r.ID),
		zap.Uint64("owner_id", r.OwnerID),
		zap.String("type", string(r.Type)),
		zap.String("title", r.Title),
		zap.Time("due_at", r.DueAt),
	)
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, r *reminder.Reminder) error {
	var errs []error
	for i, s := range m {
		if err := s.Deliver(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
