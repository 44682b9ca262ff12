// Package dispatch holds the job handlers that turn due reminders into
// notifications.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyhub/internal/jobs"
	"studyhub/internal/notify"
	"studyhub/internal/reminder"
	"studyhub/internal/scheduler"

	"go.uber.org/zap"
)

const defaultSweepLimit = 500

type Dispatcher struct {
	Reminders reminder.Store
	Sink      notify.Sink
	Log       *zap.Logger
	Now       func() time.Time
	// SweepLimit caps reminders handled per sweep run; the rest wait for the
	// next run.
	SweepLimit int
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Register installs the sweep and one-shot handlers.
func (d *Dispatcher) Register(s *scheduler.Scheduler, opts ...scheduler.HandlerOption) error {
	// one sweep at a time is enough; overlapping sweeps only contend on the same rows
	if err := s.Register(jobs.KindSweep, d.Sweep, scheduler.WithConcurrency(1)); err != nil {
		return err
	}
	return s.Register(jobs.KindReminder, d.OneShot, opts...)
}

// Sweep delivers every due, unnotified reminder. A failure on one reminder
// is logged and does not stop the others.
func (d *Dispatcher) Sweep(ctx context.Context, job *jobs.Job) error {
	limit := d.SweepLimit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	due, err := d.Reminders.FindDueUnnotified(ctx, d.now(), limit)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	log := d.logger().With(zap.String("job_id", job.ID))
	var failed int
	for _, r := range due {
		if err := d.deliverAndMark(ctx, r); err != nil {
			failed++
			log.Error("sweep: reminder failed", zap.String("reminder_id", r.ID), zap.Error(err))
		}
	}
	if len(due) > 0 {
		log.Info("sweep finished", zap.Int("due", len(due)), zap.Int("failed", failed))
	}
	return nil
}

// OneShot fires the reminder named in the job payload. A deleted, already
// notified or rescheduled reminder completes the job as a no-op.
func (d *Dispatcher) OneShot(ctx context.Context, job *jobs.Job) error {
	log := d.logger().With(zap.String("job_id", job.ID))

	p, err := job.ReminderPayload()
	if err != nil || p.ReminderID == "" {
		// retrying cannot fix a bad payload
		log.Error("one-shot: bad payload", zap.ByteString("payload", job.Payload), zap.Error(err))
		return nil
	}
	log = log.With(zap.String("reminder_id", p.ReminderID))

	r, err := d.Reminders.FindByID(ctx, p.ReminderID)
	if errors.Is(err, reminder.ErrNotFound) {
		log.Debug("one-shot: reminder gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("one-shot %s: %w", p.ReminderID, err)
	}
	if r.Notified {
		log.Debug("one-shot: already notified")
		return nil
	}
	if r.DueAt.After(d.now()) {
		// due date moved later; its own job or the sweep handles it
		log.Debug("one-shot: not due yet", zap.Time("due_at", r.DueAt))
		return nil
	}
	return d.deliverAndMark(ctx, r)
}

// deliverAndMark claims the reminder by flipping notified false→true and
// only the winner calls the sink, so a sweep and a one-shot job racing on
// the same reminder deliver it once.
func (d *Dispatcher) deliverAndMark(ctx context.Context, r *reminder.Reminder) error {
	won, err := d.Reminders.MarkNotified(ctx, r.ID, d.now())
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := d.Sink.Deliver(ctx, r); err != nil {
		d.logger().Warn("notification delivery failed",
			zap.String("reminder_id", r.ID),
			zap.Uint64("owner_id", r.OwnerID),
			zap.Error(err))
	}
	return nil
}
