// Package lifecycle turns reminder create, edit and delete events into job
// store operations. Scheduling is an acceleration: the recurring sweep still
// delivers a reminder whose job was never created, so failures here are
// logged and never reach the caller.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"studyhub/internal/jobs"
	"studyhub/internal/reminder"

	"go.uber.org/zap"
)

const defaultStoreTimeout = 5 * time.Second

// Waker is satisfied by *scheduler.Scheduler.
type Waker interface {
	Wake()
}

type Coordinator struct {
	Jobs jobs.Store
	Log  *zap.Logger
	Now  func() time.Time

	// Waker, when set, is poked at the due time of jobs due within WakeWithin
	// so they do not wait for the next poll tick.
	Waker      Waker
	WakeWithin time.Duration
}

var _ reminder.Lifecycle = (*Coordinator)(nil)

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// ScheduleReminder replaces any pending one-shot job of the reminder with a
// job at dueAt in one store step. A due time that is not in the future only
// cancels; the sweep picks the reminder up. The returned job is nil in that
// case.
func (c *Coordinator) ScheduleReminder(ctx context.Context, reminderID string, dueAt time.Time) (*jobs.Job, error) {
	now := c.now()
	if !dueAt.After(now) {
		_, err := c.CancelReminder(ctx, reminderID)
		return nil, err
	}

	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	j, err := c.Jobs.Replace(sctx, reminderID, dueAt)
	if err != nil {
		return nil, fmt.Errorf("schedule reminder %s: %w", reminderID, err)
	}
	c.wakeAt(now, dueAt)
	return j, nil
}

// CancelReminder removes the reminder's unclaimed one-shot jobs. A job that
// is already running is left alone; it no-ops on a deleted reminder.
func (c *Coordinator) CancelReminder(ctx context.Context, reminderID string) (int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	n, err := c.Jobs.Cancel(ctx, jobs.Filter{Kind: jobs.KindReminder, ReminderID: reminderID})
	if err != nil {
		return 0, fmt.Errorf("cancel reminder %s: %w", reminderID, err)
	}
	return n, nil
}

func (c *Coordinator) enqueue(ctx context.Context, reminderID string, dueAt time.Time) (*jobs.Job, error) {
	now := c.now()
	if !dueAt.After(now) {
		return nil, nil
	}

	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	j, err := c.Jobs.EnqueueAt(sctx, jobs.KindReminder, jobs.NewReminderPayload(reminderID), dueAt)
	if err != nil {
		return nil, fmt.Errorf("schedule reminder %s: %w", reminderID, err)
	}
	c.wakeAt(now, dueAt)
	return j, nil
}

func (c *Coordinator) wakeAt(now, dueAt time.Time) {
	if c.Waker == nil || c.WakeWithin <= 0 {
		return
	}
	if wait := dueAt.Sub(now); wait <= c.WakeWithin {
		time.AfterFunc(wait, c.Waker.Wake)
	}
}

// the caller's request may finish before the store answers
func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
}

func (c *Coordinator) OnCreated(ctx context.Context, r *reminder.Reminder) {
	if r.Notified {
		return
	}
	j, err := c.enqueue(ctx, r.ID, r.DueAt)
	if err != nil {
		c.logger().Error("failed to schedule new reminder", zap.String("reminder_id", r.ID), zap.Error(err))
		return
	}
	if j != nil {
		c.logger().Debug("reminder scheduled", zap.String("reminder_id", r.ID), zap.String("job_id", j.ID), zap.Time("due_at", r.DueAt))
	}
}

func (c *Coordinator) OnDueDateChanged(ctx context.Context, r *reminder.Reminder, oldDueAt time.Time) {
	if r.DueAt.Equal(oldDueAt) {
		return
	}
	log := c.logger().With(zap.String("reminder_id", r.ID))

	if !r.Pending(c.now()) {
		if _, err := c.CancelReminder(ctx, r.ID); err != nil {
			log.Error("failed to cancel reminder job", zap.Error(err))
		}
		return
	}
	j, err := c.ScheduleReminder(ctx, r.ID, r.DueAt)
	if err != nil {
		log.Error("failed to reschedule reminder", zap.Time("due_at", r.DueAt), zap.Error(err))
		return
	}
	if j != nil {
		log.Debug("reminder rescheduled", zap.String("job_id", j.ID), zap.Time("due_at", r.DueAt))
	}
}

func (c *Coordinator) OnDeleted(ctx context.Context, reminderID string) {
	n, err := c.CancelReminder(ctx, reminderID)
	if err != nil {
		c.logger().Error("failed to cancel deleted reminder's jobs", zap.String("reminder_id", reminderID), zap.Error(err))
		return
	}
	if n > 0 {
		c.logger().Debug("reminder jobs cancelled", zap.String("reminder_id", reminderID), zap.Int64("count", n))
	}
}
