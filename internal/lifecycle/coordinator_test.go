package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studyhub/internal/jobs"
	"studyhub/internal/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type chanWaker chan struct{}

func (w chanWaker) Wake() {
	select {
	case w <- struct{}{}:
	default:
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *jobs.MemoryStore, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	store := jobs.NewMemoryStore()
	return &Coordinator{Jobs: store, Log: zap.New(core)}, store, logs
}

func pendingJobs(t *testing.T, store *jobs.MemoryStore, reminderID string) []*jobs.Job {
	t.Helper()
	list, err := store.ListByReminder(context.Background(), reminderID)
	require.NoError(t, err)
	return list
}

func newReminder(id string, due time.Time) *reminder.Reminder {
	return &reminder.Reminder{ID: id, OwnerID: 1, Title: "t", Type: reminder.TypeGeneral, DueAt: due}
}

// ─── OnCreated ─────────────────────────────────────────────────────────────

func TestOnCreated_FutureDueEnqueues(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	due := time.Now().Add(time.Hour).Truncate(time.Second)

	c.OnCreated(context.Background(), newReminder("r1", due))

	list := pendingJobs(t, store, "r1")
	require.Len(t, list, 1)
	assert.Equal(t, jobs.KindReminder, list[0].Kind)
	require.NotNil(t, list[0].NextRunAt)
	assert.True(t, due.Equal(*list[0].NextRunAt))

	p, err := list[0].ReminderPayload()
	require.NoError(t, err)
	assert.Equal(t, "r1", p.ReminderID)
}

func TestOnCreated_PastDueOrNotifiedSkips(t *testing.T) {
	c, store, _ := newTestCoordinator(t)

	c.OnCreated(context.Background(), newReminder("past", time.Now().Add(-time.Minute)))
	done := newReminder("done", time.Now().Add(time.Hour))
	done.Notified = true
	c.OnCreated(context.Background(), done)

	assert.Empty(t, pendingJobs(t, store, "past"))
	assert.Empty(t, pendingJobs(t, store, "done"))
}

// ─── OnDueDateChanged ──────────────────────────────────────────────────────

func TestOnDueDateChanged_ReplacesJob(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCoordinator(t)
	first := time.Now().Add(time.Hour)
	r := newReminder("r1", first)
	c.OnCreated(ctx, r)

	second := first.Add(time.Hour)
	third := second.Add(time.Hour)
	r.DueAt = second
	c.OnDueDateChanged(ctx, r, first)
	r.DueAt = third
	c.OnDueDateChanged(ctx, r, second)

	list := pendingJobs(t, store, "r1")
	require.Len(t, list, 1, "old jobs are cancelled")
	assert.True(t, third.Equal(*list[0].NextRunAt))
}

func TestOnDueDateChanged_UnchangedDoesNothing(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCoordinator(t)
	due := time.Now().Add(time.Hour)
	r := newReminder("r1", due)
	c.OnCreated(ctx, r)
	before := pendingJobs(t, store, "r1")

	c.OnDueDateChanged(ctx, r, due)

	after := pendingJobs(t, store, "r1")
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
}

func TestOnDueDateChanged_ToPastOrNotifiedOnlyCancels(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCoordinator(t)
	due := time.Now().Add(time.Hour)

	past := newReminder("past", due)
	c.OnCreated(ctx, past)
	past.DueAt = time.Now().Add(-time.Minute)
	c.OnDueDateChanged(ctx, past, due)

	done := newReminder("done", due)
	c.OnCreated(ctx, done)
	done.DueAt = due.Add(time.Hour)
	done.Notified = true
	c.OnDueDateChanged(ctx, done, due)

	assert.Empty(t, pendingJobs(t, store, "past"))
	assert.Empty(t, pendingJobs(t, store, "done"))
}

// ─── OnDeleted ─────────────────────────────────────────────────────────────

func TestOnDeleted_CancelsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, store, logs := newTestCoordinator(t)
	c.OnCreated(ctx, newReminder("r1", time.Now().Add(time.Hour)))

	c.OnDeleted(ctx, "r1")
	c.OnDeleted(ctx, "r1")
	c.OnDeleted(ctx, "never-existed")

	assert.Empty(t, pendingJobs(t, store, "r1"))
	assert.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestOnDeleted_LeavesClaimedJob(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCoordinator(t)
	c.OnCreated(ctx, newReminder("r1", time.Now().Add(time.Millisecond)))
	time.Sleep(5 * time.Millisecond)
	claimed, err := store.ClaimDue(ctx, time.Now(), 10, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	c.OnDeleted(ctx, "r1")

	list := pendingJobs(t, store, "r1")
	require.Len(t, list, 1)
	assert.True(t, list[0].Locked())
}

// ─── Errors ────────────────────────────────────────────────────────────────

func TestHooks_SwallowStoreFailures(t *testing.T) {
	ctx := context.Background()
	c, store, logs := newTestCoordinator(t)
	store.SetUnavailable(errors.New("connection refused"))
	due := time.Now().Add(time.Hour)
	r := newReminder("r1", due)

	assert.NotPanics(t, func() {
		c.OnCreated(ctx, r)
		r.DueAt = due.Add(time.Minute)
		c.OnDueDateChanged(ctx, r, due)
		c.OnDeleted(ctx, "r1")
	})
	assert.Equal(t, 3, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestScheduleReminder_ReturnsStoreError(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	store.SetUnavailable(errors.New("connection refused"))

	_, err := c.ScheduleReminder(context.Background(), "r1", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, jobs.ErrStoreUnavailable)

	_, err = c.CancelReminder(context.Background(), "r1")
	assert.ErrorIs(t, err, jobs.ErrStoreUnavailable)
}

func TestScheduleReminder_SurvivesCancelledRequest(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j, err := c.ScheduleReminder(ctx, "r1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Len(t, pendingJobs(t, store, "r1"), 1)
}

func TestScheduleReminder_ConcurrentEditsLeaveOneJob(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCoordinator(t)
	base := time.Now().Add(time.Hour)
	c.OnCreated(ctx, newReminder("r1", base))

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.ScheduleReminder(ctx, "r1", base.Add(time.Duration(i)*time.Minute))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, pendingJobs(t, store, "r1"), 1)
}

// ─── Wake ──────────────────────────────────────────────────────────────────

func TestEnqueue_WakesForNearJobs(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	w := make(chanWaker, 1)
	c.Waker = w
	c.WakeWithin = time.Second

	c.OnCreated(context.Background(), newReminder("near", time.Now().Add(20*time.Millisecond)))
	select {
	case <-w:
	case <-time.After(time.Second):
		t.Fatal("waker not called for a job due within the wake window")
	}

	c.OnCreated(context.Background(), newReminder("far", time.Now().Add(time.Hour)))
	select {
	case <-w:
		t.Fatal("waker called for a job outside the wake window")
	case <-time.After(50 * time.Millisecond):
	}
}
