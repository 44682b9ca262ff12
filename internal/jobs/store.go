package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrStoreUnavailable = errors.New("job store unavailable")
	ErrNotFound         = errors.New("job not found")
	ErrLockLost         = errors.New("job lock lost")
)

// Store is the durable job collection. ClaimDue must never hand the same job
// to two concurrent callers.
type Store interface {
	Ping(ctx context.Context) error
	EnqueueAt(ctx context.Context, kind Kind, payload json.RawMessage, runAt time.Time) (*Job, error)
	EnqueueRecurring(ctx context.Context, name string, kind Kind, intervalSpec string, now time.Time) (*Job, error)
	Cancel(ctx context.Context, f Filter) (int64, error)
	// Replace cancels the reminder's unclaimed one-shot jobs and enqueues a
	// new one at runAt in a single step, so concurrent calls leave one job.
	Replace(ctx context.Context, reminderID string, runAt time.Time) (*Job, error)
	// ClaimDue locks up to limit due jobs for owner. With kinds given, only
	// jobs of those kinds are claimed.
	ClaimDue(ctx context.Context, now time.Time, limit int, owner string, kinds ...Kind) ([]*Job, error)
	// Complete and Fail return ErrLockLost when l is no longer the job's
	// current claim.
	Complete(ctx context.Context, l Lease, now time.Time) error
	Fail(ctx context.Context, l Lease, cause error) error
	ReleaseStale(ctx context.Context, lockLifetime time.Duration, now time.Time) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	ListByReminder(ctx context.Context, reminderID string) ([]*Job, error)
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return "jobs: " + e.op + ": " + e.err.Error() }

func (e *opError) Unwrap() []error { return []error{ErrStoreUnavailable, e.err} }
