package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the postgres-backed Store.
type Repo struct {
	DB *gorm.DB
}

var _ Store = (*Repo)(nil)

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	return unavailable("ping", sqlDB.PingContext(ctx))
}

func (r *Repo) EnqueueAt(ctx context.Context, kind Kind, payload json.RawMessage, runAt time.Time) (*Job, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	j := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		NextRunAt: &runAt,
	}
	if err := r.DB.WithContext(ctx).Create(&j).Error; err != nil {
		return nil, unavailable("enqueue", err)
	}
	return &j, nil
}

func (r *Repo) EnqueueRecurring(ctx context.Context, name string, kind Kind, intervalSpec string, now time.Time) (*Job, error) {
	// validate only; a new or re-specified recurring job is due immediately
	if _, err := ParseInterval(intervalSpec); err != nil {
		return nil, err
	}
	next := now

	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		j := Job{
			ID:           uuid.NewString(),
			Kind:         kind,
			Name:         &name,
			Payload:      json.RawMessage(`{}`),
			IntervalSpec: intervalSpec,
			NextRunAt:    &next,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&j).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", name).First(&out).Error; err != nil {
			return err
		}

		// interval changed between deployments
		if out.IntervalSpec != intervalSpec {
			out.IntervalSpec = intervalSpec
			if out.LockedAt == nil {
				out.NextRunAt = &next
			}
			return tx.Model(&Job{}).Where("id = ?", out.ID).Updates(map[string]any{
				"interval_spec": out.IntervalSpec,
				"next_run_at":   out.NextRunAt,
				"updated_at":    now,
			}).Error
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("enqueue recurring", err)
	}
	return &out, nil
}

// Cancel removes jobs that are neither claimed nor terminal.
func (r *Repo) Cancel(ctx context.Context, f Filter) (int64, error) {
	q := r.DB.WithContext(ctx).
		Where("locked_at is null and next_run_at is not null")
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.ReminderID != "" {
		q = q.Where("payload->>'reminder_id' = ?", f.ReminderID)
	}
	res := q.Delete(&Job{})
	if res.Error != nil {
		return 0, unavailable("cancel", res.Error)
	}
	return res.RowsAffected, nil
}

// Replace serializes on a per-reminder advisory lock so two concurrent
// reschedules cannot both delete-then-insert.
func (r *Repo) Replace(ctx context.Context, reminderID string, runAt time.Time) (*Job, error) {
	j := Job{
		ID:        uuid.NewString(),
		Kind:      KindReminder,
		Payload:   NewReminderPayload(reminderID),
		NextRunAt: &runAt,
	}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`select pg_advisory_xact_lock(hashtext(?))`, "reminder:"+reminderID).Error; err != nil {
			return err
		}
		if err := tx.Where("locked_at is null and next_run_at is not null").
			Where("kind = ? and payload->>'reminder_id' = ?", KindReminder, reminderID).
			Delete(&Job{}).Error; err != nil {
			return err
		}
		return tx.Create(&j).Error
	})
	if err != nil {
		return nil, unavailable("replace", err)
	}
	return &j, nil
}

// ClaimDue locks up to limit due jobs atomically using SKIP LOCKED. A claim
// clears last_finished_at until the run completes.
func (r *Repo) ClaimDue(ctx context.Context, now time.Time, limit int, owner string, kinds ...Kind) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	// timestamptz keeps microseconds; the lease must compare equal after a round trip
	lockedAt := now.Truncate(time.Microsecond)

	kindFilter, args := "", []any{now}
	if len(kinds) > 0 {
		kindFilter = "and kind in ?"
		args = append(args, kinds)
	}
	args = append(args, limit, owner, lockedAt, lockedAt)

	var rows []*Job
	err := r.DB.WithContext(ctx).Raw(`
with cte as (
  select id
  from scheduled_jobs
  where next_run_at is not null and next_run_at <= ? and locked_at is null
  `+kindFilter+`
  order by next_run_at asc
  for update skip locked
  limit ?
)
update scheduled_jobs
set locked_by=?, locked_at=?, last_finished_at=null, updated_at=?
where id in (select id from cte)
returning *;
`, args...).Scan(&rows).Error
	if err != nil {
		return nil, unavailable("claim", err)
	}
	return rows, nil
}

// leased locks the job row and checks that l is still its claim.
func leased(tx *gorm.DB, l Lease) (*Job, error) {
	var j Job
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", l.JobID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !l.holds(&j) {
		return nil, ErrLockLost
	}
	return &j, nil
}

func leaseErr(op string, l Lease, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLockLost) {
		return fmt.Errorf("%s %s: %w", op, l.JobID, err)
	}
	return unavailable(op, err)
}

func (r *Repo) Complete(ctx context.Context, l Lease, now time.Time) error {
	var specErr error
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		j, err := leased(tx, l)
		if err != nil {
			return err
		}

		var next *time.Time
		if j.Recurring() {
			t, err := NextRun(j.IntervalSpec, now)
			if err != nil {
				specErr = err
				return err
			}
			next = &t
		}

		return tx.Model(&Job{}).Where("id = ?", j.ID).Updates(map[string]any{
			"locked_by":        nil,
			"locked_at":        nil,
			"last_finished_at": now,
			"next_run_at":      next,
			"attempts":         0,
			"last_error":       nil,
			"updated_at":       now,
		}).Error
	})
	if specErr != nil {
		return fmt.Errorf("complete %s: %w", l.JobID, specErr)
	}
	if err != nil {
		return leaseErr("complete", l, err)
	}
	return nil
}

// Fail releases the lock without touching next_run_at so the job is
// re-claimable on the next poll.
func (r *Repo) Fail(ctx context.Context, l Lease, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		j, err := leased(tx, l)
		if err != nil {
			return err
		}
		return tx.Model(&Job{}).Where("id = ?", j.ID).Updates(map[string]any{
			"locked_by":  nil,
			"locked_at":  nil,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return leaseErr("fail", l, err)
	}
	return nil
}

func (r *Repo) ReleaseStale(ctx context.Context, lockLifetime time.Duration, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Exec(`
update scheduled_jobs
set locked_by=null, locked_at=null, updated_at=?
where locked_at is not null and locked_at < ?
`, now, now.Add(-lockLifetime))
	if res.Error != nil {
		return 0, unavailable("release stale", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.DB.WithContext(ctx).Raw(`
select
  count(*) as total,
  count(*) filter (where locked_at is not null) as running,
  count(*) filter (where locked_at is null and next_run_at is not null) as scheduled,
  count(*) filter (where last_finished_at is not null) as completed
from scheduled_jobs
`).Scan(&s).Error
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return s, nil
}

func (r *Repo) ListByReminder(ctx context.Context, reminderID string) ([]*Job, error) {
	var rows []*Job
	err := r.DB.WithContext(ctx).
		Where("payload->>'reminder_id' = ?", reminderID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("list", err)
	}
	return rows, nil
}
