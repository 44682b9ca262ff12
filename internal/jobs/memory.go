package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by STORAGE=memory and tests.
// A single mutex stands in for the row locks of the postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	down error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*Job{}}
}

// SetUnavailable makes every call fail with err wrapped as ErrStoreUnavailable.
// Pass nil to bring the store back.
func (m *MemoryStore) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

// Put stores a copy of j as-is. It is meant for tests that need to seed
// jobs in a specific state.
func (m *MemoryStore) Put(j Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	m.jobs[j.ID] = clone(&j)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check(ctx, "ping")
}

func (m *MemoryStore) check(ctx context.Context, op string) error {
	if m.down != nil {
		return unavailable(op, m.down)
	}
	return unavailable(op, ctx.Err())
}

func (m *MemoryStore) EnqueueAt(ctx context.Context, kind Kind, payload json.RawMessage, runAt time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "enqueue"); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	now := time.Now()
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		NextRunAt: &runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	return clone(j), nil
}

func (m *MemoryStore) EnqueueRecurring(ctx context.Context, name string, kind Kind, intervalSpec string, now time.Time) (*Job, error) {
	// validate only; a new or re-specified recurring job is due immediately
	if _, err := ParseInterval(intervalSpec); err != nil {
		return nil, err
	}
	next := now

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "enqueue recurring"); err != nil {
		return nil, err
	}

	for _, j := range m.jobs {
		if j.Name != nil && *j.Name == name {
			if j.IntervalSpec != intervalSpec {
				j.IntervalSpec = intervalSpec
				if j.LockedAt == nil {
					j.NextRunAt = &next
				}
				j.UpdatedAt = now
			}
			return clone(j), nil
		}
	}

	j := &Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Name:         &name,
		Payload:      json.RawMessage(`{}`),
		IntervalSpec: intervalSpec,
		NextRunAt:    &next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.jobs[j.ID] = j
	return clone(j), nil
}

func (m *MemoryStore) Cancel(ctx context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "cancel"); err != nil {
		return 0, err
	}
	var n int64
	for id, j := range m.jobs {
		if j.LockedAt != nil || j.NextRunAt == nil || !f.match(j) {
			continue
		}
		delete(m.jobs, id)
		n++
	}
	return n, nil
}

func (m *MemoryStore) Replace(ctx context.Context, reminderID string, runAt time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "replace"); err != nil {
		return nil, err
	}
	f := Filter{Kind: KindReminder, ReminderID: reminderID}
	for id, j := range m.jobs {
		if j.LockedAt == nil && j.NextRunAt != nil && f.match(j) {
			delete(m.jobs, id)
		}
	}

	now := time.Now()
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      KindReminder,
		Payload:   NewReminderPayload(reminderID),
		NextRunAt: &runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	return clone(j), nil
}

func (m *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int, owner string, kinds ...Kind) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "claim"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var due []*Job
	for _, j := range m.jobs {
		if len(kinds) > 0 && !slices.Contains(kinds, j.Kind) {
			continue
		}
		if j.LockedAt == nil && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].NextRunAt.Before(*due[b].NextRunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, j := range due {
		lockedAt, by := now, owner
		j.LockedAt, j.LockedBy = &lockedAt, &by
		j.LastFinishedAt = nil
		j.UpdatedAt = now
		out = append(out, clone(j))
	}
	return out, nil
}

// leased returns the job l refers to, or an error if l is no longer its claim.
func (m *MemoryStore) leased(op string, l Lease) (*Job, error) {
	j, ok := m.jobs[l.JobID]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, l.JobID, ErrNotFound)
	}
	if !l.holds(j) {
		return nil, fmt.Errorf("%s %s: %w", op, l.JobID, ErrLockLost)
	}
	return j, nil
}

func (m *MemoryStore) Complete(ctx context.Context, l Lease, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "complete"); err != nil {
		return err
	}
	j, err := m.leased("complete", l)
	if err != nil {
		return err
	}

	var next *time.Time
	if j.Recurring() {
		t, err := NextRun(j.IntervalSpec, now)
		if err != nil {
			return err
		}
		next = &t
	}
	finished := now
	j.LockedAt, j.LockedBy = nil, nil
	j.LastFinishedAt = &finished
	j.NextRunAt = next
	j.Attempts = 0
	j.LastError = nil
	j.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Fail(ctx context.Context, l Lease, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "fail"); err != nil {
		return err
	}
	j, err := m.leased("fail", l)
	if err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	j.LockedAt, j.LockedBy = nil, nil
	j.Attempts++
	j.LastError = &msg
	j.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ReleaseStale(ctx context.Context, lockLifetime time.Duration, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "release stale"); err != nil {
		return 0, err
	}
	cutoff := now.Add(-lockLifetime)
	var n int64
	for _, j := range m.jobs {
		if j.LockedAt != nil && j.LockedAt.Before(cutoff) {
			j.LockedAt, j.LockedBy = nil, nil
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "stats"); err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, j := range m.jobs {
		s.Total++
		if j.LockedAt != nil {
			s.Running++
		} else if j.NextRunAt != nil {
			s.Scheduled++
		}
		if j.LastFinishedAt != nil {
			s.Completed++
		}
	}
	return s, nil
}

func (m *MemoryStore) ListByReminder(ctx context.Context, reminderID string) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "list"); err != nil {
		return nil, err
	}
	f := Filter{ReminderID: reminderID}
	var out []*Job
	for _, j := range m.jobs {
		if f.match(j) {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// Get returns a copy of the job with the given id.
func (m *MemoryStore) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return clone(j), true
}

func clone(j *Job) *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.NextRunAt = copyTime(j.NextRunAt)
	c.LockedAt = copyTime(j.LockedAt)
	c.LastFinishedAt = copyTime(j.LastFinishedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
