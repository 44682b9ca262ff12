package reminder

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Reminder
	down error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]*Reminder{}}
}

func (m *MemoryStore) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = err
}

func (m *MemoryStore) check(ctx context.Context, op string) error {
	if m.down != nil {
		return storeErr(op, m.down)
	}
	if err := ctx.Err(); err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, r *Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "create"); err != nil {
		return err
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	m.rows[r.ID] = clone(r)
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find"); err != nil {
		return nil, err
	}
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID uint64, f ListFilter) ([]*Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "list"); err != nil {
		return nil, err
	}
	var out []*Reminder
	for _, r := range m.rows {
		if r.OwnerID != ownerID {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Tag != "" && !slices.Contains([]string(r.Tags), f.Tag) {
			continue
		}
		if f.Notified != nil && r.Notified != *f.Notified {
			continue
		}
		out = append(out, clone(r))
	}
	sortByDue(out)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, r *Reminder, resetNotified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "update"); err != nil {
		return err
	}
	cur, ok := m.rows[r.ID]
	if !ok || cur.OwnerID != r.OwnerID {
		return ErrNotFound
	}
	cur.Title = r.Title
	cur.Type = r.Type
	cur.DueAt = r.DueAt
	cur.Tags = append([]string{}, r.Tags...)
	cur.UpdatedAt = r.UpdatedAt
	if resetNotified {
		cur.Notified = false
		cur.NotifiedAt = nil
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string, ownerID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "delete"); err != nil {
		return err
	}
	cur, ok := m.rows[id]
	if !ok || cur.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryStore) FindDueUnnotified(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx, "find due"); err != nil {
		return nil, err
	}
	var out []*Reminder
	for _, r := range m.rows {
		if !r.Notified && !r.DueAt.After(now) {
			out = append(out, clone(r))
		}
	}
	sortByDue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkNotified(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "mark notified"); err != nil {
		return false, err
	}
	r, ok := m.rows[id]
	if !ok || r.Notified {
		return false, nil
	}
	at := now
	r.Notified = true
	r.NotifiedAt = &at
	r.UpdatedAt = now
	return true, nil
}

func sortByDue(rows []*Reminder) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].DueAt.Before(rows[j].DueAt) })
}

func clone(r *Reminder) *Reminder {
	c := *r
	c.Tags = append([]string{}, r.Tags...)
	if r.NotifiedAt != nil {
		t := *r.NotifiedAt
		c.NotifiedAt = &t
	}
	return &c
}
