package reminder

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lifecycle receives reminder changes after they are persisted. Implementations
// must not fail the originating operation.
type Lifecycle interface {
	OnCreated(ctx context.Context, r *Reminder)
	OnDueDateChanged(ctx context.Context, r *Reminder, oldDueAt time.Time)
	OnDeleted(ctx context.Context, id string)
}

type Service struct {
	Store     Store
	Lifecycle Lifecycle
	Now       func() time.Time
}

type CreateInput struct {
	Title string
	Type  string
	DueAt time.Time
}

type UpdateInput struct {
	Title *string
	Type  *string
	DueAt *time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) Create(ctx context.Context, ownerID uint64, in CreateInput) (*Reminder, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.DueAt.IsZero() {
		return nil, ErrInvalidInput
	}
	typ, err := ParseType(in.Type)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &Reminder{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Type:      typ,
		DueAt:     in.DueAt,
		Tags:      ExtractTags(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	if s.Lifecycle != nil {
		s.Lifecycle.OnCreated(ctx, r)
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, ownerID uint64, id string) (*Reminder, error) {
	r, err := s.Store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// other users' reminders look absent
	if r.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, ownerID uint64, f ListFilter) ([]*Reminder, error) {
	return s.Store.ListByOwner(ctx, ownerID, f)
}

func (s *Service) Update(ctx context.Context, ownerID uint64, id string, in UpdateInput) (*Reminder, error) {
	r, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	oldDueAt := r.DueAt

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, ErrInvalidInput
		}
		r.Title = title
		r.Tags = ExtractTags(title)
	}
	if in.Type != nil {
		typ, err := ParseType(*in.Type)
		if err != nil {
			return nil, err
		}
		r.Type = typ
	}

	now := s.now()
	dueChanged := in.DueAt != nil && !in.DueAt.Equal(oldDueAt)
	reset := false
	if dueChanged {
		if in.DueAt.IsZero() {
			return nil, ErrInvalidInput
		}
		r.DueAt = *in.DueAt
		// a future due date is a new occurrence
		if r.DueAt.After(now) {
			reset = true
			r.Notified = false
			r.NotifiedAt = nil
		}
	}
	r.UpdatedAt = now

	if err := s.Store.Update(ctx, r, reset); err != nil {
		return nil, err
	}
	if dueChanged && s.Lifecycle != nil {
		s.Lifecycle.OnDueDateChanged(ctx, r, oldDueAt)
	}
	// notified may have been set by a job since the read above
	if cur, err := s.Store.FindByID(ctx, id); err == nil {
		return cur, nil
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, ownerID uint64, id string) error {
	if err := s.Store.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	if s.Lifecycle != nil {
		s.Lifecycle.OnDeleted(ctx, id)
	}
	return nil
}
