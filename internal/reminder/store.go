package reminder

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("reminder not found")
	ErrInvalidType      = errors.New("invalid reminder type")
	ErrInvalidInput     = errors.New("invalid reminder input")
	ErrStoreUnavailable = errors.New("reminder store unavailable")
)

type ListFilter struct {
	Type     Type
	Tag      string
	Notified *bool
	Limit    int
}

type Store interface {
	Create(ctx context.Context, r *Reminder) error
	FindByID(ctx context.Context, id string) (*Reminder, error)
	ListByOwner(ctx context.Context, ownerID uint64, f ListFilter) ([]*Reminder, error)
	// Update writes the editable fields of r. notified and notified_at are
	// only written, back to unset, when resetNotified is true; otherwise a
	// concurrent MarkNotified is never overwritten.
	Update(ctx context.Context, r *Reminder, resetNotified bool) error
	Delete(ctx context.Context, id string, ownerID uint64) error
	FindDueUnnotified(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	// MarkNotified flips notified false→true and reports whether this call
	// performed the flip.
	MarkNotified(ctx context.Context, id string, now time.Time) (bool, error)
}
