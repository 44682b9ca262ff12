package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	DB *gorm.DB
}

var _ Store = (*Repo)(nil)

func storeErr(op string, err error) error {
	return fmt.Errorf("reminders %s: %w: %w", op, ErrStoreUnavailable, err)
}

func (r *Repo) Create(ctx context.Context, rem *Reminder) error {
	if err := r.DB.WithContext(ctx).Create(rem).Error; err != nil {
		return storeErr("create", err)
	}
	return nil
}

func (r *Repo) FindByID(ctx context.Context, id string) (*Reminder, error) {
	var rem Reminder
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&rem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find", err)
	}
	return &rem, nil
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID uint64, f ListFilter) ([]*Reminder, error) {
	q := r.DB.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Tag != "" {
		q = q.Where("? = any(tags)", f.Tag)
	}
	if f.Notified != nil {
		q = q.Where("notified = ?", *f.Notified)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows []*Reminder
	if err := q.Order("due_at asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, storeErr("list", err)
	}
	return rows, nil
}

func (r *Repo) Update(ctx context.Context, rem *Reminder, resetNotified bool) error {
	cols := map[string]any{
		"title":      rem.Title,
		"type":       rem.Type,
		"due_at":     rem.DueAt,
		"tags":       rem.Tags,
		"updated_at": rem.UpdatedAt,
	}
	if resetNotified {
		cols["notified"] = false
		cols["notified_at"] = nil
	}
	res := r.DB.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND owner_id = ?", rem.ID, rem.OwnerID).
		Updates(cols)
	if res.Error != nil {
		return storeErr("update", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id string, ownerID uint64) error {
	res := r.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&Reminder{})
	if res.Error != nil {
		return storeErr("delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) FindDueUnnotified(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	q := r.DB.WithContext(ctx).
		Where("due_at <= ? AND notified = false", now).
		Order("due_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*Reminder
	if err := q.Find(&rows).Error; err != nil {
		return nil, storeErr("find due", err)
	}
	return rows, nil
}

// MarkNotified is a compare-and-set on the notified column: concurrent
// callers race on the same row and exactly one sees RowsAffected == 1.
func (r *Repo) MarkNotified(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND notified = false", id).
		Updates(map[string]any{
			"notified":    true,
			"notified_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, storeErr("mark notified", res.Error)
	}
	return res.RowsAffected == 1, nil
}
