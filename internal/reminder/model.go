package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

type Type string

const (
	TypeStudy   Type = "study"
	TypeTask    Type = "task"
	TypeGeneral Type = "general"
	TypeEvent   Type = "event"
	TypeCustom  Type = "custom"
)

func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return TypeGeneral, nil
	}
	switch t := Type(s); t {
	case TypeStudy, TypeTask, TypeGeneral, TypeEvent, TypeCustom:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Reminder fires once at DueAt. Notified flips to true exactly once per
// due occurrence; only an edit moving DueAt into the future resets it.
type Reminder struct {
	ID      string    `gorm:"primaryKey;type:text"`
	OwnerID uint64    `gorm:"index;not null"`
	Title   string    `gorm:"type:text;not null"`
	Type    Type      `gorm:"type:text;not null;default:'general'"`
	DueAt   time.Time `gorm:"type:timestamptz;not null"`

	Notified   bool       `gorm:"not null;default:false"`
	NotifiedAt *time.Time `gorm:"type:timestamptz"`

	Tags pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// Pending reports whether the reminder still has a future occurrence to fire.
func (r *Reminder) Pending(now time.Time) bool {
	return !r.Notified && r.DueAt.After(now)
}
