package jobs

import (
	"encoding/json"
	"time"
)

type Kind string

const (
	KindSweep    Kind = "recurring-sweep"
	KindReminder Kind = "one-shot-reminder"
)

// Job is a durable scheduling record. A one-shot job with LastFinishedAt set
// and NextRunAt nil is terminal.
type Job struct {
	ID   string  `gorm:"primaryKey;type:text"`
	Kind Kind    `gorm:"type:text;index;not null"`
	Name *string `gorm:"type:text;uniqueIndex"` // stable key for recurring jobs

	Payload      json.RawMessage `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	IntervalSpec string          `gorm:"type:text;not null;default:''"`

	NextRunAt      *time.Time `gorm:"type:timestamptz;index"`
	LockedBy       *string    `gorm:"type:text"`
	LockedAt       *time.Time `gorm:"type:timestamptz"`
	LastFinishedAt *time.Time `gorm:"type:timestamptz"`

	Attempts  int     `gorm:"not null;default:0"`
	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Job) TableName() string { return "scheduled_jobs" }

func (j *Job) Recurring() bool { return j.IntervalSpec != "" }

func (j *Job) Terminal() bool {
	return !j.Recurring() && j.LastFinishedAt != nil && j.NextRunAt == nil
}

func (j *Job) Locked() bool { return j.LockedAt != nil }

// Lease identifies one claim of a job. Complete and Fail only act on the
// claim they were given, so a worker whose lock was reclaimed cannot
// release the lock of the worker that claimed the job after it.
type Lease struct {
	JobID    string
	Owner    string
	LockedAt time.Time
}

// Lease returns the claim j was returned with. The zero Lease matches no job.
func (j *Job) Lease() Lease {
	l := Lease{JobID: j.ID}
	if j.LockedBy != nil {
		l.Owner = *j.LockedBy
	}
	if j.LockedAt != nil {
		l.LockedAt = *j.LockedAt
	}
	return l
}

func (l Lease) holds(j *Job) bool {
	return j.LockedBy != nil && j.LockedAt != nil &&
		*j.LockedBy == l.Owner && j.LockedAt.Equal(l.LockedAt)
}

type ReminderPayload struct {
	ReminderID string `json:"reminder_id"`
}

func (j *Job) ReminderPayload() (ReminderPayload, error) {
	var p ReminderPayload
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}

func NewReminderPayload(reminderID string) json.RawMessage {
	b, _ := json.Marshal(ReminderPayload{ReminderID: reminderID})
	return b
}

// Filter selects jobs for Cancel. Empty fields match everything.
type Filter struct {
	Kind       Kind
	ReminderID string
}

func (f Filter) match(j *Job) bool {
	if f.Kind != "" && j.Kind != f.Kind {
		return false
	}
	if f.ReminderID != "" {
		p, err := j.ReminderPayload()
		if err != nil || p.ReminderID != f.ReminderID {
			return false
		}
	}
	return true
}

// Stats counts jobs by state. A running job is locked; while it runs its
// LastFinishedAt is cleared, so Running and Completed never overlap.
type Stats struct {
	Total     int64 `json:"total"`
	Running   int64 `json:"running"`
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
}
