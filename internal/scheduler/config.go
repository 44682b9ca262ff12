package scheduler

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultLockLifetime    = 10 * time.Minute
	DefaultMaxConcurrent   = 20
	DefaultKindConcurrency = 5
	DefaultSweepName       = "reminder-sweep"
	DefaultSweepInterval   = "every 1 minute"
	defaultStoreTimeout    = 5 * time.Second
)

type Config struct {
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration
	// LockLifetime is how long a claimed job may stay locked before it is
	// considered abandoned and reclaimed. A handler's deadline is its claim
	// time plus LockLifetime.
	LockLifetime time.Duration
	// MaxConcurrent caps executing jobs across all kinds.
	MaxConcurrent int
	// DefaultConcurrency caps executing jobs of one kind unless the handler
	// was registered WithConcurrency.
	DefaultConcurrency int
	// BatchSize caps how many jobs one poll claims. Defaults to MaxConcurrent.
	BatchSize int

	SweepName     string
	SweepInterval string

	WorkerID string
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       DefaultPollInterval,
		LockLifetime:       DefaultLockLifetime,
		MaxConcurrent:      DefaultMaxConcurrent,
		DefaultConcurrency: DefaultKindConcurrency,
		SweepName:          DefaultSweepName,
		SweepInterval:      DefaultSweepInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.LockLifetime <= 0 {
		c.LockLifetime = d.LockLifetime
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = d.DefaultConcurrency
	}
	if c.BatchSize <= 0 || c.BatchSize > c.MaxConcurrent {
		c.BatchSize = c.MaxConcurrent
	}
	if c.SweepName == "" {
		c.SweepName = d.SweepName
	}
	if c.SweepInterval == "" {
		c.SweepInterval = d.SweepInterval
	}
	if c.WorkerID == "" {
		c.WorkerID = defaultWorkerID()
	}
	return c
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "scheduler"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

type HandlerOption func(*registration)

// WithConcurrency overrides Config.DefaultConcurrency for one kind.
func WithConcurrency(n int) HandlerOption {
	return func(r *registration) {
		if n > 0 {
			r.limit = n
		}
	}
}
