// Package scheduler polls the job store, claims due jobs and runs their
// handlers on a bounded pool. The job store's row locks are the only
// coordination between workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"studyhub/internal/jobs"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrAlreadyRunning   = errors.New("scheduler already running")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrHandlerPanicked  = errors.New("job handler panicked")
	ErrLockExpired      = errors.New("job lock expired before the handler ran")
)

type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Handler runs one claimed job. Returning an error leaves the job
// re-claimable on a later poll.
type Handler func(ctx context.Context, job *jobs.Job) error

// registration owns the per-kind slots. A slot is taken before a job of the
// kind is claimed, so a claimed job never waits for its kind.
type registration struct {
	kind  jobs.Kind
	fn    Handler
	limit int
	sem   *semaphore.Weighted
}

type Scheduler struct {
	store jobs.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time

	hmu      sync.RWMutex
	handlers map[jobs.Kind]*registration
	order    []*registration
	turn     atomic.Uint64

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}

	slots    *semaphore.Weighted
	inflight sync.WaitGroup
	running  atomic.Int64
	wake     chan struct{}
}

func New(store jobs.Store, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		cfg:      cfg.withDefaults(),
		log:      zap.NewNop(),
		now:      time.Now,
		handlers: map[jobs.Kind]*registration{},
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "scheduler"), zap.String("worker_id", s.cfg.WorkerID))
	s.slots = semaphore.NewWeighted(int64(s.cfg.MaxConcurrent))
	return s
}

func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) Register(kind jobs.Kind, fn Handler, opts ...HandlerOption) error {
	reg := &registration{kind: kind, fn: fn, limit: s.cfg.DefaultConcurrency}
	for _, opt := range opts {
		opt(reg)
	}
	reg.sem = semaphore.NewWeighted(int64(reg.limit))

	s.hmu.Lock()
	defer s.hmu.Unlock()
	if _, ok := s.handlers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, kind)
	}
	s.handlers[kind] = reg
	s.order = append(s.order, reg)
	return nil
}

// rotation returns the registrations starting one further along on each
// call, so no kind always gets first pick of the global slots.
func (s *Scheduler) rotation() []*registration {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	n := len(s.order)
	if n == 0 {
		return nil
	}
	start := int(s.turn.Add(1) % uint64(n))
	out := make([]*registration, 0, n)
	out = append(out, s.order[start:]...)
	return append(out, s.order[:start]...)
}

func (s *Scheduler) handler(kind jobs.Kind) (*registration, bool) {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	reg, ok := s.handlers[kind]
	return reg, ok
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start checks the job store, makes sure the recurring sweep job exists when
// a sweep handler is registered, and begins polling. Store failures here are
// returned so the process can refuse to start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return ErrAlreadyRunning
	}

	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}
	if _, ok := s.handler(jobs.KindSweep); ok {
		j, err := s.store.EnqueueRecurring(ctx, s.cfg.SweepName, jobs.KindSweep, s.cfg.SweepInterval, s.now())
		if err != nil {
			return fmt.Errorf("scheduler start: ensure sweep job: %w", err)
		}
		s.log.Info("sweep job ready", zap.String("job_id", j.ID), zap.String("interval", j.IntervalSpec))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.state = Running
	go s.loop(loopCtx, s.loopDone)

	s.log.Info("scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("lock_lifetime", s.cfg.LockLifetime),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
		zap.Int("default_concurrency", s.cfg.DefaultConcurrency),
	)
	return nil
}

// Stop halts polling and waits for in-flight handlers until ctx expires.
// It never fails; a drain timeout is only logged.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()

	cancel()
	<-loopDone

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stopped before in-flight jobs finished",
			zap.Int64("in_flight", s.running.Load()), zap.Error(ctx.Err()))
	}
}

// Wake triggers a poll without waiting for the next tick. Non-blocking; a
// pending wake absorbs extra calls.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		case <-s.wake:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	n, err := s.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// skip this cycle, the next tick retries
		s.log.Error("poll cycle failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("dispatched jobs", zap.Int("count", n))
	}
}

type Stats struct {
	jobs.Stats
	InFlight int64  `json:"in_flight"`
	State    string `json:"state"`
	WorkerID string `json:"worker_id"`
}

// Stats is a read-only view over the job store plus this process's
// in-flight count.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:    st,
		InFlight: s.running.Load(),
		State:    s.State().String(),
		WorkerID: s.cfg.WorkerID,
	}, nil
}
