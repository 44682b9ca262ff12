package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"studyhub/internal/jobs"

	"go.uber.org/zap"
)

// Poll runs a single cycle: reclaim stale locks, then for each registered
// kind claim as many due jobs as both the global and the kind's free slots
// allow, and dispatch them. It returns the number of jobs dispatched.
// Handlers keep running after Poll returns. Jobs of unregistered kinds are
// never claimed.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	now := s.now()

	reclaimed, err := s.store.ReleaseStale(ctx, s.cfg.LockLifetime, now)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.log.Warn("reclaimed stale job locks", zap.Int64("count", reclaimed))
	}

	dispatched := 0
	for _, reg := range s.rotation() {
		budget := s.cfg.BatchSize - dispatched
		if budget <= 0 {
			break
		}
		n, err := s.claim(ctx, reg, now, budget)
		dispatched += n
		if err != nil {
			return dispatched, err
		}
	}
	return dispatched, nil
}

// claim takes up to budget slot pairs (global + kind), claims that many due
// jobs of reg's kind and gives the unused slots back.
func (s *Scheduler) claim(ctx context.Context, reg *registration, now time.Time, budget int) (int, error) {
	free := 0
	for free < budget && s.slots.TryAcquire(1) {
		if !reg.sem.TryAcquire(1) {
			s.slots.Release(1)
			break
		}
		free++
	}
	if free == 0 {
		return 0, nil
	}

	claimed, err := s.store.ClaimDue(ctx, now, free, s.cfg.WorkerID, reg.kind)
	if err != nil {
		s.release(reg, free)
		return 0, err
	}
	if unused := free - len(claimed); unused > 0 {
		s.release(reg, unused)
	}

	for _, j := range claimed {
		s.dispatch(ctx, reg, j)
	}
	return len(claimed), nil
}

func (s *Scheduler) release(reg *registration, n int) {
	reg.sem.Release(int64(n))
	s.slots.Release(int64(n))
}

// dispatch owns one slot pair taken by claim and releases it when done.
func (s *Scheduler) dispatch(ctx context.Context, reg *registration, j *jobs.Job) {
	s.inflight.Add(1)
	s.running.Add(1)
	// handlers outlive the poll loop so Stop can drain them
	base := context.WithoutCancel(ctx)
	go func() {
		defer s.inflight.Done()
		defer s.running.Add(-1)
		defer s.release(reg, 1)
		s.run(base, reg, j)
	}()
}

// lockDeadline is when ReleaseStale may hand the job to another worker.
func (s *Scheduler) lockDeadline(j *jobs.Job) time.Time {
	lockedAt := s.now()
	if j.LockedAt != nil {
		lockedAt = *j.LockedAt
	}
	return lockedAt.Add(s.cfg.LockLifetime)
}

func (s *Scheduler) run(ctx context.Context, reg *registration, j *jobs.Job) {
	log := s.log.With(zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)))
	lease := j.Lease()

	deadline := s.lockDeadline(j)
	if !s.now().Before(deadline) {
		log.Warn("lock expired before the job started")
		s.fail(ctx, log, lease, ErrLockExpired)
		return
	}

	hctx, cancel := context.WithDeadline(ctx, deadline)
	err := invoke(hctx, reg.fn, j)
	cancel()
	if err != nil {
		log.Warn("job failed, will retry", zap.Int("attempts", j.Attempts+1), zap.Error(err))
		s.fail(ctx, log, lease, err)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	if err := s.store.Complete(sctx, lease, s.now()); err != nil {
		if errors.Is(err, jobs.ErrLockLost) {
			log.Warn("job finished after its lock was reclaimed", zap.Error(err))
			return
		}
		// the lock expires and the job is reclaimed
		log.Error("failed to complete job", zap.Error(err))
		return
	}
	log.Debug("job completed")
}

func (s *Scheduler) fail(ctx context.Context, log *zap.Logger, lease jobs.Lease, cause error) {
	sctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	if err := s.store.Fail(sctx, lease, cause); err != nil {
		log.Error("failed to release failed job", zap.Error(err))
	}
}

func invoke(ctx context.Context, fn Handler, j *jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanicked, r, debug.Stack())
		}
	}()
	return fn(ctx, j)
}
