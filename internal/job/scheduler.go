package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
)

// Scheduler drains the pending queue with a fixed worker pool. Each
// worker is one running slot: a worker only looks for work when it is
// free, and claiming happens through the store's compare-and-update, so
// the number of running jobs can never exceed the pool size.
//
// Workers wake on a kick (submission, reaper transition) and on a slow
// safety tick, rather than busy-polling the queue.
type Scheduler struct {
	store   store.Store
	manager *Manager
	workers int
	kick    chan struct{}
	poll    time.Duration
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with the given pool size.
func NewScheduler(st store.Store, manager *Manager, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:   st,
		manager: manager,
		workers: workers,
		kick:    make(chan struct{}, 1),
		poll:    time.Second,
	}
}

// WorkerPoolSize returns the number of workers, which equals the running
// capacity.
func (s *Scheduler) WorkerPoolSize() int {
	return s.workers
}

// Kick wakes one idle worker. Non-blocking; a kick while all workers are
// busy is absorbed by the pending buffer and the safety tick.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Scheduler starting", "workers", s.workers)
	for i := range s.workers {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Drain blocks until every worker has exited. Call after cancelling the
// context passed to Start.
func (s *Scheduler) Drain() {
	s.wg.Wait()
	slog.Info("Scheduler drained")
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := slog.With("worker", id)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-ticker.C:
		}
		s.drain(ctx, logger)
	}
}

// drain claims and executes pending jobs oldest-first until the queue is
// empty. A claim conflict means another worker or a cancel won the race;
// move on to the next candidate.
func (s *Scheduler) drain(ctx context.Context, logger *slog.Logger) {
	for ctx.Err() == nil {
		next, err := s.store.NextPending(ctx)
		if err != nil {
			logger.Error("Failed to read pending queue", "error", err)
			return
		}
		if next == nil {
			return
		}

		claimed, err := s.manager.Claim(ctx, next.ID)
		if err != nil {
			if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			logger.Error("Failed to claim job", "jobId", next.ID, "error", err)
			return
		}

		logger.Info("Job claimed", "jobId", claimed.ID)
		s.manager.Execute(ctx, claimed)
	}
}
