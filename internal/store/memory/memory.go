// Package memory implements the job store with an in-process mutex map.
// It is the default backend for development and the fixture for tests;
// durable deployments use the postgres backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
)

// Store keeps job records in a map guarded by a single mutex. Every method
// holds the lock for its full duration, which gives the same atomicity the
// postgres backend gets from single-statement updates.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{jobs: make(map[string]*model.Job)}
}

func (s *Store) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.Conflict("job", job.ID, "job already exists")
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, apperrors.NotFound("job", id)
	}
	cp := *job
	return &cp, nil
}

func (s *Store) List(ctx context.Context) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *Store) ListByStatus(ctx context.Context, status model.Status) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []model.Job
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, *job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *Store) Counts(ctx context.Context) (model.QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts model.QueueCounts
	for _, job := range s.jobs {
		switch job.Status {
		case model.StatusRunning:
			counts.Running++
		case model.StatusPending:
			counts.Pending++
		}
	}
	return counts, nil
}

func (s *Store) NextPending(ctx context.Context) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next *model.Job
	for _, job := range s.jobs {
		if job.Status != model.StatusPending {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

func (s *Store) Transition(ctx context.Context, id string, expect, next model.Status, upd store.TransitionUpdate) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, apperrors.NotFound("job", id)
	}
	if job.Status != expect {
		return nil, apperrors.Conflict("job", id,
			"job is "+string(job.Status)+", expected "+string(expect))
	}

	job.Status = next
	if upd.StartedAt != nil {
		job.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		job.CompletedAt = upd.CompletedAt
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.CurrentStep != nil {
		job.CurrentStep = *upd.CurrentStep
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ResultLocation != nil {
		job.ResultLocation = *upd.ResultLocation
	}
	if upd.ClearHandle {
		job.ExecutionHandle = ""
	} else if upd.SetHandle != nil {
		job.ExecutionHandle = *upd.SetHandle
	}

	cp := *job
	return &cp, nil
}

func (s *Store) SetExecutionHandle(ctx context.Context, id, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return apperrors.NotFound("job", id)
	}
	if job.Status != model.StatusRunning {
		return apperrors.Conflict("job", id, "job is not running")
	}
	job.ExecutionHandle = handle
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return apperrors.NotFound("job", id)
	}
	// Progress never moves backwards and only applies to running jobs.
	// Stale writes from a lagging monitor are dropped, not errors.
	if job.Status != model.StatusRunning || progress < job.Progress {
		return nil
	}
	job.Progress = progress
	job.CurrentStep = step
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
