// Package store defines the durable job store. The store is the single
// mutation point for job records: every state change goes through the
// compare-and-update Transition primitive, so concurrent components
// (scheduler workers, the reaper, cancellation requests) cannot race each
// other into an illegal state.
package store

import (
	"context"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
)

// TransitionUpdate carries the field changes applied atomically with a
// status transition. Nil pointers leave the field untouched.
type TransitionUpdate struct {
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Progress       *int
	CurrentStep    *string
	ErrorMessage   *string
	ResultLocation *string

	// SetHandle stores a new execution handle; ClearHandle removes it.
	// Terminal transitions always clear.
	SetHandle   *string
	ClearHandle bool
}

// Store is the durable job record storage.
//
// Transition is the serialization point required by the lifecycle design:
// the update applies only if the job's current status equals expect,
// otherwise apperrors.ErrConflict is returned (or ErrNotFound if the job
// does not exist). Running the same transition twice is therefore a no-op
// error, which makes the reaper sweeps idempotent.
type Store interface {
	// Create persists a new job. Returns a conflict error if the id exists.
	Create(ctx context.Context, job *model.Job) error

	// Get returns a consistent snapshot of one job.
	Get(ctx context.Context, id string) (*model.Job, error)

	// List returns snapshots of all jobs, newest first.
	List(ctx context.Context) ([]model.Job, error)

	// ListByStatus returns snapshots of jobs in the given status.
	ListByStatus(ctx context.Context, status model.Status) ([]model.Job, error)

	// Counts returns running and pending counts under one atomic read.
	Counts(ctx context.Context) (model.QueueCounts, error)

	// NextPending returns the oldest pending job by creation time, or nil
	// if the queue is empty.
	NextPending(ctx context.Context) (*model.Job, error)

	// Transition atomically moves a job from expect to next, applying upd
	// in the same operation, and returns the updated record.
	Transition(ctx context.Context, id string, expect, next model.Status, upd TransitionUpdate) (*model.Job, error)

	// SetExecutionHandle records the handle of an in-flight execution.
	// Applies only while the job is running.
	SetExecutionHandle(ctx context.Context, id, handle string) error

	// UpdateProgress writes progress and the current step description.
	// Applies only while the job is running and only if progress does not
	// decrease; a stale write is silently dropped.
	UpdateProgress(ctx context.Context, id string, progress int, step string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Ptr returns a pointer to v, for building TransitionUpdate literals.
func Ptr[T any](v T) *T { return &v }
