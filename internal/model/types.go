// Package model defines the persisted job record shared by the store,
// lifecycle manager, and API layers.
package model

import "time"

// Status represents the lifecycle state of a job. The values must match
// the text stored in the jobs table and are serialized lowercase on the wire.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are never
// transitioned again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is the central entity. The persisted record is the single source of
// truth for a job: all components communicate by reading and atomically
// updating it, never through in-memory handoff.
type Job struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Subject   string `json:"subject,omitempty"`
	InputPath string `json:"inputPath,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Progress is 0-100 and non-decreasing while running. It reaches 100
	// only on completion.
	Progress    int    `json:"progress"`
	CurrentStep string `json:"currentStep,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	// ExecutionHandle identifies the in-flight external process or
	// container ("<runtime>:<ref>"). Non-empty iff the job is running.
	ExecutionHandle string `json:"executionHandle,omitempty"`

	ResultLocation string `json:"resultLocation,omitempty"`
}

// QueueCounts is a consistent snapshot of queue occupancy, read under a
// single store operation so admission decisions cannot see a torn view.
type QueueCounts struct {
	Running int
	Pending int
}
