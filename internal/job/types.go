// Package job implements the orchestration core: capacity-gated admission,
// the worker pool that drains the queue, the lifecycle manager that drives
// each job through its state machine, and the reaper that cleans up after
// crashes and runaways. All coordination happens through the store's
// compare-and-update transitions.
package job

import (
	"strings"

	"github.com/google/uuid"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
)

// SubmitRequest is a request to admit a new segmentation job.
type SubmitRequest struct {
	// InputPath is an absolute path to the input volume on this host.
	InputPath string `json:"inputPath"`
	// Subject is the display name for the run. Derived from the input
	// file name when empty.
	Subject string `json:"subject,omitempty"`
}

// SubmitResponse is returned on successful admission.
type SubmitResponse struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
}

// QueueStatus reports queue occupancy and capacity.
type QueueStatus struct {
	Running        int `json:"running"`
	Pending        int `json:"pending"`
	WorkerPoolSize int `json:"workerPoolSize"`
}

// ListResponse wraps job snapshots for the list endpoint.
type ListResponse struct {
	Jobs []model.Job `json:"jobs"`
}

// Kicker wakes the scheduler so it re-examines the queue without waiting
// for the next poll tick.
type Kicker interface {
	Kick()
}

// NewID returns a short unique job identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
