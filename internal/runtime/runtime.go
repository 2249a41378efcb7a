// Package runtime defines the execution environment abstraction. Each
// backend (Docker daemon, host process, synthetic) answers a cheap
// capability probe, starts one external computation, and can later locate
// that computation through its opaque handle.
package runtime

import (
	"context"
	"fmt"
	"strings"
)

// Spec describes one external computation, independent of the backend
// that runs it: one read-only input, one writable output directory, a
// bounded environment set, resource caps, and a name derived from the job
// id so the same job always resolves to the same handle.
type Spec struct {
	JobID   string
	Subject string

	// InputPath is the validated input volume (a T1 image file). Mounted
	// read-only.
	InputPath string
	// OutputDir is the per-job writable directory; the subjects dir for
	// the segmentation run.
	OutputDir string

	// Env is the bounded variable set (license path, subjects dir).
	Env map[string]string

	MemoryMB int64
	CPUs     float64
}

// Name returns the deterministic execution name for a job.
func (s Spec) Name() string {
	return "neuroinsight-job-" + s.JobID
}

// ExitResult is the outcome of a finished execution.
type ExitResult struct {
	ExitCode int
	// Diagnostic holds a bounded tail of the execution's output, used for
	// failure excerpts. Never the full log.
	Diagnostic string
}

// Execution is one in-flight external computation.
type Execution interface {
	// Handle returns the opaque identifier ("<runtime>:<ref>") usable for
	// later cancellation or liveness lookup, including after a restart.
	Handle() string

	// Wait blocks until the computation exits. Cancelling ctx abandons
	// the wait but does not terminate the computation.
	Wait(ctx context.Context) (*ExitResult, error)
}

// Runtime is one execution environment.
type Runtime interface {
	// Name identifies the runtime and prefixes its handles.
	Name() string

	// Probe cheaply checks whether the environment is usable right now.
	// Results are never cached: availability can change between calls.
	Probe(ctx context.Context) error

	// Start launches the computation described by spec.
	Start(ctx context.Context, spec Spec) (Execution, error)

	// Cancel best-effort terminates the execution behind handle, including
	// its full process group. A handle that no longer exists is a no-op.
	Cancel(ctx context.Context, handle string) error

	// Alive reports whether handle still refers to a live execution.
	Alive(ctx context.Context, handle string) (bool, error)
}

// MakeHandle builds the canonical "<runtime>:<ref>" handle string.
func MakeHandle(runtimeName, ref string) string {
	return runtimeName + ":" + ref
}

// SplitHandle separates a handle into its runtime name and backend ref.
func SplitHandle(handle string) (runtimeName, ref string, err error) {
	name, ref, ok := strings.Cut(handle, ":")
	if !ok || name == "" || ref == "" {
		return "", "", fmt.Errorf("malformed execution handle %q", handle)
	}
	return name, ref, nil
}
