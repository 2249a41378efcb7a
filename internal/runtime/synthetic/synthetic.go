// Package synthetic implements a degraded-mode runtime that fabricates
// results when no real execution environment is usable. It exists for
// development machines only: config.Load refuses to enable it in a
// production environment, and every artifact it writes is flagged as
// synthetic so downstream consumers cannot mistake it for real output.
package synthetic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
)

const runtimeName = "synthetic"

// markerFile flags a synthetic output directory.
const markerFile = "SYNTHETIC_OUTPUT"

// statusLines mimics the stage banners of a real run so the progress
// monitor exercises its full path.
var statusLines = []string{
	"#@# MotionCor synthetic",
	"#@# Talairach synthetic",
	"#@# SkullStrip synthetic",
	"#@# SubCort Seg synthetic",
	"#@# WM Segmentation synthetic",
	"#@# Cortical Parc synthetic",
	"finished without error (synthetic)",
}

// Runtime fabricates a completed segmentation run.
type Runtime struct{}

// New creates a synthetic runtime.
func New() *Runtime { return &Runtime{} }

func (r *Runtime) Name() string { return runtimeName }

// Probe always passes; that is the point of a last-resort fallback.
func (r *Runtime) Probe(ctx context.Context) error { return nil }

// Start writes flagged placeholder output and returns an execution that
// completes immediately with exit code 0.
func (r *Runtime) Start(ctx context.Context, spec runtime.Spec) (runtime.Execution, error) {
	subjectDir := filepath.Join(spec.OutputDir, spec.Subject)
	for _, dir := range []string{
		filepath.Join(subjectDir, "scripts"),
		filepath.Join(subjectDir, "stats"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create synthetic output: %w", err)
		}
	}

	status := ""
	for _, line := range statusLines {
		status += line + "\n"
	}
	statusPath := filepath.Join(subjectDir, "scripts", "recon-all-status.log")
	if err := os.WriteFile(statusPath, []byte(status), 0o644); err != nil {
		return nil, fmt.Errorf("write synthetic status log: %w", err)
	}

	stats := "# SYNTHETIC RESULT - no segmentation was performed\n"
	if err := os.WriteFile(filepath.Join(subjectDir, "stats", "aseg.stats"), []byte(stats), 0o644); err != nil {
		return nil, fmt.Errorf("write synthetic stats: %w", err)
	}
	if err := os.WriteFile(filepath.Join(spec.OutputDir, markerFile), []byte(spec.JobID+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write synthetic marker: %w", err)
	}

	return &execution{jobID: spec.JobID}, nil
}

// Cancel is a no-op; synthetic executions finish instantly.
func (r *Runtime) Cancel(ctx context.Context, handle string) error { return nil }

// Alive always reports false; there is never a live process behind a
// synthetic handle.
func (r *Runtime) Alive(ctx context.Context, handle string) (bool, error) {
	return false, nil
}

type execution struct {
	jobID string
}

func (e *execution) Handle() string {
	return runtime.MakeHandle(runtimeName, e.jobID)
}

func (e *execution) Wait(ctx context.Context) (*runtime.ExitResult, error) {
	return &runtime.ExitResult{ExitCode: 0, Diagnostic: "synthetic result"}, nil
}

var _ runtime.Runtime = (*Runtime)(nil)
