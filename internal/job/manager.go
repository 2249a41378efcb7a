package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/observability"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/progress"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
)

// maxErrorExcerpt bounds the error text persisted on a failed job. The
// tail of a diagnostic carries the actual failure, so excerpts keep the
// end, not the beginning.
const maxErrorExcerpt = 512

// Container-side paths shared by all execution backends.
const (
	licenseEnvPath  = "/license/license.txt"
	subjectsEnvPath = "/output"
)

// ManagerConfig holds lifecycle settings.
type ManagerConfig struct {
	DataRoot    string  // per-job output directories live here
	ResultRel   string  // expected artifact under <output>/<subject>
	StatusRel   string  // status stream under <output>/<subject>
	MemoryMB    int64
	CPUs        float64
	CancelGrace time.Duration
}

// Manager drives one job at a time through its state machine: claim,
// execute with runtime fallback, finalize. Every transition goes through
// the store's compare-and-update, so a concurrent cancel or reaper sweep
// can win a race without corrupting state.
type Manager struct {
	store    store.Store
	selector *runtime.Selector
	invoker  *runtime.Invoker
	monitor  *progress.Monitor
	metrics  *observability.Metrics
	cfg      ManagerConfig
}

// NewManager creates a lifecycle manager.
func NewManager(st store.Store, selector *runtime.Selector, invoker *runtime.Invoker, monitor *progress.Monitor, metrics *observability.Metrics, cfg ManagerConfig) *Manager {
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 2 * time.Second
	}
	return &Manager{
		store:    st,
		selector: selector,
		invoker:  invoker,
		monitor:  monitor,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Claim atomically moves a pending job to running. A conflict means
// another worker claimed it or a cancel got there first.
func (m *Manager) Claim(ctx context.Context, id string) (*model.Job, error) {
	now := time.Now().UTC()
	return m.store.Transition(ctx, id, model.StatusPending, model.StatusRunning, store.TransitionUpdate{
		StartedAt: &now,
		Progress:  store.Ptr(0),
	})
}

// Execute runs a claimed job to a terminal state. Environment-level start
// failures fall through to the next runtime, each environment attempted
// at most once; a non-zero exit is final. The progress watch runs for the
// whole execution and stops when Execute returns.
func (m *Manager) Execute(ctx context.Context, jb *model.Job) {
	logger := slog.With("jobId", jb.ID, "subject", jb.Subject)
	startTime := time.Now()
	recorded := false

	outputDir := filepath.Join(m.cfg.DataRoot, jb.ID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		m.finalize(ctx, logger, jb.ID, startTime, recorded, model.StatusFailed, "create output directory: "+err.Error(), "")
		return
	}

	spec := runtime.Spec{
		JobID:     jb.ID,
		Subject:   jb.Subject,
		InputPath: jb.InputPath,
		OutputDir: outputDir,
		Env: map[string]string{
			"FS_LICENSE":   licenseEnvPath,
			"SUBJECTS_DIR": subjectsEnvPath,
		},
		MemoryMB: m.cfg.MemoryMB,
		CPUs:     m.cfg.CPUs,
	}

	subjectDir := filepath.Join(outputDir, jb.Subject)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go m.monitor.Watch(watchCtx, jb.ID, filepath.Join(subjectDir, m.cfg.StatusRel))

	excluded := make(map[string]bool)
	for {
		rt, err := m.selector.SelectExcluding(ctx, excluded)
		if err != nil {
			logger.Error("No usable execution environment", "error", err)
			m.finalize(ctx, logger, jb.ID, startTime, recorded, model.StatusFailed, excerpt(err.Error()), "")
			return
		}
		logger.Info("Executing", "runtime", rt.Name())
		if m.metrics != nil && !recorded {
			m.metrics.RecordJobStarted(ctx, rt.Name())
			recorded = true
		}

		result, err := m.invoker.Invoke(ctx, rt, spec)
		if err != nil {
			var startErr *runtime.StartError
			switch {
			case errors.As(err, &startErr):
				logger.Warn("Environment failed to start execution, falling back", "runtime", startErr.Runtime, "error", err)
				excluded[startErr.Runtime] = true
				continue
			case errors.Is(err, apperrors.ErrConflict):
				// The job left the running state while starting; the
				// execution was already torn down by the invoker.
				logger.Info("Job no longer running, abandoning execution")
				m.recordFinish(ctx, jb.ID, startTime, recorded)
				return
			case ctx.Err() != nil:
				// Shutting down. Leave the record running; the startup
				// sweep reconciles it on the next boot.
				logger.Warn("Execution abandoned by shutdown")
				return
			default:
				m.finalize(ctx, logger, jb.ID, startTime, recorded, model.StatusFailed, excerpt(err.Error()), "")
				return
			}
		}

		if result.ExitCode != 0 {
			msg := fmt.Sprintf("segmentation exited with code %d: %s", result.ExitCode, result.Diagnostic)
			m.finalize(ctx, logger, jb.ID, startTime, recorded, model.StatusFailed, excerpt(msg), "")
			return
		}

		resultLocation := filepath.Join(subjectDir, m.cfg.ResultRel)
		if _, err := os.Stat(resultLocation); err != nil {
			m.finalize(ctx, logger, jb.ID, startTime, recorded, model.StatusFailed,
				"segmentation exited cleanly but produced no result artifact", "")
			return
		}
		m.finalize(ctx, logger, jb.ID, startTime, recorded, model.StatusCompleted, "", resultLocation)
		return
	}
}

// CancelRunning terminates the execution behind a running job and marks
// it cancelled. Termination is best-effort with a short grace wait; the
// state transition happens regardless, and a job that finished
// concurrently counts as success.
func (m *Manager) CancelRunning(ctx context.Context, jb *model.Job) error {
	logger := slog.With("jobId", jb.ID)

	if jb.ExecutionHandle != "" {
		if err := m.selector.Cancel(ctx, jb.ExecutionHandle); err != nil {
			logger.Warn("Failed to terminate execution", "handle", jb.ExecutionHandle, "error", err)
		}
		m.awaitTermination(ctx, jb.ExecutionHandle)
	}

	now := time.Now().UTC()
	_, err := m.store.Transition(ctx, jb.ID, model.StatusRunning, model.StatusCancelled, store.TransitionUpdate{
		CompletedAt: &now,
		ClearHandle: true,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Finished or was reaped while we were terminating.
			return nil
		}
		return err
	}
	logger.Info("Running job cancelled")
	return nil
}

// awaitTermination polls liveness until the execution is gone or the
// grace period expires.
func (m *Manager) awaitTermination(ctx context.Context, handle string) {
	deadline := time.Now().Add(m.cfg.CancelGrace)
	for time.Now().Before(deadline) {
		alive, err := m.selector.Alive(ctx, handle)
		if err != nil || !alive {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	slog.Warn("Execution still alive after cancellation grace", "handle", handle)
}

// finalize applies the terminal transition. A conflict means a concurrent
// cancel or reaper sweep got there first, which is fine: terminal states
// are written exactly once.
func (m *Manager) finalize(ctx context.Context, logger *slog.Logger, id string, startTime time.Time, recorded bool, next model.Status, errMsg, resultLocation string) {
	now := time.Now().UTC()
	upd := store.TransitionUpdate{
		CompletedAt: &now,
		ClearHandle: true,
	}
	if next == model.StatusCompleted {
		upd.Progress = store.Ptr(100)
		upd.CurrentStep = store.Ptr("completed")
		upd.ResultLocation = &resultLocation
	} else {
		upd.ErrorMessage = &errMsg
	}

	_, err := m.store.Transition(ctx, id, model.StatusRunning, next, upd)
	switch {
	case err == nil:
		if next == model.StatusCompleted {
			logger.Info("Job completed", "resultLocation", resultLocation)
		} else {
			logger.Error("Job failed", "error", errMsg)
		}
	case errors.Is(err, apperrors.ErrConflict):
		logger.Info("Terminal transition lost to a concurrent one", "attempted", next)
	default:
		logger.Error("Failed to finalize job", "attempted", next, "error", err)
	}

	m.recordFinish(ctx, id, startTime, recorded)
}

// recordFinish emits the finish metric using the job's actual terminal
// state, whichever component wrote it.
func (m *Manager) recordFinish(ctx context.Context, id string, startTime time.Time, started bool) {
	if m.metrics == nil || !started {
		return
	}
	status := model.StatusFailed
	if jb, err := m.store.Get(ctx, id); err == nil {
		status = jb.Status
	}
	m.metrics.RecordJobFinished(ctx, status, time.Since(startTime).Seconds())
}

// excerpt bounds an error text, keeping the tail.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorExcerpt {
		return s
	}
	return "..." + s[len(s)-maxErrorExcerpt:]
}
