package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/observability"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/runtime"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
)

// Sweep failure reasons, persisted as the job's error message.
const (
	ReasonStuck    = "processing timeout"
	ReasonOrphaned = "externally interrupted"
)

// ReaperConfig holds sweep settings.
type ReaperConfig struct {
	Interval    time.Duration
	SoftTimeout time.Duration
}

// Reaper periodically fails jobs that can no longer make progress: stuck
// jobs running past the soft timeout, and orphaned jobs whose execution
// died without the lifecycle manager noticing (crash, external kill).
// Sweeps transition through the same compare-and-update as everything
// else, so a sweep that races a normal finish simply loses.
type Reaper struct {
	store    store.Store
	selector *runtime.Selector
	kicker   Kicker
	metrics  *observability.Metrics
	cfg      ReaperConfig
}

// NewReaper creates a reaper.
func NewReaper(st store.Store, selector *runtime.Selector, kicker Kicker, metrics *observability.Metrics, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reaper{
		store:    st,
		selector: selector,
		kicker:   kicker,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run sweeps immediately, then on every interval tick until ctx is
// cancelled. The immediate sweep doubles as startup reconciliation: jobs
// left running by a crashed process are failed or re-verified before new
// work starts.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("Reaper starting", "interval", r.cfg.Interval, "softTimeout", r.cfg.SoftTimeout)
	r.Sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep examines every running job once. Idempotent: a job failed by one
// sweep is no longer running for the next.
func (r *Reaper) Sweep(ctx context.Context) {
	running, err := r.store.ListByStatus(ctx, model.StatusRunning)
	if err != nil {
		slog.Error("Reaper failed to list running jobs", "error", err)
		return
	}

	for _, jb := range running {
		switch {
		case jb.StartedAt != nil && time.Since(*jb.StartedAt) > r.cfg.SoftTimeout:
			r.fail(ctx, &jb, ReasonStuck)

		case jb.ExecutionHandle != "":
			alive, err := r.selector.Alive(ctx, jb.ExecutionHandle)
			if err != nil {
				slog.Debug("Reaper liveness check failed", "jobId", jb.ID, "handle", jb.ExecutionHandle, "error", err)
				continue
			}
			if !alive {
				r.fail(ctx, &jb, ReasonOrphaned)
			}
		}
	}
}

func (r *Reaper) fail(ctx context.Context, jb *model.Job, reason string) {
	now := time.Now().UTC()
	_, err := r.store.Transition(ctx, jb.ID, model.StatusRunning, model.StatusFailed, store.TransitionUpdate{
		CompletedAt:  &now,
		ErrorMessage: &reason,
		ClearHandle:  true,
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			slog.Error("Reaper failed to transition job", "jobId", jb.ID, "error", err)
		}
		return
	}

	slog.Warn("Reaper failed job", "jobId", jb.ID, "reason", reason)
	if r.metrics != nil {
		r.metrics.RecordReaperTransition(ctx, reason)
	}
	// A failed running job frees a slot; let the scheduler fill it.
	r.kicker.Kick()
}
