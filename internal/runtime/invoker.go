package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
)

// HandleRecorder persists the execution handle of an in-flight job so a
// concurrent cancellation request or the reaper can locate it.
type HandleRecorder interface {
	SetExecutionHandle(ctx context.Context, id, handle string) error
}

// StartError marks an environment-level failure: the computation never
// began. The lifecycle manager falls back to the next runtime on it,
// unlike a job-logic failure (non-zero exit) which is final.
type StartError struct {
	Runtime string
	Err     error
}

func (e *StartError) Error() string {
	return "runtime " + e.Runtime + " failed to start execution: " + e.Err.Error()
}

func (e *StartError) Unwrap() error { return e.Err }

// Invoker runs one external computation to completion on a chosen runtime.
// It persists the execution handle before blocking and enforces the hard
// timeout, force-terminating the execution on expiry.
type Invoker struct {
	recorder    HandleRecorder
	hardTimeout time.Duration
}

// NewInvoker creates an invoker. hardTimeout bounds every invocation.
func NewInvoker(recorder HandleRecorder, hardTimeout time.Duration) *Invoker {
	return &Invoker{recorder: recorder, hardTimeout: hardTimeout}
}

// Invoke starts spec on rt and blocks until exit, timeout, or start
// failure. The caller's worker is occupied for the full duration of the
// external computation; everything before the wait is fast.
func (i *Invoker) Invoke(ctx context.Context, rt Runtime, spec Spec) (*ExitResult, error) {
	logger := slog.With("jobId", spec.JobID, "runtime", rt.Name())

	exec, err := rt.Start(ctx, spec)
	if err != nil {
		return nil, &StartError{Runtime: rt.Name(), Err: err}
	}
	handle := exec.Handle()
	logger = logger.With("handle", handle)

	// Persist the handle before blocking so cancellation can find it. If
	// the record refuses the handle the job is no longer running (raced
	// with a cancel); tear the execution down instead of leaking it.
	if err := i.recorder.SetExecutionHandle(ctx, spec.JobID, handle); err != nil {
		logger.Warn("Job no longer running, terminating execution", "error", err)
		if cancelErr := rt.Cancel(context.WithoutCancel(ctx), handle); cancelErr != nil {
			logger.Warn("Failed to terminate execution", "error", cancelErr)
		}
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, i.hardTimeout)
	defer cancel()

	result, err := exec.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil && ctx.Err() == nil {
			logger.Error("Hard timeout exceeded, force-terminating execution")
			if cancelErr := rt.Cancel(context.WithoutCancel(ctx), handle); cancelErr != nil {
				logger.Warn("Failed to terminate timed-out execution", "error", cancelErr)
			}
			return nil, apperrors.Timeout(spec.Name(), i.hardTimeout.String())
		}
		return nil, apperrors.Invocation(rt.Name()+".wait", err)
	}

	logger.Info("Execution finished", "exitCode", result.ExitCode)
	return result, nil
}
