package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/config"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/observability"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
)

// Validation limits
const maxSubjectLength = 64

// subjectPattern allows alphanumeric, hyphens, and underscores
var subjectPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Service is the external face of the orchestration core: admission,
// snapshots, and cancellation. Everything asynchronous (claiming,
// executing, reaping) happens behind it; only admission rejections
// surface synchronously to callers.
type Service struct {
	store   store.Store
	manager *Manager
	kicker  Kicker
	caps    config.QueueConfig
	metrics *observability.Metrics
}

// NewService creates the job service.
func NewService(st store.Store, manager *Manager, kicker Kicker, caps config.QueueConfig, metrics *observability.Metrics) *Service {
	return &Service{
		store:   st,
		manager: manager,
		kicker:  kicker,
		caps:    caps,
		metrics: metrics,
	}
}

// Submit validates the request, applies the capacity gate, and enqueues
// the job. The capacity decision uses one atomic counts read: a submission
// is rejected when both the running and pending lanes are full, or when
// total occupancy has reached the overall cap.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*model.Job, error) {
	subject, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, apperrors.Internal("queue counts", err)
	}
	if (counts.Running >= s.caps.RunningCap && counts.Pending >= s.caps.PendingCap) ||
		counts.Running+counts.Pending >= s.caps.TotalCap {
		if s.metrics != nil {
			s.metrics.RecordAdmissionRejected(ctx)
		}
		return nil, apperrors.AdmissionRejected(counts.Running, counts.Pending)
	}

	jb := &model.Job{
		ID:        NewID(),
		Status:    model.StatusPending,
		Subject:   subject,
		InputPath: req.InputPath,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, jb); err != nil {
		return nil, err
	}

	slog.Info("Job admitted", "jobId", jb.ID, "subject", jb.Subject)
	s.kicker.Kick()
	return jb, nil
}

// Get returns a consistent snapshot of one job.
func (s *Service) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns snapshots of all jobs, newest first.
func (s *Service) List(ctx context.Context) (*ListResponse, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Jobs: jobs}, nil
}

// Cancel moves a job toward the cancelled state. Terminal jobs are a
// no-op, pending jobs are cancelled in place, and running jobs get their
// execution terminated first. A job that reaches a terminal state
// concurrently also counts as success.
func (s *Service) Cancel(ctx context.Context, id string) error {
	logger := slog.With("jobId", id)

	jb, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	for {
		switch {
		case jb.Status.Terminal():
			return nil

		case jb.Status == model.StatusPending:
			now := time.Now().UTC()
			_, err := s.store.Transition(ctx, id, model.StatusPending, model.StatusCancelled, store.TransitionUpdate{
				CompletedAt: &now,
			})
			if err == nil {
				logger.Info("Pending job cancelled")
				return nil
			}
			if !errors.Is(err, apperrors.ErrConflict) {
				return err
			}
			// Claimed or finished while we looked; re-read and retry.
			jb, err = s.store.Get(ctx, id)
			if err != nil {
				return err
			}

		case jb.Status == model.StatusRunning:
			return s.manager.CancelRunning(ctx, jb)
		}
	}
}

// QueueStatus returns current occupancy plus the worker pool size.
func (s *Service) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, apperrors.Internal("queue counts", err)
	}
	return &QueueStatus{
		Running:        counts.Running,
		Pending:        counts.Pending,
		WorkerPoolSize: s.caps.RunningCap,
	}, nil
}

// validate checks the request and returns the effective subject name.
func (s *Service) validate(req *SubmitRequest) (string, error) {
	if req.InputPath == "" {
		return "", apperrors.Validation("inputPath", "inputPath is required")
	}
	if !filepath.IsAbs(req.InputPath) {
		return "", apperrors.Validation("inputPath", "inputPath must be absolute")
	}
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return "", apperrors.Validation("inputPath", fmt.Sprintf("input not readable: %v", err))
	}
	if info.IsDir() {
		return "", apperrors.Validation("inputPath", "inputPath must be a file")
	}

	subject := req.Subject
	if subject == "" {
		subject = deriveSubject(req.InputPath)
	}
	if len(subject) > maxSubjectLength {
		return "", apperrors.Validation("subject", fmt.Sprintf("subject exceeds maximum length of %d", maxSubjectLength))
	}
	if !subjectPattern.MatchString(subject) {
		return "", apperrors.Validation("subject", "subject must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	return subject, nil
}

// deriveSubject strips directory and extensions from the input path, so
// "/data/sub-000_T1w.nii.gz" yields "sub-000_T1w".
func deriveSubject(inputPath string) string {
	base := filepath.Base(inputPath)
	for {
		ext := filepath.Ext(base)
		if ext == "" || ext == base {
			return base
		}
		base = base[:len(base)-len(ext)]
	}
}
