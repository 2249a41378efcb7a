// Package postgres implements the job store on PostgreSQL. Every mutation
// is a single guarded UPDATE, so the database enforces the same
// compare-and-update semantics the in-memory backend provides with a mutex.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/model"
	"github.com/phindagijimana/neuroinsight-local-sub000/internal/store"
	"github.com/phindagijimana/neuroinsight-local-sub000/pkg/backoff"
)

//go:embed migrations/*.sql
var migrations embed.FS

const connectAttempts = 5

// Store is a PostgreSQL-backed job store.
type Store struct {
	db *sql.DB
}

// Open connects to the database, retrying with exponential backoff while
// the server comes up, and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(backoff.Exponential(attempt)):
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const jobColumns = `id, status, subject, input_path, created_at, started_at, completed_at,
	progress, current_step, error_message, execution_handle, result_location`

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var (
		job                    model.Job
		startedAt, completedAt sql.NullTime
		step, errMsg           sql.NullString
		handle, result         sql.NullString
	)
	err := row.Scan(&job.ID, &job.Status, &job.Subject, &job.InputPath,
		&job.CreatedAt, &startedAt, &completedAt,
		&job.Progress, &step, &errMsg, &handle, &result)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	job.CurrentStep = step.String
	job.ErrorMessage = errMsg.String
	job.ExecutionHandle = handle.String
	job.ResultLocation = result.String
	return &job, nil
}

func (s *Store) Create(ctx context.Context, job *model.Job) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, subject, input_path, created_at, progress)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Status, job.Subject, job.InputPath, job.CreatedAt, job.Progress)
	if err != nil {
		return apperrors.Internal("postgres.create", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("postgres.create", err)
	}
	if affected == 0 {
		return apperrors.Conflict("job", job.ID, "job already exists")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, apperrors.Internal("postgres.get", err)
	}
	return job, nil
}

func (s *Store) List(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id`)
}

func (s *Store) ListByStatus(ctx context.Context, status model.Status) ([]model.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at, id`, status)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("postgres.list", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Internal("postgres.scan", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("postgres.list", err)
	}
	return jobs, nil
}

func (s *Store) Counts(ctx context.Context) (model.QueueCounts, error) {
	var counts model.QueueCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FILTER (WHERE status = 'running'),
		       count(*) FILTER (WHERE status = 'pending')
		FROM jobs`).Scan(&counts.Running, &counts.Pending)
	if err != nil {
		return counts, apperrors.Internal("postgres.counts", err)
	}
	return counts, nil
}

func (s *Store) NextPending(ctx context.Context) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT 1`)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("postgres.nextPending", err)
	}
	return job, nil
}

func (s *Store) Transition(ctx context.Context, id string, expect, next model.Status, upd store.TransitionUpdate) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			status           = $3,
			started_at       = COALESCE($4, started_at),
			completed_at     = COALESCE($5, completed_at),
			progress         = COALESCE($6, progress),
			current_step     = COALESCE($7, current_step),
			error_message    = COALESCE($8, error_message),
			result_location  = COALESCE($9, result_location),
			execution_handle = CASE WHEN $10 THEN NULL ELSE COALESCE($11, execution_handle) END
		WHERE id = $1 AND status = $2
		RETURNING `+jobColumns,
		id, expect, next,
		upd.StartedAt, upd.CompletedAt, upd.Progress, upd.CurrentStep,
		upd.ErrorMessage, upd.ResultLocation, upd.ClearHandle, upd.SetHandle)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing job from a lost compare-and-update race.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, apperrors.ErrNotFound) {
			return nil, getErr
		}
		return nil, apperrors.Conflict("job", id,
			"job is no longer "+string(expect))
	}
	if err != nil {
		return nil, apperrors.Internal("postgres.transition", err)
	}
	return job, nil
}

func (s *Store) SetExecutionHandle(ctx context.Context, id, handle string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET execution_handle = $2
		WHERE id = $1 AND status = 'running'`, id, handle)
	if err != nil {
		return apperrors.Internal("postgres.setHandle", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("postgres.setHandle", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, apperrors.ErrNotFound) {
			return getErr
		}
		return apperrors.Conflict("job", id, "job is not running")
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	// Stale or post-terminal writes match no row and are dropped silently.
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = $2, current_step = $3
		WHERE id = $1 AND status = 'running' AND progress <= $2`,
		id, progress, step)
	if err != nil {
		return apperrors.Internal("postgres.updateProgress", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
