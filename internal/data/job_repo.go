package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/domain/model"
)

// RepoConfig holds configuration options for the data-layer repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job records.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  owner_id,
  kind,
  status,
  progress,
  message,
  target_count,
  created_at,
  updated_at,
  completed_at
`

// Create inserts a new pending job record with its submission spec.
func (r *JobRepo) Create(ctx context.Context, params core.CreateJobParams) (*model.Job, error) {
	if params.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	if params.Request == nil {
		return nil, errors.New("submit request is required")
	}
	if err := params.Request.Validate(); err != nil {
		return nil, err
	}

	spec, err := json.Marshal(params.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal job spec: %w", err)
	}

	currentTime := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (owner_id, kind, status, progress, message, target_count, spec, created_at, updated_at)
		VALUES ($1, $2, 'pending', 0, $3, $4, $5, $6, $6)
		RETURNING `+jobColumns,
		params.OwnerID, params.Request.Kind, params.Message, params.TargetCount, spec, currentTime,
	)

	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByOwner retrieves a job scoped to its owner. A job owned by another user
// is reported as not found, not forbidden.
func (r *JobRepo) GetByOwner(ctx context.Context, id, ownerID string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by owner: %w", err)
	}
	return job, nil
}

// GetRequest retrieves the stored submission spec for a job.
func (r *JobRepo) GetRequest(ctx context.Context, id string) (*model.SubmitRequest, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `SELECT spec FROM jobs WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job spec: %w", err)
	}

	var req model.SubmitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode job spec: %w", err)
	}
	return &req, nil
}

// ListByOwner returns an owner's jobs, newest first.
func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs by owner: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list jobs by owner: %w", rowsErr)
	}
	return jobs, nil
}

// UpdateProgress advances a running job's progress and activity message.
// Progress never decreases (GREATEST guard), and writes against a terminal
// record are rejected with ErrJobTerminal.
func (r *JobRepo) UpdateProgress(ctx context.Context, params core.UpdateProgressParams) error {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2),
		    message = $3,
		    updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'running')
	`, params.JobID, clampProgress(params.Progress), params.Message, currentTime)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Distinguish missing from terminal for the caller's log line.
	job, getErr := r.GetByID(ctx, params.JobID)
	if getErr != nil {
		return getErr
	}
	if job.Status.Terminal() {
		return ErrJobTerminal
	}
	return fmt.Errorf("update job progress: no rows updated for %s", params.JobID)
}

// transitionPredecessors maps a target status to the statuses it may be reached from.
func transitionPredecessors(next model.JobStatus) []string {
	switch next {
	case model.JobStatusRunning:
		return []string{string(model.JobStatusPending)}
	case model.JobStatusCompleted, model.JobStatusFailed:
		return []string{string(model.JobStatusRunning)}
	case model.JobStatusAborted:
		return []string{string(model.JobStatusPending), string(model.JobStatusRunning)}
	default:
		return nil
	}
}

// Transition applies a forward-only status change. Completed jobs get their
// progress forced to 100; terminal transitions stamp completed_at. Returns
// false without error when the record is already terminal, so a racing
// completion and cancellation resolve to exactly one winner.
func (r *JobRepo) Transition(ctx context.Context, id string, next model.JobStatus) (bool, error) {
	preds := transitionPredecessors(next)
	if preds == nil {
		return false, ErrInvalidTransition
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'aborted') THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND status = ANY($3)
	`, id, next, preds, currentTime)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	job, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return false, getErr
	}
	if job.Status.Terminal() {
		// The other racer already wrote a terminal status; this write is a no-op.
		if r.logger != nil {
			r.logger.DebugContext(ctx, "transition dropped, job already terminal",
				"job_id", id,
				"have", job.Status,
				"want", next,
			)
		}
		return false, nil
	}
	return false, ErrInvalidTransition
}

// Delete removes a job record; its results cascade.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FailStaleRunning marks running jobs whose executor stopped updating them as
// failed. SKIP LOCKED keeps concurrent reaper instances from contending.
func (r *JobRepo) FailStaleRunning(ctx context.Context, staleAfter time.Duration, batchSize int) (int64, error) {
	currentTime := r.timeProvider.Now().UTC()
	cutoff := currentTime.Add(-staleAfter)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    message = 'job abandoned by its worker',
		    completed_at = $1,
		    updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'running' AND updated_at < $2
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
	`, currentTime, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("fail stale running jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale rows affected: %w", err)
	}
	return rowsAffected, nil
}

// DeleteOldTerminal deletes terminal jobs past the retention window; results cascade.
func (r *JobRepo) DeleteOldTerminal(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-maxAge)

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('completed', 'failed', 'aborted') AND completed_at < $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old terminal jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old terminal rows affected: %w", err)
	}
	return rowsAffected, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var completedAt sql.NullTime
	if err := scanner.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Status,
		&job.Progress,
		&job.Message,
		&job.TargetCount,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return job, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
