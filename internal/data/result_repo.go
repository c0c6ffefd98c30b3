package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sublead/sublead-api/internal/domain/model"
)

// ResultRepo provides append-only persistence of job result items.
type ResultRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewResultRepo creates a new ResultRepo instance.
func NewResultRepo(db *sql.DB, cfg RepoConfig) *ResultRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ResultRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// Append persists one result item with the executor-assigned sequence.
// The (job_id, sequence) unique constraint backs the single-writer invariant:
// a duplicate sequence means two writers raced, which is a programming error.
func (r *ResultRepo) Append(ctx context.Context, item *model.ResultItem) error {
	if item == nil {
		return errors.New("result item is required")
	}
	if err := item.Validate(); err != nil {
		return err
	}

	payload, err := item.MarshalPayload()
	if err != nil {
		return err
	}

	currentTime := r.timeProvider.Now().UTC()
	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO job_results (job_id, sequence, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, item.JobID, item.Sequence, item.Kind, payload, currentTime).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("duplicate sequence %d for job %s: %w", item.Sequence, item.JobID, err)
		}
		if isForeignKeyViolation(err) {
			return ErrJobNotFound
		}
		return fmt.Errorf("append result: %w", err)
	}
	return nil
}

// ReadAll returns a job's results in sequence order. Safe to call mid-run;
// the caller sees a prefix-consistent view of whatever has been written.
func (r *ResultRepo) ReadAll(ctx context.Context, jobID string) ([]*model.ResultItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, job_id, sequence, kind, payload, created_at
		FROM job_results
		WHERE job_id = $1
		ORDER BY sequence ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	items := make([]*model.ResultItem, 0)
	for rows.Next() {
		item := &model.ResultItem{}
		var payload []byte
		if scanErr := rows.Scan(
			&item.ID,
			&item.JobID,
			&item.Sequence,
			&item.Kind,
			&payload,
			&item.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan result: %w", scanErr)
		}
		if decodeErr := item.UnmarshalPayload(payload); decodeErr != nil {
			return nil, decodeErr
		}
		items = append(items, item)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("read results: %w", rowsErr)
	}
	return items, nil
}

// CountByJob returns the number of results written for a job so far.
func (r *ResultRepo) CountByJob(ctx context.Context, jobID string) (int, error) {
	var count int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM job_results WHERE job_id = $1`, jobID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return count, nil
}
