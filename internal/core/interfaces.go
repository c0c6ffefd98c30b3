// Package core defines the ports between the service layer and its
// collaborators (repositories, search source, AI service, session store).
// Service implementations depend on these interfaces, not concrete adapters.
package core

import (
	"context"
	"time"

	"github.com/sublead/sublead-api/internal/domain/auth"
	"github.com/sublead/sublead-api/internal/domain/model"
)

// CreateJobParams groups parameters for JobRepository.Create.
type CreateJobParams struct {
	OwnerID     string
	Request     *model.SubmitRequest
	TargetCount int
	Message     string
}

// UpdateProgressParams groups parameters for JobRepository.UpdateProgress.
type UpdateProgressParams struct {
	JobID    string
	Progress int
	Message  string
}

// JobRepository defines the durable job record operations.
//
// UpdateProgress and Transition are rejected once a record is terminal; the
// executor that owns a job is the only component that calls either.
type JobRepository interface {
	Create(ctx context.Context, params CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// GetByOwner treats a job owned by another user as not found rather than
	// forbidden, to avoid leaking existence across tenants.
	GetByOwner(ctx context.Context, id, ownerID string) (*model.Job, error)
	GetRequest(ctx context.Context, id string) (*model.SubmitRequest, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error)
	UpdateProgress(ctx context.Context, params UpdateProgressParams) error
	// Transition applies a forward-only status change. It returns false without
	// error when the record is already terminal (a racing terminal write won).
	Transition(ctx context.Context, id string, next model.JobStatus) (bool, error)
	Delete(ctx context.Context, id string) error
}

// JobReaperRepository defines the cleanup operations used by the reaper service.
type JobReaperRepository interface {
	// FailStaleRunning marks running jobs whose executor stopped heartbeating
	// (updated_at older than staleAfter) as failed. Returns rows affected.
	FailStaleRunning(ctx context.Context, staleAfter time.Duration, batchSize int) (int64, error)
	// DeleteOldTerminal deletes terminal jobs older than maxAge; results cascade.
	DeleteOldTerminal(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// ResultRepository defines append-only persistence of job output.
// Items are written with an executor-assigned sequence and never mutated.
type ResultRepository interface {
	Append(ctx context.Context, item *model.ResultItem) error
	// ReadAll returns whatever prefix has been written so far, in sequence
	// order; it is safe to call mid-run.
	ReadAll(ctx context.Context, jobID string) ([]*model.ResultItem, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
}

// QuotaRepository performs the atomic check-and-reserve against the quota store.
type QuotaRepository interface {
	// CheckAndReserve succeeds only if used < limit, incrementing used in the
	// same operation. Unlimited tiers always succeed. Store unavailability is
	// an error, never an implicit allow.
	CheckAndReserve(ctx context.Context, ownerID string, tier model.Tier) (*model.QuotaDecision, error)
	Get(ctx context.Context, ownerID string) (*model.QuotaRecord, error)
	// Reset starts a fresh period for an owner (admin/billing-cycle operation).
	Reset(ctx context.Context, ownerID string) error
}

// SearchQuery addresses one subreddit/keyword combination at the search source.
type SearchQuery struct {
	Subreddit string
	Keyword   string
	Limit     int
}

// SearchProvider is the discussion-platform search collaborator, consumed as a
// black-box source of candidate items.
type SearchProvider interface {
	Query(ctx context.Context, q SearchQuery) ([]model.Candidate, error)
}

// Scorer is the AI scoring collaborator.
type Scorer interface {
	Score(ctx context.Context, c model.Candidate, product model.ProductContext) (*model.ScoreResult, error)
}

// Generator is the AI content-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, product model.ProductContext, subreddit string) (*model.ContentPayload, error)
}

// SessionStore resolves opaque session tokens to authenticated users.
type SessionStore interface {
	Get(ctx context.Context, id string) (auth.Session, error)
	Save(ctx context.Context, sess auth.Session) error
	Delete(ctx context.Context, id string) error
}

// ProgressSnapshot is the cached pollable view of a job, including the owner so
// cache reads can enforce tenancy without a repository round trip.
type ProgressSnapshot struct {
	OwnerID  string          `json:"owner_id"`
	Status   model.JobStatus `json:"status"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
}

// ProgressCache mirrors live job progress for cheap high-frequency polls.
// It is best effort: cache failures must never affect job execution.
type ProgressCache interface {
	SetProgress(ctx context.Context, jobID string, snap ProgressSnapshot) error
	GetProgress(ctx context.Context, jobID string) (*ProgressSnapshot, error)
	DeleteProgress(ctx context.Context, jobID string) error
}
