// Package service contains the business logic of the job engine: quota
// admission, job orchestration, executor loops, and background cleanup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
	"github.com/sublead/sublead-api/internal/observability/metrics"
	"github.com/sublead/sublead-api/internal/observability/statsd"
)

// QuotaServiceOptions groups dependencies for QuotaService.
type QuotaServiceOptions struct {
	Repo    core.QuotaRepository // Required: quota repository
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// QuotaService gates job admission on the per-owner quota ledger.
//
// The ledger is fail-closed: if the backing store cannot answer, admission is
// rejected with an unavailability error rather than silently allowed.
type QuotaService struct {
	repo    core.QuotaRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewQuotaService constructs a new QuotaService.
func NewQuotaService(opts QuotaServiceOptions) (*QuotaService, error) {
	if opts.Repo == nil {
		return nil, errors.New("QuotaRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "quota_service")
	}

	return &QuotaService{
		repo:    opts.Repo,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewQuotaService constructs a new QuotaService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewQuotaService(opts QuotaServiceOptions) *QuotaService {
	svc, err := NewQuotaService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QuotaService: %v", err))
	}
	return svc
}

// Reserve performs the atomic check-and-reserve for one job admission.
// A rejected reservation is a normal decision, not an error; a ledger failure
// is an unavailability error and the caller must not admit the job.
func (s *QuotaService) Reserve(
	ctx context.Context,
	ownerID string,
	tier model.Tier,
) (*model.QuotaDecision, error) {
	decision, err := s.repo.CheckAndReserve(ctx, ownerID, tier)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "quota ledger unavailable", "owner_id", ownerID, "error", err)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "quota ledger unavailable")
	}

	metrics.EmitQuotaDecision(s.metrics, string(tier), decision.Allowed)

	if !decision.Allowed && s.logger != nil {
		s.logger.InfoContext(ctx, "quota reservation rejected",
			"owner_id", ownerID,
			"tier", tier,
			"used", decision.Used,
			"limit", decision.Limit,
		)
	}

	return decision, nil
}

// Get returns the current quota record for an owner.
func (s *QuotaService) Get(ctx context.Context, ownerID string) (*model.QuotaRecord, error) {
	rec, err := s.repo.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return rec, nil
}

// Reset starts a fresh quota period for an owner. Admin/billing-cycle only.
func (s *QuotaService) Reset(ctx context.Context, ownerID string) error {
	if err := s.repo.Reset(ctx, ownerID); err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "quota reset", "owner_id", ownerID)
	}
	return nil
}
