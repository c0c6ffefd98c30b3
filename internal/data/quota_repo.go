package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sublead/sublead-api/internal/data/pgxutil"
	"github.com/sublead/sublead-api/internal/domain/model"
)

// QuotaRepoConfig holds configuration for the quota repository.
type QuotaRepoConfig struct {
	// TrialLimit is the job limit seeded for new trial-tier rows.
	TrialLimit   int
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// QuotaRepo provides the atomic check-and-reserve against the quotas table.
type QuotaRepo struct {
	DB           *sql.DB
	trialLimit   int
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewQuotaRepo creates a new QuotaRepo instance.
func NewQuotaRepo(db *sql.DB, cfg QuotaRepoConfig) *QuotaRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	limit := cfg.TrialLimit
	if limit <= 0 {
		limit = 5
	}
	return &QuotaRepo{
		DB:           db,
		trialLimit:   limit,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// limitForTier returns the seed limit for a tier's quota row.
func (r *QuotaRepo) limitForTier(tier model.Tier) int {
	switch tier {
	case model.TierPro:
		return model.UnlimitedQuota
	case model.TierExpired:
		return 0
	case model.TierTrial:
		return r.trialLimit
	default:
		return 0
	}
}

// CheckAndReserve performs the atomic compare-and-increment. The guarded
// UPDATE is the only mutation path: there is never a separate read step a
// concurrent submission could interleave with. Unlimited tiers always succeed
// and increment used for telemetry only.
func (r *QuotaRepo) CheckAndReserve(
	ctx context.Context,
	ownerID string,
	tier model.Tier,
) (*model.QuotaDecision, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier: %s", tier)
	}

	currentTime := r.timeProvider.Now().UTC()
	var decision *model.QuotaDecision

	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			// Seed the row on first contact. The tier/limit follow the caller's
			// billing state so a trial upgraded to pro stops being limited.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO quotas (owner_id, tier, used, quota_limit, period_start, updated_at)
				VALUES ($1, $2, 0, $3, $4, $4)
				ON CONFLICT (owner_id) DO UPDATE
				SET tier = EXCLUDED.tier,
				    quota_limit = EXCLUDED.quota_limit,
				    updated_at = EXCLUDED.updated_at
				WHERE quotas.tier IS DISTINCT FROM EXCLUDED.tier
			`, ownerID, tier, r.limitForTier(tier), currentTime); err != nil {
				return fmt.Errorf("seed quota row: %w", err)
			}

			if tier.Unlimited() {
				var used int
				if err := tx.QueryRowContext(ctx, `
					UPDATE quotas
					SET used = used + 1, updated_at = $2
					WHERE owner_id = $1
					RETURNING used
				`, ownerID, currentTime).Scan(&used); err != nil {
					return fmt.Errorf("record unlimited usage: %w", err)
				}
				decision = &model.QuotaDecision{Allowed: true, Used: used, Limit: model.UnlimitedQuota}
				return nil
			}

			var used, limit int
			err := tx.QueryRowContext(ctx, `
				UPDATE quotas
				SET used = used + 1, updated_at = $2
				WHERE owner_id = $1 AND used < quota_limit
				RETURNING used, quota_limit
			`, ownerID, currentTime).Scan(&used, &limit)
			if err == nil {
				decision = &model.QuotaDecision{Allowed: true, Used: used, Limit: limit}
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("reserve quota: %w", err)
			}

			// Rejected: report current consumption for the upgrade prompt.
			if err := tx.QueryRowContext(ctx, `
				SELECT used, quota_limit FROM quotas WHERE owner_id = $1
			`, ownerID).Scan(&used, &limit); err != nil {
				return fmt.Errorf("read quota after rejection: %w", err)
			}
			decision = &model.QuotaDecision{Allowed: false, Used: used, Limit: limit}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// Get returns the quota record for an owner.
func (r *QuotaRepo) Get(ctx context.Context, ownerID string) (*model.QuotaRecord, error) {
	rec := &model.QuotaRecord{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT owner_id, tier, used, quota_limit, period_start, updated_at
		FROM quotas
		WHERE owner_id = $1
	`, ownerID).Scan(&rec.OwnerID, &rec.Tier, &rec.Used, &rec.Limit, &rec.PeriodStart, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuotaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return rec, nil
}

// Reset zeroes an owner's consumption and starts a fresh period.
func (r *QuotaRepo) Reset(ctx context.Context, ownerID string) error {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE quotas
		SET used = 0, period_start = $2, updated_at = $2
		WHERE owner_id = $1
	`, ownerID, currentTime)
	if err != nil {
		return fmt.Errorf("reset quota: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset quota rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrQuotaNotFound
	}
	return nil
}
