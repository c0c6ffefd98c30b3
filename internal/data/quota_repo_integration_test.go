package data

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublead/sublead-api/internal/domain/model"
	"github.com/sublead/sublead-api/internal/testutil"
)

func TestQuotaRepo_CheckAndReserve_Trial(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewQuotaRepo(db, QuotaRepoConfig{TrialLimit: 2})
		ctx := context.Background()

		first, err := repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
		require.NoError(t, err)
		assert.True(t, first.Allowed)
		assert.Equal(t, 1, first.Used)
		assert.Equal(t, 2, first.Limit)

		second, err := repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
		require.NoError(t, err)
		assert.True(t, second.Allowed)
		assert.Equal(t, 2, second.Used)

		third, err := repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
		require.NoError(t, err)
		assert.False(t, third.Allowed)
		assert.Equal(t, 2, third.Used, "rejection must not consume")
		assert.Equal(t, 2, third.Limit)
	})
}

func TestQuotaRepo_CheckAndReserve_ProNeverBlocks(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewQuotaRepo(db, QuotaRepoConfig{TrialLimit: 1})
		ctx := context.Background()

		for i := 1; i <= 5; i++ {
			decision, err := repo.CheckAndReserve(ctx, "owner-pro", model.TierPro)
			require.NoError(t, err)
			assert.True(t, decision.Allowed)
			assert.Equal(t, i, decision.Used)
			assert.Equal(t, model.UnlimitedQuota, decision.Limit)
		}
	})
}

func TestQuotaRepo_CheckAndReserve_ExpiredAlwaysRejected(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewQuotaRepo(db, QuotaRepoConfig{TrialLimit: 5})
		ctx := context.Background()

		decision, err := repo.CheckAndReserve(ctx, "owner-lapsed", model.TierExpired)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, 0, decision.Limit)
	})
}

func TestQuotaRepo_CheckAndReserve_TierChangeReseedsLimit(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewQuotaRepo(db, QuotaRepoConfig{TrialLimit: 1})
		ctx := context.Background()

		decision, err := repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
		require.NoError(t, err)
		require.True(t, decision.Allowed)

		decision, err = repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
		require.NoError(t, err)
		require.False(t, decision.Allowed)

		// The same owner upgraded to pro stops being limited.
		decision, err = repo.CheckAndReserve(ctx, "owner-1", model.TierPro)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, model.UnlimitedQuota, decision.Limit)
	})
}

// Concurrent reservations against a small limit must admit exactly limit jobs.
func TestQuotaRepo_CheckAndReserve_Concurrent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		const limit = 3
		repo := NewQuotaRepo(db, QuotaRepoConfig{TrialLimit: limit})
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		var admitted, rejected int

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				decision, err := repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
				if err != nil {
					t.Errorf("reserve failed: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if decision.Allowed {
					admitted++
				} else {
					rejected++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, limit, admitted)
		assert.Equal(t, 10-limit, rejected)

		rec, err := repo.Get(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, limit, rec.Used)
	})
}

func TestQuotaRepo_GetAndReset(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewQuotaRepo(db, QuotaRepoConfig{TrialLimit: 5})
		ctx := context.Background()

		_, err := repo.Get(ctx, "owner-none")
		assert.ErrorIs(t, err, ErrQuotaNotFound)
		assert.ErrorIs(t, repo.Reset(ctx, "owner-none"), ErrQuotaNotFound)

		_, err = repo.CheckAndReserve(ctx, "owner-1", model.TierTrial)
		require.NoError(t, err)

		rec, err := repo.Get(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Used)
		assert.Equal(t, model.TierTrial, rec.Tier)

		require.NoError(t, repo.Reset(ctx, "owner-1"))
		rec, err = repo.Get(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Used)
	})
}
