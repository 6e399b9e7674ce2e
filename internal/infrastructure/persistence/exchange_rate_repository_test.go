package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/channelsync/internal/domain/pricing"
)

func TestGormExchangeRateRepository(t *testing.T) {
	repo := NewGormExchangeRateRepository(setupTestDB(t))
	ctx := context.Background()

	pair, err := pricing.NewCurrencyPair("USD", "CNY")
	require.NoError(t, err)
	other, err := pricing.NewCurrencyPair("EUR", "CNY")
	require.NoError(t, err)

	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindLatest(ctx, pair)
		assert.ErrorIs(t, err, pricing.ErrRateNotFound)
	})

	apiRate, err := pricing.NewExchangeRate(pair, decimal.RequireFromString("7.1"), pricing.RateSourceAPI, "open-er-api", time.Hour)
	require.NoError(t, err)
	apiRate.CreatedAt = apiRate.CreatedAt.Add(-time.Minute)
	require.NoError(t, repo.Save(ctx, apiRate))

	eurRate, err := pricing.NewExchangeRate(other, decimal.RequireFromString("7.8"), pricing.RateSourceAPI, "open-er-api", time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, eurRate))

	t.Run("latest by source", func(t *testing.T) {
		found, err := repo.FindLatestBySource(ctx, pair, pricing.RateSourceAPI)
		require.NoError(t, err)
		assert.True(t, found.Rate.Equal(decimal.RequireFromString("7.1")))
		assert.Equal(t, "open-er-api", found.Provider)

		_, err = repo.FindLatestBySource(ctx, pair, pricing.RateSourceManual)
		assert.ErrorIs(t, err, pricing.ErrRateNotFound)
	})

	t.Run("replace manual closes the previous override", func(t *testing.T) {
		first, err := pricing.NewManualRate(pair, decimal.RequireFromString("7.0"), 24*time.Hour, "promo")
		require.NoError(t, err)
		first.ValidFrom = first.ValidFrom.Add(-time.Hour)
		first.CreatedAt = first.ValidFrom
		require.NoError(t, repo.ReplaceManual(ctx, first))

		second, err := pricing.NewManualRate(pair, decimal.RequireFromString("7.2"), 24*time.Hour, "correction")
		require.NoError(t, err)
		require.NoError(t, repo.ReplaceManual(ctx, second))

		valid, err := repo.FindValidManual(ctx, pair, second.ValidFrom.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, second.ID, valid.ID)
		assert.Equal(t, "correction", valid.Reason)

		// the first override is still valid before the second began
		earlier, err := repo.FindValidManual(ctx, pair, first.ValidFrom.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, first.ID, earlier.ID)

		latest, err := repo.FindLatest(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
	})

	t.Run("invalidate manual", func(t *testing.T) {
		at := time.Now().Add(time.Minute)
		n, err := repo.InvalidateManual(ctx, pair, at)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repo.FindValidManual(ctx, pair, at.Add(time.Second))
		assert.ErrorIs(t, err, pricing.ErrRateNotFound)

		n, err = repo.InvalidateManual(ctx, other, at)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
