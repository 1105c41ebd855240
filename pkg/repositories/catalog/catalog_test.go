package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndSeedFromYAML(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, LoadAndSeed(ctx, repo, filepath.Join("testdata", "catalog.yaml")))

	settings, err := repo.GetExchangeSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.True(t, decimal.NewFromInt(500).Equal(settings.MinimumPoints))

	items, err := repo.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "gift-card-5", items[0].ID)
	assert.True(t, decimal.RequireFromString("5").Equal(items[0].ValueAmount))
	assert.False(t, items[1].IsActive)
	assert.True(t, decimal.RequireFromString("9.5").Equal(items[1].ValueAmount))

	plan, err := repo.GetPlan(ctx, "monthly")
	require.NoError(t, err)
	assert.Equal(t, entities.PlanSubscription, plan.Type)
	assert.Equal(t, 1, plan.DurationMonths)
	require.NotNil(t, plan.PriceCurrency)
	assert.Equal(t, "4.99", plan.PriceCurrency.String())
	assert.Equal(t, "0.01", plan.PointsPerMinute.String())

	boost, err := repo.GetPlan(ctx, "boost")
	require.NoError(t, err)
	assert.Nil(t, boost.PriceCurrency)
}

func TestLoadFileRejectsBadAmount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"items":[{"id":"x","points_required":"lots"}]}`), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestPutValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	assert.ErrorIs(t, repo.PutItem(ctx, &entities.WithdrawalItem{ID: "x"}), ErrInvalidEntry)
	assert.ErrorIs(t, repo.PutPlan(ctx, &entities.PremiumPlan{ID: "p", Type: "lifetime"}), ErrInvalidEntry)
	assert.ErrorIs(t, repo.PutPlan(ctx, &entities.PremiumPlan{ID: "p", Type: entities.PlanSubscription}), ErrInvalidEntry)
	assert.ErrorIs(t, repo.PutExchangeSettings(ctx, &entities.ExchangeSettings{MinimumPoints: decimal.NewFromInt(-1)}), ErrInvalidEntry)

	_, err := repo.GetItem(ctx, "x")
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = repo.GetPlan(ctx, "p")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.PutItem(ctx, &entities.WithdrawalItem{ID: "x", PointsRequired: decimal.NewFromInt(10), IsActive: true}))

	item, err := repo.GetItem(ctx, "x")
	require.NoError(t, err)
	item.IsActive = false

	again, err := repo.GetItem(ctx, "x")
	require.NoError(t, err)
	assert.True(t, again.IsActive)
}
