package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(ref string) *entities.LedgerEntry {
	return &entities.LedgerEntry{
		ID:           uuid.New().String(),
		UserID:       "u1",
		Ledger:       entities.LedgerWallet,
		Amount:       decimal.RequireFromString("12.34"),
		Kind:         entities.KindDeposit,
		ReferenceID:  ref,
		CreatedAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		BalanceAfter: decimal.RequireFromString("12.34"),
	}
}

func TestMemoryCacheHitAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Minute)
	cache.now = func() time.Time { return now }

	entry := testEntry("dep-1")
	require.NoError(t, cache.Put(ctx, entry))

	got, ok, err := cache.Get(ctx, entities.KindDeposit, "dep-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.ID, got.ID)

	_, ok, err = cache.Get(ctx, entities.KindRefund, "dep-1")
	require.NoError(t, err)
	assert.False(t, ok, "kind is part of the key")

	now = now.Add(time.Minute)
	_, ok, err = cache.Get(ctx, entities.KindDeposit, "dep-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCachePurge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Minute)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Put(ctx, testEntry("old")))
	now = now.Add(45 * time.Second)
	require.NoError(t, cache.Put(ctx, testEntry("new")))

	now = now.Add(30 * time.Second)
	removed, err := cache.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.Len())

	_, ok, err := cache.Get(ctx, entities.KindDeposit, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilRedisCacheIsNoop(t *testing.T) {
	var cache *RedisCache
	_, ok, err := cache.Get(context.Background(), entities.KindDeposit, "x")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, cache.Put(context.Background(), testEntry("x")))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	url := os.Getenv("LEDGER_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_REDIS_URL not set")
	}
	ctx := context.Background()

	client, err := Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	cache := NewRedisCache(client, "pointledger:test:"+uuid.NewString(), time.Minute)
	entry := testEntry("dep-" + uuid.NewString())
	require.NoError(t, cache.Put(ctx, entry))

	got, ok, err := cache.Get(ctx, entry.Kind, entry.ReferenceID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.ID, got.ID)
	assert.True(t, entry.Amount.Equal(got.Amount))
}
