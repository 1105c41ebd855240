package config

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := setupEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, StoreSQLite, cfg.LedgerStore)
	assert.Equal(t, filepath.Join(dir, "data", "ledger.db"), cfg.SQLitePath)
	assert.True(t, decimal.RequireFromString("0.01").Equal(cfg.MicroBonusPoints))
	assert.Equal(t, int64(86400), cfg.MaxAccrualSeconds)
	assert.Equal(t, "ledger.events", cfg.BalanceExchange)
	assert.False(t, cfg.DiscordEnabled())
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoad_Overrides(t *testing.T) {
	setupEnv(t)
	t.Setenv("LEDGER_STORE", "Memory")
	t.Setenv("MICRO_BONUS_POINTS", "2.5")
	t.Setenv("INITIAL_POINTS", "100")
	t.Setenv("IDEMPOTENCY_TTL_MINUTES", "5")
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DISCORD_APP_ID", "app")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.LedgerStore)
	assert.Equal(t, "2.5", cfg.MicroBonusPoints.String())
	assert.Equal(t, "100", cfg.InitialPoints.String())
	assert.Equal(t, "5m0s", cfg.IdempotencyTTL().String())
	assert.True(t, cfg.DiscordEnabled())
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	setupEnv(t)
	t.Setenv("LEDGER_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_RejectsBadValues(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown ledger store", "LEDGER_STORE", "mongo"},
		{"unknown workflow store", "WORKFLOW_STORE", "postgres"},
		{"bad bonus", "MICRO_BONUS_POINTS", "lots"},
		{"negative initial", "INITIAL_WALLET", "-1"},
		{"zero accrual bound", "MAX_ACCRUAL_SECONDS", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setupEnv(t)
			t.Setenv(tc.key, tc.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
