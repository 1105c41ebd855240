package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Environment
	Environment string `mapstructure:"ENVIRONMENT"` // "development" or "production"
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DataDir     string `mapstructure:"DATA_DIR"`

	// Storage
	LedgerStore   string `mapstructure:"LEDGER_STORE"`
	WorkflowStore string `mapstructure:"WORKFLOW_STORE"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	// Idempotency cache
	RedisURL              string `mapstructure:"REDIS_URL"`
	IdempotencyTTLMinutes int    `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`

	// Balance events
	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	BalanceExchange string `mapstructure:"BALANCE_EXCHANGE"`

	// Audit index
	ElasticsearchURL         string `mapstructure:"ELASTICSEARCH_URL"`
	ElasticsearchUsername    string `mapstructure:"ELASTICSEARCH_USERNAME"`
	ElasticsearchPassword    string `mapstructure:"ELASTICSEARCH_PASSWORD"`
	ElasticsearchIndexPrefix string `mapstructure:"ELASTICSEARCH_INDEX_PREFIX"`

	// Discord reviewer bot
	DiscordToken   string `mapstructure:"DISCORD_TOKEN"`
	DiscordAppID   string `mapstructure:"DISCORD_APP_ID"`
	DiscordGuildID string `mapstructure:"DISCORD_GUILD_ID"`
	ReviewerRoleID string `mapstructure:"REVIEWER_ROLE_ID"`

	// HTTP API
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	// Catalog and billing
	CatalogPath         string `mapstructure:"CATALOG_PATH"`
	MicroBonusRaw       string `mapstructure:"MICRO_BONUS_POINTS"`
	MaxAccrualSeconds   int64  `mapstructure:"MAX_ACCRUAL_SECONDS"`
	ExpirySweepSchedule string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	InitialPointsRaw    string `mapstructure:"INITIAL_POINTS"`
	InitialWalletRaw    string `mapstructure:"INITIAL_WALLET"`

	MicroBonusPoints decimal.Decimal `mapstructure:"-"`
	InitialPoints    decimal.Decimal `mapstructure:"-"`
	InitialWallet    decimal.Decimal `mapstructure:"-"`
}

var envKeys = []string{
	"ENVIRONMENT", "LOG_LEVEL", "DATA_DIR",
	"LEDGER_STORE", "WORKFLOW_STORE", "SQLITE_PATH", "DATABASE_URL",
	"REDIS_URL", "IDEMPOTENCY_TTL_MINUTES",
	"RABBITMQ_URL", "BALANCE_EXCHANGE",
	"ELASTICSEARCH_URL", "ELASTICSEARCH_USERNAME", "ELASTICSEARCH_PASSWORD", "ELASTICSEARCH_INDEX_PREFIX",
	"DISCORD_TOKEN", "DISCORD_APP_ID", "DISCORD_GUILD_ID", "REVIEWER_ROLE_ID",
	"HTTP_ADDR", "CATALOG_PATH", "MICRO_BONUS_POINTS", "MAX_ACCRUAL_SECONDS",
	"EXPIRY_SWEEP_SCHEDULE", "INITIAL_POINTS", "INITIAL_WALLET",
}

// Load reads the configuration from the environment and an optional .env file
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Only return error if file exists but couldn't be loaded
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATA_DIR", filepath.Join(wd, "data"))
	viper.SetDefault("LEDGER_STORE", StoreSQLite)
	viper.SetDefault("WORKFLOW_STORE", StoreSQLite)
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 60)
	viper.SetDefault("BALANCE_EXCHANGE", "ledger.events")
	viper.SetDefault("ELASTICSEARCH_INDEX_PREFIX", "pointledger")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("MICRO_BONUS_POINTS", "0.01")
	viper.SetDefault("MAX_ACCRUAL_SECONDS", 86400)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("INITIAL_POINTS", "0")
	viper.SetDefault("INITIAL_WALLET", "0")
	viper.AutomaticEnv()

	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.LedgerStore = strings.ToLower(strings.TrimSpace(cfg.LedgerStore))
	cfg.WorkflowStore = strings.ToLower(strings.TrimSpace(cfg.WorkflowStore))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "ledger.db")
	}

	if cfg.MicroBonusPoints, err = parseAmount("MICRO_BONUS_POINTS", cfg.MicroBonusRaw); err != nil {
		return nil, err
	}
	if cfg.InitialPoints, err = parseAmount("INITIAL_POINTS", cfg.InitialPointsRaw); err != nil {
		return nil, err
	}
	if cfg.InitialWallet, err = parseAmount("INITIAL_WALLET", cfg.InitialWalletRaw); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &cfg, nil
}

// validate checks that the selected backends have what they need
func (c *Config) validate() error {
	switch c.LedgerStore {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_STORE=postgres")
		}
	default:
		return fmt.Errorf("LEDGER_STORE must be one of memory, sqlite, postgres (got %q)", c.LedgerStore)
	}
	switch c.WorkflowStore {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("WORKFLOW_STORE must be one of memory, sqlite (got %q)", c.WorkflowStore)
	}
	if c.MaxAccrualSeconds <= 0 {
		return fmt.Errorf("MAX_ACCRUAL_SECONDS must be positive")
	}
	if c.IdempotencyTTLMinutes <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_MINUTES must be positive")
	}
	if c.InitialPoints.IsNegative() || c.InitialWallet.IsNegative() {
		return fmt.Errorf("initial balances must not be negative")
	}
	if c.MicroBonusPoints.IsNegative() {
		return fmt.Errorf("MICRO_BONUS_POINTS must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DiscordEnabled reports whether enough is configured to start the reviewer bot
func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordAppID != ""
}

// IdempotencyTTL returns the cache lifetime for replayed entries
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

func parseAmount(key, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s is not a valid amount: %w", key, err)
	}
	return d, nil
}
