package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fadedpez/pointledger/internal/config"
	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/db"
	ledgerRepo "github.com/fadedpez/pointledger/pkg/repositories/ledger"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores are the persistence backends selected by configuration
type Stores struct {
	Ledger   ledgerRepo.Store
	Workflow workflow.Repository

	sqlite *sql.DB
	pool   *pgxpool.Pool
}

// OpenStores opens the ledger and workflow backends and migrates their schema
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	log := logging.Default.WithField("component", "stores")
	s := &Stores{}

	needSQLite := cfg.LedgerStore == config.StoreSQLite || cfg.WorkflowStore == config.StoreSQLite
	if needSQLite {
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		s.sqlite = conn
		log.Info("Opened SQLite database at %s", cfg.SQLitePath)
	}

	switch cfg.LedgerStore {
	case config.StoreMemory:
		s.Ledger = ledgerRepo.NewMemoryStore()
		log.Warn("Using in-memory ledger store (data will be lost on restart)")
	case config.StoreSQLite:
		s.Ledger = ledgerRepo.NewSQLiteStore(s.sqlite)
	case config.StorePostgres:
		pool, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		s.pool = pool
		s.Ledger = ledgerRepo.NewPostgresStore(pool)
		log.Info("Using PostgreSQL ledger store")
	default:
		s.Close()
		return nil, fmt.Errorf("unknown ledger store %q", cfg.LedgerStore)
	}

	switch cfg.WorkflowStore {
	case config.StoreMemory:
		s.Workflow = workflow.NewMemoryRepository()
		log.Warn("Using in-memory workflow store (requests will be lost on restart)")
	case config.StoreSQLite:
		s.Workflow = workflow.NewSQLiteRepository(s.sqlite)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown workflow store %q", cfg.WorkflowStore)
	}

	return s, nil
}

// Close releases every open connection
func (s *Stores) Close() error {
	var firstErr error
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			firstErr = err
		}
	}
	return firstErr
}
