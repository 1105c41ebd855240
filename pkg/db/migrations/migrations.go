package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
)

//go:embed sqlite/*.sql postgres/*.sql
var embedded embed.FS

// Dialect selects SQL flavour differences in the bookkeeping table
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrator handles database migrations
type Migrator struct {
	db      *sql.DB
	dialect Dialect
	source  fs.FS
}

// NewMigrator creates a migrator that reads *.sql files from the root of source
func NewMigrator(db *sql.DB, dialect Dialect, source fs.FS) *Migrator {
	return &Migrator{
		db:      db,
		dialect: dialect,
		source:  source,
	}
}

// ForDialect creates a migrator over the schema files shipped with the binary
func ForDialect(db *sql.DB, dialect Dialect) (*Migrator, error) {
	sub, err := Embedded(dialect)
	if err != nil {
		return nil, err
	}
	return NewMigrator(db, dialect, sub), nil
}

// Embedded returns the bundled migration files for a dialect
func Embedded(dialect Dialect) (fs.FS, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
		return fs.Sub(embedded, string(dialect))
	}
	return nil, fmt.Errorf("unknown migration dialect %q", dialect)
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize() error {
	idColumn := "id INTEGER PRIMARY KEY"
	if m.dialect == DialectPostgres {
		idColumn = "id SERIAL PRIMARY KEY"
	}
	_, err := m.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS migrations (
			%s,
			version TEXT NOT NULL,
			description TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, idColumn))
	return err
}

// GetAppliedMigrations returns a map of already applied migrations
func (m *Migrator) GetAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// LoadMigrations reads and orders every migration in the source
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	return loadFrom(m.source)
}

func loadFrom(source fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(source, entry.Name())
		if err != nil {
			return nil, err
		}

		// Version and description come from the filename, e.g. "001_ledger_schema.sql"
		parts := strings.SplitN(strings.TrimSuffix(path.Base(entry.Name()), ".sql"), "_", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid migration filename: %s", entry.Name())
		}

		migrations = append(migrations, Migration{
			Version:     parts[0],
			Description: strings.ReplaceAll(parts[1], "_", " "),
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func (m *Migrator) recordQuery() string {
	if m.dialect == DialectPostgres {
		return "INSERT INTO migrations (version, description) VALUES ($1, $2)"
	}
	return "INSERT INTO migrations (version, description) VALUES (?, ?)"
}

// ApplyMigration applies a single migration and records it in one transaction
func (m *Migrator) ApplyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}

	if _, err = tx.Exec(migration.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("error applying migration %s: %w", migration.Version, err)
	}

	if _, err = tx.Exec(m.recordQuery(), migration.Version, migration.Description); err != nil {
		tx.Rollback()
		return fmt.Errorf("error recording migration %s: %w", migration.Version, err)
	}

	return tx.Commit()
}

// MigrateUp applies all pending migrations and returns how many ran
func (m *Migrator) MigrateUp() (int, error) {
	if err := m.Initialize(); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return 0, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range migrations {
		if applied[migration.Version] {
			logging.Default.Debug("[MIGRATIONS] %s already applied, skipping", migration.Version)
			continue
		}

		logging.Default.Info("[MIGRATIONS] applying %s (%s): %s", migration.Version, m.dialect, migration.Description)
		if err := m.ApplyMigration(migration); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// CreateMigration writes the next numbered, empty migration file into dir
func CreateMigration(dir, description string) (string, error) {
	var existing []Migration
	if _, err := os.Stat(dir); err == nil {
		existing, err = loadFrom(os.DirFS(dir))
		if err != nil {
			return "", err
		}
	}

	nextVersion := fmt.Sprintf("%03d", len(existing)+1)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	fileName := fmt.Sprintf("%s_%s.sql", nextVersion, strings.ReplaceAll(strings.TrimSpace(description), " ", "_"))
	filePath := filepath.Join(dir, fileName)

	content := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", description, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return "", err
	}

	return filePath, nil
}
