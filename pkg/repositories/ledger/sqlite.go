package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	selectAccountSQL = `SELECT user_id, points_balance, wallet_balance, initial_points, initial_wallet, created_at, updated_at
		FROM accounts WHERE user_id = ?`
	selectEntryColumns = `SELECT id, user_id, ledger, amount, kind, reference_id, description, balance_after, created_at
		FROM ledger_entries`
)

// SQLiteStore implements Store on a migrated SQLite database. The database
// must be opened with _txlock=immediate so each transaction holds the write
// lock from its first statement.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open, migrated database handle
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func balanceColumn(l entities.Ledger) string {
	if l == entities.LedgerWallet {
		return "wallet_balance"
	}
	return "points_balance"
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*entities.Account, error) {
	var a entities.Account
	if err := row.Scan(&a.UserID, &a.PointsBalance, &a.WalletBalance, &a.InitialPoints, &a.InitialWallet, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEntry(row rowScanner) (*entities.LedgerEntry, error) {
	var e entities.LedgerEntry
	var ledger, kind string
	if err := row.Scan(&e.ID, &e.UserID, &ledger, &e.Amount, &kind, &e.ReferenceID, &e.Description, &e.BalanceAfter, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Ledger = entities.Ledger(ledger)
	e.Kind = entities.EntryKind(kind)
	return &e, nil
}

// CreateAccount stores a new account
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *entities.Account) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, points_balance, wallet_balance, initial_points, initial_wallet, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.UserID,
		account.InitialPoints.String(),
		account.InitialWallet.String(),
		account.InitialPoints.String(),
		account.InitialWallet.String(),
		now, now,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.PointsBalance = account.InitialPoints
	account.WalletBalance = account.InitialWallet
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccount retrieves an account by user ID
func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*entities.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, selectAccountSQL, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetBalance returns one ledger's balance
func (s *SQLiteStore) GetBalance(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance(ledger), nil
}

// AppendAndUpdate applies a single mutation
func (s *SQLiteStore) AppendAndUpdate(ctx context.Context, mutation Mutation) (*entities.LedgerEntry, error) {
	entries, err := s.Apply(ctx, []Mutation{mutation})
	if len(entries) == 1 {
		return entries[0], err
	}
	return nil, err
}

// Apply commits linked mutations in one immediate transaction
func (s *SQLiteStore) Apply(ctx context.Context, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	if err := validateAll(mutations); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.findExisting(ctx, tx, mutations)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, ErrDuplicateReference
	}

	running := make(map[string]decimal.Decimal, len(mutations))
	for _, m := range mutations {
		if _, ok := running[m.Key()]; ok {
			continue
		}
		account, err := scanAccount(tx.QueryRowContext(ctx, selectAccountSQL, m.UserID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read balance: %w", err)
		}
		running[m.Key()] = account.Balance(m.Ledger)
	}

	now := s.now()
	result := make([]*entities.LedgerEntry, 0, len(mutations))
	for _, m := range mutations {
		next := running[m.Key()].Add(m.Delta)
		if next.IsNegative() {
			return nil, ErrInsufficientFunds
		}
		running[m.Key()] = next

		entry := &entities.LedgerEntry{
			ID:           uuid.New().String(),
			UserID:       m.UserID,
			Ledger:       m.Ledger,
			Amount:       m.Delta,
			Kind:         m.Kind,
			ReferenceID:  m.ReferenceID,
			Description:  m.Description,
			CreatedAt:    now,
			BalanceAfter: next,
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE accounts SET %s = ?, updated_at = ? WHERE user_id = ?", balanceColumn(m.Ledger)),
			next.String(), now, m.UserID,
		); err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, user_id, ledger, amount, kind, reference_id, description, balance_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.UserID, string(entry.Ledger), entry.Amount.String(), string(entry.Kind),
			entry.ReferenceID, entry.Description, entry.BalanceAfter.String(), entry.CreatedAt,
		); err != nil {
			if isConstraintViolation(err) {
				tx.Rollback()
				return s.replay(ctx, mutations)
			}
			return nil, fmt.Errorf("failed to append entry: %w", err)
		}

		result = append(result, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.Default.Debug("[LEDGER_REPO] applied %d mutation(s) under %s", len(result), mutations[0].ReferenceID)
	return result, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) findExisting(ctx context.Context, q querier, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	var found []*entities.LedgerEntry
	for _, m := range mutations {
		e, err := scanEntry(q.QueryRowContext(ctx, selectEntryColumns+" WHERE kind = ? AND reference_id = ?", string(m.Kind), m.ReferenceID))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check reference: %w", err)
		}
		found = append(found, e)
	}
	return found, nil
}

func (s *SQLiteStore) replay(ctx context.Context, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	existing, err := s.findExisting(ctx, s.db, mutations)
	if err != nil {
		return nil, err
	}
	return existing, ErrDuplicateReference
}

// FindEntry looks up an entry by kind and reference
func (s *SQLiteStore) FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntryColumns+" WHERE kind = ? AND reference_id = ?", string(kind), referenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entry: %w", err)
	}
	return e, nil
}

// ListEntries returns the newest entries first
func (s *SQLiteStore) ListEntries(ctx context.Context, userID string, ledger entities.Ledger, limit int) ([]*entities.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	var (
		clauses = []string{"user_id = ?"}
		args    = []interface{}{userID}
	)
	if ledger != "" {
		clauses = append(clauses, "ledger = ?")
		args = append(args, string(ledger))
	}
	query := selectEntryColumns + " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY seq DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*entities.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumEntries totals every entry amount for one ledger. Amounts are stored as
// text so the sum is taken in Go rather than with SQLite's float SUM.
func (s *SQLiteStore) SumEntries(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return decimal.Zero, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT amount FROM ledger_entries WHERE user_id = ? AND ledger = ?", userID, string(ledger))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum entries: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
