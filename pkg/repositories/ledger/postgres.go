package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgAccountColumns = `user_id, points_balance::text, wallet_balance::text, initial_points::text, initial_wallet::text, created_at, updated_at`
	pgEntryColumns   = `id::text, user_id, ledger, amount::text, kind, reference_id, description, balance_after::text, created_at`
)

// PostgresStore implements Store on PostgreSQL. Account rows are locked with
// SELECT ... FOR UPDATE in user order, which serializes both ledgers of a user.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connected, migrated pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgAccount(row pgx.Row) (*entities.Account, error) {
	var (
		a                                    entities.Account
		points, wallet, initPoints, initWall string
	)
	if err := row.Scan(&a.UserID, &points, &wallet, &initPoints, &initWall, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.PointsBalance, err = decimal.NewFromString(points); err != nil {
		return nil, err
	}
	if a.WalletBalance, err = decimal.NewFromString(wallet); err != nil {
		return nil, err
	}
	if a.InitialPoints, err = decimal.NewFromString(initPoints); err != nil {
		return nil, err
	}
	if a.InitialWallet, err = decimal.NewFromString(initWall); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPgEntry(row pgx.Row) (*entities.LedgerEntry, error) {
	var (
		e                    entities.LedgerEntry
		ledger, kind         string
		amount, balanceAfter string
	)
	if err := row.Scan(&e.ID, &e.UserID, &ledger, &amount, &kind, &e.ReferenceID, &e.Description, &balanceAfter, &e.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if e.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return nil, err
	}
	e.Ledger = entities.Ledger(ledger)
	e.Kind = entities.EntryKind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// CreateAccount stores a new account
func (s *PostgresStore) CreateAccount(ctx context.Context, account *entities.Account) error {
	query := `
		INSERT INTO accounts (user_id, points_balance, wallet_balance, initial_points, initial_wallet)
		VALUES ($1, $2::text::numeric, $3::text::numeric, $2::text::numeric, $3::text::numeric)
		RETURNING ` + pgAccountColumns

	created, err := scanPgAccount(s.pool.QueryRow(ctx, query,
		account.UserID, account.InitialPoints.String(), account.InitialWallet.String()))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	*account = *created
	return nil
}

// GetAccount retrieves an account by user ID
func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*entities.Account, error) {
	account, err := scanPgAccount(s.pool.QueryRow(ctx, `SELECT `+pgAccountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// GetBalance returns one ledger's balance
func (s *PostgresStore) GetBalance(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance(ledger), nil
}

// AppendAndUpdate applies a single mutation
func (s *PostgresStore) AppendAndUpdate(ctx context.Context, mutation Mutation) (*entities.LedgerEntry, error) {
	entries, err := s.Apply(ctx, []Mutation{mutation})
	if len(entries) == 1 {
		return entries[0], err
	}
	return nil, err
}

// Apply commits linked mutations in one transaction holding row locks
func (s *PostgresStore) Apply(ctx context.Context, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	if err := validateAll(mutations); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := findPgExisting(ctx, tx, mutations)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, ErrDuplicateReference
	}

	userIDs := make([]string, 0, len(mutations))
	seen := make(map[string]struct{}, len(mutations))
	for _, m := range mutations {
		if _, ok := seen[m.UserID]; !ok {
			seen[m.UserID] = struct{}{}
			userIDs = append(userIDs, m.UserID)
		}
	}
	sort.Strings(userIDs)

	rows, err := tx.Query(ctx, `SELECT `+pgAccountColumns+` FROM accounts WHERE user_id = ANY($1) ORDER BY user_id FOR UPDATE`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	locked := make(map[string]*entities.Account, len(userIDs))
	for rows.Next() {
		a, err := scanPgAccount(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		locked[a.UserID] = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	if len(locked) != len(userIDs) {
		return nil, ErrAccountNotFound
	}

	running := make(map[string]decimal.Decimal, len(mutations))
	for _, m := range mutations {
		if _, ok := running[m.Key()]; !ok {
			running[m.Key()] = locked[m.UserID].Balance(m.Ledger)
		}
	}

	now := time.Now().UTC()
	result := make([]*entities.LedgerEntry, 0, len(mutations))
	for _, m := range mutations {
		next := running[m.Key()].Add(m.Delta)
		if next.IsNegative() {
			return nil, ErrInsufficientFunds
		}
		running[m.Key()] = next

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE accounts SET %s = $1::text::numeric, updated_at = $2 WHERE user_id = $3`, balanceColumn(m.Ledger)),
			next.String(), now, m.UserID,
		); err != nil {
			return nil, fmt.Errorf("update balance: %w", err)
		}

		entry, err := scanPgEntry(tx.QueryRow(ctx, `
			INSERT INTO ledger_entries (id, user_id, ledger, amount, kind, reference_id, description, balance_after, created_at)
			VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8::text::numeric, $9)
			RETURNING `+pgEntryColumns,
			uuid.New().String(), m.UserID, string(m.Ledger), m.Delta.String(), string(m.Kind),
			m.ReferenceID, m.Description, next.String(), now,
		))
		if err != nil {
			if isUniqueViolation(err) {
				tx.Rollback(ctx)
				return s.replay(ctx, mutations)
			}
			return nil, fmt.Errorf("append entry: %w", err)
		}
		result = append(result, entry)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.replay(ctx, mutations)
		}
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	logging.Default.Debug("[LEDGER_REPO] applied %d mutation(s) under %s", len(result), mutations[0].ReferenceID)
	return result, nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findPgExisting(ctx context.Context, q pgQuerier, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	var found []*entities.LedgerEntry
	for _, m := range mutations {
		e, err := scanPgEntry(q.QueryRow(ctx,
			`SELECT `+pgEntryColumns+` FROM ledger_entries WHERE kind = $1 AND reference_id = $2`,
			string(m.Kind), m.ReferenceID))
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("check reference: %w", err)
		}
		found = append(found, e)
	}
	return found, nil
}

func (s *PostgresStore) replay(ctx context.Context, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	existing, err := findPgExisting(ctx, s.pool, mutations)
	if err != nil {
		return nil, err
	}
	return existing, ErrDuplicateReference
}

// FindEntry looks up an entry by kind and reference
func (s *PostgresStore) FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error) {
	e, err := scanPgEntry(s.pool.QueryRow(ctx,
		`SELECT `+pgEntryColumns+` FROM ledger_entries WHERE kind = $1 AND reference_id = $2`,
		string(kind), referenceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return e, nil
}

// ListEntries returns the newest entries first
func (s *PostgresStore) ListEntries(ctx context.Context, userID string, ledger entities.Ledger, limit int) ([]*entities.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	// A NULL limit means no limit in PostgreSQL
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgEntryColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND ($2 = '' OR ledger = $2)
		ORDER BY seq DESC
		LIMIT $3`, userID, string(ledger), lim)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*entities.LedgerEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumEntries totals every entry amount for one ledger
func (s *PostgresStore) SumEntries(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return decimal.Zero, err
	}

	var sum string
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries WHERE user_id = $1 AND ledger = $2`,
		userID, string(ledger),
	).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum entries: %w", err)
	}
	return decimal.NewFromString(sum)
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
