package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	depositColumns  = `id, user_id, amount, evidence_ref, status, reviewer_id, decided_at, notes, entry_id, created_at`
	exchangeColumns = `id, user_id, item_id, points_spent, status, entry_id, created_at, fulfilled_at`
	purchaseColumns = `id, user_id, plan_id, contact_phone, status, points_per_minute, reviewer_id, decided_at, notes, entry_id, created_at`
	memberColumns   = `user_id, plan_id, is_active, started_at, expires_at, points_per_minute, total_chat_points_earned, updated_at`
)

// SQLiteRepository implements Repository on the migrated SQLite schema
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open, migrated database handle
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func filterClause(f RequestFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	query := ""
	if len(clauses) > 0 {
		query = " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return query, args
}

func scanDeposit(row rowScanner) (*entities.DepositRequest, error) {
	var (
		d         entities.DepositRequest
		status    string
		decidedAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Amount, &d.EvidenceRef, &status, &d.ReviewerID, &decidedAt, &d.Notes, &d.EntryID, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Status = entities.RequestStatus(status)
	d.DecidedAt = nullTime(decidedAt)
	return &d, nil
}

// CreateDeposit stores a new deposit request
func (r *SQLiteRepository) CreateDeposit(ctx context.Context, req *entities.DepositRequest) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO deposit_requests (`+depositColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.Amount.String(), req.EvidenceRef, string(req.Status),
		req.ReviewerID, req.DecidedAt, req.Notes, req.EntryID, req.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrRequestExists
		}
		return fmt.Errorf("failed to create deposit request: %w", err)
	}
	return nil
}

// GetDeposit retrieves a deposit request by ID
func (r *SQLiteRepository) GetDeposit(ctx context.Context, id string) (*entities.DepositRequest, error) {
	d, err := scanDeposit(r.db.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM deposit_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit request: %w", err)
	}
	return d, nil
}

// ListDeposits returns matching deposit requests oldest first
func (r *SQLiteRepository) ListDeposits(ctx context.Context, filter RequestFilter) ([]*entities.DepositRequest, error) {
	where, args := filterClause(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+depositColumns+` FROM deposit_requests`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit requests: %w", err)
	}
	defer rows.Close()

	var result []*entities.DepositRequest
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit request: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// transition runs a status compare-and-set on one of the reviewed tables
func (r *SQLiteRepository) transition(ctx context.Context, table, id string, from entities.RequestStatus, t Transition) error {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, reviewer_id = ?, notes = ?, entry_id = ?, decided_at = ? WHERE id = ? AND status = ?`, table),
		string(t.To), t.ReviewerID, t.Notes, t.EntryID, t.At, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// TransitionDeposit moves a deposit request out of status from
func (r *SQLiteRepository) TransitionDeposit(ctx context.Context, id string, from entities.RequestStatus, t Transition) (*entities.DepositRequest, error) {
	if err := r.transition(ctx, "deposit_requests", id, from, t); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			if _, getErr := r.GetDeposit(ctx, id); getErr != nil {
				return nil, getErr
			}
		}
		return nil, err
	}
	return r.GetDeposit(ctx, id)
}

func scanExchange(row rowScanner) (*entities.ExchangeRequest, error) {
	var (
		e           entities.ExchangeRequest
		status      string
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.ItemID, &e.PointsSpent, &status, &e.EntryID, &e.CreatedAt, &fulfilledAt); err != nil {
		return nil, err
	}
	e.Status = entities.RequestStatus(status)
	e.FulfilledAt = nullTime(fulfilledAt)
	return &e, nil
}

// CreateExchange stores a new exchange request
func (r *SQLiteRepository) CreateExchange(ctx context.Context, req *entities.ExchangeRequest) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO exchange_requests (`+exchangeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.ItemID, req.PointsSpent.String(), string(req.Status), req.EntryID, req.CreatedAt, req.FulfilledAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrRequestExists
		}
		return fmt.Errorf("failed to create exchange request: %w", err)
	}
	return nil
}

// GetExchange retrieves an exchange request by ID
func (r *SQLiteRepository) GetExchange(ctx context.Context, id string) (*entities.ExchangeRequest, error) {
	e, err := scanExchange(r.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchange_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange request: %w", err)
	}
	return e, nil
}

// ListExchanges returns matching exchange requests oldest first
func (r *SQLiteRepository) ListExchanges(ctx context.Context, filter RequestFilter) ([]*entities.ExchangeRequest, error) {
	where, args := filterClause(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchange_requests`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange requests: %w", err)
	}
	defer rows.Close()

	var result []*entities.ExchangeRequest
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange request: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// MarkExchangeFulfilled moves a pending exchange to fulfilled
func (r *SQLiteRepository) MarkExchangeFulfilled(ctx context.Context, id string, at time.Time) (*entities.ExchangeRequest, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE exchange_requests SET status = ?, fulfilled_at = ? WHERE id = ? AND status = ?`,
		string(entities.StatusFulfilled), at, id, string(entities.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fulfill exchange request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetExchange(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStatusConflict
	}
	return r.GetExchange(ctx, id)
}

func scanMembership(row rowScanner) (*entities.PremiumMembership, error) {
	var m entities.PremiumMembership
	if err := row.Scan(&m.UserID, &m.PlanID, &m.IsActive, &m.StartedAt, &m.ExpiresAt, &m.PointsPerMinute, &m.TotalChatPointsEarned, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.StartedAt = m.StartedAt.UTC()
	m.ExpiresAt = m.ExpiresAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// GetMembership retrieves a user's membership
func (r *SQLiteRepository) GetMembership(ctx context.Context, userID string) (*entities.PremiumMembership, error) {
	m, err := scanMembership(r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM premium_memberships WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GrantMembership upserts a membership once per grant reference
func (r *SQLiteRepository) GrantMembership(ctx context.Context, grantRef string, m *entities.PremiumMembership) (*entities.PremiumMembership, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO membership_grants (grant_ref, user_id, applied_at) VALUES (?, ?, ?) ON CONFLICT(grant_ref) DO NOTHING`,
		grantRef, m.UserID, m.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		current, err := r.GetMembership(ctx, m.UserID)
		return current, false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO premium_memberships (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			is_active = excluded.is_active,
			started_at = excluded.started_at,
			expires_at = excluded.expires_at,
			points_per_minute = excluded.points_per_minute,
			updated_at = excluded.updated_at`,
		m.UserID, m.PlanID, m.IsActive, m.StartedAt, m.ExpiresAt,
		m.PointsPerMinute.String(), m.TotalChatPointsEarned.String(), m.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert membership: %w", err)
	}

	stored, err := scanMembership(tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM premium_memberships WHERE user_id = ?`, m.UserID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit membership: %w", err)
	}
	return stored, true, nil
}

// GrantRecorded reports whether a grant reference was applied
func (r *SQLiteRepository) GrantRecorded(ctx context.Context, grantRef string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM membership_grants WHERE grant_ref = ?`, grantRef).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to read grant: %w", err)
	}
	return n > 0, nil
}

// RecordAccrual adds to the earned total once per key
func (r *SQLiteRepository) RecordAccrual(ctx context.Context, userID, key string, amount decimal.Decimal, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT total_chat_points_earned FROM premium_memberships WHERE user_id = ?`, userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrMembershipNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read membership: %w", err)
	}

	at = at.UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO chat_accruals (accrual_key, user_id, amount, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(accrual_key) DO NOTHING`,
		key, userID, amount.String(), at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record accrual: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE premium_memberships SET total_chat_points_earned = ?, updated_at = ? WHERE user_id = ?`,
		total.Add(amount).String(), at, userID,
	); err != nil {
		return false, fmt.Errorf("failed to update earned total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit accrual: %w", err)
	}
	return true, nil
}

// ExpireMemberships deactivates lapsed memberships
func (r *SQLiteRepository) ExpireMemberships(ctx context.Context, now time.Time) (int, error) {
	// Timestamps are stored as UTC text, so comparisons must use UTC too
	now = now.UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE premium_memberships SET is_active = 0, updated_at = ? WHERE is_active = 1 AND expires_at <= ?`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire memberships: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Default.Info("[WORKFLOW_REPO] expired %d membership(s)", n)
	}
	return int(n), nil
}

func scanPurchase(row rowScanner) (*entities.PremiumPurchaseRequest, error) {
	var (
		p         entities.PremiumPurchaseRequest
		status    string
		decidedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.ContactPhone, &status, &p.PointsPerMinute, &p.ReviewerID, &decidedAt, &p.Notes, &p.EntryID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = entities.RequestStatus(status)
	p.DecidedAt = nullTime(decidedAt)
	return &p, nil
}

// CreatePurchaseRequest stores a new premium purchase request
func (r *SQLiteRepository) CreatePurchaseRequest(ctx context.Context, req *entities.PremiumPurchaseRequest) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO premium_purchase_requests (`+purchaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.PlanID, req.ContactPhone, string(req.Status), req.PointsPerMinute.String(),
		req.ReviewerID, req.DecidedAt, req.Notes, req.EntryID, req.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrRequestExists
		}
		return fmt.Errorf("failed to create purchase request: %w", err)
	}
	return nil
}

// GetPurchaseRequest retrieves a premium purchase request by ID
func (r *SQLiteRepository) GetPurchaseRequest(ctx context.Context, id string) (*entities.PremiumPurchaseRequest, error) {
	p, err := scanPurchase(r.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM premium_purchase_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase request: %w", err)
	}
	return p, nil
}

// ListPurchaseRequests returns matching purchase requests oldest first
func (r *SQLiteRepository) ListPurchaseRequests(ctx context.Context, filter RequestFilter) ([]*entities.PremiumPurchaseRequest, error) {
	where, args := filterClause(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+purchaseColumns+` FROM premium_purchase_requests`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase requests: %w", err)
	}
	defer rows.Close()

	var result []*entities.PremiumPurchaseRequest
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase request: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// TransitionPurchaseRequest moves a purchase request out of status from
func (r *SQLiteRepository) TransitionPurchaseRequest(ctx context.Context, id string, from entities.RequestStatus, t Transition) (*entities.PremiumPurchaseRequest, error) {
	if err := r.transition(ctx, "premium_purchase_requests", id, from, t); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			if _, getErr := r.GetPurchaseRequest(ctx, id); getErr != nil {
				return nil, getErr
			}
		}
		return nil, err
	}
	return r.GetPurchaseRequest(ctx, id)
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
