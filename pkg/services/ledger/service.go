// Package ledger is the only place balances change. Every credit and debit
// goes through Service, which checks idempotency, commits through the store
// and publishes a balance event for each fresh entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/fadedpez/pointledger/pkg/idempotency"
	"github.com/fadedpez/pointledger/pkg/metrics"
	ledgerRepo "github.com/fadedpez/pointledger/pkg/repositories/ledger"
	"github.com/shopspring/decimal"
)

// Posting describes one credit or debit. Amount is always positive; Debit
// selects the direction.
type Posting struct {
	UserID      string
	Ledger      entities.Ledger
	Amount      decimal.Decimal
	Kind        entities.EntryKind
	ReferenceID string
	Description string
	Debit       bool
}

func (p Posting) delta() decimal.Decimal {
	if p.Debit {
		return p.Amount.Neg()
	}
	return p.Amount
}

func (p Posting) validate() error {
	switch {
	case p.UserID == "":
		return types.NewLedgerError(types.ErrInvalidArgument, "user id is required")
	case !p.Ledger.Valid():
		return types.NewLedgerError(types.ErrInvalidArgument, fmt.Sprintf("unknown ledger %q", p.Ledger))
	case !p.Kind.Valid():
		return types.NewLedgerError(types.ErrInvalidArgument, fmt.Sprintf("unknown entry kind %q", p.Kind))
	case p.ReferenceID == "":
		return types.NewLedgerError(types.ErrInvalidArgument, "reference id is required")
	case !p.Amount.IsPositive():
		return types.NewLedgerError(types.ErrInvalidArgument, "amount must be positive")
	}
	return nil
}

// matches reports whether a stored entry is the result of this posting
func (p Posting) matches(e *entities.LedgerEntry) bool {
	return e.UserID == p.UserID && e.Ledger == p.Ledger && e.Amount.Equal(p.delta())
}

// Service handles ledger business logic
type Service struct {
	store         ledgerRepo.Store
	cache         idempotency.Cache
	publisher     events.Publisher
	metrics       *metrics.Metrics
	log           *logging.Logger
	initialPoints decimal.Decimal
	initialWallet decimal.Decimal
}

// Option configures a Service
type Option func(*Service)

// WithCache puts an idempotency cache in front of the store
func WithCache(c idempotency.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher sets where balance events go
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics records ledger activity
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger replaces the default logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithInitialBalances sets the opening balances of new accounts
func WithInitialBalances(points, wallet decimal.Decimal) Option {
	return func(s *Service) {
		s.initialPoints = points
		s.initialWallet = wallet
	}
}

// NewService creates a new ledger service
func NewService(store ledgerRepo.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.Noop{},
		log:       logging.Default,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "ledger")
	return s
}

// OpenAccount creates an account with the configured opening balances. The
// bool reports whether the account was created by this call.
func (s *Service) OpenAccount(ctx context.Context, userID string) (*entities.Account, bool, error) {
	if userID == "" {
		return nil, false, types.NewLedgerError(types.ErrInvalidArgument, "user id is required")
	}

	account, err := s.store.GetAccount(ctx, userID)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ledgerRepo.ErrAccountNotFound) {
		return nil, false, s.storeError(err)
	}

	account = &entities.Account{
		UserID:        userID,
		InitialPoints: s.initialPoints,
		InitialWallet: s.initialWallet,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ledgerRepo.ErrAccountExists) {
			existing, getErr := s.store.GetAccount(ctx, userID)
			if getErr != nil {
				return nil, false, s.storeError(getErr)
			}
			return existing, false, nil
		}
		return nil, false, s.storeError(err)
	}

	s.log.WithField("user_id", userID).Info("Opened account")
	return account, true, nil
}

// GetAccount returns both balances of a user
func (s *Service) GetAccount(ctx context.Context, userID string) (*entities.Account, error) {
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, s.storeError(err)
	}
	return account, nil
}

// GetBalance returns the balance of one ledger
func (s *Service) GetBalance(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	if !ledger.Valid() {
		return decimal.Zero, types.NewLedgerError(types.ErrInvalidArgument, fmt.Sprintf("unknown ledger %q", ledger))
	}
	balance, err := s.store.GetBalance(ctx, userID, ledger)
	if err != nil {
		return decimal.Zero, s.storeError(err)
	}
	return balance, nil
}

// ListEntries returns a user's newest entries first; an empty ledger lists both
func (s *Service) ListEntries(ctx context.Context, userID string, ledger entities.Ledger, limit int) ([]*entities.LedgerEntry, error) {
	if ledger != "" && !ledger.Valid() {
		return nil, types.NewLedgerError(types.ErrInvalidArgument, fmt.Sprintf("unknown ledger %q", ledger))
	}
	entries, err := s.store.ListEntries(ctx, userID, ledger, limit)
	if err != nil {
		return nil, s.storeError(err)
	}
	return entries, nil
}

// FindEntry looks up the entry recorded for an idempotency key
func (s *Service) FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error) {
	entry, err := s.store.FindEntry(ctx, kind, referenceID)
	if err != nil {
		if errors.Is(err, ledgerRepo.ErrEntryNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "no entry for reference "+referenceID, err)
		}
		return nil, s.storeError(err)
	}
	return entry, nil
}

// Credit adds a positive amount to a ledger. Replaying the same kind and
// reference returns the entry written the first time.
func (s *Service) Credit(ctx context.Context, p Posting) (*entities.LedgerEntry, error) {
	p.Debit = false
	entries, err := s.execute(ctx, []Posting{p})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// Debit subtracts a positive amount from a ledger, failing with
// INSUFFICIENT_FUNDS if the balance would go negative
func (s *Service) Debit(ctx context.Context, p Posting) (*entities.LedgerEntry, error) {
	p.Debit = true
	entries, err := s.execute(ctx, []Posting{p})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// ApplyLinked commits several postings atomically. Entries come back in the
// order of the postings.
func (s *Service) ApplyLinked(ctx context.Context, postings ...Posting) ([]*entities.LedgerEntry, error) {
	if len(postings) == 0 {
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "no postings")
	}
	return s.execute(ctx, postings)
}

func (s *Service) execute(ctx context.Context, postings []Posting) ([]*entities.LedgerEntry, error) {
	seen := make(map[string]struct{}, len(postings))
	for _, p := range postings {
		if err := p.validate(); err != nil {
			s.metrics.Rejected(string(types.ErrInvalidArgument))
			return nil, err
		}
		key := string(p.Kind) + "|" + p.ReferenceID
		if _, dup := seen[key]; dup {
			return nil, types.NewLedgerError(types.ErrInvalidArgument, "repeated reference "+p.ReferenceID)
		}
		seen[key] = struct{}{}
	}

	if entries, ok, err := s.lookup(ctx, postings); ok || err != nil {
		return entries, err
	}

	mutations := make([]ledgerRepo.Mutation, len(postings))
	for i, p := range postings {
		mutations[i] = ledgerRepo.Mutation{
			UserID:      p.UserID,
			Ledger:      p.Ledger,
			Delta:       p.delta(),
			Kind:        p.Kind,
			ReferenceID: p.ReferenceID,
			Description: p.Description,
		}
	}

	start := time.Now()
	entries, err := s.store.Apply(ctx, mutations)
	s.metrics.ObserveApply(start, err)
	if errors.Is(err, ledgerRepo.ErrDuplicateReference) {
		s.metrics.Replayed(string(postings[0].Kind), "store")
		return s.replay(ctx, postings, entries)
	}
	if err != nil {
		lerr := s.applyError(err)
		s.metrics.Rejected(string(lerr.Code))
		s.log.WithFields(map[string]interface{}{
			"user_id":      postings[0].UserID,
			"reference_id": postings[0].ReferenceID,
		}).Debug("Mutation rejected: %v", err)
		return nil, lerr
	}

	for _, e := range entries {
		s.metrics.EntryAppended(string(e.Ledger), string(e.Kind))
		s.remember(ctx, e)
		s.log.WithFields(map[string]interface{}{
			"user_id":      e.UserID,
			"reference_id": e.ReferenceID,
		}).Info("Applied %s %s on %s, balance now %s", e.Kind, e.Amount, e.Ledger, e.BalanceAfter)
	}
	for _, e := range entries {
		if err := s.publisher.PublishBalanceChanged(ctx, events.FromEntry(e)); err != nil {
			s.log.WithField("entry_id", e.ID).Warn("Failed to publish balance event: %v", err)
		}
	}
	return entries, nil
}

// lookup answers a replay before any lock is taken. ok is true only when
// every posting already has an entry.
func (s *Service) lookup(ctx context.Context, postings []Posting) ([]*entities.LedgerEntry, bool, error) {
	found := make([]*entities.LedgerEntry, 0, len(postings))
	source := "cache"
	for _, p := range postings {
		entry, hit := s.cached(ctx, p)
		if !hit {
			source = "store"
			stored, err := s.store.FindEntry(ctx, p.Kind, p.ReferenceID)
			if errors.Is(err, ledgerRepo.ErrEntryNotFound) {
				if len(found) > 0 {
					return nil, false, s.partialReplay(p)
				}
				return nil, false, nil
			}
			if err != nil {
				return nil, false, s.storeError(err)
			}
			entry = stored
		}
		found = append(found, entry)
	}

	s.metrics.Replayed(string(postings[0].Kind), source)
	entries, err := s.replay(ctx, postings, found)
	return entries, true, err
}

func (s *Service) cached(ctx context.Context, p Posting) (*entities.LedgerEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, hit, err := s.cache.Get(ctx, p.Kind, p.ReferenceID)
	if err != nil {
		s.log.Warn("Idempotency cache lookup failed: %v", err)
		return nil, false
	}
	return entry, hit
}

func (s *Service) remember(ctx context.Context, e *entities.LedgerEntry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, e); err != nil {
		s.log.Warn("Idempotency cache write failed: %v", err)
	}
}

// replay maps stored entries back onto the postings that asked for them.
// A reference reused for a different user, ledger or amount is rejected.
func (s *Service) replay(ctx context.Context, postings []Posting, stored []*entities.LedgerEntry) ([]*entities.LedgerEntry, error) {
	byKey := make(map[string]*entities.LedgerEntry, len(stored))
	for _, e := range stored {
		byKey[string(e.Kind)+"|"+e.ReferenceID] = e
	}

	out := make([]*entities.LedgerEntry, len(postings))
	for i, p := range postings {
		e, ok := byKey[string(p.Kind)+"|"+p.ReferenceID]
		if !ok {
			return nil, s.partialReplay(p)
		}
		if !p.matches(e) {
			return nil, types.NewLedgerError(types.ErrDuplicateReference,
				fmt.Sprintf("reference %s was already used for a different %s", p.ReferenceID, p.Kind))
		}
		s.remember(ctx, e)
		out[i] = e
	}

	s.log.WithField("reference_id", postings[0].ReferenceID).Debug("Replayed %d entries", len(out))
	return out, nil
}

func (s *Service) partialReplay(p Posting) error {
	return types.NewLedgerError(types.ErrDuplicateReference,
		fmt.Sprintf("reference %s is only partly applied", p.ReferenceID))
}

func (s *Service) applyError(err error) *types.LedgerError {
	switch {
	case errors.Is(err, ledgerRepo.ErrInsufficientFunds):
		return types.WrapError(types.ErrInsufficientFunds, "balance too low", err)
	case errors.Is(err, ledgerRepo.ErrAccountNotFound):
		return types.WrapError(types.ErrNotFound, "account not found", err)
	case errors.Is(err, ledgerRepo.ErrInvalidMutation):
		return types.WrapError(types.ErrInvalidArgument, "invalid mutation", err)
	}
	return types.WrapError(types.ErrStoreUnavailable, "ledger store failed", err)
}

func (s *Service) storeError(err error) error {
	if errors.Is(err, ledgerRepo.ErrAccountNotFound) {
		return types.WrapError(types.ErrNotFound, "account not found", err)
	}
	return types.WrapError(types.ErrStoreUnavailable, "ledger store failed", err)
}

// ReconcileResult compares a stored balance with the one derived from entries
type ReconcileResult struct {
	UserID   string          `json:"user_id"`
	Ledger   entities.Ledger `json:"ledger"`
	Balance  decimal.Decimal `json:"balance"`
	Expected decimal.Decimal `json:"expected"`
}

// Consistent reports whether the stored balance matches the entry log
func (r ReconcileResult) Consistent() bool {
	return r.Balance.Equal(r.Expected)
}

// Reconcile checks that each balance equals its opening balance plus the
// sum of its entries
func (s *Service) Reconcile(ctx context.Context, userID string) ([]ReconcileResult, error) {
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, s.storeError(err)
	}

	results := make([]ReconcileResult, 0, len(entities.Ledgers))
	for _, l := range entities.Ledgers {
		sum, err := s.store.SumEntries(ctx, userID, l)
		if err != nil {
			return nil, s.storeError(err)
		}
		result := ReconcileResult{
			UserID:   userID,
			Ledger:   l,
			Balance:  account.Balance(l),
			Expected: account.Initial(l).Add(sum),
		}
		if !result.Consistent() {
			s.log.WithField("user_id", userID).Error("Balance drift on %s: stored %s, entries say %s", l, result.Balance, result.Expected)
		}
		results = append(results, result)
	}
	return results, nil
}
