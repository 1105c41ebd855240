package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/fadedpez/pointledger/internal/keylock"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in process memory. Mutations on the same
// user and ledger are serialized by a keyed lock; the RWMutex only guards
// the maps themselves.
type MemoryStore struct {
	accounts map[string]*entities.Account
	entries  map[string][]*entities.LedgerEntry // keyed by user, in append order
	byRef    map[string]*entities.LedgerEntry
	mu       sync.RWMutex
	locks    *keylock.Locker
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*entities.Account),
		entries:  make(map[string][]*entities.LedgerEntry),
		byRef:    make(map[string]*entities.LedgerEntry),
		locks:    keylock.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount stores a new account
func (s *MemoryStore) CreateAccount(ctx context.Context, account *entities.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.UserID]; exists {
		return ErrAccountExists
	}

	now := s.now()
	accountCopy := *account
	accountCopy.PointsBalance = account.InitialPoints
	accountCopy.WalletBalance = account.InitialWallet
	accountCopy.CreatedAt = now
	accountCopy.UpdatedAt = now
	s.accounts[account.UserID] = &accountCopy

	*account = accountCopy
	return nil
}

// GetAccount retrieves an account by user ID
func (s *MemoryStore) GetAccount(ctx context.Context, userID string) (*entities.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[userID]
	if !exists {
		return nil, ErrAccountNotFound
	}

	// Return a copy to prevent concurrent modification
	accountCopy := *account
	return &accountCopy, nil
}

// GetBalance returns one ledger's balance
func (s *MemoryStore) GetBalance(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance(ledger), nil
}

// AppendAndUpdate applies a single mutation
func (s *MemoryStore) AppendAndUpdate(ctx context.Context, mutation Mutation) (*entities.LedgerEntry, error) {
	entries, err := s.Apply(ctx, []Mutation{mutation})
	if len(entries) == 1 {
		return entries[0], err
	}
	return nil, err
}

// Apply commits linked mutations atomically
func (s *MemoryStore) Apply(ctx context.Context, mutations []Mutation) ([]*entities.LedgerEntry, error) {
	if err := validateAll(mutations); err != nil {
		return nil, err
	}

	if existing := s.existing(mutations); len(existing) > 0 {
		return existing, ErrDuplicateReference
	}

	keys := make([]string, len(mutations))
	for i, m := range mutations {
		keys[i] = m.Key()
	}
	unlock := s.locks.LockAll(keys...)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock; another user may have claimed the reference
	if existing := s.existingLocked(mutations); len(existing) > 0 {
		return existing, ErrDuplicateReference
	}

	running := make(map[string]decimal.Decimal, len(mutations))
	for _, m := range mutations {
		if _, ok := running[m.Key()]; ok {
			continue
		}
		account, exists := s.accounts[m.UserID]
		if !exists {
			return nil, ErrAccountNotFound
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
		result = append(result, &entities.LedgerEntry{
			ID:           uuid.New().String(),
			UserID:       m.UserID,
			Ledger:       m.Ledger,
			Amount:       m.Delta,
			Kind:         m.Kind,
			ReferenceID:  m.ReferenceID,
			Description:  m.Description,
			CreatedAt:    now,
			BalanceAfter: next,
		})
	}

	// Nothing is written until every mutation has been validated
	for i, m := range mutations {
		account := s.accounts[m.UserID]
		account.SetBalance(m.Ledger, running[m.Key()])
		account.UpdatedAt = now

		stored := *result[i]
		s.entries[m.UserID] = append(s.entries[m.UserID], &stored)
		s.byRef[refKey(m.Kind, m.ReferenceID)] = &stored
	}

	return result, nil
}

func (s *MemoryStore) existing(mutations []Mutation) []*entities.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existingLocked(mutations)
}

func (s *MemoryStore) existingLocked(mutations []Mutation) []*entities.LedgerEntry {
	var found []*entities.LedgerEntry
	for _, m := range mutations {
		if e, ok := s.byRef[refKey(m.Kind, m.ReferenceID)]; ok {
			entryCopy := *e
			found = append(found, &entryCopy)
		}
	}
	return found
}

// FindEntry looks up an entry by kind and reference
func (s *MemoryStore) FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byRef[refKey(kind, referenceID)]
	if !ok {
		return nil, ErrEntryNotFound
	}
	entryCopy := *e
	return &entryCopy, nil
}

// ListEntries returns the newest entries first
func (s *MemoryStore) ListEntries(ctx context.Context, userID string, ledger entities.Ledger, limit int) ([]*entities.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.accounts[userID]; !exists {
		return nil, ErrAccountNotFound
	}

	all := s.entries[userID]
	result := make([]*entities.LedgerEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if ledger != "" && all[i].Ledger != ledger {
			continue
		}
		entryCopy := *all[i]
		result = append(result, &entryCopy)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SumEntries totals every entry amount for one ledger
func (s *MemoryStore) SumEntries(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.accounts[userID]; !exists {
		return decimal.Zero, ErrAccountNotFound
	}

	sum := decimal.Zero
	for _, e := range s.entries[userID] {
		if e.Ledger == ledger {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
