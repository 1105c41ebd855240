package ledger

import (
	"context"
	"errors"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrDuplicateReference = errors.New("reference already applied")
	ErrInvalidMutation    = errors.New("invalid mutation")
)

// Mutation is one balance change requested of the store
type Mutation struct {
	UserID      string
	Ledger      entities.Ledger
	Delta       decimal.Decimal // signed; negative values debit
	Kind        entities.EntryKind
	ReferenceID string
	Description string
}

// Key identifies the balance a mutation serializes on
func (m Mutation) Key() string {
	return m.UserID + ":" + string(m.Ledger)
}

func (m Mutation) validate() error {
	switch {
	case m.UserID == "":
		return errors.Join(ErrInvalidMutation, errors.New("user id is empty"))
	case !m.Ledger.Valid():
		return errors.Join(ErrInvalidMutation, errors.New("unknown ledger "+string(m.Ledger)))
	case !m.Kind.Valid():
		return errors.Join(ErrInvalidMutation, errors.New("unknown kind "+string(m.Kind)))
	case m.ReferenceID == "":
		return errors.Join(ErrInvalidMutation, errors.New("reference id is empty"))
	case m.Delta.IsZero():
		return errors.Join(ErrInvalidMutation, errors.New("delta is zero"))
	}
	return nil
}

func validateAll(muts []Mutation) error {
	if len(muts) == 0 {
		return errors.Join(ErrInvalidMutation, errors.New("no mutations"))
	}
	seen := make(map[string]struct{}, len(muts))
	for _, m := range muts {
		if err := m.validate(); err != nil {
			return err
		}
		ref := refKey(m.Kind, m.ReferenceID)
		if _, dup := seen[ref]; dup {
			return errors.Join(ErrInvalidMutation, errors.New("repeated reference "+ref))
		}
		seen[ref] = struct{}{}
	}
	return nil
}

func refKey(kind entities.EntryKind, ref string) string {
	return string(kind) + "|" + ref
}

// Store is the durable home of balances and the append-only entry log.
// Every implementation applies a batch of mutations atomically: either all
// entries are appended and all balances updated, or nothing changes.
//
//go:generate mockgen -source=$GOFILE -destination=mock/mock.go -package=mock_ledger
type Store interface {
	// CreateAccount stores a new account with its opening balances
	CreateAccount(ctx context.Context, account *entities.Account) error

	// GetAccount retrieves an account by user ID
	GetAccount(ctx context.Context, userID string) (*entities.Account, error)

	// GetBalance returns the current balance of one ledger
	GetBalance(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error)

	// AppendAndUpdate applies a single mutation
	AppendAndUpdate(ctx context.Context, mutation Mutation) (*entities.LedgerEntry, error)

	// Apply commits linked mutations as one unit. When any (kind, reference)
	// already exists the stored entries are returned with ErrDuplicateReference.
	Apply(ctx context.Context, mutations []Mutation) ([]*entities.LedgerEntry, error)

	// FindEntry looks up an entry by its idempotency key
	FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error)

	// ListEntries returns the newest entries first; an empty ledger means both
	ListEntries(ctx context.Context, userID string, ledger entities.Ledger, limit int) ([]*entities.LedgerEntry, error)

	// SumEntries totals every entry amount for one ledger
	SumEntries(ctx context.Context, userID string, ledger entities.Ledger) (decimal.Decimal, error)

	// Close releases underlying resources
	Close() error
}
