package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/shopspring/decimal"
)

var (
	ErrRequestNotFound    = errors.New("request not found")
	ErrRequestExists      = errors.New("request already exists")
	ErrStatusConflict     = errors.New("request is not in the expected status")
	ErrMembershipNotFound = errors.New("membership not found")
)

// Transition describes moving a reviewed request out of its current status
type Transition struct {
	To         entities.RequestStatus
	ReviewerID string
	Notes      string
	EntryID    string
	At         time.Time
}

// RequestFilter narrows list queries; zero values match everything
type RequestFilter struct {
	UserID string
	Status entities.RequestStatus
	Limit  int
}

// DepositRepository persists deposit requests
type DepositRepository interface {
	CreateDeposit(ctx context.Context, req *entities.DepositRequest) error
	GetDeposit(ctx context.Context, id string) (*entities.DepositRequest, error)
	// ListDeposits returns matching requests oldest first
	ListDeposits(ctx context.Context, filter RequestFilter) ([]*entities.DepositRequest, error)
	// TransitionDeposit applies t only if the request is still in status from,
	// otherwise it returns ErrStatusConflict and leaves the row alone.
	TransitionDeposit(ctx context.Context, id string, from entities.RequestStatus, t Transition) (*entities.DepositRequest, error)
}

// ExchangeRepository persists exchange requests
type ExchangeRepository interface {
	CreateExchange(ctx context.Context, req *entities.ExchangeRequest) error
	GetExchange(ctx context.Context, id string) (*entities.ExchangeRequest, error)
	ListExchanges(ctx context.Context, filter RequestFilter) ([]*entities.ExchangeRequest, error)
	MarkExchangeFulfilled(ctx context.Context, id string, at time.Time) (*entities.ExchangeRequest, error)
}

// MembershipRepository persists premium memberships and their accrual log
type MembershipRepository interface {
	GetMembership(ctx context.Context, userID string) (*entities.PremiumMembership, error)
	// GrantMembership stores m and records grantRef in one step. When grantRef
	// was already recorded nothing changes and applied is false.
	// The stored earned total is kept; only RecordAccrual changes it.
	GrantMembership(ctx context.Context, grantRef string, m *entities.PremiumMembership) (stored *entities.PremiumMembership, applied bool, err error)
	// GrantRecorded reports whether grantRef was applied
	GrantRecorded(ctx context.Context, grantRef string) (bool, error)
	// RecordAccrual adds amount to the member's earned total once per key
	RecordAccrual(ctx context.Context, userID, key string, amount decimal.Decimal, at time.Time) (applied bool, err error)
	// ExpireMemberships deactivates active memberships whose expiry is not after now
	ExpireMemberships(ctx context.Context, now time.Time) (int, error)
}

// PurchaseRequestRepository persists admin-mediated premium purchases
type PurchaseRequestRepository interface {
	CreatePurchaseRequest(ctx context.Context, req *entities.PremiumPurchaseRequest) error
	GetPurchaseRequest(ctx context.Context, id string) (*entities.PremiumPurchaseRequest, error)
	ListPurchaseRequests(ctx context.Context, filter RequestFilter) ([]*entities.PremiumPurchaseRequest, error)
	TransitionPurchaseRequest(ctx context.Context, id string, from entities.RequestStatus, t Transition) (*entities.PremiumPurchaseRequest, error)
}

// Repository bundles every workflow table behind one backend
type Repository interface {
	DepositRepository
	ExchangeRepository
	MembershipRepository
	PurchaseRequestRepository
	Close() error
}
