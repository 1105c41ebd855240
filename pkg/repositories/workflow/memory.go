package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/shopspring/decimal"
)

// MemoryRepository implements Repository using in-memory storage
type MemoryRepository struct {
	deposits    map[string]*entities.DepositRequest
	exchanges   map[string]*entities.ExchangeRequest
	memberships map[string]*entities.PremiumMembership
	grants      map[string]struct{}
	accruals    map[string]struct{}
	purchases   map[string]*entities.PremiumPurchaseRequest
	mu          sync.RWMutex
}

// NewMemoryRepository creates a new in-memory workflow repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		deposits:    make(map[string]*entities.DepositRequest),
		exchanges:   make(map[string]*entities.ExchangeRequest),
		memberships: make(map[string]*entities.PremiumMembership),
		grants:      make(map[string]struct{}),
		accruals:    make(map[string]struct{}),
		purchases:   make(map[string]*entities.PremiumPurchaseRequest),
	}
}

func matches(f RequestFilter, userID string, status entities.RequestStatus) bool {
	if f.UserID != "" && f.UserID != userID {
		return false
	}
	if f.Status != "" && f.Status != status {
		return false
	}
	return true
}

func limited[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// CreateDeposit stores a new deposit request
func (r *MemoryRepository) CreateDeposit(ctx context.Context, req *entities.DepositRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.deposits[req.ID]; exists {
		return ErrRequestExists
	}
	reqCopy := *req
	r.deposits[req.ID] = &reqCopy
	return nil
}

// GetDeposit retrieves a deposit request by ID
func (r *MemoryRepository) GetDeposit(ctx context.Context, id string) (*entities.DepositRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, exists := r.deposits[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	reqCopy := *req
	return &reqCopy, nil
}

// ListDeposits returns matching deposit requests oldest first
func (r *MemoryRepository) ListDeposits(ctx context.Context, filter RequestFilter) ([]*entities.DepositRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entities.DepositRequest
	for _, req := range r.deposits {
		if matches(filter, req.UserID, req.Status) {
			reqCopy := *req
			result = append(result, &reqCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return limited(result, filter.Limit), nil
}

// TransitionDeposit moves a deposit request out of status from
func (r *MemoryRepository) TransitionDeposit(ctx context.Context, id string, from entities.RequestStatus, t Transition) (*entities.DepositRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.deposits[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	if req.Status != from {
		return nil, ErrStatusConflict
	}

	at := t.At
	req.Status = t.To
	req.ReviewerID = t.ReviewerID
	req.Notes = t.Notes
	req.EntryID = t.EntryID
	req.DecidedAt = &at

	reqCopy := *req
	return &reqCopy, nil
}

// CreateExchange stores a new exchange request
func (r *MemoryRepository) CreateExchange(ctx context.Context, req *entities.ExchangeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exchanges[req.ID]; exists {
		return ErrRequestExists
	}
	reqCopy := *req
	r.exchanges[req.ID] = &reqCopy
	return nil
}

// GetExchange retrieves an exchange request by ID
func (r *MemoryRepository) GetExchange(ctx context.Context, id string) (*entities.ExchangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, exists := r.exchanges[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	reqCopy := *req
	return &reqCopy, nil
}

// ListExchanges returns matching exchange requests oldest first
func (r *MemoryRepository) ListExchanges(ctx context.Context, filter RequestFilter) ([]*entities.ExchangeRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entities.ExchangeRequest
	for _, req := range r.exchanges {
		if matches(filter, req.UserID, req.Status) {
			reqCopy := *req
			result = append(result, &reqCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return limited(result, filter.Limit), nil
}

// MarkExchangeFulfilled moves a pending exchange to fulfilled
func (r *MemoryRepository) MarkExchangeFulfilled(ctx context.Context, id string, at time.Time) (*entities.ExchangeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.exchanges[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	if req.Status != entities.StatusPending {
		return nil, ErrStatusConflict
	}
	req.Status = entities.StatusFulfilled
	req.FulfilledAt = &at

	reqCopy := *req
	return &reqCopy, nil
}

// GetMembership retrieves a user's membership
func (r *MemoryRepository) GetMembership(ctx context.Context, userID string) (*entities.PremiumMembership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.memberships[userID]
	if !exists {
		return nil, ErrMembershipNotFound
	}
	mCopy := *m
	return &mCopy, nil
}

// GrantMembership upserts a membership once per grant reference
func (r *MemoryRepository) GrantMembership(ctx context.Context, grantRef string, m *entities.PremiumMembership) (*entities.PremiumMembership, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.grants[grantRef]; done {
		current, exists := r.memberships[m.UserID]
		if !exists {
			return nil, false, ErrMembershipNotFound
		}
		mCopy := *current
		return &mCopy, false, nil
	}

	stored := *m
	if current, exists := r.memberships[m.UserID]; exists {
		stored.TotalChatPointsEarned = current.TotalChatPointsEarned
	}
	r.memberships[m.UserID] = &stored
	r.grants[grantRef] = struct{}{}

	mCopy := stored
	return &mCopy, true, nil
}

// GrantRecorded reports whether a grant reference was applied
func (r *MemoryRepository) GrantRecorded(ctx context.Context, grantRef string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, done := r.grants[grantRef]
	return done, nil
}

// RecordAccrual adds to the earned total once per key
func (r *MemoryRepository) RecordAccrual(ctx context.Context, userID, key string, amount decimal.Decimal, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.memberships[userID]
	if !exists {
		return false, ErrMembershipNotFound
	}
	if _, done := r.accruals[key]; done {
		return false, nil
	}
	r.accruals[key] = struct{}{}
	m.TotalChatPointsEarned = m.TotalChatPointsEarned.Add(amount)
	m.UpdatedAt = at.UTC()
	return true, nil
}

// ExpireMemberships deactivates lapsed memberships
func (r *MemoryRepository) ExpireMemberships(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, m := range r.memberships {
		if m.IsActive && !m.ExpiresAt.After(now) {
			m.IsActive = false
			m.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// CreatePurchaseRequest stores a new premium purchase request
func (r *MemoryRepository) CreatePurchaseRequest(ctx context.Context, req *entities.PremiumPurchaseRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.purchases[req.ID]; exists {
		return ErrRequestExists
	}
	reqCopy := *req
	r.purchases[req.ID] = &reqCopy
	return nil
}

// GetPurchaseRequest retrieves a premium purchase request by ID
func (r *MemoryRepository) GetPurchaseRequest(ctx context.Context, id string) (*entities.PremiumPurchaseRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, exists := r.purchases[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	reqCopy := *req
	return &reqCopy, nil
}

// ListPurchaseRequests returns matching purchase requests oldest first
func (r *MemoryRepository) ListPurchaseRequests(ctx context.Context, filter RequestFilter) ([]*entities.PremiumPurchaseRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entities.PremiumPurchaseRequest
	for _, req := range r.purchases {
		if matches(filter, req.UserID, req.Status) {
			reqCopy := *req
			result = append(result, &reqCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return limited(result, filter.Limit), nil
}

// TransitionPurchaseRequest moves a purchase request out of status from
func (r *MemoryRepository) TransitionPurchaseRequest(ctx context.Context, id string, from entities.RequestStatus, t Transition) (*entities.PremiumPurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.purchases[id]
	if !exists {
		return nil, ErrRequestNotFound
	}
	if req.Status != from {
		return nil, ErrStatusConflict
	}

	at := t.At
	req.Status = t.To
	req.ReviewerID = t.ReviewerID
	req.Notes = t.Notes
	req.EntryID = t.EntryID
	req.DecidedAt = &at

	reqCopy := *req
	return &reqCopy, nil
}

// Close is a no-op for the memory repository
func (r *MemoryRepository) Close() error {
	return nil
}
