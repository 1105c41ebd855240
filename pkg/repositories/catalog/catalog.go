package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fadedpez/pointledger/pkg/entities"
)

var (
	ErrItemNotFound = errors.New("withdrawal item not found")
	ErrPlanNotFound = errors.New("premium plan not found")
	ErrInvalidEntry = errors.New("invalid catalog entry")
)

// Repository serves the admin-managed reward and plan catalog
type Repository interface {
	GetItem(ctx context.Context, id string) (*entities.WithdrawalItem, error)
	ListItems(ctx context.Context) ([]*entities.WithdrawalItem, error)
	PutItem(ctx context.Context, item *entities.WithdrawalItem) error

	GetPlan(ctx context.Context, id string) (*entities.PremiumPlan, error)
	ListPlans(ctx context.Context) ([]*entities.PremiumPlan, error)
	PutPlan(ctx context.Context, plan *entities.PremiumPlan) error

	GetExchangeSettings(ctx context.Context) (*entities.ExchangeSettings, error)
	PutExchangeSettings(ctx context.Context, settings *entities.ExchangeSettings) error
}

// MemoryRepository holds the catalog in memory; it is seeded from a file at startup
type MemoryRepository struct {
	items    map[string]*entities.WithdrawalItem
	plans    map[string]*entities.PremiumPlan
	settings entities.ExchangeSettings
	mu       sync.RWMutex
}

// NewMemoryRepository creates an empty catalog with exchange disabled
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[string]*entities.WithdrawalItem),
		plans: make(map[string]*entities.PremiumPlan),
	}
}

func validateItem(item *entities.WithdrawalItem) error {
	switch {
	case item.ID == "":
		return errors.Join(ErrInvalidEntry, errors.New("item id is empty"))
	case !item.PointsRequired.IsPositive():
		return errors.Join(ErrInvalidEntry, errors.New("item "+item.ID+" must require a positive number of points"))
	case item.ValueAmount.IsNegative():
		return errors.Join(ErrInvalidEntry, errors.New("item "+item.ID+" has a negative value"))
	}
	return nil
}

func validatePlan(plan *entities.PremiumPlan) error {
	switch {
	case plan.ID == "":
		return errors.Join(ErrInvalidEntry, errors.New("plan id is empty"))
	case plan.Type != entities.PlanSubscription && plan.Type != entities.PlanMicrotransaction:
		return errors.Join(ErrInvalidEntry, errors.New("plan "+plan.ID+" has unknown type "+string(plan.Type)))
	case plan.Type == entities.PlanSubscription && plan.DurationMonths <= 0:
		return errors.Join(ErrInvalidEntry, errors.New("subscription plan "+plan.ID+" needs a positive duration"))
	case plan.PricePoints.IsNegative() || plan.PointsPerMinute.IsNegative():
		return errors.Join(ErrInvalidEntry, errors.New("plan "+plan.ID+" has a negative price or rate"))
	case plan.PriceCurrency != nil && plan.PriceCurrency.IsNegative():
		return errors.Join(ErrInvalidEntry, errors.New("plan "+plan.ID+" has a negative currency price"))
	}
	return nil
}

// GetItem retrieves a withdrawal item by ID
func (r *MemoryRepository) GetItem(ctx context.Context, id string) (*entities.WithdrawalItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, ErrItemNotFound
	}
	itemCopy := *item
	return &itemCopy, nil
}

// ListItems returns every withdrawal item ordered by ID
func (r *MemoryRepository) ListItems(ctx context.Context) ([]*entities.WithdrawalItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entities.WithdrawalItem, 0, len(r.items))
	for _, item := range r.items {
		itemCopy := *item
		result = append(result, &itemCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// PutItem creates or replaces a withdrawal item
func (r *MemoryRepository) PutItem(ctx context.Context, item *entities.WithdrawalItem) error {
	if err := validateItem(item); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	itemCopy := *item
	r.items[item.ID] = &itemCopy
	return nil
}

// GetPlan retrieves a premium plan by ID
func (r *MemoryRepository) GetPlan(ctx context.Context, id string) (*entities.PremiumPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, exists := r.plans[id]
	if !exists {
		return nil, ErrPlanNotFound
	}
	planCopy := *plan
	return &planCopy, nil
}

// ListPlans returns every premium plan ordered by ID
func (r *MemoryRepository) ListPlans(ctx context.Context) ([]*entities.PremiumPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entities.PremiumPlan, 0, len(r.plans))
	for _, plan := range r.plans {
		planCopy := *plan
		result = append(result, &planCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// PutPlan creates or replaces a premium plan
func (r *MemoryRepository) PutPlan(ctx context.Context, plan *entities.PremiumPlan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	planCopy := *plan
	r.plans[plan.ID] = &planCopy
	return nil
}

// GetExchangeSettings returns the current exchange switches
func (r *MemoryRepository) GetExchangeSettings(ctx context.Context) (*entities.ExchangeSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settings := r.settings
	return &settings, nil
}

// PutExchangeSettings replaces the exchange switches
func (r *MemoryRepository) PutExchangeSettings(ctx context.Context, settings *entities.ExchangeSettings) error {
	if settings.MinimumPoints.IsNegative() {
		return errors.Join(ErrInvalidEntry, errors.New("minimum points must not be negative"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings = *settings
	return nil
}
