package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanType distinguishes recurring plans from one-off purchases
type PlanType string

const (
	PlanSubscription     PlanType = "subscription"
	PlanMicrotransaction PlanType = "microtransaction"
)

// PremiumPlan is a static catalog entry for premium membership
type PremiumPlan struct {
	ID              string           `json:"id" mapstructure:"id"`
	Name            string           `json:"name" mapstructure:"name"`
	Type            PlanType         `json:"type" mapstructure:"type"`
	DurationMonths  int              `json:"duration_months" mapstructure:"duration_months"`
	PricePoints     decimal.Decimal  `json:"price_points" mapstructure:"price_points"`
	PriceCurrency   *decimal.Decimal `json:"price_currency,omitempty" mapstructure:"price_currency"`
	PointsPerMinute decimal.Decimal  `json:"points_per_minute" mapstructure:"points_per_minute"`
}

// PremiumMembership tracks a user's premium period and chat accrual
type PremiumMembership struct {
	UserID                string          `json:"user_id"`
	PlanID                string          `json:"plan_id"`
	IsActive              bool            `json:"is_active"`
	StartedAt             time.Time       `json:"started_at"`
	ExpiresAt             time.Time       `json:"expires_at"`
	PointsPerMinute       decimal.Decimal `json:"points_per_minute"`
	TotalChatPointsEarned decimal.Decimal `json:"total_chat_points_earned"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// ActiveAt reports whether the membership grants premium at the given time
func (m *PremiumMembership) ActiveAt(now time.Time) bool {
	return m != nil && m.IsActive && m.ExpiresAt.After(now)
}

// PremiumPurchaseRequest is a manually paid premium purchase awaiting review
type PremiumPurchaseRequest struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	PlanID          string          `json:"plan_id"`
	ContactPhone    string          `json:"contact_phone"`
	Status          RequestStatus   `json:"status"`
	PointsPerMinute decimal.Decimal `json:"points_per_minute"`
	ReviewerID      string          `json:"reviewer_id,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	EntryID         string          `json:"entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
