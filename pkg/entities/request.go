package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle state of a reviewed request
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
	StatusFulfilled RequestStatus = "fulfilled"
)

// Terminal reports whether no further transition is allowed from s
func (s RequestStatus) Terminal() bool {
	return s != StatusPending
}

// Decision is a reviewer's verdict on a pending request
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// DepositRequest is a user's claim that money was paid in, awaiting review
type DepositRequest struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	EvidenceRef string          `json:"evidence_ref"`
	Status      RequestStatus   `json:"status"`
	ReviewerID  string          `json:"reviewer_id,omitempty"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	EntryID     string          `json:"entry_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WithdrawalItem is a catalog reward that points can be exchanged for
type WithdrawalItem struct {
	ID             string          `json:"id" mapstructure:"id"`
	Name           string          `json:"name" mapstructure:"name"`
	PointsRequired decimal.Decimal `json:"points_required" mapstructure:"points_required"`
	ValueAmount    decimal.Decimal `json:"value_amount" mapstructure:"value_amount"`
	IsActive       bool            `json:"is_active" mapstructure:"is_active"`
}

// ExchangeSettings are the global switches for point exchange
type ExchangeSettings struct {
	Enabled       bool            `json:"enabled" mapstructure:"enabled"`
	MinimumPoints decimal.Decimal `json:"minimum_points" mapstructure:"minimum_points"`
}

// ExchangeRequest records a settled point exchange awaiting fulfillment
type ExchangeRequest struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ItemID      string          `json:"item_id"`
	PointsSpent decimal.Decimal `json:"points_spent"`
	Status      RequestStatus   `json:"status"`
	EntryID     string          `json:"entry_id"`
	CreatedAt   time.Time       `json:"created_at"`
	FulfilledAt *time.Time      `json:"fulfilled_at,omitempty"`
}
