// Package review routes reviewer decisions to the workflow that owns the
// request. It holds no business rules of its own.
package review

import (
	"context"
	"fmt"

	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
)

// RequestType names the workflow a decision is meant for
type RequestType string

const (
	RequestDeposit RequestType = "deposit"
	RequestPremium RequestType = "premium"
)

// Decision is a reviewer's verdict on one request
type Decision struct {
	RequestType RequestType       `json:"request_type"`
	RequestID   string            `json:"request_id"`
	Decision    entities.Decision `json:"decision"`
	ReviewerID  string            `json:"reviewer_id"`
	Notes       string            `json:"notes,omitempty"`
}

// Outcome reports where the request ended up
type Outcome struct {
	RequestID string                 `json:"request_id"`
	Status    entities.RequestStatus `json:"status"`
	EntryID   string                 `json:"entry_id,omitempty"`
	// AlreadyDecided is set when the request had been settled before this decision
	AlreadyDecided bool `json:"already_decided"`
}

// DepositDecider is implemented by the deposit workflow
type DepositDecider interface {
	DecideDeposit(ctx context.Context, requestID string, decision entities.Decision, reviewerID, notes string) (*entities.DepositRequest, error)
}

// PurchaseDecider is implemented by premium billing
type PurchaseDecider interface {
	DecidePurchase(ctx context.Context, requestID string, decision entities.Decision, reviewerID, notes string) (*entities.PremiumPurchaseRequest, error)
}

// Gateway forwards decisions to the deposit and premium workflows
type Gateway struct {
	deposits  DepositDecider
	purchases PurchaseDecider
}

// NewGateway creates a new review gateway
func NewGateway(deposits DepositDecider, purchases PurchaseDecider) *Gateway {
	return &Gateway{deposits: deposits, purchases: purchases}
}

// Review applies d. A request that was already decided is not an error;
// the outcome carries the stored decision instead.
func (g *Gateway) Review(ctx context.Context, d Decision) (*Outcome, error) {
	var (
		outcome *Outcome
		err     error
	)

	switch d.RequestType {
	case RequestDeposit:
		var req *entities.DepositRequest
		req, err = g.deposits.DecideDeposit(ctx, d.RequestID, d.Decision, d.ReviewerID, d.Notes)
		if req != nil {
			outcome = &Outcome{RequestID: req.ID, Status: req.Status, EntryID: req.EntryID}
		}
	case RequestPremium:
		var req *entities.PremiumPurchaseRequest
		req, err = g.purchases.DecidePurchase(ctx, d.RequestID, d.Decision, d.ReviewerID, d.Notes)
		if req != nil {
			outcome = &Outcome{RequestID: req.ID, Status: req.Status, EntryID: req.EntryID}
		}
	default:
		return nil, types.NewLedgerError(types.ErrInvalidArgument, fmt.Sprintf("unknown request type %q", d.RequestType))
	}

	if types.IsLedgerError(err, types.ErrAlreadyDecided) && outcome != nil {
		outcome.AlreadyDecided = true
		return outcome, nil
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
