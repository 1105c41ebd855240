// Package events carries balance change notifications to whatever
// transports are configured (message broker, websockets, audit index).
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/shopspring/decimal"
)

// BalanceChanged is emitted once for every freshly appended ledger entry
type BalanceChanged struct {
	EntryID     string             `json:"entry_id"`
	UserID      string             `json:"user_id"`
	Ledger      entities.Ledger    `json:"ledger"`
	Kind        entities.EntryKind `json:"kind"`
	ReferenceID string             `json:"reference_id"`
	Amount      decimal.Decimal    `json:"amount"`
	Balance     decimal.Decimal    `json:"balance"`
	Description string             `json:"description,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// FromEntry builds the event for an entry
func FromEntry(e *entities.LedgerEntry) BalanceChanged {
	return BalanceChanged{
		EntryID:     e.ID,
		UserID:      e.UserID,
		Ledger:      e.Ledger,
		Kind:        e.Kind,
		ReferenceID: e.ReferenceID,
		Amount:      e.Amount,
		Balance:     e.BalanceAfter,
		Description: e.Description,
		OccurredAt:  e.CreatedAt,
	}
}

// RoutingKey is the topic the event is published under, e.g. balance.points.chat_reward
func (e BalanceChanged) RoutingKey() string {
	return fmt.Sprintf("balance.%s.%s", e.Ledger, e.Kind)
}

// Publisher delivers balance events
type Publisher interface {
	PublishBalanceChanged(ctx context.Context, event BalanceChanged) error
}

// Fanout delivers every event to each publisher and joins their errors
type Fanout []Publisher

// PublishBalanceChanged implements Publisher
func (f Fanout) PublishBalanceChanged(ctx context.Context, event BalanceChanged) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishBalanceChanged(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards events
type Noop struct{}

// PublishBalanceChanged implements Publisher
func (Noop) PublishBalanceChanged(context.Context, BalanceChanged) error { return nil }
