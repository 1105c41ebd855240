// Package exchange turns points into catalog rewards.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/metrics"
	"github.com/fadedpez/pointledger/pkg/repositories/catalog"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the part of the ledger service exchanges need
type Ledger interface {
	GetBalance(ctx context.Context, userID string, l entities.Ledger) (decimal.Decimal, error)
	Credit(ctx context.Context, p ledger.Posting) (*entities.LedgerEntry, error)
	Debit(ctx context.Context, p ledger.Posting) (*entities.LedgerEntry, error)
}

// Service handles point exchanges
type Service struct {
	repo    workflow.ExchangeRepository
	catalog catalog.Repository
	ledger  Ledger
	metrics *metrics.Metrics
	log     *logging.Logger
	now     func() time.Time
}

// NewService creates a new exchange service
func NewService(repo workflow.ExchangeRepository, c catalog.Repository, l Ledger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		catalog: c,
		ledger:  l,
		metrics: m,
		log:     logging.Default.WithField("component", "exchange"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestExchange spends the item's points and records a pending request
// for fulfillment. The balance check here only gives an early answer; the
// debit itself is what guarantees the points are there.
func (s *Service) RequestExchange(ctx context.Context, userID, itemID string) (*entities.ExchangeRequest, error) {
	if userID == "" || itemID == "" {
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "user id and item id are required")
	}

	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "withdrawal item not found", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load withdrawal item", err)
	}
	if !item.IsActive {
		return nil, types.NewLedgerError(types.ErrInvalidState, fmt.Sprintf("item %s is not available", item.ID))
	}

	settings, err := s.catalog.GetExchangeSettings(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load exchange settings", err)
	}
	if !settings.Enabled {
		return nil, types.NewLedgerError(types.ErrExchangeDisabled, "point exchange is disabled")
	}

	balance, err := s.ledger.GetBalance(ctx, userID, entities.LedgerPoints)
	if err != nil {
		return nil, err
	}
	needed := decimal.Max(settings.MinimumPoints, item.PointsRequired)
	if balance.LessThan(needed) {
		return nil, types.NewLedgerError(types.ErrInsufficientFunds,
			fmt.Sprintf("exchange needs at least %s points, balance is %s", needed, balance))
	}

	requestID := uuid.New().String()
	entry, err := s.ledger.Debit(ctx, ledger.Posting{
		UserID:      userID,
		Ledger:      entities.LedgerPoints,
		Amount:      item.PointsRequired,
		Kind:        entities.KindExchange,
		ReferenceID: requestID,
		Description: "Exchange for " + item.Name,
	})
	if err != nil {
		return nil, err
	}

	req := &entities.ExchangeRequest{
		ID:          requestID,
		UserID:      userID,
		ItemID:      item.ID,
		PointsSpent: item.PointsRequired,
		Status:      entities.StatusPending,
		EntryID:     entry.ID,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateExchange(ctx, req); err != nil {
		s.refund(ctx, entry)
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to save exchange request", err)
	}

	s.metrics.Decision("exchange", string(entities.StatusPending))
	s.log.WithFields(map[string]interface{}{"user_id": userID, "request_id": requestID}).
		Info("Exchanged %s points for %s", item.PointsRequired, item.ID)
	return req, nil
}

// refund returns the points of a debit whose request could not be saved
func (s *Service) refund(ctx context.Context, debit *entities.LedgerEntry) {
	_, err := s.ledger.Credit(ctx, ledger.Posting{
		UserID:      debit.UserID,
		Ledger:      debit.Ledger,
		Amount:      debit.Amount.Abs(),
		Kind:        entities.KindRefund,
		ReferenceID: debit.ID,
		Description: "Refund for failed exchange",
	})
	if err != nil {
		s.log.WithField("entry_id", debit.ID).Error("Refund of failed exchange did not apply: %v", err)
	}
}

// MarkFulfilled records that the reward was handed over
func (s *Service) MarkFulfilled(ctx context.Context, requestID string) (*entities.ExchangeRequest, error) {
	req, err := s.repo.MarkExchangeFulfilled(ctx, requestID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrRequestNotFound):
			return nil, types.WrapError(types.ErrNotFound, "exchange request not found", err)
		case errors.Is(err, workflow.ErrStatusConflict):
			return nil, types.WrapError(types.ErrInvalidState, "exchange request is already fulfilled", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to update exchange request", err)
	}
	s.metrics.Decision("exchange", string(req.Status))
	return req, nil
}

// GetExchange returns an exchange request
func (s *Service) GetExchange(ctx context.Context, requestID string) (*entities.ExchangeRequest, error) {
	req, err := s.repo.GetExchange(ctx, requestID)
	if err != nil {
		if errors.Is(err, workflow.ErrRequestNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "exchange request not found", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load exchange request", err)
	}
	return req, nil
}

// ListExchanges returns a user's exchanges oldest first; an empty user lists everyone's
func (s *Service) ListExchanges(ctx context.Context, filter workflow.RequestFilter) ([]*entities.ExchangeRequest, error) {
	reqs, err := s.repo.ListExchanges(ctx, filter)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to list exchange requests", err)
	}
	return reqs, nil
}

// ListItems returns the withdrawal catalog
func (s *Service) ListItems(ctx context.Context) ([]*entities.WithdrawalItem, error) {
	items, err := s.catalog.ListItems(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to list withdrawal items", err)
	}
	return items, nil
}
