package premium

import (
	"context"
	"errors"
	"fmt"

	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/shopspring/decimal"
)

// accrualScale matches the precision the ledger stores
const accrualScale = 8

var sixty = decimal.NewFromInt(60)

// AccrualKey identifies one chat interval; it doubles as the ledger reference
func AccrualKey(userID, sessionID string, intervalIdx int) string {
	return fmt.Sprintf("%s:%s:%d", userID, sessionID, intervalIdx)
}

// AccruePremiumPoints pays a member for one chat interval. The same
// session and interval pay out at most once no matter how often the
// presence tracker reports it.
func (s *Service) AccruePremiumPoints(ctx context.Context, userID, sessionID string, intervalIdx int, elapsedSeconds int64) (*entities.LedgerEntry, error) {
	switch {
	case userID == "" || sessionID == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "user id and session id are required")
	case intervalIdx < 0:
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "interval index cannot be negative")
	case elapsedSeconds <= 0:
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "elapsed seconds must be positive")
	case s.config.MaxAccrualSeconds > 0 && elapsedSeconds > s.config.MaxAccrualSeconds:
		return nil, types.NewLedgerError(types.ErrInvalidArgument,
			fmt.Sprintf("interval of %ds exceeds the %ds limit", elapsedSeconds, s.config.MaxAccrualSeconds))
	}

	key := AccrualKey(userID, sessionID, intervalIdx)

	// A reported interval that already paid is answered even if the
	// membership has lapsed since
	if prior, err := s.ledger.FindEntry(ctx, entities.KindChatReward, key); err == nil {
		return prior, s.recordAccrual(ctx, userID, key, prior.Amount)
	} else if !types.IsLedgerError(err, types.ErrNotFound) {
		return nil, err
	}

	membership, err := s.repo.GetMembership(ctx, userID)
	if err != nil {
		if errors.Is(err, workflow.ErrMembershipNotFound) {
			return nil, types.WrapError(types.ErrNotActive, "user has no premium membership", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load membership", err)
	}
	if !membership.ActiveAt(s.now()) {
		return nil, types.NewLedgerError(types.ErrNotActive, "premium membership is not active")
	}

	amount := membership.PointsPerMinute.
		Mul(decimal.NewFromInt(elapsedSeconds)).
		Div(sixty).
		Round(accrualScale)
	if !amount.IsPositive() {
		return nil, types.NewLedgerError(types.ErrInvalidState, "membership earns no chat points")
	}

	entry, err := s.ledger.Credit(ctx, ledger.Posting{
		UserID:      userID,
		Ledger:      entities.LedgerPoints,
		Amount:      amount,
		Kind:        entities.KindChatReward,
		ReferenceID: key,
		Description: "Premium chat reward",
	})
	if err != nil {
		return nil, err
	}
	return entry, s.recordAccrual(ctx, userID, key, entry.Amount)
}

func (s *Service) recordAccrual(ctx context.Context, userID, key string, amount decimal.Decimal) error {
	if _, err := s.repo.RecordAccrual(ctx, userID, key, amount, s.now()); err != nil {
		s.log.WithFields(map[string]interface{}{"user_id": userID, "reference_id": key}).
			Warn("Accrual credited but total not updated: %v", err)
		return types.WrapError(types.ErrStoreUnavailable, "failed to record accrual", err)
	}
	return nil
}
