// Package deposit runs the review workflow that turns a user's deposit
// claim into a wallet credit.
package deposit

import (
	"context"
	"errors"
	"time"

	"github.com/fadedpez/pointledger/internal/keylock"
	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/metrics"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Crediter is the part of the ledger service deposits need
type Crediter interface {
	Credit(ctx context.Context, p ledger.Posting) (*entities.LedgerEntry, error)
	FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error)
}

// Service handles deposit requests
type Service struct {
	repo    workflow.DepositRepository
	ledger  Crediter
	locks   *keylock.Locker
	metrics *metrics.Metrics
	log     *logging.Logger
	now     func() time.Time
}

// NewService creates a new deposit service
func NewService(repo workflow.DepositRepository, l Crediter, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		ledger:  l,
		locks:   keylock.New(),
		metrics: m,
		log:     logging.Default.WithField("component", "deposit"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SubmitDeposit records a pending deposit claim
func (s *Service) SubmitDeposit(ctx context.Context, userID string, amount decimal.Decimal, evidenceRef string) (*entities.DepositRequest, error) {
	switch {
	case userID == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "user id is required")
	case !amount.IsPositive():
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "deposit amount must be positive")
	case evidenceRef == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "evidence reference is required")
	}

	req := &entities.DepositRequest{
		ID:          uuid.New().String(),
		UserID:      userID,
		Amount:      amount,
		EvidenceRef: evidenceRef,
		Status:      entities.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateDeposit(ctx, req); err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to save deposit request", err)
	}

	s.metrics.Decision("deposit", string(entities.StatusPending))
	s.log.WithFields(map[string]interface{}{"user_id": userID, "request_id": req.ID}).
		Info("Deposit of %s submitted", amount)
	return req, nil
}

// DecideDeposit approves or rejects a pending request. Approval credits the
// wallet before the request leaves pending, so a failed credit can simply be
// retried. A request that is no longer pending comes back unchanged together
// with an ALREADY_DECIDED error. A pending request whose credit is already in
// the ledger can only end up approved.
func (s *Service) DecideDeposit(ctx context.Context, requestID string, decision entities.Decision, reviewerID, notes string) (*entities.DepositRequest, error) {
	switch {
	case !decision.Valid():
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "decision must be approve or reject")
	case reviewerID == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "reviewer id is required")
	case decision == entities.DecisionReject && notes == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "rejection requires notes")
	}

	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, alreadyDecided(req.Status)
	}

	t := workflow.Transition{
		To:         entities.StatusRejected,
		ReviewerID: reviewerID,
		Notes:      notes,
		At:         s.now(),
	}

	if decision == entities.DecisionReject {
		credit, err := s.recordedCredit(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if credit != nil {
			return s.completeApproval(ctx, req, credit, reviewerID)
		}
	}

	if decision == entities.DecisionApprove {
		entry, err := s.ledger.Credit(ctx, ledger.Posting{
			UserID:      req.UserID,
			Ledger:      entities.LedgerWallet,
			Amount:      req.Amount,
			Kind:        entities.KindDeposit,
			ReferenceID: req.ID,
			Description: "Deposit " + req.EvidenceRef,
		})
		if err != nil {
			s.log.WithField("request_id", req.ID).Warn("Deposit credit failed, request stays pending: %v", err)
			return nil, err
		}
		t.To = entities.StatusApproved
		t.EntryID = entry.ID
	}

	decided, err := s.repo.TransitionDeposit(ctx, req.ID, entities.StatusPending, t)
	if err != nil {
		if errors.Is(err, workflow.ErrStatusConflict) {
			current, getErr := s.get(ctx, req.ID)
			if getErr != nil {
				return nil, getErr
			}
			return current, alreadyDecided(current.Status)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to record decision", err)
	}

	s.metrics.Decision("deposit", string(decided.Status))
	s.log.WithFields(map[string]interface{}{"request_id": req.ID, "reviewer_id": reviewerID}).
		Info("Deposit %s", decided.Status)
	return decided, nil
}

// CancelDeposit lets the owner withdraw a request before it is reviewed
func (s *Service) CancelDeposit(ctx context.Context, requestID, userID string) (*entities.DepositRequest, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, types.NewLedgerError(types.ErrPermissionDenied, "only the owner can cancel a deposit request")
	}
	if req.Status.Terminal() {
		return req, alreadyDecided(req.Status)
	}

	credit, err := s.recordedCredit(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if credit != nil {
		return s.completeApproval(ctx, req, credit, "")
	}

	cancelled, err := s.repo.TransitionDeposit(ctx, req.ID, entities.StatusPending, workflow.Transition{
		To: entities.StatusCancelled,
		At: s.now(),
	})
	if err != nil {
		if errors.Is(err, workflow.ErrStatusConflict) {
			return nil, types.WrapError(types.ErrAlreadyDecided, "deposit request was decided meanwhile", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to cancel deposit request", err)
	}

	s.metrics.Decision("deposit", string(cancelled.Status))
	return cancelled, nil
}

// recordedCredit returns the wallet credit an earlier approval of the
// request wrote, or nil when there is none
func (s *Service) recordedCredit(ctx context.Context, requestID string) (*entities.LedgerEntry, error) {
	entry, err := s.ledger.FindEntry(ctx, entities.KindDeposit, requestID)
	if types.IsLedgerError(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// completeApproval finishes an approval whose credit was applied but whose
// status change was not. The request comes back approved with ALREADY_DECIDED.
func (s *Service) completeApproval(ctx context.Context, req *entities.DepositRequest, credit *entities.LedgerEntry, reviewerID string) (*entities.DepositRequest, error) {
	decided, err := s.repo.TransitionDeposit(ctx, req.ID, entities.StatusPending, workflow.Transition{
		To:         entities.StatusApproved,
		ReviewerID: reviewerID,
		EntryID:    credit.ID,
		At:         s.now(),
	})
	if err != nil {
		if errors.Is(err, workflow.ErrStatusConflict) {
			current, getErr := s.get(ctx, req.ID)
			if getErr != nil {
				return nil, getErr
			}
			return current, alreadyDecided(current.Status)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to record decision", err)
	}

	s.metrics.Decision("deposit", string(decided.Status))
	s.log.WithFields(map[string]interface{}{"request_id": req.ID, "entry_id": credit.ID}).
		Warn("Deposit was already credited, completed the approval")
	return decided, alreadyDecided(decided.Status)
}

// GetDeposit returns a deposit request
func (s *Service) GetDeposit(ctx context.Context, requestID string) (*entities.DepositRequest, error) {
	return s.get(ctx, requestID)
}

// ListPending returns pending requests oldest first
func (s *Service) ListPending(ctx context.Context, limit int) ([]*entities.DepositRequest, error) {
	return s.List(ctx, workflow.RequestFilter{Status: entities.StatusPending, Limit: limit})
}

// List returns requests matching filter oldest first
func (s *Service) List(ctx context.Context, filter workflow.RequestFilter) ([]*entities.DepositRequest, error) {
	reqs, err := s.repo.ListDeposits(ctx, filter)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to list deposit requests", err)
	}
	return reqs, nil
}

func (s *Service) get(ctx context.Context, requestID string) (*entities.DepositRequest, error) {
	req, err := s.repo.GetDeposit(ctx, requestID)
	if err != nil {
		if errors.Is(err, workflow.ErrRequestNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "deposit request not found", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load deposit request", err)
	}
	return req, nil
}

func alreadyDecided(status entities.RequestStatus) error {
	return types.NewLedgerError(types.ErrAlreadyDecided, "deposit request is already "+string(status))
}
