package premium

import (
	"context"
	"errors"

	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/google/uuid"
)

// SubmitPurchaseRequest records a premium purchase that a reviewer settles
// after contacting the user
func (s *Service) SubmitPurchaseRequest(ctx context.Context, userID, planID, contactPhone string) (*entities.PremiumPurchaseRequest, error) {
	if userID == "" || contactPhone == "" {
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "user id and contact phone are required")
	}
	plan, err := s.plan(ctx, planID, entities.PlanSubscription)
	if err != nil {
		return nil, err
	}

	req := &entities.PremiumPurchaseRequest{
		ID:              uuid.New().String(),
		UserID:          userID,
		PlanID:          plan.ID,
		ContactPhone:    contactPhone,
		Status:          entities.StatusPending,
		PointsPerMinute: plan.PointsPerMinute,
		CreatedAt:       s.now(),
	}
	if err := s.repo.CreatePurchaseRequest(ctx, req); err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to save purchase request", err)
	}

	s.metrics.Decision("premium", string(entities.StatusPending))
	s.log.WithFields(map[string]interface{}{"user_id": userID, "request_id": req.ID}).
		Info("Premium purchase of %s requested", plan.ID)
	return req, nil
}

// DecidePurchase approves or rejects a pending purchase request. Approval
// runs the same charge and grant as a direct subscription, keyed by the
// request id, so retrying a failed approval never charges twice. A request
// whose approval was charged but not recorded can only end up approved.
func (s *Service) DecidePurchase(ctx context.Context, requestID string, decision entities.Decision, reviewerID, notes string) (*entities.PremiumPurchaseRequest, error) {
	switch {
	case !decision.Valid():
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "decision must be approve or reject")
	case reviewerID == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "reviewer id is required")
	case decision == entities.DecisionReject && notes == "":
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "rejection requires notes")
	}

	unlock := s.requestLocks.Lock(requestID)
	defer unlock()

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return req, requestDecided(req.Status)
	}

	if decision == entities.DecisionReject {
		started, err := s.approvalStarted(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if started {
			return s.completeApproval(ctx, req, reviewerID)
		}
	}

	t := workflow.Transition{
		To:         entities.StatusRejected,
		ReviewerID: reviewerID,
		Notes:      notes,
		At:         s.now(),
	}
	if decision == entities.DecisionApprove {
		if t, err = s.approve(ctx, req, reviewerID); err != nil {
			return nil, err
		}
	}

	decided, err := s.transition(ctx, req.ID, t)
	if err != nil {
		return decided, err
	}

	s.log.WithFields(map[string]interface{}{"request_id": req.ID, "reviewer_id": reviewerID}).
		Info("Premium purchase %s", decided.Status)
	return decided, nil
}

// CancelPurchaseRequest lets the owner withdraw a request before it is reviewed
func (s *Service) CancelPurchaseRequest(ctx context.Context, requestID, userID string) (*entities.PremiumPurchaseRequest, error) {
	unlock := s.requestLocks.Lock(requestID)
	defer unlock()

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, types.NewLedgerError(types.ErrPermissionDenied, "only the owner can cancel a purchase request")
	}
	if req.Status.Terminal() {
		return req, requestDecided(req.Status)
	}

	started, err := s.approvalStarted(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if started {
		return s.completeApproval(ctx, req, "")
	}

	cancelled, err := s.repo.TransitionPurchaseRequest(ctx, req.ID, entities.StatusPending, workflow.Transition{
		To: entities.StatusCancelled,
		At: s.now(),
	})
	if err != nil {
		if errors.Is(err, workflow.ErrStatusConflict) {
			return nil, types.WrapError(types.ErrAlreadyDecided, "purchase request was decided meanwhile", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to cancel purchase request", err)
	}

	s.metrics.Decision("premium", string(cancelled.Status))
	return cancelled, nil
}

// approve charges and grants the requested plan and returns the transition
// to approved
func (s *Service) approve(ctx context.Context, req *entities.PremiumPurchaseRequest, reviewerID string) (workflow.Transition, error) {
	plan, err := s.plan(ctx, req.PlanID, entities.PlanSubscription)
	if err != nil {
		return workflow.Transition{}, err
	}
	_, charge, err := s.subscribe(ctx, req.UserID, plan, req.ID, req.PointsPerMinute)
	if err != nil {
		s.log.WithField("request_id", req.ID).Warn("Premium approval failed, request stays pending: %v", err)
		return workflow.Transition{}, err
	}

	t := workflow.Transition{To: entities.StatusApproved, ReviewerID: reviewerID, At: s.now()}
	if charge != nil {
		t.EntryID = charge.ID
	}
	return t, nil
}

// approvalStarted reports whether an earlier approval of the request left an
// unrefunded charge or a recorded grant behind
func (s *Service) approvalStarted(ctx context.Context, requestID string) (bool, error) {
	for i := 0; i < maxChargeAttempts; i++ {
		charge, err := s.ledger.FindEntry(ctx, entities.KindPremiumPurchase, chargeRef(requestID, i))
		if types.IsLedgerError(err, types.ErrNotFound) {
			break
		}
		if err != nil {
			return false, err
		}

		_, err = s.ledger.FindEntry(ctx, entities.KindRefund, charge.ID)
		if types.IsLedgerError(err, types.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}

	granted, err := s.repo.GrantRecorded(ctx, grantRef(requestID))
	if err != nil {
		return false, types.WrapError(types.ErrStoreUnavailable, "failed to load membership grant", err)
	}
	return granted, nil
}

// completeApproval replays a half-finished approval and records it. The
// request comes back approved with ALREADY_DECIDED.
func (s *Service) completeApproval(ctx context.Context, req *entities.PremiumPurchaseRequest, reviewerID string) (*entities.PremiumPurchaseRequest, error) {
	t, err := s.approve(ctx, req, reviewerID)
	if err != nil {
		return nil, err
	}
	decided, err := s.transition(ctx, req.ID, t)
	if err != nil {
		return decided, err
	}

	s.log.WithFields(map[string]interface{}{"request_id": req.ID, "entry_id": t.EntryID}).
		Warn("Premium purchase was already charged, completed the approval")
	return decided, requestDecided(decided.Status)
}

func (s *Service) transition(ctx context.Context, requestID string, t workflow.Transition) (*entities.PremiumPurchaseRequest, error) {
	decided, err := s.repo.TransitionPurchaseRequest(ctx, requestID, entities.StatusPending, t)
	if err != nil {
		if errors.Is(err, workflow.ErrStatusConflict) {
			current, getErr := s.getRequest(ctx, requestID)
			if getErr != nil {
				return nil, getErr
			}
			return current, requestDecided(current.Status)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to record decision", err)
	}
	s.metrics.Decision("premium", string(decided.Status))
	return decided, nil
}

// GetPurchaseRequest returns a purchase request
func (s *Service) GetPurchaseRequest(ctx context.Context, requestID string) (*entities.PremiumPurchaseRequest, error) {
	return s.getRequest(ctx, requestID)
}

// ListPurchaseRequests returns requests matching filter oldest first
func (s *Service) ListPurchaseRequests(ctx context.Context, filter workflow.RequestFilter) ([]*entities.PremiumPurchaseRequest, error) {
	reqs, err := s.repo.ListPurchaseRequests(ctx, filter)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to list purchase requests", err)
	}
	return reqs, nil
}

func (s *Service) getRequest(ctx context.Context, requestID string) (*entities.PremiumPurchaseRequest, error) {
	req, err := s.repo.GetPurchaseRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, workflow.ErrRequestNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "purchase request not found", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load purchase request", err)
	}
	return req, nil
}

func requestDecided(status entities.RequestStatus) error {
	return types.NewLedgerError(types.ErrAlreadyDecided, "purchase request is already "+string(status))
}
