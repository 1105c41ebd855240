// Package premium sells premium memberships for points and pays members
// for time spent in chat.
package premium

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fadedpez/pointledger/internal/keylock"
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

// maxChargeAttempts bounds how many refunded charges one reference may accumulate
const maxChargeAttempts = 100

// Ledger is the part of the ledger service premium billing needs
type Ledger interface {
	Credit(ctx context.Context, p ledger.Posting) (*entities.LedgerEntry, error)
	Debit(ctx context.Context, p ledger.Posting) (*entities.LedgerEntry, error)
	ApplyLinked(ctx context.Context, postings ...ledger.Posting) ([]*entities.LedgerEntry, error)
	FindEntry(ctx context.Context, kind entities.EntryKind, referenceID string) (*entities.LedgerEntry, error)
}

// Repository is the workflow storage premium billing needs
type Repository interface {
	workflow.MembershipRepository
	workflow.PurchaseRequestRepository
}

// Config holds the tunable billing rules
type Config struct {
	// MicroBonusPoints is credited alongside every microtransaction
	MicroBonusPoints decimal.Decimal
	// MaxAccrualSeconds caps a single accrual interval; zero disables the cap
	MaxAccrualSeconds int64
}

// Service handles premium purchases, membership and chat accrual
type Service struct {
	repo         Repository
	catalog      catalog.Repository
	ledger       Ledger
	config       Config
	userLocks    *keylock.Locker
	requestLocks *keylock.Locker
	metrics      *metrics.Metrics
	log          *logging.Logger
	now          func() time.Time
}

// NewService creates a new premium service
func NewService(repo Repository, c catalog.Repository, l Ledger, config Config, m *metrics.Metrics) *Service {
	return &Service{
		repo:         repo,
		catalog:      c,
		ledger:       l,
		config:       config,
		userLocks:    keylock.New(),
		requestLocks: keylock.New(),
		metrics:      m,
		log:          logging.Default.WithField("component", "premium"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type purchaseOptions struct {
	reference string
}

// PurchaseOption adjusts a purchase
type PurchaseOption func(*purchaseOptions)

// WithReference makes a purchase idempotent under a caller supplied key.
// Without it every call is a new purchase.
func WithReference(ref string) PurchaseOption {
	return func(o *purchaseOptions) { o.reference = ref }
}

func resolveOptions(opts []PurchaseOption) purchaseOptions {
	o := purchaseOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reference == "" {
		o.reference = uuid.New().String()
	}
	return o
}

func (s *Service) plan(ctx context.Context, planID string, want entities.PlanType) (*entities.PremiumPlan, error) {
	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, catalog.ErrPlanNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "premium plan not found", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load premium plan", err)
	}
	if plan.Type != want {
		return nil, types.NewLedgerError(types.ErrInvalidArgument,
			fmt.Sprintf("plan %s is a %s plan, not %s", plan.ID, plan.Type, want))
	}
	return plan, nil
}

// PurchaseSubscription pays for a subscription plan with points and extends
// the user's membership by the plan duration
func (s *Service) PurchaseSubscription(ctx context.Context, userID, planID string, opts ...PurchaseOption) (*entities.PremiumMembership, error) {
	if userID == "" {
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "user id is required")
	}
	plan, err := s.plan(ctx, planID, entities.PlanSubscription)
	if err != nil {
		return nil, err
	}

	o := resolveOptions(opts)
	membership, _, err := s.subscribe(ctx, userID, plan, o.reference, plan.PointsPerMinute)
	return membership, err
}

// subscribe charges the plan price under ref and grants the membership.
// When the grant cannot be stored the charge is refunded.
func (s *Service) subscribe(ctx context.Context, userID string, plan *entities.PremiumPlan, ref string, pointsPerMinute decimal.Decimal) (*entities.PremiumMembership, *entities.LedgerEntry, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	log := s.log.WithFields(map[string]interface{}{"user_id": userID, "reference_id": ref})

	grant := grantRef(ref)
	var charge *entities.LedgerEntry
	if plan.PricePoints.IsPositive() {
		chargeKey, err := s.resolveChargeRef(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		charge, err = s.ledger.Debit(ctx, ledger.Posting{
			UserID:      userID,
			Ledger:      entities.LedgerPoints,
			Amount:      plan.PricePoints,
			Kind:        entities.KindPremiumPurchase,
			ReferenceID: chargeKey,
			Description: "Premium " + plan.Name,
		})
		if err != nil {
			return nil, nil, err
		}
		grant = grantRef(chargeKey)
	}

	current, err := s.repo.GetMembership(ctx, userID)
	if err != nil && !errors.Is(err, workflow.ErrMembershipNotFound) {
		s.refund(ctx, charge, log)
		return nil, nil, types.WrapError(types.ErrStoreUnavailable, "failed to load membership", err)
	}

	next := s.extend(userID, current, plan, pointsPerMinute)
	stored, applied, err := s.repo.GrantMembership(ctx, grant, next)
	if err != nil {
		s.refund(ctx, charge, log)
		return nil, nil, types.WrapError(types.ErrStoreUnavailable, "failed to store membership", err)
	}

	if applied {
		log.Info("Membership %s now expires %s", plan.ID, stored.ExpiresAt.Format(time.RFC3339))
	} else {
		log.Debug("Membership grant already applied")
	}
	return stored, charge, nil
}

// extend computes the membership after adding one plan period. An active
// membership keeps its start date and grows from its current expiry.
func (s *Service) extend(userID string, current *entities.PremiumMembership, plan *entities.PremiumPlan, pointsPerMinute decimal.Decimal) *entities.PremiumMembership {
	now := s.now()
	next := &entities.PremiumMembership{
		UserID:                userID,
		PlanID:                plan.ID,
		IsActive:              true,
		StartedAt:             now,
		PointsPerMinute:       pointsPerMinute,
		TotalChatPointsEarned: decimal.Zero,
		UpdatedAt:             now,
	}

	base := now
	if current != nil {
		next.TotalChatPointsEarned = current.TotalChatPointsEarned
		if current.ExpiresAt.After(now) {
			base = current.ExpiresAt
		}
		if current.ActiveAt(now) {
			next.StartedAt = current.StartedAt
		}
	}
	next.ExpiresAt = base.AddDate(0, plan.DurationMonths, 0)
	return next
}

// resolveChargeRef picks the reference a charge is made under. A charge
// that was refunded after a failed grant is skipped so a retry pays again;
// an unrefunded one is reused so a retry replays it.
func (s *Service) resolveChargeRef(ctx context.Context, ref string) (string, error) {
	for i := 0; i < maxChargeAttempts; i++ {
		candidate := chargeRef(ref, i)

		charge, err := s.ledger.FindEntry(ctx, entities.KindPremiumPurchase, candidate)
		if types.IsLedgerError(err, types.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}

		_, err = s.ledger.FindEntry(ctx, entities.KindRefund, charge.ID)
		if types.IsLedgerError(err, types.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", types.NewLedgerError(types.ErrInvalidState, "too many failed charges for reference "+ref)
}

// chargeRef is the reference of the attempt-th charge made under ref
func chargeRef(ref string, attempt int) string {
	if attempt == 0 {
		return ref
	}
	return fmt.Sprintf("%s#%d", ref, attempt)
}

func grantRef(ref string) string {
	return "grant:" + ref
}

func (s *Service) refund(ctx context.Context, charge *entities.LedgerEntry, log *logging.Logger) {
	if charge == nil {
		return
	}
	_, err := s.ledger.Credit(ctx, ledger.Posting{
		UserID:      charge.UserID,
		Ledger:      charge.Ledger,
		Amount:      charge.Amount.Abs(),
		Kind:        entities.KindRefund,
		ReferenceID: charge.ID,
		Description: "Refund for failed premium grant",
	})
	if err != nil {
		log.Error("Refund of charge %s did not apply: %v", charge.ID, err)
		return
	}
	log.Warn("Refunded charge %s after failed grant", charge.ID)
}

// MicroPurchase is the pair of entries a microtransaction writes
type MicroPurchase struct {
	Charge *entities.LedgerEntry `json:"charge,omitempty"`
	Bonus  *entities.LedgerEntry `json:"bonus,omitempty"`
}

// PurchaseMicro debits the plan price and credits the configured bonus as
// one atomic pair under a single reference
func (s *Service) PurchaseMicro(ctx context.Context, userID, planID string, opts ...PurchaseOption) (*MicroPurchase, error) {
	if userID == "" {
		return nil, types.NewLedgerError(types.ErrInvalidArgument, "user id is required")
	}
	plan, err := s.plan(ctx, planID, entities.PlanMicrotransaction)
	if err != nil {
		return nil, err
	}

	o := resolveOptions(opts)
	var postings []ledger.Posting
	if plan.PricePoints.IsPositive() {
		postings = append(postings, ledger.Posting{
			UserID:      userID,
			Ledger:      entities.LedgerPoints,
			Amount:      plan.PricePoints,
			Kind:        entities.KindPremiumPurchase,
			ReferenceID: o.reference,
			Description: "Premium " + plan.Name,
			Debit:       true,
		})
	}
	if s.config.MicroBonusPoints.IsPositive() {
		postings = append(postings, ledger.Posting{
			UserID:      userID,
			Ledger:      entities.LedgerPoints,
			Amount:      s.config.MicroBonusPoints,
			Kind:        entities.KindPremiumGrant,
			ReferenceID: o.reference,
			Description: "Bonus for " + plan.Name,
		})
	}
	if len(postings) == 0 {
		return nil, types.NewLedgerError(types.ErrInvalidState, "plan "+plan.ID+" has neither a price nor a bonus")
	}

	entries, err := s.ledger.ApplyLinked(ctx, postings...)
	if err != nil {
		return nil, err
	}

	result := &MicroPurchase{}
	for _, e := range entries {
		if e.Kind == entities.KindPremiumPurchase {
			result.Charge = e
		} else {
			result.Bonus = e
		}
	}
	return result, nil
}

// GetMembership returns a user's membership
func (s *Service) GetMembership(ctx context.Context, userID string) (*entities.PremiumMembership, error) {
	m, err := s.repo.GetMembership(ctx, userID)
	if err != nil {
		if errors.Is(err, workflow.ErrMembershipNotFound) {
			return nil, types.WrapError(types.ErrNotFound, "membership not found", err)
		}
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to load membership", err)
	}
	return m, nil
}

// ExpireMemberships deactivates every membership that lapsed by now
func (s *Service) ExpireMemberships(ctx context.Context, now time.Time) (int, error) {
	count, err := s.repo.ExpireMemberships(ctx, now)
	if err != nil {
		return 0, types.WrapError(types.ErrStoreUnavailable, "failed to expire memberships", err)
	}
	if count > 0 {
		s.log.Info("Expired %d memberships", count)
	}
	return count, nil
}

// ListPlans returns the premium catalog
func (s *Service) ListPlans(ctx context.Context) ([]*entities.PremiumPlan, error) {
	plans, err := s.catalog.ListPlans(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrStoreUnavailable, "failed to list premium plans", err)
	}
	return plans, nil
}
