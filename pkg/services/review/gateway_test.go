package review

import (
	"context"
	"testing"

	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDeposits struct {
	mock.Mock
}

func (m *mockDeposits) DecideDeposit(ctx context.Context, requestID string, decision entities.Decision, reviewerID, notes string) (*entities.DepositRequest, error) {
	args := m.Called(ctx, requestID, decision, reviewerID, notes)
	req, _ := args.Get(0).(*entities.DepositRequest)
	return req, args.Error(1)
}

type mockPurchases struct {
	mock.Mock
}

func (m *mockPurchases) DecidePurchase(ctx context.Context, requestID string, decision entities.Decision, reviewerID, notes string) (*entities.PremiumPurchaseRequest, error) {
	args := m.Called(ctx, requestID, decision, reviewerID, notes)
	req, _ := args.Get(0).(*entities.PremiumPurchaseRequest)
	return req, args.Error(1)
}

func TestReviewRoutesByType(t *testing.T) {
	deposits := new(mockDeposits)
	purchases := new(mockPurchases)
	gateway := NewGateway(deposits, purchases)

	deposits.On("DecideDeposit", mock.Anything, "d1", entities.DecisionApprove, "admin", "").
		Return(&entities.DepositRequest{ID: "d1", Status: entities.StatusApproved, EntryID: "e1"}, nil)
	purchases.On("DecidePurchase", mock.Anything, "p1", entities.DecisionReject, "admin", "no").
		Return(&entities.PremiumPurchaseRequest{ID: "p1", Status: entities.StatusRejected}, nil)

	outcome, err := gateway.Review(context.Background(), Decision{
		RequestType: RequestDeposit, RequestID: "d1", Decision: entities.DecisionApprove, ReviewerID: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, &Outcome{RequestID: "d1", Status: entities.StatusApproved, EntryID: "e1"}, outcome)

	outcome, err = gateway.Review(context.Background(), Decision{
		RequestType: RequestPremium, RequestID: "p1", Decision: entities.DecisionReject, ReviewerID: "admin", Notes: "no",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusRejected, outcome.Status)

	deposits.AssertExpectations(t)
	purchases.AssertExpectations(t)
}

func TestReviewTreatsAlreadyDecidedAsSuccess(t *testing.T) {
	deposits := new(mockDeposits)
	gateway := NewGateway(deposits, new(mockPurchases))

	deposits.On("DecideDeposit", mock.Anything, "d1", entities.DecisionReject, "admin", "late").
		Return(&entities.DepositRequest{ID: "d1", Status: entities.StatusApproved, EntryID: "e1"},
			types.NewLedgerError(types.ErrAlreadyDecided, "deposit request is already approved"))

	outcome, err := gateway.Review(context.Background(), Decision{
		RequestType: RequestDeposit, RequestID: "d1", Decision: entities.DecisionReject, ReviewerID: "admin", Notes: "late",
	})
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyDecided)
	assert.Equal(t, entities.StatusApproved, outcome.Status)
	assert.Equal(t, "e1", outcome.EntryID)
}

func TestReviewPassesErrorsThrough(t *testing.T) {
	deposits := new(mockDeposits)
	gateway := NewGateway(deposits, new(mockPurchases))

	deposits.On("DecideDeposit", mock.Anything, "d1", entities.DecisionApprove, "admin", "").
		Return(nil, types.NewLedgerError(types.ErrStoreUnavailable, "down"))

	_, err := gateway.Review(context.Background(), Decision{
		RequestType: RequestDeposit, RequestID: "d1", Decision: entities.DecisionApprove, ReviewerID: "admin",
	})
	assert.True(t, types.IsLedgerError(err, types.ErrStoreUnavailable))

	_, err = gateway.Review(context.Background(), Decision{RequestType: "refund", RequestID: "x"})
	assert.True(t, types.IsLedgerError(err, types.ErrInvalidArgument))
}
