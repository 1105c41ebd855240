package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/fadedpez/pointledger/pkg/idempotency"
	"github.com/fadedpez/pointledger/pkg/metrics"
	ledgerRepo "github.com/fadedpez/pointledger/pkg/repositories/ledger"
	mock_ledger "github.com/fadedpez/pointledger/pkg/repositories/ledger/mock"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BalanceChanged
	err    error
}

func (p *recordingPublisher) PublishBalanceChanged(ctx context.Context, e events.BalanceChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type ServiceTestSuite struct {
	suite.Suite
	store     *ledgerRepo.MemoryStore
	cache     *idempotency.MemoryCache
	publisher *recordingPublisher
	service   *ledger.Service
	ctx       context.Context
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = ledgerRepo.NewMemoryStore()
	s.cache = idempotency.NewMemoryCache(time.Minute)
	s.publisher = &recordingPublisher{}
	s.service = ledger.NewService(s.store,
		ledger.WithCache(s.cache),
		ledger.WithPublisher(s.publisher),
		ledger.WithMetrics(metrics.New()),
		ledger.WithInitialBalances(d("100"), decimal.Zero),
	)
	_, created, err := s.service.OpenAccount(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().True(created)
}

func (s *ServiceTestSuite) credit(ref string, amount string) (*entities.LedgerEntry, error) {
	return s.service.Credit(s.ctx, ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerPoints, Amount: d(amount),
		Kind: entities.KindDeposit, ReferenceID: ref,
	})
}

func (s *ServiceTestSuite) TestOpenAccountUsesInitialBalances() {
	account, created, err := s.service.OpenAccount(s.ctx, "u1")
	s.Require().NoError(err)
	s.False(created)
	s.True(account.PointsBalance.Equal(d("100")))
	s.True(account.WalletBalance.IsZero())
}

func (s *ServiceTestSuite) TestCreditAndDebit() {
	entry, err := s.credit("r1", "25.5")
	s.Require().NoError(err)
	s.True(entry.BalanceAfter.Equal(d("125.5")))

	entry, err = s.service.Debit(s.ctx, ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("0.5"),
		Kind: entities.KindPurchase, ReferenceID: "order-1",
	})
	s.Require().NoError(err)
	s.True(entry.Amount.Equal(d("-0.5")))
	s.True(entry.BalanceAfter.Equal(d("125")))

	balance, err := s.service.GetBalance(s.ctx, "u1", entities.LedgerPoints)
	s.Require().NoError(err)
	s.True(balance.Equal(d("125")))
	s.Equal(2, s.publisher.count())
}

func (s *ServiceTestSuite) TestReplayReturnsFirstEntry() {
	first, err := s.credit("r1", "10")
	s.Require().NoError(err)

	second, err := s.credit("r1", "10")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	// Without the cache the store lookup still answers
	uncached := ledger.NewService(s.store)
	third, err := uncached.Credit(s.ctx, ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("10"),
		Kind: entities.KindDeposit, ReferenceID: "r1",
	})
	s.Require().NoError(err)
	s.Equal(first.ID, third.ID)

	entries, err := s.service.ListEntries(s.ctx, "u1", entities.LedgerPoints, 0)
	s.Require().NoError(err)
	s.Len(entries, 1)
	s.Equal(1, s.publisher.count())
}

func (s *ServiceTestSuite) TestReferenceReusedForDifferentAmount() {
	_, err := s.credit("r1", "10")
	s.Require().NoError(err)

	_, err = s.credit("r1", "11")
	s.True(types.IsLedgerError(err, types.ErrDuplicateReference))
}

func (s *ServiceTestSuite) TestInsufficientFunds() {
	_, err := s.service.Debit(s.ctx, ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("100.01"),
		Kind: entities.KindPurchase, ReferenceID: "order-1",
	})
	s.True(types.IsLedgerError(err, types.ErrInsufficientFunds))

	balance, err := s.service.GetBalance(s.ctx, "u1", entities.LedgerPoints)
	s.Require().NoError(err)
	s.True(balance.Equal(d("100")))
	s.Equal(0, s.publisher.count())
}

func (s *ServiceTestSuite) TestUnknownAccount() {
	_, err := s.service.Credit(s.ctx, ledger.Posting{
		UserID: "ghost", Ledger: entities.LedgerPoints, Amount: d("1"),
		Kind: entities.KindDeposit, ReferenceID: "r1",
	})
	s.True(types.IsLedgerError(err, types.ErrNotFound))
}

func (s *ServiceTestSuite) TestInvalidPostings() {
	valid := ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("1"),
		Kind: entities.KindDeposit, ReferenceID: "r1",
	}
	tests := []struct {
		name   string
		modify func(p *ledger.Posting)
	}{
		{"zero amount", func(p *ledger.Posting) { p.Amount = decimal.Zero }},
		{"negative amount", func(p *ledger.Posting) { p.Amount = d("-1") }},
		{"empty reference", func(p *ledger.Posting) { p.ReferenceID = "" }},
		{"empty user", func(p *ledger.Posting) { p.UserID = "" }},
		{"bad ledger", func(p *ledger.Posting) { p.Ledger = "gold" }},
		{"bad kind", func(p *ledger.Posting) { p.Kind = "gift" }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			p := valid
			tt.modify(&p)
			_, err := s.service.Credit(s.ctx, p)
			s.True(types.IsLedgerError(err, types.ErrInvalidArgument), "got %v", err)
		})
	}
}

func (s *ServiceTestSuite) TestConcurrentDebitsNeverOverdraw() {
	_, err := s.credit("seed", "300")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.service.Debit(s.ctx, ledger.Posting{
				UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("300"),
				Kind: entities.KindPurchase, ReferenceID: []string{"a", "b"}[i],
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			s.True(types.IsLedgerError(err, types.ErrInsufficientFunds))
			failures++
		}
	}
	s.Equal(1, failures)

	balance, err := s.service.GetBalance(s.ctx, "u1", entities.LedgerPoints)
	s.Require().NoError(err)
	s.True(balance.Equal(d("100")))
}

func (s *ServiceTestSuite) TestApplyLinkedIsAtomic() {
	entries, err := s.service.ApplyLinked(s.ctx,
		ledger.Posting{UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("5"),
			Kind: entities.KindPremiumPurchase, ReferenceID: "m1", Debit: true},
		ledger.Posting{UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("0.01"),
			Kind: entities.KindPremiumGrant, ReferenceID: "m1"},
	)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.True(entries[1].BalanceAfter.Equal(d("95.01")))

	// A group that would overdraw leaves nothing behind
	_, err = s.service.ApplyLinked(s.ctx,
		ledger.Posting{UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("0.01"),
			Kind: entities.KindPremiumGrant, ReferenceID: "m2"},
		ledger.Posting{UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("500"),
			Kind: entities.KindPremiumPurchase, ReferenceID: "m2", Debit: true},
	)
	s.True(types.IsLedgerError(err, types.ErrInsufficientFunds))
	_, err = s.service.FindEntry(s.ctx, entities.KindPremiumGrant, "m2")
	s.True(types.IsLedgerError(err, types.ErrNotFound))

	replayed, err := s.service.ApplyLinked(s.ctx,
		ledger.Posting{UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("5"),
			Kind: entities.KindPremiumPurchase, ReferenceID: "m1", Debit: true},
		ledger.Posting{UserID: "u1", Ledger: entities.LedgerPoints, Amount: d("0.01"),
			Kind: entities.KindPremiumGrant, ReferenceID: "m1"},
	)
	s.Require().NoError(err)
	s.Equal(entries[0].ID, replayed[0].ID)
	s.Equal(entries[1].ID, replayed[1].ID)
}

func (s *ServiceTestSuite) TestPublishFailureDoesNotFailCredit() {
	s.publisher.err = errors.New("broker down")
	entry, err := s.credit("r1", "1")
	s.Require().NoError(err)
	s.NotNil(entry)
}

func (s *ServiceTestSuite) TestReconcile() {
	_, err := s.credit("r1", "12.34")
	s.Require().NoError(err)

	results, err := s.service.Reconcile(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(results, 2)
	for _, r := range results {
		s.True(r.Consistent(), "%s drifted", r.Ledger)
	}
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_ledger.NewMockStore(ctrl)
	store.EXPECT().FindEntry(gomock.Any(), entities.KindDeposit, "r1").Return(nil, ledgerRepo.ErrEntryNotFound)
	store.EXPECT().Apply(gomock.Any(), gomock.Len(1)).Return(nil, errors.New("disk full"))

	service := ledger.NewService(store)
	_, err := service.Credit(context.Background(), ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerWallet, Amount: d("1"),
		Kind: entities.KindDeposit, ReferenceID: "r1",
	})
	assert.True(t, types.IsLedgerError(err, types.ErrStoreUnavailable))
}

func TestRaceLostToConcurrentReplayReturnsWinner(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_ledger.NewMockStore(ctrl)
	winner := &entities.LedgerEntry{
		ID: "e1", UserID: "u1", Ledger: entities.LedgerWallet, Amount: d("7"),
		Kind: entities.KindDeposit, ReferenceID: "r1", BalanceAfter: d("7"),
	}
	store.EXPECT().FindEntry(gomock.Any(), entities.KindDeposit, "r1").Return(nil, ledgerRepo.ErrEntryNotFound)
	store.EXPECT().Apply(gomock.Any(), gomock.Any()).Return([]*entities.LedgerEntry{winner}, ledgerRepo.ErrDuplicateReference)

	publisher := &recordingPublisher{}
	service := ledger.NewService(store, ledger.WithPublisher(publisher))
	entry, err := service.Credit(context.Background(), ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerWallet, Amount: d("7"),
		Kind: entities.KindDeposit, ReferenceID: "r1",
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", entry.ID)
	assert.Equal(t, 0, publisher.count())
}
