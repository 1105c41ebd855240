package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	discordmock "github.com/fadedpez/pointledger/internal/discord/mock"
	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/review"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type mockReviews struct {
	mock.Mock
}

func (m *mockReviews) Review(ctx context.Context, d review.Decision) (*review.Outcome, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*review.Outcome), args.Error(1)
}

type mockQueues struct {
	mock.Mock
}

func (m *mockQueues) ListPending(ctx context.Context, limit int) ([]*entities.DepositRequest, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*entities.DepositRequest), args.Error(1)
}

func (m *mockQueues) ListPurchaseRequests(ctx context.Context, filter workflow.RequestFilter) ([]*entities.PremiumPurchaseRequest, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*entities.PremiumPurchaseRequest), args.Error(1)
}

type BotTestSuite struct {
	suite.Suite
	session *discordmock.SessionHandler
	reviews *mockReviews
	queues  *mockQueues
	bot     *Bot
}

func TestBotSuite(t *testing.T) {
	suite.Run(t, new(BotTestSuite))
}

func (s *BotTestSuite) SetupTest() {
	s.session = &discordmock.SessionHandler{}
	s.session.Test(s.T())
	s.reviews = &mockReviews{}
	s.queues = &mockQueues{}
	s.bot = NewBot(s.session, Config{AppID: "app", GuildID: "guild", ReviewerRoleID: "staff"}, s.reviews, s.queues, s.queues)
}

func (s *BotTestSuite) TearDownTest() {
	s.session.AssertExpectations(s.T())
	s.reviews.AssertExpectations(s.T())
	s.queues.AssertExpectations(s.T())
}

func command(name, userID string, roles []string, opts map[string]string) *discordgo.InteractionCreate {
	var options []*discordgo.ApplicationCommandInteractionDataOption
	for k, v := range opts {
		options = append(options, &discordgo.ApplicationCommandInteractionDataOption{
			Name:  k,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: v,
		})
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:   "interaction-" + name,
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
			Member: &discordgo.Member{
				User:  &discordgo.User{ID: userID},
				Roles: roles,
			},
		},
	}
}

func contentIs(expected string) interface{} {
	return mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Data != nil && r.Data.Content == expected
	})
}

func contentContains(parts ...string) interface{} {
	return mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		if r.Data == nil {
			return false
		}
		for _, p := range parts {
			if !strings.Contains(r.Data.Content, p) {
				return false
			}
		}
		return true
	})
}

func (s *BotTestSuite) TestStartRegistersCommands() {
	s.session.On("AddHandler", mock.Anything).Return(func() {})
	s.session.On("Open").Return(nil)
	for _, cmd := range Commands {
		s.session.On("ApplicationCommandCreate", "app", "guild", cmd).
			Return(&discordgo.ApplicationCommand{ID: "id-" + cmd.Name, Name: cmd.Name}, nil).Once()
	}

	s.Require().NoError(s.bot.Start())
	s.Len(s.bot.registered, len(Commands))

	for _, cmd := range Commands {
		s.session.On("ApplicationCommandDelete", "app", "guild", "id-"+cmd.Name).Return(nil).Once()
	}
	s.session.On("Close").Return(nil)

	s.NoError(s.bot.Stop())
	s.Empty(s.bot.registered)
}

func (s *BotTestSuite) TestStartOpenFails() {
	s.session.On("AddHandler", mock.Anything).Return(func() {})
	s.session.On("Open").Return(errors.New("gateway down"))

	err := s.bot.Start()
	s.Error(err)
	s.Contains(err.Error(), "gateway down")
}

func (s *BotTestSuite) TestReviewDepositApproved() {
	i := command(CommandReviewDeposit, "rev-1", []string{"staff"}, map[string]string{
		"request_id": "dep-1",
		"decision":   "approve",
		"notes":      "bank statement ok",
	})

	s.reviews.On("Review", mock.Anything, review.Decision{
		RequestType: review.RequestDeposit,
		RequestID:   "dep-1",
		Decision:    entities.DecisionApprove,
		ReviewerID:  "rev-1",
		Notes:       "bank statement ok",
	}).Return(&review.Outcome{RequestID: "dep-1", Status: entities.StatusApproved, EntryID: "entry-9"}, nil)
	s.session.On("InteractionRespond", i.Interaction, contentIs("✅ deposit request `dep-1` is now approved (entry `entry-9`)")).Return(nil)

	s.bot.HandleInteraction(i)
}

func (s *BotTestSuite) TestReviewPremiumAlreadyDecided() {
	i := command(CommandReviewPremium, "rev-1", []string{"other", "staff"}, map[string]string{
		"request_id": "pr-1",
		"decision":   "reject",
	})

	s.reviews.On("Review", mock.Anything, mock.MatchedBy(func(d review.Decision) bool {
		return d.RequestType == review.RequestPremium && d.Decision == entities.DecisionReject
	})).Return(&review.Outcome{RequestID: "pr-1", Status: entities.StatusApproved, AlreadyDecided: true}, nil)
	s.session.On("InteractionRespond", i.Interaction, contentIs("🏁 premium request `pr-1` was already approved")).Return(nil)

	s.bot.HandleInteraction(i)
}

func (s *BotTestSuite) TestReviewErrorIsReported() {
	i := command(CommandReviewDeposit, "rev-1", []string{"staff"}, map[string]string{
		"request_id": "missing",
		"decision":   "approve",
	})

	s.reviews.On("Review", mock.Anything, mock.Anything).
		Return(nil, types.NewLedgerError(types.ErrNotFound, "deposit request not found"))
	s.session.On("InteractionRespond", i.Interaction, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Data.Content == "🔍 deposit request not found" && r.Data.Flags == discordgo.MessageFlagsEphemeral
	})).Return(nil)

	s.bot.HandleInteraction(i)
}

func (s *BotTestSuite) TestNonReviewerIsDenied() {
	testCases := []struct {
		name  string
		roles []string
		cmd   string
	}{
		{name: "no roles", roles: nil, cmd: CommandReviewDeposit},
		{name: "wrong role", roles: []string{"member"}, cmd: CommandReviewPremium},
		{name: "pending", roles: []string{"member"}, cmd: CommandPending},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			i := command(tc.cmd, "user-1", tc.roles, map[string]string{"request_id": "dep-1", "decision": "approve"})
			s.session.On("InteractionRespond", i.Interaction, contentIs("🚫 You are not allowed to review requests")).Return(nil).Once()

			s.bot.HandleInteraction(i)
		})
	}
	s.reviews.AssertNotCalled(s.T(), "Review", mock.Anything, mock.Anything)
}

func (s *BotTestSuite) TestAdministratorFallback() {
	s.bot.config.ReviewerRoleID = ""

	admin := command(CommandPending, "admin-1", nil, map[string]string{"type": "premium"})
	admin.Member.Permissions = discordgo.PermissionAdministrator
	s.queues.On("ListPurchaseRequests", mock.Anything, workflow.RequestFilter{Status: entities.StatusPending, Limit: pendingLimit}).
		Return([]*entities.PremiumPurchaseRequest{}, nil)
	s.session.On("InteractionRespond", admin.Interaction, contentIs("**Premium:** none pending\n")).Return(nil)

	s.bot.HandleInteraction(admin)

	member := command(CommandPending, "user-1", nil, nil)
	s.session.On("InteractionRespond", member.Interaction, contentIs("🚫 You are not allowed to review requests")).Return(nil)

	s.bot.HandleInteraction(member)
}

func (s *BotTestSuite) TestPendingListsBothQueues() {
	i := command(CommandPending, "rev-1", []string{"staff"}, nil)

	s.queues.On("ListPending", mock.Anything, pendingLimit).Return([]*entities.DepositRequest{
		{ID: "dep-1", UserID: "u1", Amount: decimal.RequireFromString("25.5"), EvidenceRef: "receipt-1"},
	}, nil)
	s.queues.On("ListPurchaseRequests", mock.Anything, mock.Anything).Return([]*entities.PremiumPurchaseRequest{
		{ID: "pr-1", UserID: "u2", PlanID: "monthly"},
	}, nil)
	s.session.On("InteractionRespond", i.Interaction, contentContains("`dep-1` <@u1> 25.5 (receipt-1)", "`pr-1` <@u2> plan monthly")).Return(nil)

	s.bot.HandleInteraction(i)
}

func (s *BotTestSuite) TestPendingStoreError() {
	i := command(CommandPending, "rev-1", []string{"staff"}, map[string]string{"type": "deposit"})

	s.queues.On("ListPending", mock.Anything, pendingLimit).
		Return([]*entities.DepositRequest(nil), types.NewLedgerError(types.ErrStoreUnavailable, "store unavailable"))
	s.session.On("InteractionRespond", i.Interaction, contentIs("💾 store unavailable")).Return(nil)

	s.bot.HandleInteraction(i)
}

func (s *BotTestSuite) TestIgnoresOtherInteractions() {
	s.bot.HandleInteraction(&discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent},
	})
	s.bot.HandleInteraction(command("unknown", "u", []string{"staff"}, nil))
}
