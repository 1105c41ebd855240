package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	dsession "github.com/fadedpez/pointledger/internal/discord"
	"github.com/fadedpez/pointledger/internal/types"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/review"
)

const pendingLimit = 10

func (b *Bot) handleReview(ctx context.Context, i *discordgo.InteractionCreate, requestType review.RequestType) error {
	reviewerID, ok := b.reviewer(i)
	if !ok {
		return dsession.SendErrorResponse(b.session, i, types.NewLedgerError(types.ErrPermissionDenied, "You are not allowed to review requests"))
	}

	opts := optionMap(i.ApplicationCommandData().Options)
	decision := review.Decision{
		RequestType: requestType,
		RequestID:   opts["request_id"],
		Decision:    entities.Decision(opts["decision"]),
		ReviewerID:  reviewerID,
		Notes:       opts["notes"],
	}

	outcome, err := b.reviews.Review(ctx, decision)
	if err != nil {
		b.log.WithFields(map[string]interface{}{
			"request_id":  decision.RequestID,
			"reviewer_id": reviewerID,
		}).Warn("Review rejected: %v", err)
		return dsession.SendErrorResponse(b.session, i, err)
	}

	return dsession.SendResponse(b.session, i, dsession.NewResponse(formatOutcome(requestType, outcome), nil))
}

func (b *Bot) handlePending(ctx context.Context, i *discordgo.InteractionCreate) error {
	if _, ok := b.reviewer(i); !ok {
		return dsession.SendErrorResponse(b.session, i, types.NewLedgerError(types.ErrPermissionDenied, "You are not allowed to review requests"))
	}

	only := optionMap(i.ApplicationCommandData().Options)["type"]
	var sb strings.Builder

	if only == "" || only == string(review.RequestDeposit) {
		deposits, err := b.deposits.ListPending(ctx, pendingLimit)
		if err != nil {
			return dsession.SendErrorResponse(b.session, i, err)
		}
		sb.WriteString(formatDeposits(deposits))
	}

	if only == "" || only == string(review.RequestPremium) {
		purchases, err := b.purchases.ListPurchaseRequests(ctx, workflow.RequestFilter{Status: entities.StatusPending, Limit: pendingLimit})
		if err != nil {
			return dsession.SendErrorResponse(b.session, i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(formatPurchases(purchases))
	}

	return dsession.SendEphemeral(b.session, i, sb.String())
}

// reviewer returns the invoking member's ID if they hold the reviewer role
func (b *Bot) reviewer(i *discordgo.InteractionCreate) (string, bool) {
	if i.Member == nil || i.Member.User == nil {
		return "", false
	}

	if b.config.ReviewerRoleID == "" {
		return i.Member.User.ID, i.Member.Permissions&discordgo.PermissionAdministrator != 0
	}

	for _, role := range i.Member.Roles {
		if role == b.config.ReviewerRoleID {
			return i.Member.User.ID, true
		}
	}
	return "", false
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	m := make(map[string]string, len(options))
	for _, opt := range options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			m[opt.Name] = strings.TrimSpace(opt.StringValue())
		}
	}
	return m
}

func formatOutcome(requestType review.RequestType, o *review.Outcome) string {
	if o.AlreadyDecided {
		return fmt.Sprintf("🏁 %s request `%s` was already %s", requestType, o.RequestID, o.Status)
	}
	msg := fmt.Sprintf("✅ %s request `%s` is now %s", requestType, o.RequestID, o.Status)
	if o.EntryID != "" {
		msg += fmt.Sprintf(" (entry `%s`)", o.EntryID)
	}
	return msg
}

func formatDeposits(reqs []*entities.DepositRequest) string {
	if len(reqs) == 0 {
		return "**Deposits:** none pending\n"
	}
	var sb strings.Builder
	sb.WriteString("**Deposits:**\n")
	for _, r := range reqs {
		fmt.Fprintf(&sb, "• `%s` <@%s> %s (%s)\n", r.ID, r.UserID, r.Amount.String(), r.EvidenceRef)
	}
	return sb.String()
}

func formatPurchases(reqs []*entities.PremiumPurchaseRequest) string {
	if len(reqs) == 0 {
		return "**Premium:** none pending\n"
	}
	var sb strings.Builder
	sb.WriteString("**Premium:**\n")
	for _, r := range reqs {
		fmt.Fprintf(&sb, "• `%s` <@%s> plan %s\n", r.ID, r.UserID, r.PlanID)
	}
	return sb.String()
}
