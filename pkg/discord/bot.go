// Package discord exposes the review workflow to staff through slash commands.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	dsession "github.com/fadedpez/pointledger/internal/discord"
	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/repositories/workflow"
	"github.com/fadedpez/pointledger/pkg/services/review"
)

const commandTimeout = 10 * time.Second

// Reviews applies reviewer decisions
type Reviews interface {
	Review(ctx context.Context, d review.Decision) (*review.Outcome, error)
}

// PendingDeposits lists deposit requests waiting for review
type PendingDeposits interface {
	ListPending(ctx context.Context, limit int) ([]*entities.DepositRequest, error)
}

// PendingPurchases lists premium purchase requests
type PendingPurchases interface {
	ListPurchaseRequests(ctx context.Context, filter workflow.RequestFilter) ([]*entities.PremiumPurchaseRequest, error)
}

// Config holds the Discord application settings
type Config struct {
	AppID   string
	GuildID string
	// ReviewerRoleID is the role allowed to decide requests. When empty only
	// guild administrators may review.
	ReviewerRoleID string
}

// Bot is the reviewer-facing Discord surface
type Bot struct {
	session   dsession.SessionHandler
	config    Config
	reviews   Reviews
	deposits  PendingDeposits
	purchases PendingPurchases
	log       *logging.Logger

	registered []*discordgo.ApplicationCommand
	removeHook func()
}

// NewBot creates a new reviewer bot
func NewBot(session dsession.SessionHandler, cfg Config, reviews Reviews, deposits PendingDeposits, purchases PendingPurchases) *Bot {
	return &Bot{
		session:   session,
		config:    cfg,
		reviews:   reviews,
		deposits:  deposits,
		purchases: purchases,
		log:       logging.Default.WithField("component", "discord"),
	}
}

// Start connects to Discord and registers the slash commands
func (b *Bot) Start() error {
	b.removeHook = b.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.HandleInteraction(i)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	for _, cmd := range Commands {
		created, err := b.session.ApplicationCommandCreate(b.config.AppID, b.config.GuildID, cmd)
		if err != nil {
			return fmt.Errorf("error creating command %s: %w", cmd.Name, err)
		}
		b.registered = append(b.registered, created)
		b.log.Debug("Registered command %s", cmd.Name)
	}

	b.log.Info("Reviewer bot started with %d commands", len(b.registered))
	return nil
}

// Stop removes the registered commands and closes the connection
func (b *Bot) Stop() error {
	for _, cmd := range b.registered {
		if err := b.session.ApplicationCommandDelete(b.config.AppID, b.config.GuildID, cmd.ID); err != nil {
			b.log.Warn("Error deleting command %s: %v", cmd.Name, err)
		}
	}
	b.registered = nil

	if b.removeHook != nil {
		b.removeHook()
	}

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing connection: %w", err)
	}
	return nil
}

// HandleInteraction routes one slash command invocation
func (b *Bot) HandleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data := i.ApplicationCommandData()
	var err error
	switch data.Name {
	case CommandReviewDeposit:
		err = b.handleReview(ctx, i, review.RequestDeposit)
	case CommandReviewPremium:
		err = b.handleReview(ctx, i, review.RequestPremium)
	case CommandPending:
		err = b.handlePending(ctx, i)
	default:
		return
	}

	if err != nil {
		b.log.WithField("command", data.Name).Error("Error responding to interaction: %v", err)
	}
}
