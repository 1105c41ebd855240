package discord

import "github.com/bwmarrin/discordgo"

const (
	CommandReviewDeposit = "review-deposit"
	CommandReviewPremium = "review-premium"
	CommandPending       = "pending"
)

var decisionChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "approve", Value: "approve"},
	{Name: "reject", Value: "reject"},
}

func reviewOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "request_id",
			Description: "ID of the request",
			Required:    true,
		},
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "decision",
			Description: "Approve or reject",
			Required:    true,
			Choices:     decisionChoices,
		},
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "notes",
			Description: "Optional notes kept with the decision",
		},
	}
}

// Commands defines all slash commands for the bot
var Commands = []*discordgo.ApplicationCommand{
	{
		Name:        CommandReviewDeposit,
		Description: "Approve or reject a deposit request",
		Options:     reviewOptions(),
	},
	{
		Name:        CommandReviewPremium,
		Description: "Approve or reject a premium purchase request",
		Options:     reviewOptions(),
	},
	{
		Name:        CommandPending,
		Description: "List requests waiting for review",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "type",
				Description: "Only list one kind of request",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "deposit", Value: "deposit"},
					{Name: "premium", Value: "premium"},
				},
			},
		},
	},
}
