package discord

import (
	"github.com/bwmarrin/discordgo"
)

// SessionHandler is the part of a discordgo.Session the reviewer commands
// need: answering interactions and managing the guild's slash commands
type SessionHandler interface {
	InteractionRespond(i *discordgo.Interaction, r *discordgo.InteractionResponse) error

	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string) error

	Open() error
	Close() error
	AddHandler(handler interface{}) func()
}

// DiscordSession adapts a bot-authenticated discordgo.Session
type DiscordSession struct {
	*discordgo.Session
}

var _ SessionHandler = (*DiscordSession)(nil)

// NewSession creates a new DiscordSession authenticated as a bot. Slash
// commands arrive over the gateway, so only the guilds intent is requested.
func NewSession(token string) (*DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return &DiscordSession{Session: s}, nil
}

func (s *DiscordSession) InteractionRespond(i *discordgo.Interaction, r *discordgo.InteractionResponse) error {
	return s.Session.InteractionRespond(i, r)
}

func (s *DiscordSession) ApplicationCommandDelete(appID, guildID, cmdID string) error {
	return s.Session.ApplicationCommandDelete(appID, guildID, cmdID)
}
