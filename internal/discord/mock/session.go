// Package mock holds a testify double for discord.SessionHandler
package mock

import (
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/mock"
)

// SessionHandler records the interactions and command registrations a
// reviewer bot makes
type SessionHandler struct {
	mock.Mock
}

func (s *SessionHandler) InteractionRespond(i *discordgo.Interaction, r *discordgo.InteractionResponse) error {
	return s.Called(i, r).Error(0)
}

// ApplicationCommandCreate matches on appID, guildID and cmd; request
// options are not recorded
func (s *SessionHandler) ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, _ ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error) {
	args := s.Called(appID, guildID, cmd)
	created, _ := args.Get(0).(*discordgo.ApplicationCommand)
	return created, args.Error(1)
}

func (s *SessionHandler) ApplicationCommandDelete(appID, guildID, cmdID string) error {
	return s.Called(appID, guildID, cmdID).Error(0)
}

func (s *SessionHandler) Open() error {
	return s.Called().Error(0)
}

func (s *SessionHandler) Close() error {
	return s.Called().Error(0)
}

// AddHandler returns the configured remover, or a no-op when none is set
func (s *SessionHandler) AddHandler(handler interface{}) func() {
	if remove, ok := s.Called(handler).Get(0).(func()); ok {
		return remove
	}
	return func() {}
}
