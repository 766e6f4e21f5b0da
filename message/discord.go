package message

import (
	"github.com/bwmarrin/discordgo"
)

// FromDiscord adapts a Discord message create event.
func FromDiscord(m *discordgo.MessageCreate) *Received {
	r := &Received{
		ID:        m.ID,
		Guild:     m.GuildID,
		Channel:   m.ChannelID,
		Text:      m.Content,
		Timestamp: m.Timestamp.UnixMilli(),
	}
	if m.Author != nil {
		r.Sender = m.Author.ID
		r.Name = m.Author.Username
		r.IsBot = m.Author.Bot
	}
	return r
}
