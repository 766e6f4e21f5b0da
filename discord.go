package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/message"
)

// Connect creates the Discord session and wires gateway events into the
// registries and the router. The connection itself is opened by Run.
func (b *Bot) Connect(ctx context.Context, token string) error {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("couldn't create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	session.StateEnabled = true

	session.AddHandler(func(s *discordgo.Session, event *discordgo.Ready) {
		ids := make([]string, 0, len(event.Guilds))
		for _, g := range event.Guilds {
			ids = append(ids, g.ID)
		}
		slog.InfoContext(ctx, "gateway ready",
			slog.String("user", event.User.ID),
			slog.Int("guilds", len(ids)))
		b.guilds.Update(ctx, ids)
	})
	session.AddHandler(func(s *discordgo.Session, event *discordgo.GuildCreate) {
		if err := b.guilds.Create(ctx, event.ID); err != nil {
			slog.ErrorContext(ctx, "couldn't add guild",
				slog.String("guild", event.ID), slog.Any("err", err))
		}
	})
	session.AddHandler(func(s *discordgo.Session, event *discordgo.GuildDelete) {
		if event.Unavailable {
			// An outage, not a removal. The guild stays configured.
			return
		}
		b.guilds.Delete(ctx, event.ID)
	})
	session.AddHandler(func(s *discordgo.Session, event *discordgo.MessageCreate) {
		m := message.FromDiscord(event)
		if m.Sender == s.State.User.ID {
			m.IsBot = true
		}
		// Route in a worker so a slow plugin never blocks the event loop.
		b.enqueue(func(ctx context.Context) {
			b.router.Route(ctx, m)
		})
	})

	b.session = session
	return nil
}

// send delivers a message through the session after waiting for the global
// rate limit. Plugins reach this through their kits.
func (b *Bot) send(ctx context.Context, msg message.Sent) {
	if err := b.rate.Wait(ctx); err != nil {
		return
	}
	out := &discordgo.MessageSend{
		Content:         msg.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if msg.Reply != "" {
		out.Reference = &discordgo.MessageReference{MessageID: msg.Reply, ChannelID: msg.To}
	}
	if _, err := b.session.ChannelMessageSendComplex(msg.To, out); err != nil {
		slog.ErrorContext(ctx, "couldn't send message",
			slog.String("channel", msg.To), slog.Any("err", err))
	}
}

// Roles looks up the roles a user holds in a guild, preferring gateway state
// over the REST API.
func (b *Bot) Roles(ctx context.Context, guildID, userID string) ([]string, error) {
	if member, err := b.session.State.Member(guildID, userID); err == nil {
		return member.Roles, nil
	}
	member, err := b.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't fetch member %s in %s: %w", userID, guildID, err)
	}
	return member.Roles, nil
}

// NativeAdmins derives a guild's service-native admin principals: the guild
// owner and every role granted the administrator permission.
func (b *Bot) NativeAdmins(ctx context.Context, guildID string) ([]guild.Principal, error) {
	g, err := b.session.State.Guild(guildID)
	if err != nil {
		g, err = b.session.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("couldn't fetch guild %s: %w", guildID, err)
		}
	}
	admins := []guild.Principal{guild.UserPrincipal(g.OwnerID)}
	for _, role := range g.Roles {
		if role.Permissions&discordgo.PermissionAdministrator != 0 {
			admins = append(admins, guild.RolePrincipal(role.ID))
		}
	}
	return admins, nil
}
