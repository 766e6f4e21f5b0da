// Package plugins holds the builtin plugins shipped with the bot.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forward-long-jumps/discotron/message"
	"github.com/forward-long-jumps/discotron/plugin"
)

// Controller is the slice of bot control surface the core plugin needs.
type Controller interface {
	Maintenance() bool
	SetMaintenance(on bool)
	IsOwner(userID string) bool
	Uptime() time.Duration
}

// Core returns the builtin core plugin: ping, help, uptime, and the
// owner-only maintenance toggle.
func Core(ctrl Controller) *plugin.Plugin {
	return &plugin.Plugin{
		ID:   "core",
		Name: "Core",
		Commands: []*plugin.Command{
			{
				Name:  "ping",
				Match: plugin.Prefixed("ping"),
				Run: func(ctx context.Context, kit *plugin.Kit, call *plugin.Invocation) error {
					kit.Send(ctx, message.Format(call.Message.ID, call.Message.Channel, "pong"))
					return nil
				},
			},
			{
				Name:       "help",
				SpamExempt: true,
				Match:      plugin.Prefixed("help"),
				Run: func(ctx context.Context, kit *plugin.Kit, call *plugin.Invocation) error {
					kit.Send(ctx, message.Format(call.Message.ID, call.Message.Channel,
						"commands: ping, help, uptime, maintenance"))
					return nil
				},
			},
			{
				Name:       "uptime",
				SpamExempt: true,
				Match:      plugin.Prefixed("uptime"),
				Run: func(ctx context.Context, kit *plugin.Kit, call *plugin.Invocation) error {
					kit.Send(ctx, message.Format(call.Message.ID, call.Message.Channel,
						"up for %v", ctrl.Uptime().Round(time.Second)))
					return nil
				},
			},
			{
				Name:       "maintenance",
				SpamExempt: true,
				Match:      plugin.Prefixed("maintenance"),
				Run: func(ctx context.Context, kit *plugin.Kit, call *plugin.Invocation) error {
					if !ctrl.IsOwner(call.Message.Sender) {
						return nil
					}
					args := call.Tokens
					if len(args) < 2 {
						kit.Send(ctx, message.Format(call.Message.ID, call.Message.Channel,
							"maintenance is %s", onoff(ctrl.Maintenance())))
						return nil
					}
					switch strings.ToLower(args[len(args)-1]) {
					case "on":
						ctrl.SetMaintenance(true)
					case "off":
						ctrl.SetMaintenance(false)
					default:
						return fmt.Errorf("maintenance: want on or off, got %q", args[len(args)-1])
					}
					kit.Send(ctx, message.Format(call.Message.ID, call.Message.Channel,
						"maintenance is %s", onoff(ctrl.Maintenance())))
					return nil
				},
			},
		},
	}
}

// Mod returns the builtin moderation plugin. Its word commands warn on
// watchlisted words, and its audit hook records every message it can see.
// Guild admins hold it by default.
func Mod(watch []string) *plugin.Plugin {
	p := &plugin.Plugin{
		ID:            "mod",
		Name:          "Moderation",
		DefaultPolicy: plugin.Admins,
		Always: []*plugin.Command{
			{
				Name:       "audit",
				SpamExempt: true,
				Match:      plugin.MatchAll(),
				Run: func(ctx context.Context, kit *plugin.Kit, call *plugin.Invocation) error {
					slog.DebugContext(ctx, "audit",
						slog.String("channel", call.Message.Channel),
						slog.String("sender", call.Message.Sender),
						slog.Int("tokens", len(call.Tokens)))
					return nil
				},
			},
		},
	}
	if len(watch) > 0 {
		p.Words = append(p.Words, &plugin.Command{
			Name:  "watchlist",
			Scope: plugin.InGuild,
			Match: plugin.Word(watch...),
			Run: func(ctx context.Context, kit *plugin.Kit, call *plugin.Invocation) error {
				kit.Send(ctx, message.Format(call.Message.ID, call.Message.Channel,
					"%s, mind the language", call.Message.Name))
				return nil
			},
		})
	}
	return p
}

func onoff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
