// Package router computes which plugin commands fire for each inbound
// message and executes them with failure isolation. It runs on every message
// in every connected guild.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/message"
	"github.com/forward-long-jumps/discotron/metrics"
	"github.com/forward-long-jumps/discotron/plugin"
	"github.com/forward-long-jumps/discotron/spam"
)

// GuildSource resolves guild configuration. Lookup returns nil for guilds
// that are unknown or not ready; the router treats both as an absent guild
// context.
type GuildSource interface {
	Lookup(guildID string) *guild.Guild
}

// PluginSource lists enabled plugins and resolves their capability kits.
type PluginSource interface {
	All() []*plugin.Plugin
	Kit(pluginID string) *plugin.Kit
}

// OwnerSource answers owner membership checks.
type OwnerSource interface {
	IsOwner(userID string) bool
}

// Resolver answers per-guild, per-plugin access checks.
type Resolver interface {
	Allows(ctx context.Context, g *guild.Guild, p *plugin.Plugin, userID string) (bool, error)
}

// Router routes inbound messages to plugin commands.
type Router struct {
	Guilds  GuildSource
	Plugins PluginSource
	Owners  OwnerSource
	Access  Resolver
	Guard   *spam.Guard
	// Metrics is optional; a zero Metrics disables observation.
	Metrics metrics.Metrics

	maintenance atomic.Bool
}

// Maintenance reports whether maintenance mode is on. While on, messages
// from non-owners are ignored entirely.
func (r *Router) Maintenance() bool {
	return r.maintenance.Load()
}

// SetMaintenance toggles maintenance mode.
func (r *Router) SetMaintenance(on bool) {
	r.maintenance.Store(on)
}

// Route processes one inbound message to completion: it gates the message on
// maintenance mode and guild configuration, selects candidate commands from
// every enabled plugin, applies the spam gate and scope rules, and executes
// the survivors. A command failure is logged and never aborts the remaining
// candidates.
func (r *Router) Route(ctx context.Context, m *message.Received) {
	if m.IsBot {
		return
	}
	start := time.Now()
	observe(r.Metrics.MsgsCount, 1)
	defer func() {
		if r.Metrics.RouteLatency != nil {
			r.Metrics.RouteLatency.Observe(time.Since(start).Seconds())
		}
	}()
	owner := r.Owners.IsOwner(m.Sender)
	if r.maintenance.Load() && !owner {
		return
	}
	var g *guild.Guild
	if !m.IsDirect() {
		g = r.Guilds.Lookup(m.Guild)
		if g == nil {
			// The guild is unknown or failed to load. Without its settings we
			// can't assume defaults, so nothing fires here.
			slog.DebugContext(ctx, "message for absent guild", slog.String("guild", m.Guild))
			return
		}
		if !g.Channels.Allows(m.Channel) {
			return
		}
	}
	// The message text is case folded for matching; prefixes are compared as
	// configured.
	text := strings.ToLower(m.Text)
	isCommand := g == nil || strings.HasPrefix(text, g.Prefix)
	tokens := message.Tokens(m.Text)
	for _, p := range r.Plugins.All() {
		r.routePlugin(ctx, p, g, m, text, tokens, isCommand, owner)
	}
}

// routePlugin evaluates one plugin independently of its siblings.
func (r *Router) routePlugin(ctx context.Context, p *plugin.Plugin, g *guild.Guild, m *message.Received, text string, tokens []string, isCommand, owner bool) {
	if g != nil {
		if !g.Plugins.Allows(p.ID) {
			return
		}
		ok, err := r.Access.Allows(ctx, g, p, m.Sender)
		if err != nil {
			slog.WarnContext(ctx, "permission check failed",
				slog.String("guild", g.ID),
				slog.String("plugin", p.ID),
				slog.Any("err", err))
			return
		}
		if !ok {
			return
		}
	}
	prefix := p.Prefix
	if g != nil {
		prefix = g.Prefix + p.Prefix
	}
	var cands []*plugin.Command
	if isCommand && strings.HasPrefix(text, prefix) {
		for _, c := range p.Commands {
			if c.Match(text, prefix) {
				cands = append(cands, c)
			}
		}
	}
	if len(cands) == 0 {
		for _, c := range p.Words {
			if c.Match(text, prefix) {
				cands = append(cands, c)
			}
		}
	}
	// Unconditional hooks run regardless of matching and of the spam gate.
	var always []*plugin.Command
	for _, c := range p.Always {
		if c.Match(text, prefix) {
			always = append(always, c)
		}
	}
	if len(cands) > 0 && !owner && !allExempt(cands) {
		now := time.Now()
		r.Guard.Action(m.Sender, now)
		if r.Guard.Restricted(m.Sender, now) {
			slog.InfoContext(ctx, "spam restricted",
				slog.String("user", m.Sender),
				slog.String("plugin", p.ID))
			observe(r.Metrics.SpamRestricted, 1)
			cands = cands[:0]
		}
	}
	cands = append(cands, always...)
	if len(cands) == 0 {
		return
	}
	kit := r.Plugins.Kit(p.ID)
	call := &plugin.Invocation{Message: m, Tokens: tokens, Guild: g}
	for _, c := range cands {
		if !c.Scope.Allows(g != nil) {
			continue
		}
		observe(r.Metrics.CommandCount, 1, p.ID)
		if err := c.Run(ctx, kit, call); err != nil {
			observe(r.Metrics.CommandErrors, 1, p.ID)
			slog.ErrorContext(ctx, "command failed",
				slog.String("plugin", p.Name),
				slog.String("command", c.Name),
				slog.Any("err", err))
		}
	}
}

func allExempt(cands []*plugin.Command) bool {
	for _, c := range cands {
		if !c.SpamExempt {
			return false
		}
	}
	return true
}

func observe(o metrics.Observer, v float64, labels ...string) {
	if o != nil {
		o.Observe(v, labels...)
	}
}
