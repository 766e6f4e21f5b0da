package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/forward-long-jumps/discotron/access"
	"github.com/forward-long-jumps/discotron/guild"
	"github.com/forward-long-jumps/discotron/metrics"
	"github.com/forward-long-jumps/discotron/owner"
	"github.com/forward-long-jumps/discotron/plugin"
	"github.com/forward-long-jumps/discotron/plugins"
	"github.com/forward-long-jumps/discotron/router"
	"github.com/forward-long-jumps/discotron/spam"
	"github.com/forward-long-jumps/discotron/store"
)

// Bot aggregates the registries and the router with the gateway and HTTP
// glue around them.
type Bot struct {
	guilds  *guild.Registry
	plugins *plugin.Registry
	owners  *owner.Registry
	router  *router.Router
	store   *store.Store
	metrics metrics.Metrics

	session *discordgo.Session
	rate    *rate.Limiter
	started time.Time

	works chan chan func(context.Context)
}

// New assembles a bot from loaded configuration and open databases.
func New(ctx context.Context, cfg *Config, guilddb, ownerdb *sqlitex.Pool) (*Bot, error) {
	st, err := store.Open(ctx, guilddb)
	if err != nil {
		return nil, fmt.Errorf("couldn't open guild storage: %w", err)
	}
	own, err := owner.Open(ctx, ownerdb)
	if err != nil {
		return nil, fmt.Errorf("couldn't open owner set: %w", err)
	}
	if err := own.Load(ctx); err != nil {
		return nil, err
	}
	b := &Bot{
		owners:  own,
		store:   st,
		metrics: newMetrics(),
		rate:    rate.NewLimiter(rate.Every(fseconds(cfg.Rate.Every)), cfg.Rate.Num),
		started: time.Now(),
		works:   make(chan chan func(context.Context), 8),
	}
	b.guilds = guild.NewRegistry(st, b, b.enqueue)
	b.plugins = plugin.NewRegistry(st, b.enqueue)
	b.plugins.Subscribe(b.guilds)
	b.router = &router.Router{
		Guilds:  b.guilds,
		Plugins: b.plugins,
		Owners:  own,
		Access:  &access.Resolver{Roles: b},
		Guard:   spam.New(fseconds(cfg.Spam.Within), cfg.Spam.Num),
		Metrics: b.metrics,
	}
	b.router.SetMaintenance(cfg.Maintenance)
	b.registerBuiltins(ctx, cfg)
	return b, nil
}

// registerBuiltins installs the plugins shipped with the bot, honoring their
// persisted enabled flags.
func (b *Bot) registerBuiltins(ctx context.Context, cfg *Config) {
	for _, p := range []*plugin.Plugin{
		plugins.Core(b),
		plugins.Mod(cfg.Watch),
	} {
		kit := &plugin.Kit{Plugin: p.ID, Send: b.send}
		b.plugins.Register(ctx, p, kit)
		enabled, err := b.store.PluginEnabled(ctx, p.ID)
		if err != nil {
			slog.WarnContext(ctx, "couldn't read plugin flag",
				slog.String("plugin", p.ID), slog.Any("err", err))
			continue
		}
		if !enabled {
			b.plugins.SetEnabled(p.ID, false)
		}
	}
}

// Run connects to the gateway and serves the HTTP API until the context is
// canceled.
func (b *Bot) Run(ctx context.Context, listen string) error {
	group, ctx := errgroup.WithContext(ctx)
	if listen != "" {
		group.Go(func() error {
			mux := http.NewServeMux()
			return b.api(ctx, listen, mux, b.metrics.Collectors())
		})
	}
	group.Go(func() error {
		if err := b.session.Open(); err != nil {
			return fmt.Errorf("couldn't open gateway connection: %w", err)
		}
		<-ctx.Done()
		return b.session.Close()
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Maintenance reports whether the bot is in maintenance mode.
func (b *Bot) Maintenance() bool { return b.router.Maintenance() }

// SetMaintenance toggles maintenance mode.
func (b *Bot) SetMaintenance(on bool) { b.router.SetMaintenance(on) }

// IsOwner reports whether the user is a bot owner.
func (b *Bot) IsOwner(userID string) bool { return b.owners.IsOwner(userID) }

// Uptime reports how long the bot has been running.
func (b *Bot) Uptime() time.Duration { return time.Since(b.started) }

// enqueue sends work to the worker pool so slow persistence writes never run
// on the message loop.
func (b *Bot) enqueue(work func(context.Context)) {
	var w chan func(context.Context)
	// Get a worker if one exists. Otherwise, spawn a new one.
	select {
	case w = <-b.works:
	default:
		w = make(chan func(context.Context), 1)
		go worker(context.Background(), b.works, w)
	}
	w <- work
}

// worker runs works for a while. The provided context is passed to each work.
func worker(ctx context.Context, works chan chan func(context.Context), ch chan func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case work := <-ch:
			work(ctx)
			// Replace ourselves in the pool if it needs additional capacity.
			// Otherwise, we're done.
			select {
			case works <- ch:
			default:
				return
			}
		}
	}
}

// metrics configuration
func newMetrics() metrics.Metrics {
	return metrics.Metrics{
		MsgsCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "discotron",
					Subsystem: "router",
					Name:      "messages",
					Help:      "Number of messages entering the router.",
				},
			),
		),
		CommandCount: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "discotron",
					Subsystem: "router",
					Name:      "commands",
					Help:      "Number of command actions executed.",
				},
				[]string{"plugin"},
			),
		),
		CommandErrors: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "discotron",
					Subsystem: "router",
					Name:      "command_errors",
					Help:      "Number of command actions that failed.",
				},
				[]string{"plugin"},
			),
		),
		SpamRestricted: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "discotron",
					Subsystem: "spam",
					Name:      "restricted",
					Help:      "Number of candidate sets discarded by the spam gate.",
				},
			),
		),
		RouteLatency: metrics.NewPromHistogram(
			prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
					Namespace: "discotron",
					Subsystem: "router",
					Name:      "route_latency",
					Help:      "How long routing one message takes in seconds.",
				},
			),
		),
	}
}
