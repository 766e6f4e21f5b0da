package guild

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Store is the persistence layer behind the registry. In-memory state is
// authoritative; the store is a durability log, never the read path during
// routing.
type Store interface {
	// CreateGuild inserts a guild row and its default settings rows.
	CreateGuild(ctx context.Context, guildID string) error
	// DeleteGuild removes the guild row and every row keyed by the guild.
	DeleteGuild(ctx context.Context, guildID string) error
	// LoadGuild fetches everything persisted for a guild.
	LoadGuild(ctx context.Context, guildID string) (*Record, error)
	SetPrefix(ctx context.Context, guildID, prefix string) error
	SetChannels(ctx context.Context, guildID string, channels []string) error
	SetPlugins(ctx context.Context, guildID string, plugins []string) error
	SetAdmins(ctx context.Context, guildID string, admins []Principal) error
	SetPermission(ctx context.Context, guildID, pluginID string, principals []Principal) error
	// InitPermission records that a permission record exists for the plugin
	// with no principals, without disturbing an existing record.
	InitPermission(ctx context.Context, guildID, pluginID string) error
	// DeletePermission removes the plugin's permission record for the guild.
	DeletePermission(ctx context.Context, guildID, pluginID string) error
}

// Record is a guild's persisted state as loaded from a Store.
type Record struct {
	Prefix   string
	Channels []string
	Plugins  []string
	Admins   []Principal
	Perms    []Permission
}

// AdminSource derives a guild's native admin principals: the guild owner and
// any role granted the administrator capability by the service.
type AdminSource interface {
	NativeAdmins(ctx context.Context, guildID string) ([]Principal, error)
}

type state int8

const (
	loading state = iota
	ready
	broken // load failed; absent from routing until reconnect
)

type entry struct {
	state state
	g     *Guild
}

// clone copies a guild record so a mutation can be applied without disturbing
// snapshots already handed to readers. Permission values are shared; they are
// replaced, never modified, by mutators.
func clone(g *Guild) *Guild {
	c := *g
	c.Perms = make(map[string]*Permission, len(g.Perms))
	for k, v := range g.Perms {
		c.Perms[k] = v
	}
	return &c
}

// Registry tracks every guild the bot is connected to.
type Registry struct {
	mu     sync.Mutex
	guilds map[string]*entry

	store  Store
	admins AdminSource
	// async schedules a fire-and-forget persistence write. Mutators return
	// before the write is durable.
	async func(fn func(context.Context))
}

// NewRegistry returns an empty registry persisting through store and
// deriving native admins through admins. If async is nil, persistence writes
// run on new goroutines.
func NewRegistry(store Store, admins AdminSource, async func(fn func(context.Context))) *Registry {
	if async == nil {
		async = func(fn func(context.Context)) { go fn(context.Background()) }
	}
	return &Registry{
		guilds: make(map[string]*entry),
		store:  store,
		admins: admins,
		async:  async,
	}
}

// Lookup returns the guild's configuration, or nil if the guild is unknown
// or not yet ready. The router treats a nil result as an absent guild
// context. The result is a snapshot: mutators install fresh records rather
// than modifying it, so callers may read it without further locking.
func (r *Registry) Lookup(guildID string) *Guild {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.guilds[guildID]
	if e == nil || e.state != ready {
		return nil
	}
	return e.g
}

// All returns every ready guild.
func (r *Registry) All() []*Guild {
	r.mu.Lock()
	defer r.mu.Unlock()
	gs := make([]*Guild, 0, len(r.guilds))
	for _, e := range r.guilds {
		if e.state == ready {
			gs = append(gs, e.g)
		}
	}
	return gs
}

// Create adds a newly discovered guild: default rows are inserted, persisted
// state is loaded, and native admins are derived. It is a no-op for a guild
// the registry already knows. A guild whose load fails is left absent from
// routing.
func (r *Registry) Create(ctx context.Context, guildID string) error {
	r.mu.Lock()
	if _, ok := r.guilds[guildID]; ok {
		r.mu.Unlock()
		return nil
	}
	e := &entry{state: loading}
	r.guilds[guildID] = e
	r.mu.Unlock()

	if err := r.store.CreateGuild(ctx, guildID); err != nil {
		r.fail(e)
		return fmt.Errorf("couldn't create guild %s: %w", guildID, err)
	}
	return r.load(ctx, e, guildID)
}

func (r *Registry) load(ctx context.Context, e *entry, guildID string) error {
	rec, err := r.store.LoadGuild(ctx, guildID)
	if err != nil {
		r.fail(e)
		return fmt.Errorf("couldn't load guild %s: %w", guildID, err)
	}
	g := &Guild{
		ID:       guildID,
		Prefix:   rec.Prefix,
		Channels: Restrict(rec.Channels...),
		Plugins:  Restrict(rec.Plugins...),
		Admins:   rec.Admins,
		Perms:    make(map[string]*Permission, len(rec.Perms)),
	}
	for i := range rec.Perms {
		p := rec.Perms[i]
		g.Perms[p.Plugin] = &p
	}
	if r.admins != nil {
		native, err := r.admins.NativeAdmins(ctx, guildID)
		if err != nil {
			// Not fatal: dashboard admins still work, and reconciliation
			// retries the derivation.
			slog.WarnContext(ctx, "couldn't derive native admins",
				slog.String("guild", guildID), slog.Any("err", err))
		}
		g.NativeAdmins = native
	}
	r.mu.Lock()
	e.g = g
	e.state = ready
	r.mu.Unlock()
	return nil
}

// fail marks the guild broken. The cause is reported through the returned
// error; callers decide where it gets logged.
func (r *Registry) fail(e *entry) {
	r.mu.Lock()
	e.state = broken
	r.mu.Unlock()
}

// Delete removes a guild and schedules deletion of its persisted rows.
func (r *Registry) Delete(ctx context.Context, guildID string) {
	r.mu.Lock()
	_, ok := r.guilds[guildID]
	delete(r.guilds, guildID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.async(func(ctx context.Context) {
		if err := r.store.DeleteGuild(ctx, guildID); err != nil {
			slog.ErrorContext(ctx, "couldn't delete guild rows",
				slog.String("guild", guildID), slog.Any("err", err))
		}
	})
}

// Update reconciles the registry against the set of guilds the bot is
// connected to: unknown guilds are created, disconnected guilds are deleted,
// and every connected guild's native admin set is re-derived. It is
// idempotent and safe to call on every reconnect.
func (r *Registry) Update(ctx context.Context, connected []string) {
	want := make(map[string]bool, len(connected))
	for _, id := range connected {
		want[id] = true
	}
	r.mu.Lock()
	var gone []string
	for id := range r.guilds {
		if !want[id] {
			gone = append(gone, id)
		}
	}
	r.mu.Unlock()
	for _, id := range gone {
		r.Delete(ctx, id)
	}
	for _, id := range connected {
		if err := r.Create(ctx, id); err != nil {
			slog.ErrorContext(ctx, "couldn't add guild",
				slog.String("guild", id), slog.Any("err", err))
			continue
		}
		r.refreshAdmins(ctx, id)
	}
}

func (r *Registry) refreshAdmins(ctx context.Context, guildID string) {
	if r.admins == nil || r.Lookup(guildID) == nil {
		return
	}
	native, err := r.admins.NativeAdmins(ctx, guildID)
	if err != nil {
		slog.WarnContext(ctx, "couldn't derive native admins",
			slog.String("guild", guildID), slog.Any("err", err))
		return
	}
	r.mu.Lock()
	if e := r.guilds[guildID]; e != nil && e.state == ready {
		g := clone(e.g)
		g.NativeAdmins = native
		e.g = g
	}
	r.mu.Unlock()
}

// SetPrefix sets the guild's command prefix and schedules the write.
func (r *Registry) SetPrefix(guildID, prefix string) {
	r.mutate(guildID, "prefix", func(g *Guild) {
		g.Prefix = prefix
	}, func(ctx context.Context) error {
		return r.store.SetPrefix(ctx, guildID, prefix)
	})
}

// SetChannels sets the guild's allowed channel set and schedules the write.
// An empty list allows every channel.
func (r *Registry) SetChannels(guildID string, channels []string) {
	r.mutate(guildID, "channels", func(g *Guild) {
		g.Channels = Restrict(channels...)
	}, func(ctx context.Context) error {
		return r.store.SetChannels(ctx, guildID, channels)
	})
}

// SetPlugins sets the guild's enabled plugin set and schedules the write.
// An empty list enables every plugin.
func (r *Registry) SetPlugins(guildID string, plugins []string) {
	r.mutate(guildID, "plugins", func(g *Guild) {
		g.Plugins = Restrict(plugins...)
	}, func(ctx context.Context) error {
		return r.store.SetPlugins(ctx, guildID, plugins)
	})
}

// SetAdmins sets the guild's dashboard admin set and schedules the write.
func (r *Registry) SetAdmins(guildID string, admins []Principal) {
	r.mutate(guildID, "admins", func(g *Guild) {
		g.Admins = admins
	}, func(ctx context.Context) error {
		return r.store.SetAdmins(ctx, guildID, admins)
	})
}

// SetPermission replaces the principal list of the guild's permission record
// for a plugin and schedules the write.
func (r *Registry) SetPermission(guildID, pluginID string, principals []Principal) {
	r.mutate(guildID, "permission", func(g *Guild) {
		g.Perms[pluginID] = &Permission{Guild: guildID, Plugin: pluginID, Principals: principals}
	}, func(ctx context.Context) error {
		return r.store.SetPermission(ctx, guildID, pluginID, principals)
	})
}

// mutate installs a modified copy of a ready guild's record and schedules
// its persistence write. Snapshots handed out before the swap are untouched.
// The write failing leaves memory authoritative.
func (r *Registry) mutate(guildID, what string, apply func(*Guild), write func(context.Context) error) {
	r.mu.Lock()
	e := r.guilds[guildID]
	if e == nil || e.state != ready {
		r.mu.Unlock()
		return
	}
	g := clone(e.g)
	apply(g)
	e.g = g
	r.mu.Unlock()
	r.async(func(ctx context.Context) {
		if err := write(ctx); err != nil {
			slog.ErrorContext(ctx, "couldn't persist guild mutation",
				slog.String("guild", guildID),
				slog.String("what", what),
				slog.Any("err", err))
		}
	})
}

// PluginLoaded initializes a default permission record for the plugin on
// every guild that doesn't have one yet.
func (r *Registry) PluginLoaded(ctx context.Context, pluginID string) {
	r.mu.Lock()
	var added []string
	for id, e := range r.guilds {
		if e.state != ready {
			continue
		}
		if _, ok := e.g.Perms[pluginID]; ok {
			continue
		}
		g := clone(e.g)
		g.Perms[pluginID] = &Permission{Guild: id, Plugin: pluginID}
		e.g = g
		added = append(added, id)
	}
	r.mu.Unlock()
	for _, id := range added {
		id := id
		r.async(func(ctx context.Context) {
			if err := r.store.InitPermission(ctx, id, pluginID); err != nil {
				slog.ErrorContext(ctx, "couldn't persist permission init",
					slog.String("guild", id),
					slog.String("plugin", pluginID),
					slog.Any("err", err))
			}
		})
	}
}

// PluginRemoved discards the plugin's permission record and enabled-set
// entry on every guild.
func (r *Registry) PluginRemoved(ctx context.Context, pluginID string) {
	r.mu.Lock()
	var touched []string
	replugged := make(map[string][]string)
	for id, e := range r.guilds {
		if e.state != ready {
			continue
		}
		g := clone(e.g)
		delete(g.Perms, pluginID)
		if g.Plugins.Restricted() && g.Plugins.Allows(pluginID) {
			g.Plugins = g.Plugins.Remove(pluginID)
			replugged[id] = g.Plugins.IDs()
		}
		e.g = g
		touched = append(touched, id)
	}
	r.mu.Unlock()
	for _, id := range touched {
		id := id
		plugs, rewrite := replugged[id]
		r.async(func(ctx context.Context) {
			if err := r.store.DeletePermission(ctx, id, pluginID); err != nil {
				slog.ErrorContext(ctx, "couldn't delete permission record",
					slog.String("guild", id),
					slog.String("plugin", pluginID),
					slog.Any("err", err))
			}
			if !rewrite {
				return
			}
			if err := r.store.SetPlugins(ctx, id, plugs); err != nil {
				slog.ErrorContext(ctx, "couldn't persist enabled plugins",
					slog.String("guild", id),
					slog.String("plugin", pluginID),
					slog.Any("err", err))
			}
		})
	}
}
