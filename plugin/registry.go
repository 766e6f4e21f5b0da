package plugin

import (
	"context"
	"log/slog"
	"sync"
)

// Hook receives plugin lifecycle notifications. Every subscriber sees every
// load and removal; the guild registry uses this to keep permission records
// in step with the installed plugin set.
type Hook interface {
	PluginLoaded(ctx context.Context, pluginID string)
	PluginRemoved(ctx context.Context, pluginID string)
}

// Saver persists the global enabled flag of plugins.
type Saver interface {
	SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error
}

type pentry struct {
	p       *Plugin
	kit     *Kit
	enabled bool
}

// Registry tracks the set of installed plugins.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]*pentry
	order   []string
	hooks   []Hook

	saver Saver
	async func(fn func(context.Context))
}

// NewRegistry returns an empty plugin registry. If async is nil, persistence
// writes run on new goroutines.
func NewRegistry(saver Saver, async func(fn func(context.Context))) *Registry {
	if async == nil {
		async = func(fn func(context.Context)) { go fn(context.Background()) }
	}
	return &Registry{
		plugins: make(map[string]*pentry),
		saver:   saver,
		async:   async,
	}
}

// Subscribe adds a lifecycle hook. Hooks registered after a plugin loads do
// not see that load.
func (r *Registry) Subscribe(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Register installs a plugin with its capability kit and notifies every
// hook. The plugin starts enabled.
func (r *Registry) Register(ctx context.Context, p *Plugin, kit *Kit) {
	r.mu.Lock()
	if _, ok := r.plugins[p.ID]; ok {
		r.mu.Unlock()
		slog.WarnContext(ctx, "plugin already registered", slog.String("plugin", p.ID))
		return
	}
	r.plugins[p.ID] = &pentry{p: p, kit: kit, enabled: true}
	r.order = append(r.order, p.ID)
	hooks := r.hooks
	if len(hooks) == 0 {
		slog.WarnContext(ctx, "plugin loaded with no subscribers", slog.String("plugin", p.ID))
	}
	r.mu.Unlock()
	for _, h := range hooks {
		h.PluginLoaded(ctx, p.ID)
	}
}

// Deregister removes a plugin, notifying every hook before it disappears.
func (r *Registry) Deregister(ctx context.Context, pluginID string) {
	r.mu.Lock()
	_, ok := r.plugins[pluginID]
	hooks := r.hooks
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, h := range hooks {
		h.PluginRemoved(ctx, pluginID)
	}
	r.mu.Lock()
	delete(r.plugins, pluginID)
	for i, id := range r.order {
		if id == pluginID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

// Lookup returns a plugin by identifier regardless of its enabled state.
func (r *Registry) Lookup(pluginID string) *Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.plugins[pluginID]
	if e == nil {
		return nil
	}
	return e.p
}

// Kit returns the capability kit for a plugin.
func (r *Registry) Kit(pluginID string) *Kit {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.plugins[pluginID]
	if e == nil {
		return nil
	}
	return e.kit
}

// All returns every enabled plugin in registration order.
func (r *Registry) All() []*Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := make([]*Plugin, 0, len(r.order))
	for _, id := range r.order {
		if e := r.plugins[id]; e != nil && e.enabled {
			ps = append(ps, e.p)
		}
	}
	return ps
}

// SetEnabled sets a plugin's global enabled flag and schedules the write.
func (r *Registry) SetEnabled(pluginID string, enabled bool) {
	r.mu.Lock()
	e := r.plugins[pluginID]
	if e == nil {
		r.mu.Unlock()
		return
	}
	e.enabled = enabled
	r.mu.Unlock()
	if r.saver == nil {
		return
	}
	r.async(func(ctx context.Context) {
		if err := r.saver.SetPluginEnabled(ctx, pluginID, enabled); err != nil {
			slog.ErrorContext(ctx, "couldn't persist plugin flag",
				slog.String("plugin", pluginID),
				slog.Bool("enabled", enabled),
				slog.Any("err", err))
		}
	})
}
