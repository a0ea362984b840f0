package pluginhost

import (
	"context"
	"sync"
)

// Entrypoint is a loaded plugin's executable entry point: given a bound
// Host and the execution's params, it runs the plugin and returns a
// result payload.
type Entrypoint interface {
	Execute(ctx context.Context, host *Host, params map[string]any) (map[string]any, error)
}

type registryEntry struct {
	entrypoint Entrypoint
	enabled    bool
}

// Registry is the in-process table of loaded plugin entrypoints. Plugin
// loading/compilation itself (C10's deployment concern) is out of scope;
// Registry only tracks what has already been loaded and whether it's
// enabled. It satisfies internal/scheduler's PluginRegistry seam, but
// cmd/run-scheduler runs as a separate process wired with
// scheduler.AllowAllRegistry, so the scheduler does not consult this table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]registryEntry{}}
}

// Register loads ep under name, enabled or disabled as given.
func (r *Registry) Register(name string, ep Entrypoint, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registryEntry{entrypoint: ep, enabled: enabled}
}

// SetEnabled flips a registered plugin's enabled flag. A no-op if name
// isn't registered.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.enabled = enabled
	r.entries[name] = e
}

// IsRegisteredAndEnabled satisfies internal/scheduler.PluginRegistry.
func (r *Registry) IsRegisteredAndEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// Lookup returns the entrypoint registered under name, if any and enabled.
func (r *Registry) Lookup(name string) (Entrypoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || !e.enabled {
		return nil, false
	}
	return e.entrypoint, true
}
