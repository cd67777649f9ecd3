package render

import (
	"fmt"
	"sort"
	"sync"

	"github.com/netfence/netfence/pkg/engine"
)

// PluginRegistry holds the platform plugins available to a Renderer,
// keyed by platform name.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]engine.Plugin
}

// NewPluginRegistry creates an empty plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins: make(map[string]engine.Plugin),
	}
}

// Register adds a plugin. Registering two plugins for the same platform
// is a programming error and fails.
func (r *PluginRegistry) Register(p engine.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Platform()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin already registered for platform %s", name)
	}
	r.plugins[name] = p
	return nil
}

// Get returns the plugin for a platform.
func (r *PluginRegistry) Get(platform string) (engine.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[platform]
	return p, ok
}

// Platforms returns the sorted names of all registered platforms.
func (r *PluginRegistry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
