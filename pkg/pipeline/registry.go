package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PluginInfo describes an installed pipeline builder plugin.
type PluginInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Registry records the builder plugins a process has installed, keyed by
// pipeline type. It is constructed at startup and passed by reference;
// installing a plugin is an explicit Register call, never a side effect.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	info    PluginInfo
	builder Builder
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register installs a builder under info.Name. The name must be non-empty,
// must match the builder's pipeline type, and must not already be taken.
func (r *Registry) Register(info PluginInfo, builder Builder) error {
	name := strings.TrimSpace(info.Name)
	if name == "" {
		return errors.New("plugin registry: name is required")
	}
	if builder == nil {
		return fmt.Errorf("plugin registry: builder for %q is nil", name)
	}
	if got := builder.Name(); got != name {
		return fmt.Errorf("plugin registry: info name %q does not match builder type %q", name, got)
	}
	info.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("plugin registry: type %q already registered", name)
	}
	r.entries[name] = registryEntry{info: info, builder: builder}
	return nil
}

// Builder returns the installed builder for a pipeline type.
func (r *Registry) Builder(name string) (Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.builder, true
}

// Info returns the metadata recorded for a pipeline type.
func (r *Registry) Info(name string) (PluginInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return PluginInfo{}, false
	}
	return entry.info, true
}

// Plugins lists the installed plugins sorted by name.
func (r *Registry) Plugins() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]PluginInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		infos = append(infos, entry.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Install hands every registered builder to the handler, building pipelines
// for the chatbots activated under each type. Per-plugin failures are
// collected; the loop never aborts early.
func (r *Registry) Install(ctx context.Context, h *Handler) error {
	r.mu.RLock()
	builders := make([]Builder, 0, len(r.entries))
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		builders = append(builders, r.entries[name].builder)
	}
	r.mu.RUnlock()

	var errs []error
	for _, builder := range builders {
		if err := h.OnPluginReady(ctx, builder); err != nil {
			errs = append(errs, fmt.Errorf("install plugin %q: %w", builder.Name(), err))
		}
	}
	return errors.Join(errs...)
}
