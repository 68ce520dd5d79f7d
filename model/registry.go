package model

import (
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

// Factory builds a Model for a concrete model name.
type Factory func(name string) (Model, error)

// Registry resolves model names to providers by name prefix, e.g. "claude"
// to Anthropic or "gemini" to Gemini. The longest matching prefix wins.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register binds prefix to factory, replacing an existing binding.
func (r *Registry) Register(prefix string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(prefix)] = factory
}

// Prefixes returns the registered prefixes in sorted order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the model for name. Unknown names yield a *core.ConfigError.
func (r *Registry) Resolve(name string) (Model, error) {
	r.mu.RLock()
	var (
		best    string
		factory Factory
	)
	lower := strings.ToLower(name)
	for prefix, f := range r.factories {
		if strings.HasPrefix(lower, prefix) && len(prefix) > len(best) {
			best, factory = prefix, f
		}
	}
	r.mu.RUnlock()

	if factory == nil {
		return nil, core.NewConfigError("model registry", "no provider registered for model %q", name)
	}
	return factory(name)
}
