// Package generators provides language-model backend implementations.
//
// Backends are selected by name at construction time through a registry;
// everything above this package depends only on interfaces.Generator.
package generators

import (
	"fmt"
	"sort"
	"sync"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
	"github.com/taskmesh/taskmesh/pkg/types"
)

// Factory builds a generator from configuration
type Factory func(cfg *types.GenerationConfig, log logger.Logger) (interfaces.Generator, error)

// Registry maps backend names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in backends
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("command", func(cfg *types.GenerationConfig, log logger.Logger) (interfaces.Generator, error) {
		return NewCommandGenerator(cfg.Endpoint, cfg.Model, log), nil
	})
	r.Register("httpapi", func(cfg *types.GenerationConfig, log logger.Logger) (interfaces.Generator, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("httpapi backend requires an endpoint")
		}
		return NewAPIGenerator(cfg.Endpoint, cfg.Model, log), nil
	})

	return r
}

// Register adds a backend factory under a name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered backend names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the configured backend, wrapping it in a fallback chain
// when the config names fallbacks.
func (r *Registry) Create(cfg *types.GenerationConfig, log logger.Logger) (interfaces.Generator, error) {
	primary, err := r.create(cfg.Backend, cfg, log)
	if err != nil {
		return nil, err
	}

	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	chain := []interfaces.Generator{primary}
	for _, name := range cfg.Fallbacks {
		g, err := r.create(name, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", name, err)
		}
		chain = append(chain, g)
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return NewChain(chain, attempts, log), nil
}

func (r *Registry) create(name string, cfg *types.GenerationConfig, log logger.Logger) (interfaces.Generator, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown generation backend: %s", name)
	}
	return factory(cfg, log)
}
