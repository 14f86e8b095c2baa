package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory constructs an LLM provider from its configuration entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// PersistenceFactory constructs a persistence backend. ctx bounds any
// connection setup.
type PersistenceFactory func(context.Context, PersistenceConfig) (memory.Persistence, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         map[string]LLMFactory
	persistence map[string]PersistenceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         make(map[string]LLMFactory),
		persistence: make(map[string]PersistenceFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterPersistence registers a persistence backend factory under name.
func (r *Registry) RegisterPersistence(name string, factory PersistenceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistence[name] = factory
}

// LLMNames returns the registered LLM provider names in no particular order.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for name := range r.llm {
		names = append(names, name)
	}
	return names
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePersistence instantiates the backend registered under cfg.Backend.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreatePersistence(ctx context.Context, cfg PersistenceConfig) (memory.Persistence, error) {
	r.mu.RLock()
	factory, ok := r.persistence[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: persistence/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}
