package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fennwaldt/pulsetrace/pkg/provider/llm"
	"github.com/fennwaldt/pulsetrace/pkg/sensor"
)

// ErrNotRegistered is returned when a factory lookup fails.
var ErrNotRegistered = errors.New("not registered")

// LinkFactory builds a sensor link from its config block.
type LinkFactory func(cfg SensorConfig) (sensor.Link, error)

// LLMFactory builds an LLM provider from its config entry.
type LLMFactory func(entry ProviderEntry) (llm.Provider, error)

// Registry maps names from the config file to factory functions. The main
// package registers the built-in implementations at startup; tests and
// extensions can register their own.
type Registry struct {
	mu    sync.RWMutex
	links map[string]LinkFactory
	llms  map[string]LLMFactory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		links: make(map[string]LinkFactory),
		llms:  make(map[string]LLMFactory),
	}
}

// RegisterLink registers a sensor link factory under the given transport
// name, replacing any previous registration.
func (r *Registry) RegisterLink(transport string, factory LinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[transport] = factory
}

// RegisterLLM registers an LLM provider factory under the given name,
// replacing any previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llms[name] = factory
}

// CreateLink builds the sensor link selected by cfg.Transport.
func (r *Registry) CreateLink(cfg SensorConfig) (sensor.Link, error) {
	r.mu.RLock()
	factory, ok := r.links[cfg.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: link/%q", ErrNotRegistered, cfg.Transport)
	}
	return factory(cfg)
}

// CreateLLM builds the LLM provider selected by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llms[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrNotRegistered, entry.Name)
	}
	return factory(entry)
}
