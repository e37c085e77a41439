package common

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// AlgorithmRegistry manages available path finding algorithms
type AlgorithmRegistry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// Global algorithm registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *AlgorithmRegistry {
	return &AlgorithmRegistry{factories: make(map[string]Factory)}
}

// Register registers a new algorithm with the given name
func (ar *AlgorithmRegistry) Register(name string, factory Factory) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if _, exists := ar.factories[name]; exists {
		return fmt.Errorf("algorithm '%s' is already registered", name)
	}

	ar.factories[name] = factory
	return nil
}

// New builds a fresh instance of the named algorithm
func (ar *AlgorithmRegistry) New(name string) (PathFinder, error) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	factory, exists := ar.factories[name]
	if !exists {
		return nil, fmt.Errorf("algorithm '%s' not found in registry", name)
	}

	return factory(), nil
}

// List returns all registered algorithm names, sorted
func (ar *AlgorithmRegistry) List() []string {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	names := make([]string, 0, len(ar.factories))
	for name := range ar.factories {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// GetGlobalRegistry returns the global algorithm registry
func GetGlobalRegistry() *AlgorithmRegistry {
	return globalRegistry
}

// RegisterGlobal registers an algorithm in the global registry
func RegisterGlobal(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// NewGlobal builds an algorithm from the global registry
func NewGlobal(name string) (PathFinder, error) {
	return globalRegistry.New(name)
}

// ListGlobal returns all registered algorithms in the global registry
func ListGlobal() []string {
	return globalRegistry.List()
}
