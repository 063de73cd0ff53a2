package chains

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages attestation schemes by name
type Registry struct {
	schemes map[string]AttestationScheme
	mu      sync.RWMutex
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		schemes: make(map[string]AttestationScheme),
	}
}

// InitGlobalRegistry initializes the global scheme registry
func InitGlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// GetGlobalRegistry returns the global scheme registry (returns nil if not initialized)
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register registers a scheme (uses scheme.Name() as key)
// If a scheme already exists under that name, it will be replaced (idempotent)
func (r *Registry) Register(scheme AttestationScheme) error {
	if scheme == nil {
		return fmt.Errorf("cannot register nil scheme")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemes[scheme.Name()] = scheme
	return nil
}

// Get retrieves a scheme by name
func (r *Registry) Get(name string) (AttestationScheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scheme, exists := r.schemes[name]
	if !exists {
		return nil, fmt.Errorf("no attestation scheme registered under name: %s", name)
	}

	return scheme, nil
}

// GetSupportedSchemes returns the sorted names of all registered schemes
func (r *Registry) GetSupportedSchemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported checks if a scheme is registered
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.schemes[name]
	return exists
}

// Unregister removes a scheme (useful for testing)
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.schemes, name)
}

// ResetGlobalRegistry resets the global registry (useful for testing)
func ResetGlobalRegistry() {
	globalRegistry = nil
	globalRegistryOnce = sync.Once{}
}
