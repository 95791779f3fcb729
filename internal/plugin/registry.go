package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/luaweave/internal/domain"
)

// Registry errors.
var (
	// ErrUnknownInterceptor is returned when a logical name has no factory.
	ErrUnknownInterceptor = errors.New("unknown interceptor")

	// ErrDuplicateInterceptor is returned when a name is registered twice.
	ErrDuplicateInterceptor = errors.New("interceptor already registered")

	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = errors.New("interceptor factory is nil")
)

// Factory builds one interceptor instance for one domain. The returned
// value must satisfy the interceptor contract expected by the points that
// name it; the applier checks the contract at wrap time.
type Factory func(ext *domain.Extended) (any, error)

// Registry maps logical interceptor names to factories. It is populated at
// discovery time and read-only afterward.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register binds a logical name to a factory.
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("interceptor %q: %w", name, ErrNilFactory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("interceptor %q: %w", name, ErrDuplicateInterceptor)
	}
	r.factories[name] = factory
	return nil
}

// Lookup returns the factory for a logical name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("interceptor %q: %w", name, ErrUnknownInterceptor)
	}
	return factory, nil
}

// Names returns all registered names, sorted.
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
