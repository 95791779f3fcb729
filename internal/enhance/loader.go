package enhance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/luaweave/internal/domain"
	"github.com/dshills/luaweave/internal/plugin"
)

// Loader resolves and caches interceptor instances per (name, domain).
//
// The cache key combines the interceptor's logical name with the identity
// of the domain that loaded the target unit. An instance built for domain A
// holds values owned by A's Lua state; handing it to another domain would
// mean cross-state value aliasing, which gopher-lua forbids. For a fixed
// (name, domain) pair Resolve always returns the same instance, so
// interceptors may keep domain-scoped mutable state safely.
type Loader struct {
	registry *plugin.Registry

	// instances is the hit path: lock-free reads keyed by name+domain.
	instances sync.Map // string -> any

	// loadLock serializes the miss path so at most one construction
	// happens per (name, domain) even under concurrent first use.
	loadLock sync.Mutex

	// extended memoizes one extended resolution context per domain.
	// Guarded by loadLock.
	extended map[string]*domain.Extended
}

// NewLoader creates a loader over the given interceptor registry.
func NewLoader(registry *plugin.Registry) *Loader {
	return &Loader{
		registry: registry,
		extended: make(map[string]*domain.Extended),
	}
}

// Resolve returns the singleton interceptor instance for (name, domain),
// constructing it on first use.
func (l *Loader) Resolve(name string, dom *domain.Domain) (any, error) {
	key := instanceKey(name, dom)

	if inst, ok := l.instances.Load(key); ok {
		return inst, nil
	}

	l.loadLock.Lock()
	defer l.loadLock.Unlock()

	// Another goroutine may have finished construction while this one
	// waited for the lock.
	if inst, ok := l.instances.Load(key); ok {
		return inst, nil
	}

	ext, ok := l.extended[dom.ID()]
	if !ok {
		ext = domain.NewExtended(dom)
		l.extended[dom.ID()] = ext
	}

	factory, err := l.registry.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", name, errors.Join(ErrInterceptorUnavailable, err))
	}

	inst, err := factory(ext)
	if err != nil {
		return nil, fmt.Errorf("construct %q for domain %s: %w",
			name, dom.Name(), errors.Join(ErrInterceptorUnavailable, err))
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", ErrInterceptorUnavailable, name)
	}

	l.instances.Store(key, inst)
	return inst, nil
}

// instanceKey builds the cache key for an interceptor in a domain.
func instanceKey(name string, dom *domain.Domain) string {
	return name + "_OF_" + dom.ID()
}
