package container

import (
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Discoverer registers providers for a type the container could not plan.
// It reports whether it registered anything. Discoverers run under the
// container's discovery lock and must not resolve; followup, if not nil,
// runs after the lock is released and may resolve freely.
type Discoverer func(c *Container, t reflect.Type, key any) (found bool, followup func())

// discover runs the discoverers for t under the discovery lock. hit repeats
// the registry selection that missed; when it now succeeds, a concurrent
// discovery already registered what is needed and the hooks are skipped.
// It reports whether the request may now be satisfied.
func (c *Container) discover(t reflect.Type, key any, hit func() bool) bool {
	ds := *c.discoverers.Load()
	if len(ds) == 0 {
		return false
	}

	c.discoverMu.Lock()
	if hit() {
		c.discoverMu.Unlock()
		return true
	}
	found := false
	var followups []func()
	for _, d := range ds {
		ok, followup := d(c, t, key)
		found = found || ok
		if followup != nil {
			followups = append(followups, followup)
		}
	}
	c.discoverMu.Unlock()

	for _, fn := range followups {
		fn()
	}
	if found {
		c.log.Info("provider discovered", zap.Stringer("type", t), zap.Any("key", key))
	}
	c.observer.Discovered(t, found)
	return found
}

// ── ServiceProvider interface ─────────────────────────────────────────────────

// ServiceProvider groups related registrations.
//
// Register is called when the provider is added (or, for deferred
// providers, the first time one of its Provides types is requested).
// Boot runs after every eager provider is registered, so it may resolve.
//
//	type CacheProvider struct{ container.BaseProvider }
//
//	func (p *CacheProvider) Register(app *container.Container) error {
//	    return app.Provide(NewRedisCache, container.Reuse(container.Singleton))
//	}
type ServiceProvider interface {
	// Register adds providers to the container. Do not resolve here.
	Register(app *Container) error

	// Boot is called after all providers are registered.
	Boot(app *Container) error

	// Provides lists the service types a deferred provider registers.
	Provides() []reflect.Type

	// IsDeferred reports whether registration waits until one of the
	// Provides types is first requested.
	IsDeferred() bool
}

// BaseProvider is an embeddable no-op implementation of Boot, Provides and
// IsDeferred.
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ *Container) error  { return nil }
func (p *BaseProvider) Provides() []reflect.Type { return nil }
func (p *BaseProvider) IsDeferred() bool         { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry registers and boots ServiceProviders. Deferred providers
// are registered through just-in-time discovery the first time one of
// their types cannot be planned.
type ProviderRegistry struct {
	mu         sync.Mutex
	app        *Container
	eager      []ServiceProvider
	deferred   map[reflect.Type]ServiceProvider
	booted     bool
	registered map[ServiceProvider]bool
}

// NewProviderRegistry creates a registry bound to app.
func NewProviderRegistry(app *Container) *ProviderRegistry {
	r := &ProviderRegistry{
		app:        app,
		deferred:   make(map[reflect.Type]ServiceProvider),
		registered: make(map[ServiceProvider]bool),
	}
	app.AddDiscoverer(r.discover)
	return r
}

// Register adds a provider and calls its Register method unless it is
// deferred. A provider added after Boot is booted immediately.
func (r *ProviderRegistry) Register(provider ServiceProvider) error {
	r.mu.Lock()
	if r.registered[provider] {
		r.mu.Unlock()
		return nil
	}
	r.registered[provider] = true

	if provider.IsDeferred() {
		for _, t := range provider.Provides() {
			r.deferred[t] = provider
		}
		r.mu.Unlock()
		return nil
	}
	r.eager = append(r.eager, provider)
	booted := r.booted
	r.mu.Unlock()

	if err := provider.Register(r.app); err != nil {
		return err
	}
	if booted {
		return provider.Boot(r.app)
	}
	return nil
}

// discover registers the deferred provider for t, if any.
func (r *ProviderRegistry) discover(c *Container, t reflect.Type, _ any) (bool, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, ok := r.deferred[t]
	if !ok {
		return false, nil
	}
	for _, pt := range provider.Provides() {
		delete(r.deferred, pt)
	}
	if err := provider.Register(c); err != nil {
		c.log.Error("deferred provider failed to register", zap.Stringer("type", t), zap.Error(err))
		return false, nil
	}
	r.eager = append(r.eager, provider)
	if !r.booted {
		return true, nil
	}
	return true, func() {
		if err := provider.Boot(c); err != nil {
			c.log.Error("deferred provider failed to boot", zap.Stringer("type", t), zap.Error(err))
		}
	}
}

// Boot calls Boot on every registered provider once and returns their
// errors combined.
func (r *ProviderRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	providers := append([]ServiceProvider(nil), r.eager...)
	r.mu.Unlock()

	var errs error
	for _, provider := range providers {
		errs = multierr.Append(errs, provider.Boot(r.app))
	}
	return errs
}

// Booted reports whether Boot has been called.
func (r *ProviderRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Providers returns the registered providers, deferred ones included once
// they have been loaded.
func (r *ProviderRegistry) Providers() []ServiceProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceProvider(nil), r.eager...)
}

// Deferred lists the service types still waiting on a deferred provider.
func (r *ProviderRegistry) Deferred() []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reflect.Type, 0, len(r.deferred))
	for t := range r.deferred {
		out = append(out, t)
	}
	return out
}
