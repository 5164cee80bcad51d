package container

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/immutable"
)

// ── Keys ──────────────────────────────────────────────────────────────────────

// cacheKey identifies a compiled activator.
type cacheKey struct {
	typ reflect.Type
	key any
}

// allKey marks the key of a ResolveAll activator, so it never collides with
// a resolve of the slice type itself.
type allKey struct{ key any }

// slotKey identifies a lifestyle slot shared by decorated plans.
type slotKey struct {
	a, b uint64
	typ  reflect.Type
}

type contextualKey struct {
	consumer reflect.Type
	need     reflect.Type
}

// CompiledKey describes one entry of the compiled-activator cache.
type CompiledKey struct {
	Type reflect.Type
	Key  any
	All  bool
}

// ── Container ─────────────────────────────────────────────────────────────────

// Container resolves object graphs from registered providers. Each
// distinct (type, key) request is planned once, compiled into an Activator
// and cached; later resolves run the cached Activator without locking.
//
//	c := container.New(container.WithLogger(log))
//	_ = c.Register(container.MustProvider(NewUserService, container.Reuse(container.Singleton)))
//	svc, err := container.Resolve[*UserService](c)
type Container struct {
	registry   *Registry
	parent     *Container
	root       *Scope
	compiled   immutable.Ref[cacheKey, Activator]
	slots      immutable.Ref[slotKey, uint64]
	contextual immutable.Ref[contextualKey, *Provider]

	discoverMu  sync.Mutex
	discoverers atomic.Pointer[[]Discoverer]

	opts     options
	log      *zap.Logger
	observer Observer
}

// New creates an empty container.
func New(opts ...Option) *Container {
	return newContainer(nil, newOptions(opts))
}

func newContainer(parent *Container, o options) *Container {
	c := &Container{
		registry: NewRegistry(o.rejectDuplicateKeys),
		parent:   parent,
		opts:     o,
		log:      o.log,
		observer: o.observer,
	}
	ds := slices.Clone(o.discoverers)
	c.discoverers.Store(&ds)
	c.root = newScope(c, nil, "root")
	return c
}

// Child creates a container that falls back to c for anything it cannot
// resolve itself. It inherits c's options except discoverers.
func (c *Container) Child(opts ...Option) *Container {
	o := c.opts
	o.discoverers = nil
	for _, opt := range opts {
		opt(&o)
	}
	return newContainer(c, o)
}

// Parent returns the container Child was called on, nil for a root.
func (c *Container) Parent() *Container { return c.parent }

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger { return c.log }

// Registry exposes the provider registry.
func (c *Container) Registry() *Registry { return c.registry }

// Root returns the root scope, which owns singletons.
func (c *Container) Root() *Scope { return c.root }

// ── Registration ──────────────────────────────────────────────────────────────

// Register adds providers. Activators compiled before the call are not
// invalidated: register everything before the first resolve of the
// affected types.
func (c *Container) Register(providers ...*Provider) error {
	for _, p := range providers {
		if err := c.registry.Add(p); err != nil {
			return err
		}
		c.log.Debug("provider registered",
			zap.Stringer("provider", p),
			zap.Stringers("services", p.services))
	}
	return nil
}

// Provide is shorthand for Register(NewProvider(ctor, opts...)).
func (c *Container) Provide(ctor any, opts ...ProviderOption) error {
	p, err := NewProvider(ctor, opts...)
	if err != nil {
		return err
	}
	return c.Register(p)
}

// Unregister removes the providers exported as t under key (nil for
// default providers) and returns how many registrations were dropped.
func (c *Container) Unregister(t reflect.Type, key any) int {
	return c.registry.RemoveFunc(func(p *Provider) bool {
		return p.key == key && provides(p, t)
	})
}

// Bound reports whether a provider is registered for t, here or in a
// parent container.
func (c *Container) Bound(t reflect.Type) bool {
	for a := c; a != nil; a = a.parent {
		if a.registry.Has(t) {
			return true
		}
	}
	return false
}

// AddDiscoverer adds a just-in-time discovery hook.
func (c *Container) AddDiscoverer(d Discoverer) {
	for {
		old := c.discoverers.Load()
		next := append(slices.Clone(*old), d)
		if c.discoverers.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ── Resolution ────────────────────────────────────────────────────────────────

// OpenScope opens a scope under the root scope.
func (c *Container) OpenScope(name string) *Scope {
	return c.root.OpenScope(name)
}

// Resolve resolves t from the root scope.
func (c *Container) Resolve(t reflect.Type, opts ...ResolveOption) (any, error) {
	return c.resolveIn(c.root, t, newResolveOptions(opts))
}

// ResolveAll resolves every provider of t from the root scope. It never
// fails; an unresolvable collection is empty.
func (c *Container) ResolveAll(t reflect.Type, opts ...ResolveOption) []any {
	return c.resolveAllIn(c.root, t, newResolveOptions(opts))
}

// CanResolve reports whether t (under key) could be resolved. Planning may
// run discovery, but nothing is instantiated.
func (c *Container) CanResolve(t reflect.Type, key any) bool {
	return c.canResolve(t, key)
}

// Close disposes the root scope: every singleton and every transient the
// root scope tracked.
func (c *Container) Close() error {
	return c.root.Close()
}

func (c *Container) resolveIn(s *Scope, t reflect.Type, o resolveOptions) (any, error) {
	start := time.Now()
	if s.closed.Load() {
		return nil, newError(ErrDisposed, newRequest(t, o.key), s.name, nil)
	}
	ctx := o.ctx
	if ctx == nil {
		ctx = NewContext()
	}

	ck := cacheKey{typ: t, key: o.key}
	cacheable := o.cacheable()
	if cacheable {
		if act, ok := c.compiled.Get(ck); ok {
			v, err := act(s, s.disposer, ctx)
			c.observer.Resolved(t, o.key, true, time.Since(start), err)
			return v, err
		}
	}

	act, ctxFree, err := c.compile(t, o, ctx, false)
	if err != nil {
		c.log.Debug("resolve failed", zap.Stringer("type", t), zap.Any("key", o.key), zap.Error(err))
		c.observer.Resolved(t, o.key, false, time.Since(start), err)
		return nil, err
	}
	if cacheable && ctxFree {
		act = c.publish(ck, act)
	}

	v, err := act(s, s.disposer, ctx)
	c.observer.Resolved(t, o.key, false, time.Since(start), err)
	return v, err
}

func (c *Container) resolveAllIn(s *Scope, t reflect.Type, o resolveOptions) []any {
	if s.closed.Load() {
		return []any{}
	}
	ctx := o.ctx
	if ctx == nil {
		ctx = NewContext()
	}
	st := reflect.SliceOf(t)

	ck := cacheKey{typ: st, key: allKey{key: o.key}}
	cacheable := o.filter == nil && o.order == nil && (o.key == nil || reflect.TypeOf(o.key).Comparable())
	var act Activator
	if cacheable {
		act, _ = c.compiled.Get(ck)
	}
	if act == nil {
		var ctxFree bool
		var err error
		act, ctxFree, err = c.compile(st, o, ctx, true)
		if err != nil {
			c.log.Debug("resolve all failed", zap.Stringer("type", t), zap.Error(err))
			return []any{}
		}
		if cacheable && ctxFree {
			act = c.publish(ck, act)
		}
	}

	v, err := act(s, s.disposer, ctx)
	if err != nil || v == nil {
		if err != nil {
			c.log.Debug("resolve all failed", zap.Stringer("type", t), zap.Error(err))
		}
		return []any{}
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// publish stores act unless another goroutine compiled the same key first,
// and returns the activator everyone will use.
func (c *Container) publish(ck cacheKey, act Activator) Activator {
	actual, loaded := c.compiled.AddOrKeep(ck, act)
	if loaded {
		c.log.Debug("compiled activator race lost", zap.Stringer("type", ck.typ))
		return actual
	}
	c.log.Debug("plan compiled", zap.Stringer("type", ck.typ), zap.Any("key", ck.key))
	c.observer.Compiled(ck.typ, ck.key)
	return act
}

// compile plans and compiles one request. ctxFree reports whether the plan
// is independent of the ambient context.
func (c *Container) compile(t reflect.Type, o resolveOptions, ctx *Context, all bool) (act Activator, ctxFree bool, err error) {
	p := &planner{c: c, ctx: ctx, order: o.order}
	req := newRequest(t, o.key)
	req.filter = o.filter
	req.required = o.required
	if o.hasDef {
		def, err := coerceValue(o.def, t)
		if err != nil {
			return nil, false, newError(ErrCoercion, req, "default value", err)
		}
		req.def = def
	}

	var n node
	if all {
		n, err = p.collection(req)
		if err == nil && n == nil {
			n = &constNode{typ: t, value: reflect.MakeSlice(t, 0, 0)}
		}
	} else {
		n, err = p.plan(req)
	}
	if err != nil {
		return nil, false, err
	}
	return compileActivator(n), !p.usedContext, nil
}

func (c *Container) canResolve(t reflect.Type, key any) bool {
	p := &planner{c: c}
	_, err := p.plan(newRequest(t, key))
	return err == nil
}

// slotID returns the lifestyle slot shared by every plan of (a, b, t).
func (c *Container) slotID(a, b uint64, t reflect.Type) uint64 {
	k := slotKey{a: a, b: b, typ: t}
	if id, ok := c.slots.Get(k); ok {
		return id
	}
	id, _ := c.slots.AddOrKeep(k, nextID())
	return id
}

// CompiledKeys lists the compiled-activator cache, for diagnostics.
func (c *Container) CompiledKeys() []CompiledKey {
	var out []CompiledKey
	c.compiled.Load().Each(func(k cacheKey, _ Activator) bool {
		ck := CompiledKey{Type: k.typ, Key: k.key}
		if ak, ok := k.key.(allKey); ok {
			ck = CompiledKey{Type: k.typ.Elem(), Key: ak.key, All: true}
		}
		out = append(out, ck)
		return true
	})
	slices.SortFunc(out, func(a, b CompiledKey) int {
		switch {
		case a.Type.String() < b.Type.String():
			return -1
		case a.Type.String() > b.Type.String():
			return 1
		}
		return 0
	})
	return out
}
