package container

import (
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/immutable"
)

// Resolver is the read side of the container, implemented by *Container
// and *Scope and injected into factories.
type Resolver interface {
	Resolve(t reflect.Type, opts ...ResolveOption) (any, error)
	ResolveAll(t reflect.Type, opts ...ResolveOption) []any
	CanResolve(t reflect.Type, key any) bool
}

// Scope owns scoped instances and the disposal list for everything created
// inside it. The container's root scope owns singletons.
type Scope struct {
	id        uuid.UUID
	name      string
	container *Container
	parent    *Scope
	items     immutable.Ref[uint64, *slot]
	disposer  *Disposer
	closed    atomic.Bool
}

func newScope(c *Container, parent *Scope, name string) *Scope {
	return &Scope{
		id:        uuid.New(),
		name:      name,
		container: c,
		parent:    parent,
		disposer:  newDisposer(c.log, c.observer),
	}
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() uuid.UUID { return s.id }

// Name returns the name given at OpenScope.
func (s *Scope) Name() string { return s.name }

// Parent returns the enclosing scope, nil for the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Container returns the container the scope belongs to.
func (s *Scope) Container() *Container { return s.container }

// Disposer returns the scope's disposal list.
func (s *Scope) Disposer() *Disposer { return s.disposer }

// Closed reports whether Close has run.
func (s *Scope) Closed() bool { return s.closed.Load() }

func (s *Scope) root() *Scope { return s.container.root }

func (s *Scope) item(id uint64, ctx *Context, create func() (reflect.Value, error)) (reflect.Value, error) {
	sl, ok := s.items.Get(id)
	if !ok {
		sl, _ = s.items.AddOrKeep(id, &slot{})
	}
	return sl.get(ctx, create)
}

// OpenScope opens a nested scope.
func (s *Scope) OpenScope(name string) *Scope {
	child := newScope(s.container, s, name)
	s.container.log.Debug("scope opened",
		zap.String("scope", name),
		zap.Stringer("id", child.id))
	return child
}

// Close disposes every instance the scope owns, newest first. Further
// resolves from the scope fail with ErrDisposed.
func (s *Scope) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.container.log.Debug("scope closed",
		zap.String("scope", s.name),
		zap.Stringer("id", s.id),
		zap.Int("disposables", s.disposer.Len()))
	return s.disposer.Dispose()
}

// Resolve resolves t inside the scope.
func (s *Scope) Resolve(t reflect.Type, opts ...ResolveOption) (any, error) {
	return s.container.resolveIn(s, t, newResolveOptions(opts))
}

// ResolveAll resolves every provider of t inside the scope. It never fails;
// an unresolvable collection is empty.
func (s *Scope) ResolveAll(t reflect.Type, opts ...ResolveOption) []any {
	return s.container.resolveAllIn(s, t, newResolveOptions(opts))
}

// CanResolve reports whether t (under key) could be resolved.
func (s *Scope) CanResolve(t reflect.Type, key any) bool {
	return s.container.canResolve(t, key)
}

// boundResolver resolves in a scope while sharing one ambient context, so
// factories take part in the resolve that invoked them.
type boundResolver struct {
	scope *Scope
	ctx   *Context
}

func (r *boundResolver) Resolve(t reflect.Type, opts ...ResolveOption) (any, error) {
	o := newResolveOptions(opts)
	if o.ctx == nil {
		o.ctx = r.ctx
	}
	return r.scope.container.resolveIn(r.scope, t, o)
}

func (r *boundResolver) ResolveAll(t reflect.Type, opts ...ResolveOption) []any {
	o := newResolveOptions(opts)
	if o.ctx == nil {
		o.ctx = r.ctx
	}
	return r.scope.container.resolveAllIn(r.scope, t, o)
}

func (r *boundResolver) CanResolve(t reflect.Type, key any) bool {
	return r.scope.container.canResolve(t, key)
}
