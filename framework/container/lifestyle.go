package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Lifestyle is the caching policy applied around a provider's plan.
type Lifestyle uint8

const (
	// Transient runs the plan on every resolve.
	Transient Lifestyle = iota
	// Singleton caches the first instance in the container's root scope.
	Singleton
	// Scoped caches one instance per open Scope.
	Scoped
	// PerRequest caches one instance per top-level resolve (per Context).
	PerRequest
)

// String returns the lifestyle name.
func (l Lifestyle) String() string {
	switch l {
	case Transient:
		return "transient"
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case PerRequest:
		return "per-request"
	}
	return fmt.Sprintf("lifestyle(%d)", uint8(l))
}

// ParseLifestyle maps a lifestyle name back to its value.
func ParseLifestyle(s string) (Lifestyle, error) {
	for l := Transient; l <= PerRequest; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return Transient, fmt.Errorf("container: unknown lifestyle %q", s)
}

// errReentered is returned by slot.get when the resolve that is creating
// the slot's instance asks for the same slot again.
var errReentered = errors.New("container: instance requested while it is being created")

// slot holds one cached instance. The value is published once; until then
// creators serialize on mu so the plan runs at most once per slot. creator
// is the context of the resolve holding mu.
type slot struct {
	mu      sync.Mutex
	ready   atomic.Bool
	creator atomic.Pointer[Context]
	value   reflect.Value
}

func (s *slot) get(ctx *Context, create func() (reflect.Value, error)) (reflect.Value, error) {
	if s.ready.Load() {
		return s.value, nil
	}
	if ctx != nil && s.creator.Load() == ctx {
		return reflect.Value{}, errReentered
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Load() {
		return s.value, nil
	}
	s.creator.Store(ctx)
	defer s.creator.Store(nil)
	v, err := create()
	if err != nil {
		return reflect.Value{}, err
	}
	s.value = v
	s.ready.Store(true)
	return v, nil
}

// lifestyleNode is the caching boundary around an inner plan.
type lifestyleNode struct {
	inner     node
	lifestyle Lifestyle
	id        uint64
}

func applyLifestyle(n node, l Lifestyle, id uint64) node {
	if l == Transient {
		return n
	}
	return &lifestyleNode{inner: n, lifestyle: l, id: id}
}

func (n *lifestyleNode) Type() reflect.Type { return n.inner.Type() }

func (n *lifestyleNode) compile() evalFunc {
	inner := n.inner.compile()
	id, t := n.id, n.Type()

	// A constructor reaching its own cached instance through a deferred
	// wrapper would wait on the slot it holds.
	check := func(v reflect.Value, err error) (reflect.Value, error) {
		if err == errReentered {
			return v, newError(ErrCircularDependency, newRequest(t, nil), err.Error(), nil)
		}
		return v, err
	}

	switch n.lifestyle {
	case Singleton:
		return func(f *frame) (reflect.Value, error) {
			root := f.scope.root()
			// Singletons and their disposables belong to the root scope.
			return check(root.item(id, f.ctx, func() (reflect.Value, error) {
				return inner(f.with(root, root.disposer))
			}))
		}

	case Scoped:
		return func(f *frame) (reflect.Value, error) {
			s := f.scope
			return check(s.item(id, f.ctx, func() (reflect.Value, error) {
				return inner(f.with(s, s.disposer))
			}))
		}

	case PerRequest:
		return func(f *frame) (reflect.Value, error) {
			if f.ctx == nil {
				return inner(f)
			}
			return check(f.ctx.item(id, func() (reflect.Value, error) {
				return inner(f)
			}))
		}
	}
	return inner
}
