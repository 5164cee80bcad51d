package container

import (
	"fmt"
	"reflect"
)

type resolveOptions struct {
	key      any
	filter   func(*Provider) bool
	ctx      *Context
	def      any
	hasDef   bool
	required bool
	order    func(a, b *Provider) int
}

// ResolveOption adjusts a single resolve call.
type ResolveOption func(*resolveOptions)

func newResolveOptions(opts []ResolveOption) resolveOptions {
	o := resolveOptions{required: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithKey selects the provider registered under key. For collections a
// single key selects only that provider, and a []any of keys selects
// exactly those providers, in that order.
func WithKey(key any) ResolveOption {
	return func(o *resolveOptions) { o.key = key }
}

// WithFilter restricts candidate providers.
func WithFilter(fn func(*Provider) bool) ResolveOption {
	return func(o *resolveOptions) { o.filter = fn }
}

// WithContext supplies the ambient context for the resolve.
func WithContext(ctx *Context) ResolveOption {
	return func(o *resolveOptions) { o.ctx = ctx }
}

// WithDefault returns v when nothing can produce the type.
func WithDefault(v any) ResolveOption {
	return func(o *resolveOptions) {
		o.def = v
		o.hasDef = true
	}
}

// Optional returns nil instead of ErrNotFound when nothing can produce the
// type.
func Optional() ResolveOption {
	return func(o *resolveOptions) { o.required = false }
}

// WithOrder sorts collection elements by their providers.
func WithOrder(cmp func(a, b *Provider) int) ResolveOption {
	return func(o *resolveOptions) { o.order = cmp }
}

// cacheable reports whether the compiled activator for these options may
// be shared with later resolves of the same (type, key).
func (o resolveOptions) cacheable() bool {
	if o.filter != nil || o.hasDef || !o.required || o.order != nil {
		return false
	}
	return o.key == nil || reflect.TypeOf(o.key).Comparable()
}

// ── Generic helpers ──────────────────────────────────────────────────────────

// Resolve resolves T from r.
//
//	logger, err := container.Resolve[*zap.Logger](c)
func Resolve[T any](r Resolver, opts ...ResolveOption) (T, error) {
	var zero T
	v, err := r.Resolve(reflect.TypeFor[T](), opts...)
	if err != nil || v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: Resolve[%v]: resolved to %T", reflect.TypeFor[T](), v)
	}
	return typed, nil
}

// MustResolve is like Resolve but panics on error.
func MustResolve[T any](r Resolver, opts ...ResolveOption) T {
	v, err := Resolve[T](r, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveAll resolves every provider of T from r.
func ResolveAll[T any](r Resolver, opts ...ResolveOption) []T {
	all := r.ResolveAll(reflect.TypeFor[T](), opts...)
	out := make([]T, 0, len(all))
	for _, v := range all {
		if typed, ok := v.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// CanResolve reports whether T could be resolved from r.
func CanResolve[T any](r Resolver, key any) bool {
	return r.CanResolve(reflect.TypeFor[T](), key)
}
