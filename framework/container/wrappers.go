package container

import (
	"reflect"
	"sync"
)

type wrapperKind uint8

const (
	wrapNone wrapperKind = iota
	wrapFunc
	wrapLazy
	wrapOwned
	wrapMeta
	wrapTagged
	wrapInScope
	wrapKeyValue
)

// wrapper is implemented by the generic wrapper types of this package.
// It reports the wrapper kind, the wrapped type and, for Tagged, the
// required metadata type.
type wrapper interface {
	wrapperShape() (wrapperKind, reflect.Type, reflect.Type)
}

// wrapperSetter fills a freshly allocated wrapper.
type wrapperSetter interface {
	set(v reflect.Value, st wrapState)
}

type wrapState struct {
	metadata any
	key      any
	disposer *Disposer
	scope    *Scope
	lazy     func() (reflect.Value, error)
}

type shape struct {
	kind  wrapperKind
	inner reflect.Type
	meta  reflect.Type
}

var wrapperType = reflect.TypeFor[wrapper]()

func shapeOf(t reflect.Type) shape {
	switch {
	case t.Kind() == reflect.Struct && t.Implements(wrapperType):
		kind, inner, meta := reflect.Zero(t).Interface().(wrapper).wrapperShape()
		return shape{kind: kind, inner: inner, meta: meta}
	case t.Kind() == reflect.Func && t.Name() == "" && !t.IsVariadic():
		if t.NumOut() == 1 && t.Out(0) != errorType || t.NumOut() == 2 && t.Out(1) == errorType {
			return shape{kind: wrapFunc, inner: t.Out(0)}
		}
	}
	return shape{}
}

// serviceType unwraps nested wrappers down to the service type.
func serviceType(t reflect.Type) reflect.Type {
	for {
		s := shapeOf(t)
		if s.kind == wrapNone {
			return t
		}
		t = s.inner
	}
}

func setValue[T any](dst *T, v reflect.Value) {
	if v.IsValid() {
		reflect.ValueOf(dst).Elem().Set(conform(v, reflect.TypeFor[T]()))
	}
}

// ── Wrapper types ─────────────────────────────────────────────────────────────

// Lazy defers creating T until Value is first called; the result (or the
// error) is memoized.
type Lazy[T any] struct {
	cell *lazyCell[T]
}

type lazyCell[T any] struct {
	once  sync.Once
	fn    func() (reflect.Value, error)
	value T
	err   error
}

// Value creates the instance on first use.
func (l Lazy[T]) Value() (T, error) {
	if l.cell == nil {
		var zero T
		return zero, ErrNotFound
	}
	l.cell.once.Do(func() {
		v, err := l.cell.fn()
		l.cell.err = err
		if err == nil {
			setValue(&l.cell.value, v)
		}
	})
	return l.cell.value, l.cell.err
}

func (Lazy[T]) wrapperShape() (wrapperKind, reflect.Type, reflect.Type) {
	return wrapLazy, reflect.TypeFor[T](), nil
}

func (l *Lazy[T]) set(_ reflect.Value, st wrapState) {
	l.cell = &lazyCell[T]{fn: st.lazy}
}

// Owned hands ownership of T and its disposable dependencies to the caller.
// Nothing created for it is tracked by the resolving scope.
type Owned[T any] struct {
	value    T
	disposer *Disposer
}

// Value returns the owned instance.
func (o Owned[T]) Value() T { return o.value }

// Dispose cleans up everything created for the instance.
func (o Owned[T]) Dispose() error {
	if o.disposer == nil {
		return nil
	}
	return o.disposer.Dispose()
}

func (Owned[T]) wrapperShape() (wrapperKind, reflect.Type, reflect.Type) {
	return wrapOwned, reflect.TypeFor[T](), nil
}

func (o *Owned[T]) set(v reflect.Value, st wrapState) {
	setValue(&o.value, v)
	o.disposer = st.disposer
}

// InScope resolves T inside a new nested scope that the caller closes.
type InScope[T any] struct {
	value T
	scope *Scope
}

// Value returns the instance.
func (s InScope[T]) Value() T { return s.value }

// Scope returns the nested scope the instance was created in.
func (s InScope[T]) Scope() *Scope { return s.scope }

// Close closes the nested scope.
func (s InScope[T]) Close() error {
	if s.scope == nil {
		return nil
	}
	return s.scope.Close()
}

func (InScope[T]) wrapperShape() (wrapperKind, reflect.Type, reflect.Type) {
	return wrapInScope, reflect.TypeFor[T](), nil
}

func (s *InScope[T]) set(v reflect.Value, st wrapState) {
	setValue(&s.value, v)
	s.scope = st.scope
}

// Meta pairs T with its provider's metadata.
type Meta[T any] struct {
	Value    T
	Metadata any
}

func (Meta[T]) wrapperShape() (wrapperKind, reflect.Type, reflect.Type) {
	return wrapMeta, reflect.TypeFor[T](), nil
}

func (m *Meta[T]) set(v reflect.Value, st wrapState) {
	setValue(&m.Value, v)
	m.Metadata = st.metadata
}

// Tagged pairs T with metadata of type M. Only providers whose metadata is
// an M are considered.
type Tagged[T, M any] struct {
	Value    T
	Metadata M
}

func (Tagged[T, M]) wrapperShape() (wrapperKind, reflect.Type, reflect.Type) {
	return wrapTagged, reflect.TypeFor[T](), reflect.TypeFor[M]()
}

func (t *Tagged[T, M]) set(v reflect.Value, st wrapState) {
	setValue(&t.Value, v)
	if m, ok := st.metadata.(M); ok {
		t.Metadata = m
	}
}

// KeyValue pairs T with the key its provider is registered under.
type KeyValue[T any] struct {
	Key   any
	Value T
}

func (KeyValue[T]) wrapperShape() (wrapperKind, reflect.Type, reflect.Type) {
	return wrapKeyValue, reflect.TypeFor[T](), nil
}

func (kv *KeyValue[T]) set(v reflect.Value, st wrapState) {
	setValue(&kv.Value, v)
	kv.Key = st.key
}

// ── Nodes ─────────────────────────────────────────────────────────────────────

func buildWrapper(t reflect.Type, v reflect.Value, st wrapState) reflect.Value {
	out := reflect.New(t)
	out.Interface().(wrapperSetter).set(v, st)
	return out.Elem()
}

// wrapNode builds a struct wrapper around the inner plan.
type wrapNode struct {
	typ      reflect.Type
	kind     wrapperKind
	inner    node
	metadata any
	key      any
}

func (n *wrapNode) Type() reflect.Type { return n.typ }

func (n *wrapNode) compile() evalFunc {
	t, inner := n.typ, n.inner.compile()
	st := wrapState{metadata: n.metadata, key: n.key}

	switch n.kind {
	case wrapLazy:
		return func(f *frame) (reflect.Value, error) {
			s := st
			s.lazy = func() (reflect.Value, error) { return inner(f) }
			return buildWrapper(t, reflect.Value{}, s), nil
		}

	case wrapOwned:
		return func(f *frame) (reflect.Value, error) {
			c := f.scope.container
			d := newDisposer(c.log, c.observer)
			v, err := inner(f.with(f.scope, d))
			if err != nil {
				_ = d.Dispose()
				return reflect.Value{}, err
			}
			s := st
			s.disposer = d
			return buildWrapper(t, v, s), nil
		}

	case wrapInScope:
		return func(f *frame) (reflect.Value, error) {
			scope := f.scope.OpenScope("")
			v, err := inner(f.with(scope, scope.disposer))
			if err != nil {
				_ = scope.Close()
				return reflect.Value{}, err
			}
			s := st
			s.scope = scope
			return buildWrapper(t, v, s), nil
		}
	}

	return func(f *frame) (reflect.Value, error) {
		v, err := inner(f)
		if err != nil {
			return reflect.Value{}, err
		}
		return buildWrapper(t, v, st), nil
	}
}

// funcNode produces a func that runs the inner plan on every call. Call
// arguments are visible to the inner plan as known values.
type funcNode struct {
	typ   reflect.Type
	inner node
	id    uint64
}

func (n *funcNode) Type() reflect.Type { return n.typ }

func (n *funcNode) compile() evalFunc {
	t, id, inner := n.typ, n.id, n.inner.compile()
	out := t.Out(0)
	errOut := t.NumOut() == 2

	return func(f *frame) (reflect.Value, error) {
		fn := reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
			v, err := inner(f.withArgs(id, args))
			if errOut {
				if err != nil {
					return []reflect.Value{reflect.Zero(out), reflect.ValueOf(&err).Elem()}
				}
				return []reflect.Value{conform(v, out), reflect.Zero(errorType)}
			}
			if err != nil {
				panic(err)
			}
			return []reflect.Value{conform(v, out)}
		})
		return fn, nil
	}
}

// ── Planning ──────────────────────────────────────────────────────────────────

// wrapped plans req when its type is one of the wrapper shapes.
func (p *planner) wrapped(req *Request) (node, error) {
	sh := shapeOf(req.typ)
	if sh.kind == wrapNone {
		return nil, nil
	}

	child := req.child(sh.inner)
	child.key = req.key
	child.filter = req.filter
	child.meta = req.meta
	child.pinned = req.pinned
	if sh.kind == wrapTagged {
		child.meta = sh.meta
	}

	n, err := p.planWrapper(req, child, sh)
	if err != nil && isNotFound(err) && (!req.required || req.def.IsValid()) {
		return nil, nil
	}
	return n, err
}

func (p *planner) planWrapper(req, child *Request, sh shape) (node, error) {
	switch sh.kind {
	case wrapFunc:
		id := nextID()
		child.deferred++
		for i := range req.typ.NumIn() {
			in := req.typ.In(i)
			child = child.withKnown(in, &argNode{typ: in, wrapper: id, index: i})
		}
		inner, err := p.plan(child)
		if err != nil {
			return nil, err
		}
		return &funcNode{typ: req.typ, inner: inner, id: id}, nil

	case wrapLazy:
		child.deferred++
		inner, err := p.plan(child)
		if err != nil {
			return nil, err
		}
		return &wrapNode{typ: req.typ, kind: wrapLazy, inner: inner}, nil

	case wrapOwned, wrapInScope:
		inner, err := p.plan(child)
		if err != nil {
			return nil, err
		}
		return &wrapNode{typ: req.typ, kind: sh.kind, inner: inner}, nil
	}

	// Meta, Tagged and KeyValue need the provider itself.
	prov := child.pinned
	svc := serviceType(sh.inner)
	if prov == nil || !provides(prov, svc) {
		var err error
		if prov, err = p.selectService(child, svc); err != nil {
			return nil, err
		}
		if prov == nil {
			return nil, notFound(child)
		}
	}
	child.pinned = prov
	inner, err := p.plan(child)
	if err != nil {
		return nil, err
	}
	return &wrapNode{typ: req.typ, kind: sh.kind, inner: inner, metadata: prov.metadata, key: prov.key}, nil
}

// selectService picks the provider a request for svc would use, exact
// registrations first, then open generics.
func (p *planner) selectService(req *Request, svc reflect.Type) (*Provider, error) {
	r := req
	if req.typ != svc {
		r = req.child(svc)
		r.key, r.filter, r.meta = req.key, req.filter, req.meta
	}
	set, _ := p.c.registry.services.Get(svc)
	if prov := p.selectFrom(r, set); prov != nil {
		return prov, nil
	}
	return p.closeGeneric(r)
}

func provides(p *Provider, t reflect.Type) bool {
	for _, s := range p.services {
		if s == t {
			return true
		}
	}
	return false
}
