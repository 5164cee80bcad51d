package container

import (
	"fmt"
	"reflect"
)

// node is one element of a plan. A plan is a tree of nodes built once per
// (type, key) and compiled into nested closures.
type node interface {
	Type() reflect.Type
	compile() evalFunc
}

type evalFunc func(f *frame) (reflect.Value, error)

// frame is the runtime state an activator threads through the closures.
type frame struct {
	scope    *Scope
	disposer *Disposer
	ctx      *Context

	// arguments of the innermost func wrapper call, identified by wrapper
	wrapper uint64
	args    []reflect.Value
	up      *frame
}

func (f *frame) with(s *Scope, d *Disposer) *frame {
	c := *f
	c.scope = s
	c.disposer = d
	return &c
}

func (f *frame) withArgs(wrapper uint64, args []reflect.Value) *frame {
	c := *f
	c.wrapper = wrapper
	c.args = args
	c.up = f
	return &c
}

// arg finds argument i of the func wrapper identified by id.
func (f *frame) arg(id uint64, i int) (reflect.Value, bool) {
	for a := f; a != nil; a = a.up {
		if a.wrapper == id && i < len(a.args) {
			return a.args[i], true
		}
	}
	return reflect.Value{}, false
}

// Activator is a compiled plan. It produces one instance of the planned
// type using the given scope, disposal list and ambient context.
type Activator func(scope *Scope, disposer *Disposer, ctx *Context) (any, error)

func compileActivator(n node) Activator {
	eval := n.compile()
	return func(scope *Scope, disposer *Disposer, ctx *Context) (any, error) {
		v, err := eval(&frame{scope: scope, disposer: disposer, ctx: ctx})
		if err != nil {
			return nil, err
		}
		if isNil(v) {
			return nil, nil
		}
		return v.Interface(), nil
	}
}

// conform makes v usable where a value of type t is expected.
func conform(v reflect.Value, t reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(t)
	}
	if v.Type() == t {
		return v
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(t)
		}
		v = v.Elem()
	}
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out
	}
	if v.Type().ConvertibleTo(t) {
		return v.Convert(t)
	}
	return v
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
		return v.IsNil()
	}
	return false
}

// ── Leaf nodes ────────────────────────────────────────────────────────────────

// constNode yields a fixed value.
type constNode struct {
	typ   reflect.Type
	value reflect.Value
}

func newConst(t reflect.Type, v any) *constNode {
	if v == nil {
		return &constNode{typ: t, value: reflect.Zero(t)}
	}
	return &constNode{typ: t, value: conform(reflect.ValueOf(v), t)}
}

func (n *constNode) Type() reflect.Type { return n.typ }

func (n *constNode) compile() evalFunc {
	v := n.value
	return func(*frame) (reflect.Value, error) { return v, nil }
}

// argNode yields argument index of the enclosing func wrapper call.
type argNode struct {
	typ     reflect.Type
	wrapper uint64
	index   int
}

func (n *argNode) Type() reflect.Type { return n.typ }

func (n *argNode) compile() evalFunc {
	return func(f *frame) (reflect.Value, error) {
		v, ok := f.arg(n.wrapper, n.index)
		if !ok {
			return reflect.Zero(n.typ), nil
		}
		return conform(v, n.typ), nil
	}
}

type selfKind uint8

const (
	selfScope selfKind = iota
	selfResolver
	selfContext
	selfContainer
	selfDisposer
)

var (
	scopeType     = reflect.TypeFor[*Scope]()
	resolverType  = reflect.TypeFor[Resolver]()
	contextType   = reflect.TypeFor[*Context]()
	containerType = reflect.TypeFor[*Container]()
	disposerType  = reflect.TypeFor[*Disposer]()
)

// selfNode yields part of the runtime state itself.
type selfNode struct {
	typ  reflect.Type
	kind selfKind
}

func selfFor(t reflect.Type) (*selfNode, bool) {
	switch t {
	case scopeType:
		return &selfNode{t, selfScope}, true
	case resolverType:
		return &selfNode{t, selfResolver}, true
	case contextType:
		return &selfNode{t, selfContext}, true
	case containerType:
		return &selfNode{t, selfContainer}, true
	case disposerType:
		return &selfNode{t, selfDisposer}, true
	}
	return nil, false
}

func (n *selfNode) Type() reflect.Type { return n.typ }

func (n *selfNode) compile() evalFunc {
	t := n.typ
	switch n.kind {
	case selfScope:
		return func(f *frame) (reflect.Value, error) { return reflect.ValueOf(f.scope), nil }
	case selfResolver:
		return func(f *frame) (reflect.Value, error) {
			return conform(reflect.ValueOf(f.resolver()), t), nil
		}
	case selfContext:
		return func(f *frame) (reflect.Value, error) { return reflect.ValueOf(f.ctx), nil }
	case selfContainer:
		return func(f *frame) (reflect.Value, error) { return reflect.ValueOf(f.scope.container), nil }
	}
	return func(f *frame) (reflect.Value, error) { return reflect.ValueOf(f.disposer), nil }
}

// resolver returns a Resolver bound to the frame's scope and context.
func (f *frame) resolver() Resolver {
	return &boundResolver{scope: f.scope, ctx: f.ctx}
}

// resolveCallNode defers to a runtime Resolve. It breaks cycles that pass
// through a deferred wrapper.
type resolveCallNode struct {
	typ reflect.Type
	key any
}

func (n *resolveCallNode) Type() reflect.Type { return n.typ }

func (n *resolveCallNode) compile() evalFunc {
	t, key := n.typ, n.key
	return func(f *frame) (reflect.Value, error) {
		v, err := f.scope.container.resolveIn(f.scope, t, resolveOptions{key: key, required: true, ctx: f.ctx})
		if err != nil {
			return reflect.Value{}, err
		}
		return conform(reflect.ValueOf(v), t), nil
	}
}

// delegateNode resolves from the parent container's root scope.
type delegateNode struct {
	typ    reflect.Type
	parent *Container
	opts   resolveOptions
}

func (n *delegateNode) Type() reflect.Type { return n.typ }

func (n *delegateNode) compile() evalFunc {
	t, parent, opts := n.typ, n.parent, n.opts
	return func(f *frame) (reflect.Value, error) {
		o := opts
		o.ctx = f.ctx
		v, err := parent.resolveIn(parent.root, t, o)
		if err != nil {
			return reflect.Value{}, err
		}
		return conform(reflect.ValueOf(v), t), nil
	}
}

// nilCheckNode fails when the inner plan produces nil.
type nilCheckNode struct {
	inner node
	req   *Request
}

func (n *nilCheckNode) Type() reflect.Type { return n.inner.Type() }

func (n *nilCheckNode) compile() evalFunc {
	inner, req := n.inner.compile(), n.req
	return func(f *frame) (reflect.Value, error) {
		v, err := inner(f)
		if err != nil {
			return v, err
		}
		if isNil(v) {
			return reflect.Value{}, newError(ErrNullProduced, req, "", nil)
		}
		return v, nil
	}
}

// convertNode adapts the inner value to the requested service type.
type convertNode struct {
	typ   reflect.Type
	inner node
}

func convertTo(n node, t reflect.Type) node {
	if n.Type() == t {
		return n
	}
	return &convertNode{typ: t, inner: n}
}

func (n *convertNode) Type() reflect.Type { return n.typ }

func (n *convertNode) compile() evalFunc {
	inner, t := n.inner.compile(), n.typ
	return func(f *frame) (reflect.Value, error) {
		v, err := inner(f)
		if err != nil {
			return v, err
		}
		return conform(v, t), nil
	}
}

// activationError wraps an error returned by user code with the request
// chain and the runtime frames of the ambient context.
func activationError(req *Request, ctx *Context, err error) error {
	if _, ok := err.(*ResolutionError); ok {
		return err
	}
	e := newError(ErrActivation, req, "", err)
	if ctx != nil {
		if frames := ctx.Frames(); len(frames) > 0 {
			e.Msg = fmt.Sprintf("while activating %s", frames[len(frames)-1])
		}
	}
	return e
}
