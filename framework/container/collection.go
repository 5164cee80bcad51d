package container

import (
	"reflect"
	"slices"

	"go.uber.org/zap"
)

// isSeq reports whether t has the shape of iter.Seq[V].
func isSeq(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	y := t.In(0)
	return y.Kind() == reflect.Func && y.NumIn() == 1 && y.NumOut() == 1 && y.Out(0).Kind() == reflect.Bool
}

// collection plans slices, sequences and keyed maps by aggregating every
// applicable provider of the element type.
func (p *planner) collection(req *Request) (node, error) {
	t := req.typ
	switch {
	case t.Kind() == reflect.Slice:
		elems, err := p.aggregate(req, t.Elem())
		if err != nil || elems == nil {
			return nil, err
		}
		return &sliceNode{typ: t, elems: elems}, nil

	case isSeq(t):
		elems, err := p.aggregate(req, t.In(0).In(0))
		if err != nil || elems == nil {
			return nil, err
		}
		return &seqNode{typ: t, elems: elems, lazy: p.c.opts.lazySequences}, nil

	case t.Kind() == reflect.Map:
		return p.keyedMap(req)
	}
	return nil, nil
}

// candidates gathers the providers an aggregation over elem would use,
// in priority order. When the element type has none but is a wrapper, the
// wrapped service's providers are returned.
func (p *planner) candidates(req *Request, elem reflect.Type) []*Provider {
	keys, explicit := req.key.([]any)
	if !explicit && req.key != nil {
		keys, explicit = []any{req.key}, true
	}
	exclude := req.consumer()
	sh := shapeOf(elem)

	collect := func(t reflect.Type) []*Provider {
		var out []*Provider
		accept := func(pr *Provider) {
			if exclude != nil && exclude.provider.id == pr.id {
				return
			}
			if sh.kind == wrapTagged && (pr.metadata == nil || !reflect.TypeOf(pr.metadata).AssignableTo(sh.meta)) {
				return
			}
			if p.applicable(req, pr) {
				out = append(out, pr)
			}
		}

		if explicit {
			seen := make(map[any]bool, len(keys))
			for _, k := range keys {
				if k == nil || !reflect.TypeOf(k).Comparable() || seen[k] {
					continue
				}
				seen[k] = true
				if pr := p.c.registry.Keyed(t, k); pr != nil {
					accept(pr)
				}
			}
			return out
		}

		for _, pr := range p.c.registry.All(t) {
			accept(pr)
		}
		generics := p.c.registry.Generic(t)
		for _, open := range generics {
			if closed, err := open.close(t); err == nil {
				accept(closed)
			}
		}
		if len(generics) > 0 {
			slices.SortStableFunc(out, byOrder)
		}
		return out
	}

	provs := collect(elem)
	if len(provs) == 0 {
		if svc := serviceType(elem); svc != elem {
			provs = collect(svc)
		}
	}
	return provs
}

// aggregate plans one element per candidate provider. A nil result with no
// error means the request should fall through to later steps.
func (p *planner) aggregate(req *Request, elem reflect.Type) ([]node, error) {
	provs := p.candidates(req, elem)
	hit := func() bool { return len(p.candidates(req, elem)) > 0 }
	if len(provs) == 0 && p.discoverType(serviceType(elem), nil, hit) {
		provs = p.candidates(req, elem)
	}
	if len(provs) == 0 && p.ctx != nil {
		if _, ok := p.ctx.Get(contextKey(req)); ok {
			return nil, nil
		}
	}
	if req.parent == nil && p.order != nil {
		slices.SortStableFunc(provs, p.order)
	}

	elems := make([]node, 0, len(provs))
	for _, prov := range provs {
		child := req.child(elem)
		child.pinned = prov
		child.key = prov.key
		child.filter = req.filter
		n, err := p.plan(child)
		if err != nil {
			return nil, err
		}
		elems = append(elems, n)
	}
	return elems, nil
}

// keyedMap plans map[K]V from the keyed providers of V whose key is a K.
func (p *planner) keyedMap(req *Request) (node, error) {
	t := req.typ
	kt, elem := t.Key(), t.Elem()

	var keys []reflect.Value
	var elems []node
	for _, prov := range p.candidates(req, elem) {
		if prov.key == nil {
			continue
		}
		k := reflect.ValueOf(prov.key)
		if !k.Type().AssignableTo(kt) && !convertible(k.Type(), kt) {
			continue
		}
		child := req.child(elem)
		child.pinned = prov
		child.key = prov.key
		n, err := p.plan(child)
		if err != nil {
			return nil, err
		}
		keys = append(keys, conform(k, kt))
		elems = append(elems, n)
	}
	if len(elems) == 0 && p.ctx != nil {
		if _, ok := p.ctx.Get(contextKey(req)); ok {
			return nil, nil
		}
	}
	return &mapNode{typ: t, keys: keys, elems: elems}, nil
}

// ── Nodes ─────────────────────────────────────────────────────────────────────

type sliceNode struct {
	typ   reflect.Type
	elems []node
}

func (n *sliceNode) Type() reflect.Type { return n.typ }

func compileAll(nodes []node) []evalFunc {
	out := make([]evalFunc, len(nodes))
	for i, e := range nodes {
		out[i] = e.compile()
	}
	return out
}

func (n *sliceNode) compile() evalFunc {
	t, et := n.typ, n.typ.Elem()
	elems := compileAll(n.elems)
	return func(f *frame) (reflect.Value, error) {
		out := reflect.MakeSlice(t, len(elems), len(elems))
		for i, e := range elems {
			v, err := e(f)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(conform(v, et))
		}
		return out, nil
	}
}

// seqNode yields the elements as an iter.Seq. Eager sequences build every
// element before returning; lazy ones build each element as it is reached
// and stop at the first failure.
type seqNode struct {
	typ   reflect.Type
	elems []node
	lazy  bool
}

func (n *seqNode) Type() reflect.Type { return n.typ }

func (n *seqNode) compile() evalFunc {
	t := n.typ
	et := t.In(0).In(0)
	elems := compileAll(n.elems)

	yieldAll := func(next func(i int) (reflect.Value, error)) reflect.Value {
		return reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
			yield := args[0]
			for i := range elems {
				v, err := next(i)
				if err != nil {
					break
				}
				if !yield.Call([]reflect.Value{conform(v, et)})[0].Bool() {
					break
				}
			}
			return nil
		})
	}

	if n.lazy {
		return func(f *frame) (reflect.Value, error) {
			return yieldAll(func(i int) (reflect.Value, error) {
				v, err := elems[i](f)
				if err != nil {
					f.scope.container.log.Warn("lazy sequence element failed",
						zap.Stringer("type", et),
						zap.Int("index", i),
						zap.Error(err))
				}
				return v, err
			}), nil
		}
	}

	return func(f *frame) (reflect.Value, error) {
		values := make([]reflect.Value, len(elems))
		for i, e := range elems {
			v, err := e(f)
			if err != nil {
				return reflect.Value{}, err
			}
			values[i] = v
		}
		return yieldAll(func(i int) (reflect.Value, error) { return values[i], nil }), nil
	}
}

type mapNode struct {
	typ   reflect.Type
	keys  []reflect.Value
	elems []node
}

func (n *mapNode) Type() reflect.Type { return n.typ }

func (n *mapNode) compile() evalFunc {
	t, keys := n.typ, n.keys
	et := t.Elem()
	elems := compileAll(n.elems)
	return func(f *frame) (reflect.Value, error) {
		out := reflect.MakeMapWithSize(t, len(elems))
		for i, e := range elems {
			v, err := e(f)
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(keys[i], conform(v, et))
		}
		return out, nil
	}
}
