package container

import (
	"reflect"
	"slices"
	"strings"

	"go.uber.org/zap"
)

var errorType = reflect.TypeFor[error]()

// constructor is a validated constructor func.
type constructor struct {
	fn       reflect.Value
	in       []reflect.Type
	out      reflect.Type
	errOut   bool
	variadic bool
}

func newConstructor(fn any) (constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return constructor{}, invalidProvider("constructor must be a func, got %T", fn)
	}
	t := v.Type()
	c := constructor{fn: v, variadic: t.IsVariadic()}
	switch {
	case t.NumOut() == 1 && t.Out(0) != errorType:
	case t.NumOut() == 2 && t.Out(1) == errorType:
		c.errOut = true
	default:
		return constructor{}, invalidProvider("constructor %v must return T or (T, error)", t)
	}
	c.out = t.Out(0)
	for i := range t.NumIn() {
		c.in = append(c.in, t.In(i))
	}
	return c, nil
}

func (c constructor) call(args []reflect.Value) (reflect.Value, error) {
	var out []reflect.Value
	if c.variadic {
		out = c.fn.CallSlice(args)
	} else {
		out = c.fn.Call(args)
	}
	if c.errOut && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}

// fieldSpec is a struct field tagged for injection:
//
//	Log  *zap.Logger `inject:""`
//	Port int         `inject:"port,optional" default:"8080"`
type fieldSpec struct {
	index    int
	name     string
	typ      reflect.Type
	key      any
	optional bool
	def      string
	hasDef   bool
}

func injectableFields(t reflect.Type) []fieldSpec {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []fieldSpec
	for i := range t.NumField() {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup("inject")
		if !ok || !sf.IsExported() {
			continue
		}
		spec := fieldSpec{index: i, name: sf.Name, typ: sf.Type}
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			spec.key = parts[0]
		}
		spec.optional = slices.Contains(parts[1:], "optional")
		spec.def, spec.hasDef = sf.Tag.Lookup("default")
		out = append(out, spec)
	}
	return out
}

// ── Nodes ─────────────────────────────────────────────────────────────────────

type fieldNode struct {
	index int
	value node
}

func compileFields(fields []fieldNode) ([]int, []evalFunc) {
	idx := make([]int, len(fields))
	fns := make([]evalFunc, len(fields))
	for i, fld := range fields {
		idx[i] = fld.index
		fns[i] = fld.value.compile()
	}
	return idx, fns
}

func setFields(f *frame, elem reflect.Value, idx []int, fns []evalFunc) error {
	for i, fn := range fns {
		v, err := fn(f)
		if err != nil {
			return err
		}
		field := elem.Field(idx[i])
		field.Set(conform(v, field.Type()))
	}
	return nil
}

// ctorNode calls a constructor with planned arguments, then optionally
// injects fields into the struct it returned.
type ctorNode struct {
	ctor     constructor
	args     []node
	fields   []fieldNode
	req      *Request
	provider *Provider
}

func (n *ctorNode) Type() reflect.Type { return n.ctor.out }

func (n *ctorNode) compile() evalFunc {
	ctor, req := n.ctor, n.req
	frameInfo := Frame{Type: n.ctor.out, Provider: n.provider}
	args := make([]evalFunc, len(n.args))
	for i, a := range n.args {
		args[i] = a.compile()
	}
	idx, fields := compileFields(n.fields)
	in := ctor.in

	return func(f *frame) (reflect.Value, error) {
		if f.ctx != nil {
			f.ctx.push(frameInfo)
			defer f.ctx.pop()
		}
		vals := make([]reflect.Value, len(args))
		for i, a := range args {
			v, err := a(f)
			if err != nil {
				return reflect.Value{}, err
			}
			vals[i] = conform(v, in[i])
		}
		out, err := ctor.call(vals)
		if err != nil {
			return reflect.Value{}, activationError(req, f.ctx, err)
		}
		if len(fields) > 0 && out.Kind() == reflect.Pointer && !out.IsNil() {
			if err := setFields(f, out.Elem(), idx, fields); err != nil {
				return reflect.Value{}, err
			}
		}
		return out, nil
	}
}

// structNode allocates a struct and fills its injected fields.
type structNode struct {
	typ    reflect.Type
	fields []fieldNode
	req    *Request
}

func (n *structNode) Type() reflect.Type { return n.typ }

func (n *structNode) compile() evalFunc {
	ptr := n.typ.Kind() == reflect.Pointer
	elem := n.typ
	if ptr {
		elem = elem.Elem()
	}
	idx, fields := compileFields(n.fields)
	frameInfo := Frame{Type: n.typ, Provider: n.req.provider}

	return func(f *frame) (reflect.Value, error) {
		if f.ctx != nil {
			f.ctx.push(frameInfo)
			defer f.ctx.pop()
		}
		v := reflect.New(elem)
		if err := setFields(f, v.Elem(), idx, fields); err != nil {
			return reflect.Value{}, err
		}
		if ptr {
			return v, nil
		}
		return v.Elem(), nil
	}
}

// factoryNode calls a user factory with a Resolver bound to the frame.
type factoryNode struct {
	typ reflect.Type
	fn  func(Resolver) (any, error)
	req *Request
}

func (n *factoryNode) Type() reflect.Type { return n.typ }

func (n *factoryNode) compile() evalFunc {
	t, fn, req := n.typ, n.fn, n.req
	return func(f *frame) (reflect.Value, error) {
		v, err := fn(f.resolver())
		if err != nil {
			return reflect.Value{}, activationError(req, f.ctx, err)
		}
		if v == nil {
			return reflect.Zero(t), nil
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(t) && !rv.Type().ConvertibleTo(t) {
			return reflect.Value{}, newError(ErrActivation, req, "factory returned "+rv.Type().String(), nil)
		}
		return conform(rv, t), nil
	}
}

// dynamicNode chooses a constructor per invocation: the first candidate
// whose context-probed parameters are all present in the ambient context.
type dynamicNode struct {
	typ   reflect.Type
	cands []dynamicCandidate
	req   *Request
}

type dynamicCandidate struct {
	ctor   *ctorNode
	probes []any
}

func (n *dynamicNode) Type() reflect.Type { return n.typ }

func (n *dynamicNode) compile() evalFunc {
	type compiled struct {
		eval   evalFunc
		probes []any
	}
	cands := make([]compiled, len(n.cands))
	for i, c := range n.cands {
		cands[i] = compiled{eval: convertTo(c.ctor, n.typ).compile(), probes: c.probes}
	}
	req := n.req

	return func(f *frame) (reflect.Value, error) {
	next:
		for _, c := range cands {
			for _, key := range c.probes {
				if _, ok := f.ctx.Get(key); !ok {
					continue next
				}
			}
			return c.eval(f)
		}
		return reflect.Value{}, newError(ErrNotFound, req, "no constructor satisfiable from the ambient context", nil)
	}
}

// ── Planning ──────────────────────────────────────────────────────────────────

// activation plans how r's provider produces its value, before lifestyle
// and decoration are applied.
func (p *planner) activation(r *Request) (node, error) {
	prov := r.provider
	switch prov.kind {
	case kindInstance:
		return &constNode{typ: prov.activation, value: prov.instance}, nil
	case kindFactory:
		return &factoryNode{typ: prov.activation, fn: prov.factory, req: r}, nil
	case kindStruct:
		fields, err := p.planFields(r, prov.activation)
		if err != nil {
			return nil, err
		}
		return &structNode{typ: prov.activation, fields: fields, req: r}, nil
	}

	if len(prov.ctors) == 1 {
		n, err := p.planCtor(r, prov.ctors[0])
		if err != nil {
			return nil, err
		}
		return convertTo(n, prov.activation), nil
	}

	policy := p.c.opts.policy
	if prov.policy != nil {
		policy = *prov.policy
	}

	// Candidates by arity, most parameters first; registration order breaks ties.
	cands := slices.Clone(prov.ctors)
	slices.SortStableFunc(cands, func(a, b constructor) int { return len(b.in) - len(a.in) })

	var n node
	var err error
	switch policy {
	case LeastParameters:
		n, err = p.planCtor(r, cands[len(cands)-1])
	case BestMatch:
		n, err = p.planBestMatch(r, cands)
	case Dynamic:
		return p.planDynamic(r, cands)
	default:
		n, err = p.planCtor(r, cands[0])
	}
	if err != nil {
		return nil, err
	}
	return convertTo(n, prov.activation), nil
}

func (p *planner) planCtor(r *Request, c constructor) (*ctorNode, error) {
	args := make([]node, len(c.in))
	for i, t := range c.in {
		n, err := p.planParam(r, i, t)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}
	return p.injectFields(r, &ctorNode{ctor: c, args: args, req: r, provider: r.provider})
}

func (p *planner) injectFields(r *Request, n *ctorNode) (*ctorNode, error) {
	if !r.provider.injectField {
		return n, nil
	}
	fields, err := p.planFields(r, n.ctor.out)
	if err != nil {
		return nil, err
	}
	n.fields = fields
	return n, nil
}

// planBestMatch picks the candidate with the most parameters that can all
// be planned; candidates are ordered most parameters first. When none can,
// the candidate with the largest matched minus missing count wins and its
// missing parameters are read from the ambient context when invoked.
func (p *planner) planBestMatch(r *Request, cands []constructor) (node, error) {
	var best *ctorNode
	bestScore := 0
	for _, c := range cands {
		n := &ctorNode{ctor: c, req: r, provider: r.provider, args: make([]node, len(c.in))}
		matched, missing := 0, 0
		for i, t := range c.in {
			arg, err := p.planParam(r, i, t)
			if err != nil {
				if !isNotFound(err) {
					return nil, err
				}
				child, cerr := p.paramRequest(r, i, t)
				if cerr != nil {
					return nil, cerr
				}
				arg = &contextNode{req: child}
				missing++
			} else {
				matched++
			}
			n.args[i] = arg
		}
		if missing == 0 {
			return p.injectFields(r, n)
		}
		if score := matched - missing; best == nil || score > bestScore {
			best, bestScore = n, score
		}
	}
	p.c.log.Debug("no constructor fully satisfiable",
		zap.Stringer("type", r.provider.activation),
		zap.Int("params", len(best.args)))
	return p.injectFields(r, best)
}

// planDynamic plans every candidate; parameters without a provider become
// ambient context lookups checked at invocation time.
func (p *planner) planDynamic(r *Request, cands []constructor) (node, error) {
	dn := &dynamicNode{typ: r.provider.activation, req: r}
	for _, c := range cands {
		cand := dynamicCandidate{ctor: &ctorNode{ctor: c, req: r, provider: r.provider, args: make([]node, len(c.in))}}
		ok := true
		for i, t := range c.in {
			n, err := p.planParam(r, i, t)
			if err == nil {
				cand.ctor.args[i] = n
				continue
			}
			if !isNotFound(err) {
				ok = false
				break
			}
			child, err := p.paramRequest(r, i, t)
			if err != nil {
				return nil, err
			}
			cand.probes = append(cand.probes, contextKey(child))
			cand.ctor.args[i] = &contextNode{req: child}
		}
		if ok {
			dn.cands = append(dn.cands, cand)
		}
	}
	if len(dn.cands) == 0 {
		return nil, newError(ErrNotFound, r, "no constructor can be planned", nil)
	}
	return dn, nil
}

// paramRequest derives the request for constructor parameter i.
func (p *planner) paramRequest(r *Request, i int, t reflect.Type) (*Request, error) {
	prov := r.provider
	spec := prov.params[i]
	child := r.child(t)
	child.name = prov.paramName(i)
	child.required = !spec.Optional
	child.key = spec.Key
	if child.key == nil && child.name != "" && p.keyedType(t) {
		child.key = child.name
	}
	if spec.Default != nil {
		def, err := coerceValue(spec.Default, t)
		if err != nil {
			return nil, newError(ErrCoercion, child, "default value", err)
		}
		child.def = def
	}
	if prov.decorator {
		child.path = r.path
	}
	return child, nil
}

func (p *planner) planParam(r *Request, i int, t reflect.Type) (node, error) {
	if spec, ok := r.provider.params[i]; ok && spec.Value != nil {
		return newConst(t, spec.Value), nil
	}
	child, err := p.paramRequest(r, i, t)
	if err != nil {
		return nil, err
	}
	return p.plan(child)
}

func (p *planner) planFields(r *Request, t reflect.Type) ([]fieldNode, error) {
	specs := injectableFields(t)
	out := make([]fieldNode, 0, len(specs))
	for _, spec := range specs {
		child := r.child(spec.typ)
		child.name = spec.name
		child.key = spec.key
		child.required = !spec.optional
		if child.key == nil && p.keyedType(spec.typ) {
			child.key = spec.name
		}
		if r.provider.decorator {
			child.path = r.path
		}
		if spec.hasDef {
			def, err := coerce(spec.def, spec.typ)
			if err != nil {
				return nil, newError(ErrCoercion, child, "default tag", err)
			}
			child.def = def
		}
		n, err := p.plan(child)
		if err != nil {
			return nil, err
		}
		out = append(out, fieldNode{index: spec.index, value: n})
	}
	return out, nil
}

func (p *planner) keyedType(t reflect.Type) bool {
	return p.c.opts.keyedTypes != nil && p.c.opts.keyedTypes(t)
}
