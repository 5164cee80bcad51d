package container

import (
	"fmt"
	"reflect"
)

// planner turns one top-level request into a plan. It is not shared
// between goroutines.
type planner struct {
	c     *Container
	ctx   *Context
	order func(a, b *Provider) int

	// volatile counts decisions that depend on the ancestry (conditions,
	// known values, deferred cycles); plans built while it moved are not
	// reused by other requests.
	volatile    int
	usedContext bool
	discovering bool
}

// plan resolves req to a plan node. The first step that applies wins.
func (p *planner) plan(req *Request) (node, error) {
	if req.depth > p.c.opts.maxDepth {
		return nil, newError(ErrCircularDependency, req,
			fmt.Sprintf("dependency depth exceeds %d", p.c.opts.maxDepth), nil)
	}

	// Known values, self types and contextual overrides.
	if n, err := p.known(req); n != nil || err != nil {
		return n, err
	}
	// Decoratee.
	if req.path != nil && req.key == nil && req.path.Type() == req.typ {
		return req.path, nil
	}
	if n, err := p.registered(req); n != nil || err != nil {
		return n, err
	}
	if n, err := p.discover(req); n != nil || err != nil {
		return n, err
	}
	if n, err := p.delegate(req); n != nil || err != nil {
		return n, err
	}
	return p.fallback(req)
}

// registered covers everything the registry can answer: exact and open
// generic providers, collections and wrappers.
func (p *planner) registered(req *Request) (node, error) {
	if n, err := p.fromRegistry(req); n != nil || err != nil {
		return n, err
	}
	if n, err := p.collection(req); n != nil || err != nil {
		return n, err
	}
	return p.wrapped(req)
}

// known answers from values supplied outside the registry. Keyed and
// pinned requests already name their provider and skip it.
func (p *planner) known(req *Request) (node, error) {
	if req.key != nil || req.pinned != nil {
		return nil, nil
	}
	if n, ok := req.findKnown(); ok {
		p.volatile++
		return n, nil
	}
	if n, ok := selfFor(req.typ); ok {
		return n, nil
	}
	if consumer := req.consumer(); consumer != nil {
		key := contextualKey{consumer: consumer.provider.activation, need: req.typ}
		if prov, ok := p.c.contextual.Get(key); ok {
			return p.planProvider(req, prov)
		}
	}
	return nil, nil
}

func (p *planner) fromRegistry(req *Request) (node, error) {
	if req.pinned != nil && provides(req.pinned, req.typ) {
		return p.planProvider(req, req.pinned)
	}
	set, _ := p.c.registry.services.Get(req.typ)
	if prov := p.selectFrom(req, set); prov != nil {
		return p.planProvider(req, prov)
	}
	prov, err := p.closeGeneric(req)
	if err != nil || prov == nil {
		return nil, err
	}
	return p.planProvider(req, prov)
}

// selectFrom picks the provider for req from set: by key when the request
// has one, otherwise the primary provider when nothing needs checking, or
// the first applicable default provider in priority order.
func (p *planner) selectFrom(req *Request, set *providerSet) *Provider {
	if set == nil {
		return nil
	}
	if req.key != nil {
		if prov := set.byKey(req.key); prov != nil && p.applicable(req, prov) {
			return prov
		}
		return nil
	}
	if prov := set.primary; prov != nil && req.filter == nil && req.meta == nil && len(prov.conditions) == 0 {
		return prov
	}
	for _, prov := range set.all {
		if prov.key == nil && p.applicable(req, prov) {
			return prov
		}
	}
	return nil
}

func (p *planner) applicable(req *Request, prov *Provider) bool {
	if req.filter != nil && !req.filter(prov) {
		return false
	}
	if req.meta != nil && (prov.metadata == nil || !reflect.TypeOf(prov.metadata).AssignableTo(req.meta)) {
		return false
	}
	if len(prov.conditions) > 0 {
		p.volatile++
		return prov.applies(req)
	}
	return true
}

// planProvider plans req through prov, reusing the provider's cached plan
// when nothing about the ancestry influenced it.
func (p *planner) planProvider(req *Request, prov *Provider) (node, error) {
	if anc, deferred := req.ancestorWith(prov); anc != nil {
		if deferred {
			p.volatile++
			return &resolveCallNode{typ: req.typ, key: req.key}, nil
		}
		return nil, newError(ErrCircularDependency, req.withProvider(prov), "", nil)
	}

	r := req.withProvider(prov)
	reusable := r.known == nil
	if reusable {
		if n, ok := prov.plans.Get(r.typ); ok {
			return n, nil
		}
	}

	mark, usedContext := p.volatile, p.usedContext
	base, err := p.activation(r)
	if err != nil {
		return nil, err
	}
	n, err := p.compose(r, base)
	if err != nil {
		return nil, err
	}
	if reusable && p.volatile == mark && p.usedContext == usedContext {
		n, _ = prov.plans.AddOrKeep(r.typ, n)
	}
	return n, nil
}

// discover runs just-in-time discovery for req and retries the registry
// once if a discoverer registered something.
func (p *planner) discover(req *Request) (node, error) {
	if !p.discoverType(req.typ, req.key, func() bool { return p.selects(req) }) {
		return nil, nil
	}
	p.discovering = true
	defer func() { p.discovering = false }()
	return p.registered(req)
}

// discoverType runs the container's discoverers for t. hit repeats the
// selection that missed, under the discovery lock.
func (p *planner) discoverType(t reflect.Type, key any, hit func() bool) bool {
	if p.discovering {
		return false
	}
	return p.c.discover(t, key, hit)
}

// selects reports whether the registry now has a provider, exact or open
// generic, that would be selected for req. Nothing is planned.
func (p *planner) selects(req *Request) bool {
	set, _ := p.c.registry.services.Get(req.typ)
	if p.selectFrom(req, set) != nil {
		return true
	}
	prov, err := p.closeGeneric(req)
	return prov != nil || err != nil
}

// delegate hands the request to the parent container when the parent can
// plan it.
func (p *planner) delegate(req *Request) (node, error) {
	parent := p.c.parent
	if parent == nil {
		return nil, nil
	}
	pp := &planner{c: parent, ctx: p.ctx}
	preq := newRequest(req.typ, req.key)
	preq.filter = req.filter
	preq.meta = req.meta
	if _, err := pp.plan(preq); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if pp.usedContext {
		p.usedContext = true
	}
	return &delegateNode{
		typ:    req.typ,
		parent: parent,
		opts:   resolveOptions{key: req.key, filter: req.filter, required: true},
	}, nil
}

// fallback is the last step: the ambient context, then the request's
// default, then the zero value for optional requests.
func (p *planner) fallback(req *Request) (node, error) {
	if _, ok := p.ctx.Get(contextKey(req)); ok {
		p.usedContext = true
		return &contextNode{req: req}, nil
	}
	if req.def.IsValid() || !req.required {
		// still read at run time, so a later resolve can supply the value
		return &contextNode{req: req}, nil
	}
	return nil, notFound(req)
}
