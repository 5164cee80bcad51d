package container

// compose turns a provider's activation into the full plan for r: nil
// check, disposal tracking, decorators inside the lifestyle boundary, the
// lifestyle itself, then decorators that wrap the cached instance.
func (p *planner) compose(r *Request, base node) (node, error) {
	prov := r.provider
	n := p.finishActivation(prov, r, base)

	var before, after []*Provider
	if !prov.decorator {
		for _, d := range p.c.registry.Decorators(r.typ) {
			if !p.applicable(r, d) {
				continue
			}
			if d.afterLifestyle {
				after = append(after, d)
			} else {
				before = append(before, d)
			}
		}
	}

	var err error
	slot := prov.id
	if len(before) > 0 {
		n = convertTo(n, r.typ)
		slot = p.c.slotID(prov.id, 0, r.typ)
	}
	for _, d := range before {
		if n, err = p.decorate(r, d, n); err != nil {
			return nil, err
		}
	}

	n = applyLifestyle(n, prov.lifestyle, slot)
	n = convertTo(n, r.typ)

	for _, d := range after {
		if n, err = p.decorate(r, d, n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// finishActivation adds the nil check and disposal tracking around a
// provider's activation.
func (p *planner) finishActivation(prov *Provider, r *Request, n node) node {
	if prov.kind != kindInstance && !prov.allowNil && !p.c.opts.allowNil {
		n = &nilCheckNode{inner: n, req: r}
	}
	if !prov.externallyOwned && trackable(n.Type(), len(prov.onDispose)) {
		n = &disposeTrackNode{inner: n, hooks: prov.onDispose}
	}
	return n
}

// decorate plans decorator d around decoratee. The decorator's parameter
// of the service type receives the decoratee through the request path.
func (p *planner) decorate(r *Request, d *Provider, decoratee node) (node, error) {
	d, err := d.close(r.typ)
	if err != nil {
		return nil, newError(ErrInvalidProvider, r, "cannot close decorator", err)
	}

	dr := r.withProvider(d)
	dr.path = decoratee
	n, err := p.activation(dr)
	if err != nil {
		return nil, err
	}
	n = p.finishActivation(d, dr, n)
	n = applyLifestyle(n, d.lifestyle, p.c.slotID(d.id, r.provider.id, r.typ))
	return convertTo(n, r.typ), nil
}
