package container

import (
	"fmt"
	"reflect"
	"strings"
)

// knownValue is a value supplied from outside the registry: func-wrapper
// arguments or a contextual override.
type knownValue struct {
	typ  reflect.Type
	node node
	next *knownValue
}

// Request is one node of the ancestry tree built while planning. Requests
// are never mutated once created; children are derived with child.
type Request struct {
	typ      reflect.Type
	key      any
	filter   func(*Provider) bool
	meta     reflect.Type
	def      reflect.Value
	required bool

	parent   *Request
	depth    int
	provider *Provider
	name     string

	path     node
	known    *knownValue
	pinned   *Provider
	deferred int
}

func newRequest(t reflect.Type, key any) *Request {
	return &Request{typ: t, key: key, required: true}
}

// child derives a dependency request of type t. Known values and the
// deferred depth propagate down; everything else starts fresh.
func (r *Request) child(t reflect.Type) *Request {
	return &Request{
		typ:      t,
		required: true,
		parent:   r,
		depth:    r.depth + 1,
		known:    r.known,
		deferred: r.deferred,
	}
}

func (r *Request) withProvider(p *Provider) *Request {
	c := *r
	c.provider = p
	return &c
}

func (r *Request) withKnown(t reflect.Type, n node) *Request {
	c := *r
	c.known = &knownValue{typ: t, node: n, next: r.known}
	return &c
}

// Type is the requested service type.
func (r *Request) Type() reflect.Type { return r.typ }

// Key is the requested key, nil for the default provider.
func (r *Request) Key() any { return r.key }

// Parent is the request that depends on this one, nil at the root.
func (r *Request) Parent() *Request { return r.parent }

// Depth is the number of ancestors.
func (r *Request) Depth() int { return r.depth }

// Provider is the provider chosen for the request, nil until selected.
func (r *Request) Provider() *Provider { return r.provider }

// Name is the parameter or field name the request fills, if known.
func (r *Request) Name() string { return r.name }

// Required reports whether failing to resolve is an error.
func (r *Request) Required() bool { return r.required }

// ConsumerType is the activation type of the nearest ancestor provider,
// or nil at the root.
func (r *Request) ConsumerType() reflect.Type {
	for a := r.parent; a != nil; a = a.parent {
		if a.provider != nil {
			return a.provider.activation
		}
	}
	return nil
}

// consumer is the nearest ancestor that selected a provider.
func (r *Request) consumer() *Request {
	for a := r.parent; a != nil; a = a.parent {
		if a.provider != nil {
			return a
		}
	}
	return nil
}

// Chain renders the ancestry from this request up to the root.
func (r *Request) Chain() []string {
	var out []string
	for a := r; a != nil; a = a.parent {
		out = append(out, a.String())
	}
	return out
}

// String renders the request for diagnostics.
func (r *Request) String() string {
	var b strings.Builder
	if r.typ != nil {
		b.WriteString(r.typ.String())
	}
	if r.key != nil {
		fmt.Fprintf(&b, "{key=%v}", r.key)
	}
	if r.name != "" {
		b.WriteString(" " + r.name)
	}
	if r.provider != nil && r.provider.activation != r.typ {
		b.WriteString(" as " + r.provider.activation.String())
	}
	return b.String()
}

// ancestorWith returns the closest ancestor resolved by p, and whether a
// deferred wrapper was entered between that ancestor and this request.
func (r *Request) ancestorWith(p *Provider) (*Request, bool) {
	for a := r.parent; a != nil; a = a.parent {
		if a.provider != nil && a.provider.id == p.id {
			return a, r.deferred > a.deferred
		}
	}
	return nil, false
}

// findKnown returns the most recently supplied known value assignable to
// the requested type.
func (r *Request) findKnown() (node, bool) {
	for kv := r.known; kv != nil; kv = kv.next {
		if kv.typ.AssignableTo(r.typ) {
			return convertTo(kv.node, r.typ), true
		}
	}
	return nil, false
}
