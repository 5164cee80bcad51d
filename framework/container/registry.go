package container

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/km-arc/go-activator/framework/immutable"
)

// providerSet is the immutable collection of providers for one service
// type (or one open generic definition).
type providerSet struct {
	primary *Provider
	keyed   *immutable.Map[any, *Provider]
	all     []*Provider
}

func byOrder(a, b *Provider) int {
	return cmp.Or(cmp.Compare(a.priority, b.priority), cmp.Compare(a.seq, b.seq))
}

func newProviderSet(all []*Provider) *providerSet {
	if len(all) == 0 {
		return nil
	}
	slices.SortStableFunc(all, byOrder)
	s := &providerSet{all: all}
	for _, p := range all {
		if p.key == nil {
			if s.primary == nil {
				s.primary = p
			}
			continue
		}
		s.keyed = s.keyed.Set(p.key, p)
	}
	return s
}

func (s *providerSet) providers() []*Provider {
	if s == nil {
		return nil
	}
	return s.all
}

func (s *providerSet) byKey(key any) *Provider {
	if s == nil || key == nil || !reflect.TypeOf(key).Comparable() {
		return nil
	}
	p, _ := s.keyed.Get(key)
	return p
}

// Registry holds providers by service type. Reads are lock-free snapshots;
// writers publish new snapshots.
type Registry struct {
	services          immutable.Ref[reflect.Type, *providerSet]
	decorators        immutable.Ref[reflect.Type, *providerSet]
	generics          immutable.Ref[string, *providerSet]
	genericDecorators immutable.Ref[string, *providerSet]

	seq                 atomic.Uint64
	rejectDuplicateKeys bool
}

// NewRegistry creates an empty registry.
func NewRegistry(rejectDuplicateKeys bool) *Registry {
	return &Registry{rejectDuplicateKeys: rejectDuplicateKeys}
}

// Add registers p under each of its exported types.
func (r *Registry) Add(p *Provider) error {
	if p == nil {
		return invalidProvider("nil provider")
	}
	if p.seq == 0 {
		p.seq = r.seq.Add(1)
	}

	if p.kind == kindGeneric {
		ref := &r.generics
		if p.decorator {
			ref = &r.genericDecorators
		}
		return ref.Update(func(m *immutable.Map[string, *providerSet]) (*immutable.Map[string, *providerSet], error) {
			cur, _ := m.Get(p.genericDef)
			next, err := r.merge(p.genericDef, cur, p)
			if err != nil || next == cur {
				return m, err
			}
			return m.Set(p.genericDef, next), nil
		})
	}

	ref := &r.services
	if p.decorator {
		ref = &r.decorators
	}
	for _, t := range p.services {
		err := ref.Update(func(m *immutable.Map[reflect.Type, *providerSet]) (*immutable.Map[reflect.Type, *providerSet], error) {
			cur, _ := m.Get(t)
			next, err := r.merge(t, cur, p)
			if err != nil || next == cur {
				return m, err
			}
			return m.Set(t, next), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// merge applies p's duplicate policy against the current set.
func (r *Registry) merge(service any, cur *providerSet, p *Provider) (*providerSet, error) {
	existing := cur.providers()
	if p.decorator {
		return newProviderSet(append(slices.Clone(existing), p)), nil
	}

	sameKey := func(q *Provider) bool {
		if p.key == nil {
			return q.key == nil
		}
		return q.key == p.key
	}
	clash := slices.ContainsFunc(existing, sameKey)
	if !clash {
		return newProviderSet(append(slices.Clone(existing), p)), nil
	}

	policy := p.duplicates
	if p.key != nil && policy == AppendDuplicate {
		// one provider per key
		policy = ReplaceDuplicate
		if r.rejectDuplicateKeys {
			policy = RejectDuplicate
		}
	}
	switch policy {
	case KeepDuplicate:
		return cur, nil
	case RejectDuplicate:
		return nil, fmt.Errorf("%w: %v already registered for %v", ErrKeyConflict, keyString(p.key), service)
	case ReplaceDuplicate:
		kept := slices.DeleteFunc(slices.Clone(existing), sameKey)
		return newProviderSet(append(kept, p)), nil
	}
	return newProviderSet(append(slices.Clone(existing), p)), nil
}

func keyString(key any) string {
	if key == nil {
		return "default provider"
	}
	return fmt.Sprintf("key %v", key)
}

// Remove drops every registration of p. It reports whether p was found.
func (r *Registry) Remove(p *Provider) bool {
	return r.RemoveFunc(func(q *Provider) bool { return q.id == p.id }) > 0
}

// RemoveFunc drops every provider for which match returns true and returns
// how many registrations were removed.
func (r *Registry) RemoveFunc(match func(*Provider) bool) int {
	removed := 0
	removed += removeFrom(&r.services, match)
	removed += removeFrom(&r.decorators, match)
	removed += removeFrom(&r.generics, match)
	removed += removeFrom(&r.genericDecorators, match)
	return removed
}

func removeFrom[K comparable](ref *immutable.Ref[K, *providerSet], match func(*Provider) bool) int {
	var removed int
	_ = ref.Update(func(m *immutable.Map[K, *providerSet]) (*immutable.Map[K, *providerSet], error) {
		removed = 0
		next := m
		m.Each(func(k K, s *providerSet) bool {
			if s == nil {
				return true
			}
			kept := slices.DeleteFunc(slices.Clone(s.all), match)
			if len(kept) == len(s.all) {
				return true
			}
			removed += len(s.all) - len(kept)
			next = next.Set(k, newProviderSet(kept))
			return true
		})
		return next, nil
	})
	return removed
}

// Primary returns the default provider for t.
func (r *Registry) Primary(t reflect.Type) *Provider {
	s, _ := r.services.Get(t)
	if s == nil {
		return nil
	}
	return s.primary
}

// Keyed returns the provider registered for t under key.
func (r *Registry) Keyed(t reflect.Type, key any) *Provider {
	s, _ := r.services.Get(t)
	return s.byKey(key)
}

// All returns the providers for t in priority order.
func (r *Registry) All(t reflect.Type) []*Provider {
	s, _ := r.services.Get(t)
	return s.providers()
}

// Generic returns the open generic providers whose definition t
// instantiates.
func (r *Registry) Generic(t reflect.Type) []*Provider {
	def, ok := genericDefinition(t)
	if !ok {
		return nil
	}
	s, _ := r.generics.Get(def)
	return s.providers()
}

func (r *Registry) genericSet(t reflect.Type) *providerSet {
	def, ok := genericDefinition(t)
	if !ok {
		return nil
	}
	s, _ := r.generics.Get(def)
	return s
}

// Decorators returns the decorators for t, exact and open generic, in
// priority order.
func (r *Registry) Decorators(t reflect.Type) []*Provider {
	exact, _ := r.decorators.Get(t)
	out := slices.Clone(exact.providers())
	if def, ok := genericDefinition(t); ok {
		s, _ := r.genericDecorators.Get(def)
		out = append(out, s.providers()...)
	}
	slices.SortStableFunc(out, byOrder)
	return out
}

// Has reports whether anything is registered for t.
func (r *Registry) Has(t reflect.Type) bool {
	s, _ := r.services.Get(t)
	return s != nil || r.genericSet(t) != nil
}

// Providers returns a snapshot of every registered provider in
// registration order.
func (r *Registry) Providers() []*Provider {
	seen := make(map[uint64]bool)
	var out []*Provider
	collect := func(s *providerSet) {
		for _, p := range s.providers() {
			if !seen[p.id] {
				seen[p.id] = true
				out = append(out, p)
			}
		}
	}
	r.services.Load().Each(func(_ reflect.Type, s *providerSet) bool { collect(s); return true })
	r.decorators.Load().Each(func(_ reflect.Type, s *providerSet) bool { collect(s); return true })
	r.generics.Load().Each(func(_ string, s *providerSet) bool { collect(s); return true })
	r.genericDecorators.Load().Each(func(_ string, s *providerSet) bool { collect(s); return true })
	slices.SortFunc(out, func(a, b *Provider) int { return cmp.Compare(a.seq, b.seq) })
	return out
}
