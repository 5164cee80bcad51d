package immutable

import (
	"hash/maphash"
	"slices"
)

var seed = maphash.MakeSeed()

// Hash returns the hash Map uses for key.
func Hash[K comparable](key K) uint64 {
	return maphash.Comparable(seed, key)
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Map is a persistent balanced tree. The zero value is not used; a nil *Map
// is the empty map and every method accepts a nil receiver.
type Map[K comparable, V any] struct {
	hash      uint64
	key       K
	value     V
	conflicts []entry[K, V]
	left      *Map[K, V]
	right     *Map[K, V]
	height    int
}

// Height returns the height of the tree; 0 for the empty map.
func (m *Map[K, V]) Height() int {
	if m == nil {
		return 0
	}
	return m.height
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	if m == nil {
		return 0
	}
	return 1 + len(m.conflicts) + m.left.Len() + m.right.Len()
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	return m.get(Hash(key), key)
}

func (m *Map[K, V]) get(h uint64, key K) (V, bool) {
	n := m
	for n != nil {
		switch {
		case h < n.hash:
			n = n.left
		case h > n.hash:
			n = n.right
		default:
			if n.key == key {
				return n.value, true
			}
			for i := range n.conflicts {
				if n.conflicts[i].key == key {
					return n.conflicts[i].value, true
				}
			}
			n = nil
		}
	}
	var zero V
	return zero, false
}

// Set returns a map with key bound to value, replacing any previous value.
func (m *Map[K, V]) Set(key K, value V) *Map[K, V] {
	next, _, _ := m.put(Hash(key), key, value, true)
	return next
}

// AddOrKeep returns a map with key bound to value unless key is already
// present, in which case m itself is returned together with the existing
// value and loaded=true.
func (m *Map[K, V]) AddOrKeep(key K, value V) (next *Map[K, V], actual V, loaded bool) {
	return m.put(Hash(key), key, value, false)
}

// Each calls fn for every entry in hash order until fn returns false.
func (m *Map[K, V]) Each(fn func(key K, value V) bool) bool {
	if m == nil {
		return true
	}
	if !m.left.Each(fn) {
		return false
	}
	if !fn(m.key, m.value) {
		return false
	}
	for _, e := range m.conflicts {
		if !fn(e.key, e.value) {
			return false
		}
	}
	return m.right.Each(fn)
}

// Keys returns all keys in hash order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	m.Each(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func (m *Map[K, V]) put(h uint64, key K, value V, replace bool) (*Map[K, V], V, bool) {
	if m == nil {
		return &Map[K, V]{hash: h, key: key, value: value, height: 1}, value, false
	}

	switch {
	case h < m.hash:
		left, actual, loaded := m.left.put(h, key, value, replace)
		if left == m.left {
			return m, actual, loaded
		}
		return m.with(left, m.right).balance(), actual, loaded

	case h > m.hash:
		right, actual, loaded := m.right.put(h, key, value, replace)
		if right == m.right {
			return m, actual, loaded
		}
		return m.with(m.left, right).balance(), actual, loaded
	}

	if m.key == key {
		if !replace {
			return m, m.value, true
		}
		n := *m
		n.value = value
		return &n, value, true
	}

	for i := range m.conflicts {
		if m.conflicts[i].key != key {
			continue
		}
		if !replace {
			return m, m.conflicts[i].value, true
		}
		n := *m
		n.conflicts = slices.Clone(m.conflicts)
		n.conflicts[i].value = value
		return &n, value, true
	}

	n := *m
	n.conflicts = append(slices.Clip(m.conflicts), entry[K, V]{key: key, value: value})
	return &n, value, false
}

// with copies m with new children and a recomputed height.
func (m *Map[K, V]) with(left, right *Map[K, V]) *Map[K, V] {
	n := *m
	n.left, n.right = left, right
	n.height = 1 + max(left.Height(), right.Height())
	return &n
}

func (m *Map[K, V]) balance() *Map[K, V] {
	lh, rh := m.left.Height(), m.right.Height()

	switch {
	case lh-rh > 1:
		l := m.left
		if l.left.Height() >= l.right.Height() {
			return m.rotateRight()
		}
		return m.with(l.rotateLeft(), m.right).rotateRight()

	case rh-lh > 1:
		r := m.right
		if r.right.Height() >= r.left.Height() {
			return m.rotateLeft()
		}
		return m.with(m.left, r.rotateRight()).rotateLeft()
	}

	return m
}

func (m *Map[K, V]) rotateRight() *Map[K, V] {
	l := m.left
	return l.with(l.left, m.with(l.right, m.right))
}

func (m *Map[K, V]) rotateLeft() *Map[K, V] {
	r := m.right
	return r.with(m.with(m.left, r.left), r.right)
}
