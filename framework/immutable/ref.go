package immutable

import "sync/atomic"

// Ref is an atomically replaceable Map root. The zero value is an empty Ref
// ready for use. A Ref must not be copied after first use.
type Ref[K comparable, V any] struct {
	root atomic.Pointer[Map[K, V]]
}

// Load returns the current snapshot.
func (r *Ref[K, V]) Load() *Map[K, V] {
	return r.root.Load()
}

// Get looks key up in the current snapshot without locking.
func (r *Ref[K, V]) Get(key K) (V, bool) {
	return r.root.Load().Get(key)
}

// AddOrKeep publishes value under key unless another writer got there
// first; either way it returns the value every reader will observe.
func (r *Ref[K, V]) AddOrKeep(key K, value V) (actual V, loaded bool) {
	h := Hash(key)
	for {
		old := r.root.Load()
		next, actual, loaded := old.put(h, key, value, false)
		if loaded {
			return actual, true
		}
		if r.root.CompareAndSwap(old, next) {
			return value, false
		}
	}
}

// Set publishes value under key, replacing any previous value.
func (r *Ref[K, V]) Set(key K, value V) {
	h := Hash(key)
	for {
		old := r.root.Load()
		next, _, _ := old.put(h, key, value, true)
		if r.root.CompareAndSwap(old, next) {
			return
		}
	}
}

// Update applies fn to the current snapshot and publishes its result,
// re-running fn on the fresh snapshot if another writer won the race.
// When fn returns an error nothing is published.
func (r *Ref[K, V]) Update(fn func(m *Map[K, V]) (*Map[K, V], error)) error {
	for {
		old := r.root.Load()
		next, err := fn(old)
		if err != nil {
			return err
		}
		if next == old || r.root.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Reset drops every entry and returns the last snapshot.
func (r *Ref[K, V]) Reset() *Map[K, V] {
	return r.root.Swap(nil)
}
