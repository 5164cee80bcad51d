// Package immutable provides the persistent data structures the container
// caches are built on.
//
// # Map
//
// Map is an AVL tree keyed by the hash of its key. Every write returns a new
// root that shares all untouched subtrees with the previous one, so a root
// pointer, once published, never changes underneath a reader. A nil *Map is
// the empty map.
//
//	var m *immutable.Map[string, int]
//	m = m.Set("a", 1)
//	v, ok := m.Get("a")
//
// Keys with equal hashes live in the same node: the first one in the node
// itself, the rest in its conflict list, compared with ==.
//
// # Ref
//
// Ref is an atomically swappable Map root. Readers call Get without locking.
// Writers build a new tree from the current snapshot and CAS it in,
// retrying on conflict. AddOrKeep gives racing writers a single winner that
// every caller observes:
//
//	var cache immutable.Ref[reflect.Type, Activator]
//	act, _ := cache.AddOrKeep(t, compiled) // compiled, or whatever won first
//
// # Stack
//
// Stack is a lock-free append-only list, drained in reverse push order.
package immutable
