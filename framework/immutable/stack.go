package immutable

import "sync/atomic"

type stackNode[T any] struct {
	value T
	next  *stackNode[T]
	size  int
}

// Stack is a lock-free append-only list. The zero value is ready for use.
type Stack[T any] struct {
	head atomic.Pointer[stackNode[T]]
}

// Push appends v.
func (s *Stack[T]) Push(v T) {
	for {
		old := s.head.Load()
		n := &stackNode[T]{value: v, next: old, size: 1}
		if old != nil {
			n.size = old.size + 1
		}
		if s.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// Len returns the number of pushed values not yet drained.
func (s *Stack[T]) Len() int {
	if n := s.head.Load(); n != nil {
		return n.size
	}
	return 0
}

// Drain empties the stack and returns its values, most recent first.
func (s *Stack[T]) Drain() []T {
	n := s.head.Swap(nil)
	if n == nil {
		return nil
	}
	out := make([]T, 0, n.size)
	for ; n != nil; n = n.next {
		out = append(out, n.value)
	}
	return out
}
