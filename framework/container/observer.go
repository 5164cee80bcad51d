package container

import (
	"reflect"
	"time"
)

// Observer receives notifications about container activity. Implementations
// must be safe for concurrent use and must not resolve from the container.
type Observer interface {
	// Resolved is called after every top-level resolve. cached reports a
	// compiled-cache hit.
	Resolved(t reflect.Type, key any, cached bool, elapsed time.Duration, err error)

	// Compiled is called when a new activator is published to the cache.
	Compiled(t reflect.Type, key any)

	// Discovered is called after just-in-time discovery ran for t.
	Discovered(t reflect.Type, registered bool)

	// Disposed is called for every instance a disposal scope cleans up.
	Disposed(t reflect.Type, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Resolved(reflect.Type, any, bool, time.Duration, error) {}
func (NopObserver) Compiled(reflect.Type, any)                             {}
func (NopObserver) Discovered(reflect.Type, bool)                          {}
func (NopObserver) Disposed(reflect.Type, error)                           {}
