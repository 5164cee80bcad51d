// Package container is a dependency injection container built around an
// activation-plan compiler.
//
// # Overview
//
// A resolve request for a type (optionally under a key) is planned into a
// tree of nodes: constructor calls, field injection, lifestyle caching,
// decorators and wrappers. The tree is compiled into nested closures once
// per (type, key) and published to a lock-free persistent cache, so every
// later resolve of the same request runs the compiled Activator directly.
//
// # Container Lifecycle
//
//  1. Create: c := container.New(container.WithLogger(log))
//  2. Register providers: c.Register(...) or registry.Register(&MyProvider{})
//  3. Boot: registry.Boot(), after which everything may be resolved
//  4. Serve: open a Scope per unit of work and Close it when done
//  5. Shut down: c.Close() disposes singletons, newest first
//
// # Providers
//
//	// Constructor: parameters are resolved, (T, error) is supported
//	c.Provide(NewUserRepo, container.Reuse(container.Singleton))
//
//	// Interface export and keys
//	c.Provide(NewRedisCache, container.AsType[Cache](), container.Keyed("redis"))
//
//	// Struct with tagged fields
//	//   type Handler struct {
//	//       Repo *UserRepo `inject:""`
//	//       Port int       `inject:"port,optional" default:"8080"`
//	//   }
//	p, _ := container.StructProvider(reflect.TypeFor[*Handler]())
//
//	// Every instantiation of a generic type
//	p, _ := container.OpenGenericStruct(reflect.TypeFor[*Repo[any]]())
//
// # Resolving
//
//	repo, err := container.Resolve[*UserRepo](c)
//	cache, err := container.Resolve[Cache](c, container.WithKey("redis"))
//	all := container.ResolveAll[Handler](c)
//
// Resolution tries, in order: known values and the container's own types,
// the decoratee of a decorator, registered providers (exact, then open
// generic), collections ([]T, iter.Seq[T], map[K]T), wrappers, just-in-time
// discovery, the parent container, and finally the ambient Context.
//
// # Wrappers
//
//	func() T, func() (T, error)   deferred creation
//	func(A, B) T                   A and B are supplied by the caller
//	Lazy[T]                        deferred and memoized
//	Owned[T]                       caller disposes T and its dependencies
//	InScope[T]                     T lives in a new nested scope
//	Meta[T], Tagged[T, M]          T with its provider's metadata
//	KeyValue[T]                    T with its provider's key
//
// A dependency cycle that passes through func() T or Lazy[T] is legal: the
// inner resolve happens when the func is called.
//
// # Lifestyles
//
// Transient runs the plan every time. Singleton caches in the root scope,
// Scoped in the current scope, PerRequest in the Context of one top-level
// resolve. Disposable instances (Dispose() error or io.Closer) are disposed
// with the scope that created them unless ExternallyOwned is set.
//
// # Limitations
//
// Registering or unregistering providers does not invalidate activators
// already compiled. Register everything before the first resolve.
package container
