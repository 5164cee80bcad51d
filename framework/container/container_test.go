package container_test

import (
	"cmp"
	"errors"
	"iter"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-activator/framework/container"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type Logger struct{ prefix string }

func NewLogger() *Logger { return &Logger{prefix: "app"} }

type Repo struct{ Log *Logger }

func NewRepo(l *Logger) *Repo { return &Repo{Log: l} }

type Service struct{ Repo *Repo }

func NewService(r *Repo) *Service { return &Service{Repo: r} }

type Greeter interface{ Greet() string }

type english struct{ name string }

func (e *english) Greet() string { return "hello " + e.name }

type missing struct{ id int }

type needsMissing struct{ m *missing }

func provide(t *testing.T, c *container.Container, ctor any, opts ...container.ProviderOption) {
	t.Helper()
	require.NoError(t, c.Provide(ctor, opts...))
}

type countingObserver struct {
	container.NopObserver
	mu       sync.Mutex
	compiled map[reflect.Type]int
	hits     int
}

func (o *countingObserver) Compiled(t reflect.Type, _ any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.compiled == nil {
		o.compiled = make(map[reflect.Type]int)
	}
	o.compiled[t]++
}

func (o *countingObserver) Resolved(_ reflect.Type, _ any, cached bool, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cached {
		o.hits++
	}
}

// ── Basic resolution ──────────────────────────────────────────────────────────

func TestContainer_ResolvesConstructorGraph(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, NewLogger)
	provide(t, c, NewRepo)
	provide(t, c, NewService)

	svc, err := container.Resolve[*Service](c)
	require.NoError(t, err)
	require.NotNil(t, svc.Repo)
	require.NotNil(t, svc.Repo.Log)
	assert.Equal(t, "app", svc.Repo.Log.prefix)
}

func TestContainer_InterfaceExport(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *english { return &english{name: "ann"} }, container.AsType[Greeter]())

	g, err := container.Resolve[Greeter](c)
	require.NoError(t, err)
	assert.Equal(t, "hello ann", g.Greet())

	_, err = container.Resolve[*english](c)
	assert.ErrorIs(t, err, container.ErrNotFound, "only exported types are resolvable")
}

func TestContainer_StructProvider_InjectsTaggedFields(t *testing.T) {
	t.Parallel()

	type handler struct {
		Log     *Logger `inject:""`
		Port    int     `inject:"port,optional" default:"8080"`
		Name    string  `inject:",optional"`
		ignored *Logger
	}

	c := container.New()
	provide(t, c, NewLogger)
	p, err := container.StructProvider(reflect.TypeFor[*handler]())
	require.NoError(t, err)
	require.NoError(t, c.Register(p))

	h, err := container.Resolve[*handler](c)
	require.NoError(t, err)
	assert.NotNil(t, h.Log)
	assert.Equal(t, 8080, h.Port)
	assert.Empty(t, h.Name)
	assert.Nil(t, h.ignored)
}

func TestContainer_FactoryProvider_ReceivesResolver(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, NewLogger, container.Reuse(container.Singleton))
	p, err := container.FactoryProvider(reflect.TypeFor[*Repo](), func(r container.Resolver) (any, error) {
		l, err := container.Resolve[*Logger](r)
		if err != nil {
			return nil, err
		}
		return &Repo{Log: l}, nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Register(p))

	repo := container.MustResolve[*Repo](c)
	assert.Same(t, container.MustResolve[*Logger](c), repo.Log)
}

func TestContainer_InstanceProvider(t *testing.T) {
	t.Parallel()

	c := container.New()
	log := &Logger{prefix: "fixed"}
	p, err := container.InstanceProvider(log)
	require.NoError(t, err)
	require.NoError(t, c.Register(p))

	assert.Same(t, log, container.MustResolve[*Logger](c))
}

func TestContainer_SelfTypes(t *testing.T) {
	t.Parallel()

	c := container.New()
	scope := c.OpenScope("request")

	got, err := container.Resolve[*container.Scope](scope)
	require.NoError(t, err)
	assert.Same(t, scope, got)

	cc, err := container.Resolve[*container.Container](scope)
	require.NoError(t, err)
	assert.Same(t, c, cc)

	r, err := container.Resolve[container.Resolver](scope)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

// ── Errors ────────────────────────────────────────────────────────────────────

func TestContainer_NotFound_CarriesChain(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(m *missing) *needsMissing { return &needsMissing{m: m} })

	_, err := container.Resolve[*needsMissing](c)
	require.ErrorIs(t, err, container.ErrNotFound)

	var re *container.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, reflect.TypeFor[*missing](), re.Type)
	require.Len(t, re.Chain, 2)
	assert.Contains(t, re.Chain[1], "needsMissing")
	assert.Contains(t, err.Error(), "<-")
}

func TestContainer_ConstructorError_IsActivationError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c := container.New()
	provide(t, c, func() (*Logger, error) { return nil, boom })

	_, err := container.Resolve[*Logger](c)
	assert.ErrorIs(t, err, container.ErrActivation)
	assert.ErrorIs(t, err, boom)
}

func TestContainer_NilProduced(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *Logger { return nil })
	_, err := container.Resolve[*Logger](c)
	assert.ErrorIs(t, err, container.ErrNullProduced)

	c = container.New()
	provide(t, c, func() *Logger { return nil }, container.NilAllowed())
	v, err := container.Resolve[*Logger](c)
	require.NoError(t, err)
	assert.Nil(t, v)

	c = container.New(container.WithAllowNil(true))
	provide(t, c, func() *Logger { return nil })
	v, err = container.Resolve[*Logger](c)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestContainer_OptionalAndDefault(t *testing.T) {
	t.Parallel()

	c := container.New()

	v, err := c.Resolve(reflect.TypeFor[*missing](), container.Optional())
	require.NoError(t, err)
	assert.Nil(t, v)

	n, err := container.Resolve[int](c, container.WithDefault(7))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = container.Resolve[int](c, container.WithDefault("42"))
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = container.Resolve[int](c, container.WithDefault("not a number"))
	assert.ErrorIs(t, err, container.ErrCoercion)
}

// ── Compilation cache ─────────────────────────────────────────────────────────

func TestContainer_CompilesOncePerRequest(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	c := container.New(container.WithObserver(obs))
	provide(t, c, NewLogger)
	provide(t, c, NewRepo)

	for range 5 {
		_, err := container.Resolve[*Repo](c)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, obs.compiled[reflect.TypeFor[*Repo]()])
	assert.Equal(t, 4, obs.hits)
	assert.Equal(t, []container.CompiledKey{{Type: reflect.TypeFor[*Repo]()}}, c.CompiledKeys())
}

func TestContainer_FilteredResolvesAreNotCached(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	c := container.New(container.WithObserver(obs))
	provide(t, c, NewLogger)

	for range 3 {
		_, err := container.Resolve[*Logger](c, container.WithFilter(func(*container.Provider) bool { return true }))
		require.NoError(t, err)
	}
	assert.Empty(t, obs.compiled)
	assert.Empty(t, c.CompiledKeys())
}

// ── Lifestyles ────────────────────────────────────────────────────────────────

func TestContainer_Transient_NewInstanceEachTime(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, NewLogger)
	assert.NotSame(t, container.MustResolve[*Logger](c), container.MustResolve[*Logger](c))
}

func TestContainer_Singleton_SharedAcrossExports(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *english { return &english{name: "x"} },
		container.As(reflect.TypeFor[*english](), reflect.TypeFor[Greeter]()),
		container.Reuse(container.Singleton))

	e := container.MustResolve[*english](c)
	g := container.MustResolve[Greeter](c)
	assert.Same(t, e, g.(*english))
}

type counter struct{ n int }

func TestContainer_Singleton_ExactlyOnceUnderRace(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := container.New()
	provide(t, c, func() *counter {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &counter{n: 1}
	}, container.Reuse(container.Singleton))

	const n = 32
	results := make([]*counter, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			results[i] = container.MustResolve[*counter](c)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestContainer_Scoped(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *counter { return &counter{} }, container.Reuse(container.Scoped))

	s1, s2 := c.OpenScope("one"), c.OpenScope("two")
	a1 := container.MustResolve[*counter](s1)
	assert.Same(t, a1, container.MustResolve[*counter](s1))
	assert.NotSame(t, a1, container.MustResolve[*counter](s2))

	// the root scope acts as a scope of its own
	assert.Same(t, container.MustResolve[*counter](c), container.MustResolve[*counter](c))
	assert.NotSame(t, a1, container.MustResolve[*counter](c))
}

func TestContainer_PerRequest(t *testing.T) {
	t.Parallel()

	type pair struct{ a, b *counter }

	c := container.New()
	provide(t, c, func() *counter { return &counter{} }, container.Reuse(container.PerRequest))
	provide(t, c, func(a, b *counter) *pair { return &pair{a: a, b: b} })

	p1 := container.MustResolve[*pair](c)
	p2 := container.MustResolve[*pair](c)
	assert.Same(t, p1.a, p1.b)
	assert.NotSame(t, p1.a, p2.a)
}

func TestContainer_ClosedScopeRejectsResolve(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, NewLogger)
	s := c.OpenScope("short")
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	_, err := container.Resolve[*Logger](s)
	assert.ErrorIs(t, err, container.ErrDisposed)
	assert.Empty(t, container.ResolveAll[*Logger](s))
}

// ── Cycles ────────────────────────────────────────────────────────────────────

type cycA struct{ b *cycB }
type cycB struct{ a *cycA }
type selfDep struct{ self *selfDep }

func TestContainer_CircularDependency(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(b *cycB) *cycA { return &cycA{b: b} })
	provide(t, c, func(a *cycA) *cycB { return &cycB{a: a} })
	provide(t, c, func(s *selfDep) *selfDep { return &selfDep{self: s} })

	_, err := container.Resolve[*cycA](c)
	assert.ErrorIs(t, err, container.ErrCircularDependency)

	_, err = container.Resolve[*selfDep](c)
	assert.ErrorIs(t, err, container.ErrCircularDependency)
}

type eager struct{}

func TestContainer_SingletonReachingItselfLazilyFails(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(self container.Lazy[*eager]) (*eager, error) {
		if _, err := self.Value(); err != nil {
			return nil, err
		}
		return &eager{}, nil
	}, container.Reuse(container.Singleton))

	done := make(chan error, 1)
	go func() {
		_, err := container.Resolve[*eager](c)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, container.ErrCircularDependency)
	case <-time.After(2 * time.Second):
		t.Fatal("singleton resolve did not return")
	}

	// the failed slot does not block later resolves
	_, err := container.Resolve[*eager](c)
	assert.ErrorIs(t, err, container.ErrCircularDependency)
}

type deep1 struct{}
type deep2 struct{}
type deep3 struct{}
type deep4 struct{}

func TestContainer_MaxDepth(t *testing.T) {
	t.Parallel()

	build := func(opts ...container.Option) *container.Container {
		c := container.New(opts...)
		provide(t, c, func(*deep2) *deep1 { return &deep1{} })
		provide(t, c, func(*deep3) *deep2 { return &deep2{} })
		provide(t, c, func(*deep4) *deep3 { return &deep3{} })
		provide(t, c, func() *deep4 { return &deep4{} })
		return c
	}

	_, err := container.Resolve[*deep1](build())
	require.NoError(t, err)

	_, err = container.Resolve[*deep1](build(container.WithMaxDepth(2)))
	assert.ErrorIs(t, err, container.ErrCircularDependency)
}

type lazyA struct{ newB func() *lazyB }
type lazyB struct{ a *lazyA }

func TestContainer_CycleThroughFuncWrapper(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(f func() *lazyB) *lazyA { return &lazyA{newB: f} }, container.Reuse(container.Singleton))
	provide(t, c, func(a *lazyA) *lazyB { return &lazyB{a: a} })

	a, err := container.Resolve[*lazyA](c)
	require.NoError(t, err)
	b := a.newB()
	require.NotNil(t, b)
	assert.Same(t, a, b.a)
}

// ── Disposal ──────────────────────────────────────────────────────────────────

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

type resA struct{ rec *recorder }

func (a *resA) Dispose() error { a.rec.add("A"); return nil }

type resB struct {
	rec *recorder
	a   *resA
}

func (b *resB) Close() error { b.rec.add("B"); return nil }

func TestContainer_DisposesDependentsFirst(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := container.New()
	p, err := container.InstanceProvider(rec)
	require.NoError(t, err)
	require.NoError(t, c.Register(p))
	provide(t, c, func(r *recorder) *resA { return &resA{rec: r} })
	provide(t, c, func(r *recorder, a *resA) *resB { return &resB{rec: r, a: a} })

	s := c.OpenScope("work")
	_, err = container.Resolve[*resB](s)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Disposer().Len())

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"B", "A"}, rec.order)
}

func TestContainer_SingletonsDisposedWithContainer(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c := container.New()
	provide(t, c, func() *resA { return &resA{rec: rec} }, container.Reuse(container.Singleton))

	s := c.OpenScope("work")
	_, err := container.Resolve[*resA](s)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Empty(t, rec.order, "singletons belong to the root scope")

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"A"}, rec.order)
}

type explosive struct{ t *testing.T }

func (e *explosive) Dispose() error {
	e.t.Error("externally owned instance must not be disposed")
	return errors.New("disposed")
}

func TestContainer_ExternallyOwnedNeverTracked(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *explosive { return &explosive{t: t} }, container.ExternallyOwned())

	s := c.OpenScope("work")
	_, err := container.Resolve[*explosive](s)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Disposer().Len())
	require.NoError(t, s.Close())
	require.NoError(t, c.Close())
}

func TestContainer_OnDisposeHook(t *testing.T) {
	t.Parallel()

	var disposed atomic.Bool
	c := container.New()
	provide(t, c, NewLogger, container.Reuse(container.Singleton), container.OnDispose(func(v any) error {
		disposed.Store(v.(*Logger) != nil)
		return nil
	}))

	_ = container.MustResolve[*Logger](c)
	require.NoError(t, c.Close())
	assert.True(t, disposed.Load())
}

// ── Collections ───────────────────────────────────────────────────────────────

type plugin struct{ name string }

func registerPlugins(t *testing.T, c *container.Container) {
	t.Helper()
	mk := func(name string) func() *plugin { return func() *plugin { return &plugin{name: name} } }
	require.NoError(t, c.Register(
		container.MustProvider(mk("P1"), container.Priority(10)),
		container.MustProvider(mk("P2"), container.Priority(5)),
		container.MustProvider(mk("P3"), container.Priority(5)),
	))
}

func names(ps []*plugin) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.name
	}
	return out
}

func TestContainer_CollectionOrder(t *testing.T) {
	t.Parallel()

	c := container.New()
	registerPlugins(t, c)

	assert.Equal(t, []string{"P2", "P3", "P1"}, names(container.ResolveAll[*plugin](c)))

	slice, err := container.Resolve[[]*plugin](c)
	require.NoError(t, err)
	assert.Equal(t, []string{"P2", "P3", "P1"}, names(slice))

	// the primary provider is the first in order
	assert.Equal(t, "P2", container.MustResolve[*plugin](c).name)
}

func TestContainer_CollectionComparator(t *testing.T) {
	t.Parallel()

	c := container.New()
	registerPlugins(t, c)

	byPriorityDesc := func(a, b *container.Provider) int { return cmp.Compare(b.Priority(), a.Priority()) }
	got := container.ResolveAll[*plugin](c, container.WithOrder(byPriorityDesc))
	assert.Equal(t, []string{"P1", "P2", "P3"}, names(got))
}

func TestContainer_CollectionEmptyWhenNothingRegistered(t *testing.T) {
	t.Parallel()

	c := container.New()
	assert.Empty(t, container.ResolveAll[*plugin](c))

	s, err := container.Resolve[[]*plugin](c)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestContainer_CollectionByExplicitKeys(t *testing.T) {
	t.Parallel()

	c := container.New()
	for _, k := range []string{"a", "b", "c"} {
		provide(t, c, func() *plugin { return &plugin{name: k} }, container.Keyed(k))
	}

	got := container.ResolveAll[*plugin](c, container.WithKey([]any{"c", "a", "missing"}))
	assert.Equal(t, []string{"c", "a"}, names(got))
}

func TestContainer_CollectionBySingleKey(t *testing.T) {
	t.Parallel()

	c := container.New()
	for _, k := range []string{"a", "b"} {
		provide(t, c, func() *plugin { return &plugin{name: k} }, container.Keyed(k))
	}

	got := container.ResolveAll[*plugin](c, container.WithKey("a"))
	assert.Equal(t, []string{"a"}, names(got))
	assert.Empty(t, container.ResolveAll[*plugin](c, container.WithKey("missing")))
}

func TestContainer_Sequence(t *testing.T) {
	t.Parallel()

	for _, lazy := range []bool{false, true} {
		c := container.New(container.WithLazySequences(lazy))
		registerPlugins(t, c)

		seq, err := container.Resolve[iter.Seq[*plugin]](c)
		require.NoError(t, err)

		var got []string
		for p := range seq {
			got = append(got, p.name)
		}
		assert.Equal(t, []string{"P2", "P3", "P1"}, got, "lazy=%v", lazy)
	}
}

func TestContainer_KeyedMap(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *plugin { return &plugin{name: "default"} })
	provide(t, c, func() *plugin { return &plugin{name: "x"} }, container.Keyed("x"))
	provide(t, c, func() *plugin { return &plugin{name: "y"} }, container.Keyed("y"))

	m, err := container.Resolve[map[string]*plugin](c)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "x", m["x"].name)
	assert.Equal(t, "y", m["y"].name)
}

func TestContainer_CollectionExcludesConsumer(t *testing.T) {
	t.Parallel()

	c := container.New()
	registerPlugins(t, c)
	provide(t, c, func(parts []*plugin) *plugin {
		return &plugin{name: "composite:" + names(parts)[0]}
	}, container.Priority(100))

	all := container.ResolveAll[*plugin](c)
	require.Len(t, all, 4)
	assert.Equal(t, "composite:P2", all[3].name)
}

// ── Registration policies ─────────────────────────────────────────────────────

func TestContainer_Keyed(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *plugin { return &plugin{name: "redis"} }, container.Keyed("redis"))

	p, err := container.Resolve[*plugin](c, container.WithKey("redis"))
	require.NoError(t, err)
	assert.Equal(t, "redis", p.name)

	_, err = container.Resolve[*plugin](c, container.WithKey("memcached"))
	assert.ErrorIs(t, err, container.ErrNotFound)

	_, err = container.Resolve[*plugin](c)
	assert.ErrorIs(t, err, container.ErrNotFound, "keyed providers are not defaults")
}

func TestContainer_DuplicateKeys(t *testing.T) {
	t.Parallel()

	mk := func(name string) func() *plugin { return func() *plugin { return &plugin{name: name} } }

	c := container.New()
	provide(t, c, mk("first"), container.Keyed("k"))
	provide(t, c, mk("second"), container.Keyed("k"))
	assert.Equal(t, "second", container.MustResolve[*plugin](c, container.WithKey("k")).name)

	strict := container.New(container.WithRejectDuplicateKeys(true))
	provide(t, strict, mk("first"), container.Keyed("k"))
	err := strict.Provide(mk("second"), container.Keyed("k"))
	assert.ErrorIs(t, err, container.ErrKeyConflict)
}

func TestContainer_IfExists(t *testing.T) {
	t.Parallel()

	mk := func(name string) func() *plugin { return func() *plugin { return &plugin{name: name} } }

	tests := []struct {
		policy  container.DuplicatePolicy
		wantErr bool
		want    []string
	}{
		{policy: container.AppendDuplicate, want: []string{"first", "second"}},
		{policy: container.ReplaceDuplicate, want: []string{"second"}},
		{policy: container.KeepDuplicate, want: []string{"first"}},
		{policy: container.RejectDuplicate, wantErr: true, want: []string{"first"}},
	}
	for _, tt := range tests {
		c := container.New()
		provide(t, c, mk("first"))
		err := c.Provide(mk("second"), container.IfExists(tt.policy))
		if tt.wantErr {
			assert.ErrorIs(t, err, container.ErrKeyConflict)
		} else {
			assert.NoError(t, err)
		}
		assert.Equal(t, tt.want, names(container.ResolveAll[*plugin](c)), "policy %d", tt.policy)
	}
}

func TestContainer_Conditions(t *testing.T) {
	t.Parallel()

	type consumerA struct{ p *plugin }
	type consumerB struct{ p *plugin }

	forConsumer := func(t reflect.Type) container.Condition {
		return func(r *container.Request) bool { return r.ConsumerType() == t }
	}

	c := container.New()
	provide(t, c, func() *plugin { return &plugin{name: "for-a"} }, container.If(forConsumer(reflect.TypeFor[*consumerA]())))
	provide(t, c, func() *plugin { return &plugin{name: "general"} })
	provide(t, c, func(p *plugin) *consumerA { return &consumerA{p: p} })
	provide(t, c, func(p *plugin) *consumerB { return &consumerB{p: p} })

	assert.Equal(t, "for-a", container.MustResolve[*consumerA](c).p.name)
	assert.Equal(t, "general", container.MustResolve[*consumerB](c).p.name)
}

func TestContainer_Unregister(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, NewLogger)
	assert.True(t, c.Bound(reflect.TypeFor[*Logger]()))

	assert.Equal(t, 1, c.Unregister(reflect.TypeFor[*Logger](), nil))
	assert.False(t, c.Bound(reflect.TypeFor[*Logger]()))
	assert.False(t, container.CanResolve[*Logger](c, nil))
}

func TestContainer_CanResolveDoesNotInstantiate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := container.New()
	provide(t, c, func() *counter { calls.Add(1); return &counter{} })

	assert.True(t, container.CanResolve[*counter](c, nil))
	assert.False(t, container.CanResolve[*missing](c, nil))
	assert.Zero(t, calls.Load())
}

// ── Constructor selection ─────────────────────────────────────────────────────

type multi struct{ used string }

func TestContainer_ConstructorPolicies(t *testing.T) {
	t.Parallel()

	build := func(t *testing.T, withRepo bool, policy container.ConstructorPolicy) *container.Container {
		c := container.New()
		provide(t, c, NewLogger)
		if withRepo {
			provide(t, c, NewRepo)
		}
		require.NoError(t, c.Register(container.MustProvider(
			func() *multi { return &multi{used: "none"} },
			container.Constructors(
				func(*Logger) *multi { return &multi{used: "logger"} },
				func(*Logger, *Repo) *multi { return &multi{used: "both"} },
			),
			container.Policy(policy),
		)))
		return c
	}

	tests := []struct {
		name     string
		policy   container.ConstructorPolicy
		withRepo bool
		want     string
	}{
		{"most", container.MostParameters, true, "both"},
		{"least", container.LeastParameters, true, "none"},
		{"best match all resolvable", container.BestMatch, true, "both"},
		{"best match skips unresolvable", container.BestMatch, false, "logger"},
		{"dynamic without context", container.Dynamic, false, "logger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := build(t, tt.withRepo, tt.policy)
			got, err := container.Resolve[*multi](c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.used)
		})
	}
}

func TestContainer_BestMatchFallsBackToClosestConstructor(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, NewLogger)
	require.NoError(t, c.Register(container.MustProvider(
		func(*Logger, *Repo) *multi { return &multi{used: "both"} },
		container.Constructors(func(*Repo, *Service, *missing) *multi { return &multi{used: "three"} }),
		container.Policy(container.BestMatch),
	)))

	_, err := container.Resolve[*multi](c)
	assert.ErrorIs(t, err, container.ErrNotFound)

	ctx := container.NewContext().Set(reflect.TypeFor[*Repo](), &Repo{})
	got, err := container.Resolve[*multi](c, container.WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, "both", got.used)
}

func TestContainer_DynamicPolicyProbesContext(t *testing.T) {
	t.Parallel()

	c := container.New(container.WithConstructorPolicy(container.Dynamic))
	provide(t, c, NewLogger)
	require.NoError(t, c.Register(container.MustProvider(
		func(*Logger) *multi { return &multi{used: "logger"} },
		container.Constructors(func(*Logger, *Repo) *multi { return &multi{used: "both"} }),
	)))

	assert.Equal(t, "logger", container.MustResolve[*multi](c).used)

	ctx := container.NewContext().Set(reflect.TypeFor[*Repo](), &Repo{})
	assert.Equal(t, "both", container.MustResolve[*multi](c, container.WithContext(ctx)).used)
}

func TestContainer_ParameterOverrides(t *testing.T) {
	t.Parallel()

	type conn struct {
		host string
		port int
	}

	c := container.New()
	provide(t, c, func(host string, port int) *conn { return &conn{host: host, port: port} },
		container.Parameter(0, container.Param{Value: "db.local"}),
		container.Parameter(1, container.Param{Optional: true, Default: "5432"}))

	got := container.MustResolve[*conn](c)
	assert.Equal(t, "db.local", got.host)
	assert.Equal(t, 5432, got.port)
}

func TestContainer_ParameterDefaultMustCoerce(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(port int) *server { return &server{port: port} },
		container.Parameter(0, container.Param{Default: "not a port"}))

	_, err := container.Resolve[*server](c)
	assert.ErrorIs(t, err, container.ErrCoercion)
}

func TestContainer_KeyedTypeSelectorUsesParameterNames(t *testing.T) {
	t.Parallel()

	type dsn string
	type db struct{ primary, replica dsn }

	c := container.New(container.WithKeyedTypeSelector(func(t reflect.Type) bool { return t == reflect.TypeFor[dsn]() }))
	provide(t, c, func() dsn { return "primary-dsn" }, container.Keyed("primary"))
	provide(t, c, func() dsn { return "replica-dsn" }, container.Keyed("replica"))
	provide(t, c, func(p, r dsn) *db { return &db{primary: p, replica: r} },
		container.ParameterNames("primary", "replica"))

	got := container.MustResolve[*db](c)
	assert.Equal(t, dsn("primary-dsn"), got.primary)
	assert.Equal(t, dsn("replica-dsn"), got.replica)
}

func TestContainer_InjectFieldsAfterConstructor(t *testing.T) {
	t.Parallel()

	type svc struct {
		name string
		Log  *Logger `inject:""`
	}

	c := container.New()
	provide(t, c, NewLogger)
	provide(t, c, func() *svc { return &svc{name: "ctor"} }, container.InjectFields())

	got := container.MustResolve[*svc](c)
	assert.Equal(t, "ctor", got.name)
	assert.NotNil(t, got.Log)
}

// ── Contextual bindings ───────────────────────────────────────────────────────

type Filesystem interface{ Name() string }

type localFS struct{ root string }

func (f *localFS) Name() string { return "local:" + f.root }

type s3FS struct{ bucket string }

func (f *s3FS) Name() string { return "s3:" + f.bucket }

type photoController struct{ fs Filesystem }
type videoController struct{ fs Filesystem }

func TestContainer_ContextualBinding(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func() *localFS { return &localFS{root: "/tmp"} }, container.AsType[Filesystem]())
	provide(t, c, func(fs Filesystem) *photoController { return &photoController{fs: fs} })
	provide(t, c, func(fs Filesystem) *videoController { return &videoController{fs: fs} })

	err := c.When(reflect.TypeFor[*photoController]()).
		Needs(reflect.TypeFor[Filesystem]()).
		GiveValue(&s3FS{bucket: "photos"})
	require.NoError(t, err)

	assert.Equal(t, "s3:photos", container.MustResolve[*photoController](c).fs.Name())
	assert.Equal(t, "local:/tmp", container.MustResolve[*videoController](c).fs.Name())
	assert.Equal(t, "local:/tmp", container.MustResolve[Filesystem](c).Name())
}

type chorus struct{ voices []Greeter }

func TestContainer_ContextualBindingLeavesCollectionElements(t *testing.T) {
	t.Parallel()

	c := container.New()
	for _, name := range []string{"a", "b"} {
		provide(t, c, func() Greeter { return &english{name: name} })
	}
	provide(t, c, func(voices []Greeter) *chorus { return &chorus{voices: voices} })
	require.NoError(t, c.When(reflect.TypeFor[*chorus]()).
		Needs(reflect.TypeFor[Greeter]()).
		GiveValue(&english{name: "ctx"}))

	got := container.MustResolve[*chorus](c)
	require.Len(t, got.voices, 2)
	assert.Equal(t, "hello a", got.voices[0].Greet())
	assert.Equal(t, "hello b", got.voices[1].Greet())
}

func TestContainer_ContextualBindingRejectsIncompleteBuilder(t *testing.T) {
	t.Parallel()

	c := container.New()
	err := c.When(reflect.TypeFor[*photoController]()).GiveValue(&s3FS{})
	assert.ErrorIs(t, err, container.ErrInvalidProvider)
}

// ── Ambient context ───────────────────────────────────────────────────────────

type server struct{ port int }

func TestContainer_ContextFallbackWithCoercion(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(port int) *server { return &server{port: port} },
		container.Parameter(0, container.Param{Key: "port"}))

	ctx := container.NewContext().Set("port", "8080")
	s, err := container.Resolve[*server](c, container.WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, 8080, s.port)

	_, err = container.Resolve[*server](c)
	assert.ErrorIs(t, err, container.ErrNotFound, "context-dependent plans are not cached")

	bad := container.NewContext().Set("port", "eighty")
	_, err = container.Resolve[*server](c, container.WithContext(bad))
	assert.ErrorIs(t, err, container.ErrCoercion)
}

func TestContainer_ContextFallbackByType(t *testing.T) {
	t.Parallel()

	c := container.New()
	provide(t, c, func(port int) *server { return &server{port: port} })

	ctx := container.NewContext().Set(reflect.TypeFor[int](), 9000)
	s, err := container.Resolve[*server](c, container.WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, 9000, s.port)
}

type listener struct {
	Port int `inject:"port,optional" default:"8080"`
}

func TestContainer_DefaultStillReadsContextAfterCaching(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	c := container.New(container.WithObserver(obs))
	p, err := container.StructProvider(reflect.TypeFor[*listener]())
	require.NoError(t, err)
	require.NoError(t, c.Register(p))

	l, err := container.Resolve[*listener](c)
	require.NoError(t, err)
	assert.Equal(t, 8080, l.Port)

	ctx := container.NewContext().Set("port", "9090")
	l, err = container.Resolve[*listener](c, container.WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, 9090, l.Port)
	assert.Equal(t, 1, obs.hits, "served by the activator compiled without the value")
}

// ── Discovery and delegation ──────────────────────────────────────────────────

type discovered struct{ by string }

func TestContainer_JustInTimeDiscovery(t *testing.T) {
	t.Parallel()

	var asked atomic.Int32
	c := container.New(container.WithDiscoverer(func(c *container.Container, t reflect.Type, _ any) (bool, func()) {
		if t != reflect.TypeFor[*discovered]() {
			return false, nil
		}
		asked.Add(1)
		return c.Provide(func() *discovered { return &discovered{by: "jit"} }) == nil, nil
	}))

	d, err := container.Resolve[*discovered](c)
	require.NoError(t, err)
	assert.Equal(t, "jit", d.by)

	_, err = container.Resolve[*discovered](c)
	require.NoError(t, err)
	assert.Equal(t, int32(1), asked.Load())

	_, err = container.Resolve[*missing](c)
	assert.ErrorIs(t, err, container.ErrNotFound)
}

type keyedLate struct{ key string }

func TestContainer_DiscoveryRunsForMissingKey(t *testing.T) {
	t.Parallel()

	var asked atomic.Int32
	c := container.New(container.WithDiscoverer(func(c *container.Container, t reflect.Type, key any) (bool, func()) {
		if t != reflect.TypeFor[*keyedLate]() || key != "b" {
			return false, nil
		}
		asked.Add(1)
		return c.Provide(func() *keyedLate { return &keyedLate{key: "b"} }, container.Keyed("b")) == nil, nil
	}))
	provide(t, c, func() *keyedLate { return &keyedLate{key: "a"} }, container.Keyed("a"))

	got, err := container.Resolve[*keyedLate](c, container.WithKey("b"))
	require.NoError(t, err)
	assert.Equal(t, "b", got.key)
	assert.Equal(t, int32(1), asked.Load())

	got, err = container.Resolve[*keyedLate](c, container.WithKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", got.key)
	assert.Equal(t, int32(1), asked.Load())
}

func TestContainer_ChildDelegatesToParent(t *testing.T) {
	t.Parallel()

	parent := container.New()
	provide(t, parent, NewLogger, container.Reuse(container.Singleton))

	child := parent.Child()
	provide(t, child, NewRepo)

	repo, err := container.Resolve[*Repo](child)
	require.NoError(t, err)
	assert.Same(t, container.MustResolve[*Logger](parent), repo.Log)
	assert.Same(t, parent, child.Parent())
	assert.True(t, child.Bound(reflect.TypeFor[*Logger]()))

	_, err = container.Resolve[*Repo](parent)
	assert.ErrorIs(t, err, container.ErrNotFound)
}
