package container

import (
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/km-arc/go-activator/framework/immutable"
)

var providerSeq atomic.Uint64

func nextID() uint64 { return providerSeq.Add(1) }

// Condition decides whether a provider applies to a request.
type Condition func(req *Request) bool

// Dependency describes one input a provider needs.
type Dependency struct {
	Type     reflect.Type
	Name     string
	Key      any
	Required bool
}

// Param overrides how one constructor parameter is resolved.
// Nil Key, Default and Value mean "not set".
type Param struct {
	Key      any
	Optional bool
	Default  any
	Value    any
}

// DuplicatePolicy decides what Register does when the service type
// already has providers.
type DuplicatePolicy uint8

const (
	// AppendDuplicate keeps existing providers and adds the new one.
	AppendDuplicate DuplicatePolicy = iota
	// ReplaceDuplicate drops existing providers with the same key.
	ReplaceDuplicate
	// KeepDuplicate ignores the new provider.
	KeepDuplicate
	// RejectDuplicate fails with ErrKeyConflict.
	RejectDuplicate
)

type activationKind uint8

const (
	kindConstructor activationKind = iota
	kindStruct
	kindFactory
	kindInstance
	kindGeneric
)

// Provider is a registered rule for producing instances: the strategy the
// planner turns into a plan. Providers are immutable once registered.
type Provider struct {
	id         uint64
	seq        uint64
	kind       activationKind
	activation reflect.Type
	services   []reflect.Type

	key        any
	lifestyle  Lifestyle
	priority   int
	conditions []Condition
	metadata   any
	duplicates DuplicatePolicy

	ctors       []constructor
	policy      *ConstructorPolicy
	params      map[int]Param
	paramNames  []string
	injectField bool

	factory  func(r Resolver) (any, error)
	instance reflect.Value

	genericDef string
	closer     func(t reflect.Type) (*Provider, error)
	closed     immutable.Ref[reflect.Type, *Provider]
	openOpts   []ProviderOption

	externallyOwned bool
	allowNil        bool
	decorator       bool
	afterLifestyle  bool
	onDispose       []func(any) error

	plans immutable.Ref[reflect.Type, node]
}

// ProviderOption configures a Provider at construction.
type ProviderOption func(*Provider)

// As exports the provider under additional service types. The activation
// type must be assignable to each of them.
func As(types ...reflect.Type) ProviderOption {
	return func(p *Provider) { p.services = append(p.services, types...) }
}

// AsType exports the provider under T.
func AsType[T any]() ProviderOption {
	return As(reflect.TypeFor[T]())
}

// Keyed registers the provider under key.
func Keyed(key any) ProviderOption {
	return func(p *Provider) { p.key = key }
}

// Reuse sets the lifestyle.
func Reuse(l Lifestyle) ProviderOption {
	return func(p *Provider) { p.lifestyle = l }
}

// Priority orders the provider in collections; lower comes first.
func Priority(n int) ProviderOption {
	return func(p *Provider) { p.priority = n }
}

// If adds applicability conditions; all must pass.
func If(conds ...Condition) ProviderOption {
	return func(p *Provider) { p.conditions = append(p.conditions, conds...) }
}

// Metadata attaches a value exposed through Meta and Tagged wrappers.
func Metadata(m any) ProviderOption {
	return func(p *Provider) { p.metadata = m }
}

// ExternallyOwned keeps produced instances out of every disposal scope.
func ExternallyOwned() ProviderOption {
	return func(p *Provider) { p.externallyOwned = true }
}

// NilAllowed lets the provider produce nil.
func NilAllowed() ProviderOption {
	return func(p *Provider) { p.allowNil = true }
}

// AsDecorator turns the provider into a decorator of its service types.
// One constructor parameter of the decorated type receives the decoratee.
func AsDecorator() ProviderOption {
	return func(p *Provider) { p.decorator = true }
}

// AfterLifestyle makes a decorator wrap the cached instance on every
// resolve instead of being cached together with it.
func AfterLifestyle() ProviderOption {
	return func(p *Provider) {
		p.decorator = true
		p.afterLifestyle = true
	}
}

// OnDispose adds a cleanup hook run when the instance's scope ends.
func OnDispose(fn func(instance any) error) ProviderOption {
	return func(p *Provider) { p.onDispose = append(p.onDispose, fn) }
}

// Constructors adds alternative constructor funcs, chosen by the policy.
func Constructors(fns ...any) ProviderOption {
	return func(p *Provider) {
		for _, fn := range fns {
			c, err := newConstructor(fn)
			if err != nil {
				panic(err)
			}
			p.ctors = append(p.ctors, c)
		}
	}
}

// Policy overrides the container's constructor selection policy.
func Policy(cp ConstructorPolicy) ProviderOption {
	return func(p *Provider) { p.policy = &cp }
}

// Parameter overrides resolution of the constructor parameter at index.
func Parameter(index int, spec Param) ProviderOption {
	return func(p *Provider) {
		if p.params == nil {
			p.params = make(map[int]Param)
		}
		p.params[index] = spec
	}
}

// ParameterNames names constructor parameters in order, for diagnostics
// and keyed-type selection.
func ParameterNames(names ...string) ProviderOption {
	return func(p *Provider) { p.paramNames = names }
}

// InjectFields runs member injection on the constructed struct pointer.
func InjectFields() ProviderOption {
	return func(p *Provider) { p.injectField = true }
}

// IfExists sets the duplicate policy applied on registration.
func IfExists(policy DuplicatePolicy) ProviderOption {
	return func(p *Provider) { p.duplicates = policy }
}

// ── Constructors ──────────────────────────────────────────────────────────────

// NewProvider creates a provider from a constructor func returning T or
// (T, error). The provider is exported as T unless As says otherwise.
func NewProvider(ctor any, opts ...ProviderOption) (*Provider, error) {
	c, err := newConstructor(ctor)
	if err != nil {
		return nil, err
	}
	p := &Provider{id: nextID(), kind: kindConstructor, activation: c.out, ctors: []constructor{c}}
	return p.finish(opts)
}

// MustProvider is NewProvider that panics on error.
func MustProvider(ctor any, opts ...ProviderOption) *Provider {
	p, err := NewProvider(ctor, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// StructProvider creates a provider that allocates t (a struct or pointer
// to struct) and fills its `inject`-tagged fields.
func StructProvider(t reflect.Type, opts ...ProviderOption) (*Provider, error) {
	if t == nil || (t.Kind() != reflect.Struct && !(t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct)) {
		return nil, invalidProvider("struct provider needs a struct or struct pointer type, got %v", t)
	}
	p := &Provider{id: nextID(), kind: kindStruct, activation: t}
	return p.finish(opts)
}

// FactoryProvider creates a provider that calls fn with a Resolver bound
// to the resolving scope.
func FactoryProvider(service reflect.Type, fn func(r Resolver) (any, error), opts ...ProviderOption) (*Provider, error) {
	if service == nil || fn == nil {
		return nil, invalidProvider("factory provider needs a service type and a func")
	}
	p := &Provider{id: nextID(), kind: kindFactory, activation: service, factory: fn}
	return p.finish(opts)
}

// InstanceProvider registers an existing value. Instances are externally
// owned unless OnDispose hooks are given.
func InstanceProvider(v any, opts ...ProviderOption) (*Provider, error) {
	if v == nil {
		return nil, invalidProvider("instance provider needs a non-nil value")
	}
	rv := reflect.ValueOf(v)
	p := &Provider{id: nextID(), kind: kindInstance, activation: rv.Type(), instance: rv, externallyOwned: true}
	p, err := p.finish(opts)
	if err != nil {
		return nil, err
	}
	if len(p.onDispose) > 0 {
		// tracked once, by the root scope
		p.externallyOwned = false
		p.lifestyle = Singleton
	}
	return p, nil
}

// OpenGenericProvider registers a provider for every instantiation of the
// generic type sample belongs to. closer returns a constructor func for a
// concrete instantiation, or an error if it cannot serve it.
//
//	container.OpenGenericProvider(reflect.TypeFor[*Repo[any]](),
//	    func(t reflect.Type) (any, error) { ... })
func OpenGenericProvider(sample reflect.Type, closer func(t reflect.Type) (ctor any, err error), opts ...ProviderOption) (*Provider, error) {
	def, ok := genericDefinition(sample)
	if !ok {
		return nil, invalidProvider("%v is not an instantiated generic type", sample)
	}
	p := &Provider{id: nextID(), kind: kindGeneric, activation: sample, genericDef: def, openOpts: opts}
	p.closer = func(t reflect.Type) (*Provider, error) {
		ctor, err := closer(t)
		if err != nil {
			return nil, err
		}
		return NewProvider(ctor, p.closedOptions(t)...)
	}
	return p.finish(opts)
}

// OpenGenericStruct registers struct activation for every instantiation of
// the generic struct type sample belongs to.
func OpenGenericStruct(sample reflect.Type, opts ...ProviderOption) (*Provider, error) {
	def, ok := genericDefinition(sample)
	if !ok {
		return nil, invalidProvider("%v is not an instantiated generic type", sample)
	}
	p := &Provider{id: nextID(), kind: kindGeneric, activation: sample, genericDef: def, openOpts: opts}
	p.closer = func(t reflect.Type) (*Provider, error) {
		return StructProvider(t, p.closedOptions(t)...)
	}
	return p.finish(opts)
}

func (p *Provider) finish(opts []ProviderOption) (*Provider, error) {
	for _, opt := range opts {
		opt(p)
	}
	if len(p.services) == 0 {
		p.services = []reflect.Type{p.activation}
	}
	if p.key != nil && !reflect.TypeOf(p.key).Comparable() {
		return nil, invalidProvider("key %v of type %T is not comparable", p.key, p.key)
	}
	if p.kind == kindGeneric {
		return p, nil
	}
	for _, s := range p.services {
		if !p.activation.AssignableTo(s) {
			return nil, invalidProvider("%v is not assignable to service type %v", p.activation, s)
		}
	}
	if p.decorator && p.kind == kindInstance {
		return nil, invalidProvider("an instance cannot decorate")
	}
	return p, nil
}

// closedOptions replays the open provider's options for one instantiation,
// exporting it under t.
func (p *Provider) closedOptions(t reflect.Type) []ProviderOption {
	opts := append(make([]ProviderOption, 0, len(p.openOpts)+1), p.openOpts...)
	opts = append(opts, func(c *Provider) {
		c.services = []reflect.Type{t}
		c.seq = p.seq
	})
	return opts
}

// close returns the concrete provider for the instantiation t, building it
// at most once per t.
func (p *Provider) close(t reflect.Type) (*Provider, error) {
	if p.kind != kindGeneric {
		return p, nil
	}
	if c, ok := p.closed.Get(t); ok {
		return c, nil
	}
	c, err := p.closer(t)
	if err != nil {
		return nil, err
	}
	if !c.activation.AssignableTo(t) {
		return nil, invalidProvider("open generic %s closed over %v produced %v", p.genericDef, t, c.activation)
	}
	c.services = []reflect.Type{t}
	c.seq = p.seq
	actual, _ := p.closed.AddOrKeep(t, c)
	return actual, nil
}

// ── Capability surface ────────────────────────────────────────────────────────

// ID returns a process-unique provider identifier.
func (p *Provider) ID() uint64 { return p.id }

// ActivationType is the concrete type the provider produces.
func (p *Provider) ActivationType() reflect.Type { return p.activation }

// ExportedTypes are the service types the provider is registered under.
func (p *Provider) ExportedTypes() []reflect.Type { return p.services }

// Lifestyle returns the provider's caching policy.
func (p *Provider) Lifestyle() Lifestyle { return p.lifestyle }

// Priority returns the collection ordering value.
func (p *Provider) Priority() int { return p.priority }

// Key returns the registration key, nil for default providers.
func (p *Provider) Key() any { return p.key }

// Metadata returns the attached metadata.
func (p *Provider) Metadata() any { return p.metadata }

// Conditions returns the applicability conditions.
func (p *Provider) Conditions() []Condition { return p.conditions }

// IsDecorator reports whether the provider decorates its service types.
func (p *Provider) IsDecorator() bool { return p.decorator }

// IsOpenGeneric reports whether the provider serves a generic definition.
func (p *Provider) IsOpenGeneric() bool { return p.kind == kindGeneric }

// Dependencies lists the inputs of the provider's first constructor, or
// its injected fields.
func (p *Provider) Dependencies() []Dependency {
	switch p.kind {
	case kindConstructor:
		c := p.ctors[0]
		deps := make([]Dependency, len(c.in))
		for i, t := range c.in {
			spec := p.params[i]
			deps[i] = Dependency{Type: t, Name: p.paramName(i), Key: spec.Key, Required: !spec.Optional}
		}
		return deps
	case kindStruct:
		fields := injectableFields(p.activation)
		deps := make([]Dependency, len(fields))
		for i, f := range fields {
			deps[i] = Dependency{Type: f.typ, Name: f.name, Key: f.key, Required: !f.optional}
		}
		return deps
	}
	return nil
}

func (p *Provider) paramName(i int) string {
	if i < len(p.paramNames) {
		return p.paramNames[i]
	}
	return ""
}

func (p *Provider) applies(req *Request) bool {
	for _, cond := range p.conditions {
		if !cond(req) {
			return false
		}
	}
	return true
}

// String renders the provider for diagnostics.
func (p *Provider) String() string {
	var b strings.Builder
	b.WriteString(p.activation.String())
	if p.key != nil {
		fmt.Fprintf(&b, "{key=%v}", p.key)
	}
	if p.decorator {
		b.WriteString("{decorator}")
	}
	if p.lifestyle != Transient {
		b.WriteString("{" + p.lifestyle.String() + "}")
	}
	return b.String()
}
