package container

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// ConstructorPolicy chooses among a provider's constructors.
type ConstructorPolicy uint8

const (
	// MostParameters picks the constructor with the most parameters.
	MostParameters ConstructorPolicy = iota
	// LeastParameters picks the constructor with the fewest parameters.
	LeastParameters
	// BestMatch picks the constructor with the most resolvable parameters,
	// preferring more parameters on ties.
	BestMatch
	// Dynamic defers the choice to invocation time, testing parameters that
	// have no provider against the ambient context.
	Dynamic
)

// String returns the policy name used in configuration.
func (p ConstructorPolicy) String() string {
	switch p {
	case MostParameters:
		return "most"
	case LeastParameters:
		return "least"
	case BestMatch:
		return "best"
	case Dynamic:
		return "dynamic"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParseConstructorPolicy maps a policy name back to its value.
func ParseConstructorPolicy(s string) (ConstructorPolicy, error) {
	for p := MostParameters; p <= Dynamic; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return MostParameters, fmt.Errorf("container: unknown constructor policy %q", s)
}

// DefaultMaxDepth bounds the dependency ancestry.
const DefaultMaxDepth = 64

type options struct {
	log                 *zap.Logger
	observer            Observer
	maxDepth            int
	policy              ConstructorPolicy
	allowNil            bool
	rejectDuplicateKeys bool
	lazySequences       bool
	keyedTypes          func(reflect.Type) bool
	discoverers         []Discoverer
}

// Option configures a Container.
type Option func(*options)

// WithLogger sets the container's logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithObserver receives resolve, compile, discovery and dispose events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithMaxDepth bounds the dependency ancestry; deeper graphs fail with
// ErrCircularDependency.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithConstructorPolicy sets the policy for providers without their own.
func WithConstructorPolicy(p ConstructorPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithAllowNil lets every provider produce nil.
func WithAllowNil(allow bool) Option {
	return func(o *options) { o.allowNil = allow }
}

// WithRejectDuplicateKeys makes keyed re-registration fail with
// ErrKeyConflict instead of replacing the previous provider.
func WithRejectDuplicateKeys(reject bool) Option {
	return func(o *options) { o.rejectDuplicateKeys = reject }
}

// WithLazySequences makes iter.Seq dependencies build each element only
// when the sequence reaches it.
func WithLazySequences(lazy bool) Option {
	return func(o *options) { o.lazySequences = lazy }
}

// WithKeyedTypeSelector makes parameters and fields of matching types use
// their declared name as the resolution key.
func WithKeyedTypeSelector(fn func(reflect.Type) bool) Option {
	return func(o *options) { o.keyedTypes = fn }
}

// WithDiscoverer adds a just-in-time discovery hook.
func WithDiscoverer(d Discoverer) Option {
	return func(o *options) { o.discoverers = append(o.discoverers, d) }
}

func newOptions(opts []Option) options {
	o := options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.maxDepth <= 0 {
		o.maxDepth = DefaultMaxDepth
	}
	return o
}
