package container

import "reflect"

// ContextualBuilder implements the fluent contextual binding API: when the
// consumer type needs a dependency, give it a specific provider.
//
//	c.When(reflect.TypeFor[*PhotoController]()).
//	    Needs(reflect.TypeFor[Filesystem]()).
//	    GiveValue(s3fs)
type ContextualBuilder struct {
	container *Container
	consumer  reflect.Type
	needs     reflect.Type
}

// When starts a contextual binding for the given consumer (activation)
// type.
func (c *Container) When(consumer reflect.Type) *ContextualBuilder {
	return &ContextualBuilder{container: c, consumer: consumer}
}

// Needs names the dependency type being overridden.
func (b *ContextualBuilder) Needs(t reflect.Type) *ContextualBuilder {
	b.needs = t
	return b
}

// Give makes the consumer's dependency resolve through p.
func (b *ContextualBuilder) Give(p *Provider) error {
	if b.consumer == nil || b.needs == nil {
		return invalidProvider("contextual binding needs both When and Needs")
	}
	if !p.activation.AssignableTo(b.needs) {
		return invalidProvider("%v cannot be given as %v", p.activation, b.needs)
	}
	b.container.contextual.Set(contextualKey{consumer: b.consumer, need: b.needs}, p)
	return nil
}

// GiveValue is a shorthand for Give with a pre-built instance.
func (b *ContextualBuilder) GiveValue(value any) error {
	if b.needs == nil {
		return invalidProvider("contextual binding needs both When and Needs")
	}
	p, err := InstanceProvider(value, As(b.needs))
	if err != nil {
		return err
	}
	return b.Give(p)
}

// GiveFactory is a shorthand for Give with a factory func.
func (b *ContextualBuilder) GiveFactory(fn func(r Resolver) (any, error), opts ...ProviderOption) error {
	if b.needs == nil {
		return invalidProvider("contextual binding needs both When and Needs")
	}
	p, err := FactoryProvider(b.needs, fn, opts...)
	if err != nil {
		return err
	}
	return b.Give(p)
}
