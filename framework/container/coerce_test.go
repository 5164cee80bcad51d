package container

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func TestCoerceValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		to   reflect.Type
		want any
	}{
		{"assignable", 5, reflect.TypeFor[int](), 5},
		{"interface target", 5, reflect.TypeFor[any](), 5},
		{"numeric conversion", 3, reflect.TypeFor[int64](), int64(3)},
		{"string to int", "8080", reflect.TypeFor[int](), 8080},
		{"string to bool", "true", reflect.TypeFor[bool](), true},
		{"string to string", "x", reflect.TypeFor[string](), "x"},
		{"int to string through yaml", 5, reflect.TypeFor[string](), "5"},
		{"string list", "[a, b]", reflect.TypeFor[[]string](), []string{"a", "b"}},
		{"map to struct", map[string]any{"host": "db", "port": 5432}, reflect.TypeFor[endpoint](), endpoint{Host: "db", Port: 5432}},
		{"nil is zero", nil, reflect.TypeFor[int](), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.in, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Interface())
		})
	}
}

func TestCoerceValue_Failure(t *testing.T) {
	t.Parallel()

	_, err := coerceValue("eighty", reflect.TypeFor[int]())
	assert.ErrorIs(t, err, ErrCoercion)
}

func TestConvertible(t *testing.T) {
	t.Parallel()

	assert.True(t, convertible(reflect.TypeFor[int](), reflect.TypeFor[float64]()))
	assert.False(t, convertible(reflect.TypeFor[int](), reflect.TypeFor[string]()))
	assert.False(t, convertible(reflect.TypeFor[string](), reflect.TypeFor[int]()))
}

type genericThing[T any] struct{ v T }

func TestGenericDefinition(t *testing.T) {
	t.Parallel()

	const pkg = "github.com/km-arc/go-activator/framework/container"
	tests := []struct {
		typ  reflect.Type
		want string
		ok   bool
	}{
		{reflect.TypeFor[genericThing[int]](), pkg + ".genericThing", true},
		{reflect.TypeFor[genericThing[string]](), pkg + ".genericThing", true},
		{reflect.TypeFor[*genericThing[int]](), "*" + pkg + ".genericThing", true},
		{reflect.TypeFor[Lazy[*Scope]](), pkg + ".Lazy", true},
		{reflect.TypeFor[*Scope](), "", false},
		{reflect.TypeFor[[]int](), "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := genericDefinition(tt.typ)
		assert.Equal(t, tt.ok, ok, "%v", tt.typ)
		assert.Equal(t, tt.want, got, "%v", tt.typ)
	}
}

func TestShapeOf(t *testing.T) {
	t.Parallel()

	scopeT := reflect.TypeFor[*Scope]()
	tests := []struct {
		typ  reflect.Type
		kind wrapperKind
	}{
		{reflect.TypeFor[func() *Scope](), wrapFunc},
		{reflect.TypeFor[func(int) (*Scope, error)](), wrapFunc},
		{reflect.TypeFor[Lazy[*Scope]](), wrapLazy},
		{reflect.TypeFor[Owned[*Scope]](), wrapOwned},
		{reflect.TypeFor[InScope[*Scope]](), wrapInScope},
		{reflect.TypeFor[Meta[*Scope]](), wrapMeta},
		{reflect.TypeFor[Tagged[*Scope, string]](), wrapTagged},
		{reflect.TypeFor[KeyValue[*Scope]](), wrapKeyValue},
		{reflect.TypeFor[func() error](), wrapNone},
		{reflect.TypeFor[func(...int) *Scope](), wrapNone},
		{reflect.TypeFor[*Scope](), wrapNone},
	}
	for _, tt := range tests {
		sh := shapeOf(tt.typ)
		assert.Equal(t, tt.kind, sh.kind, "%v", tt.typ)
		if sh.kind != wrapNone {
			assert.Equal(t, scopeT, sh.inner, "%v", tt.typ)
		}
	}

	assert.Equal(t, scopeT, serviceType(reflect.TypeFor[func() Lazy[Owned[*Scope]]]()))
}

func TestIsSeq(t *testing.T) {
	t.Parallel()

	assert.True(t, isSeq(reflect.TypeFor[func(func(int) bool)]()))
	assert.False(t, isSeq(reflect.TypeFor[func(func(int))]()))
	assert.False(t, isSeq(reflect.TypeFor[func() int]()))
}
