package container

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNotFound is returned when nothing can produce the requested type.
	ErrNotFound = errors.New("container: no provider found")

	// ErrCircularDependency is returned when a provider depends on itself,
	// directly or transitively, or the ancestry exceeds the max depth.
	ErrCircularDependency = errors.New("container: circular dependency")

	// ErrNullProduced is returned when a provider yields nil and neither the
	// provider nor the container tolerates nil.
	ErrNullProduced = errors.New("container: provider produced nil")

	// ErrKeyConflict is returned when a keyed registration collides and the
	// registry rejects duplicates.
	ErrKeyConflict = errors.New("container: duplicate provider key")

	// ErrCoercion is returned when an ambient-context value cannot be
	// converted to the requested type.
	ErrCoercion = errors.New("container: cannot coerce context value")

	// ErrInvalidProvider is returned for malformed registrations.
	ErrInvalidProvider = errors.New("container: invalid provider")

	// ErrActivation wraps errors returned by constructors and factories.
	ErrActivation = errors.New("container: activation failed")

	// ErrDisposed is returned when resolving from a closed scope.
	ErrDisposed = errors.New("container: scope disposed")
)

// ResolutionError carries the failure kind together with the ancestry chain
// of the request that failed. errors.Is matches both Kind and Cause.
type ResolutionError struct {
	Kind  error
	Type  reflect.Type
	Key   any
	Chain []string
	Cause error
	Msg   string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Type != nil {
		b.WriteString(" for ")
		b.WriteString(e.Type.String())
		if e.Key != nil {
			fmt.Fprintf(&b, " (key=%v)", e.Key)
		}
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Chain) > 1 {
		b.WriteString("; chain: ")
		b.WriteString(strings.Join(e.Chain, " <- "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ResolutionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, req *Request, msg string, cause error) *ResolutionError {
	e := &ResolutionError{Kind: kind, Msg: msg, Cause: cause}
	if req != nil {
		e.Type = req.typ
		e.Key = req.key
		e.Chain = req.Chain()
	}
	return e
}

func notFound(req *Request) error {
	return newError(ErrNotFound, req, "", nil)
}

func invalidProvider(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProvider, fmt.Sprintf(format, args...))
}

// isNotFound reports whether err is a plain "nothing registered" failure,
// as opposed to a provider that was found but failed to plan.
func isNotFound(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == ErrNotFound
}
