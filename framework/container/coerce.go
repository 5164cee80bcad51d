package container

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// coerceValue converts v to t: directly when the types allow it, otherwise
// by a YAML round trip (so "8080" becomes an int and a map becomes a
// struct).
func coerceValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return conform(rv, t), nil
	}
	if convertible(rv.Type(), t) {
		return rv.Convert(t), nil
	}
	if s, ok := v.(string); ok {
		return coerce(s, t)
	}
	raw, err := yaml.Marshal(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %T to %v: %v", ErrCoercion, v, t, err)
	}
	return decodeYAML(raw, t)
}

// coerce parses s as a YAML scalar or document of type t.
func coerce(s string, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.String {
		return reflect.ValueOf(s).Convert(t), nil
	}
	return decodeYAML([]byte(s), t)
}

func decodeYAML(raw []byte, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t)
	if err := yaml.Unmarshal(raw, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %q to %v: %v", ErrCoercion, string(raw), t, err)
	}
	return out.Elem(), nil
}

// convertible excludes the conversions reflect allows but nobody means,
// like int to string.
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	if to.Kind() == reflect.String && from.Kind() != reflect.String {
		return false
	}
	return true
}

// contextKey is the ambient-context key consulted for req: its key when it
// has one, otherwise its type.
func contextKey(req *Request) any {
	if req.key != nil {
		return req.key
	}
	return req.typ
}

// contextNode reads the value from the ambient context at invocation time,
// falling back to the request's default, then to the zero value when the
// request is optional.
type contextNode struct {
	req *Request
}

func (n *contextNode) Type() reflect.Type { return n.req.typ }

func (n *contextNode) compile() evalFunc {
	req := n.req
	key, t := contextKey(req), req.typ
	return func(f *frame) (reflect.Value, error) {
		if v, ok := f.ctx.Get(key); ok {
			out, err := coerceValue(v, t)
			if err != nil {
				return reflect.Value{}, newError(ErrCoercion, req, "", err)
			}
			return out, nil
		}
		if req.def.IsValid() {
			return req.def, nil
		}
		if !req.required {
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, notFound(req)
	}
}
