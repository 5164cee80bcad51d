package container

import (
	"reflect"
	"strings"
)

// genericDefinition names the generic type t instantiates: package path
// and type name with the type arguments stripped, prefixed with one '*'
// per pointer level. Non-generic types report false.
//
//	Repo[main.User] -> "example.com/app.Repo"
//	*Repo[main.User] -> "*example.com/app.Repo"
func genericDefinition(t reflect.Type) (string, bool) {
	if t == nil {
		return "", false
	}
	prefix := ""
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		prefix += "*"
		t = t.Elem()
	}
	name := t.Name()
	i := strings.IndexByte(name, '[')
	if i < 0 {
		return "", false
	}
	return prefix + t.PkgPath() + "." + name[:i], true
}

// closeGeneric picks the first applicable open generic provider for req
// and closes it over the requested type.
func (p *planner) closeGeneric(req *Request) (*Provider, error) {
	set := p.c.registry.genericSet(req.typ)
	if set == nil {
		return nil, nil
	}
	open := p.selectFrom(req, set)
	if open == nil {
		return nil, nil
	}
	closed, err := open.close(req.typ)
	if err != nil {
		return nil, newError(ErrInvalidProvider, req, "cannot close open generic "+open.genericDef, err)
	}
	return closed, nil
}
