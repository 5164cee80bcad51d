package http

import (
	"cmp"
	"fmt"
	"net/http"
	"reflect"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/km-arc/go-activator/framework/container"
)

type providerView struct {
	ID           uint64           `json:"id"`
	Activation   string           `json:"activation"`
	Services     []string         `json:"services"`
	Lifestyle    string           `json:"lifestyle"`
	Priority     int              `json:"priority"`
	Key          string           `json:"key,omitempty"`
	Decorator    bool             `json:"decorator,omitempty"`
	OpenGeneric  bool             `json:"open_generic,omitempty"`
	Dependencies []dependencyView `json:"dependencies,omitempty"`
}

type dependencyView struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Key      string `json:"key,omitempty"`
	Required bool   `json:"required"`
}

type compiledView struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	All  bool   `json:"all,omitempty"`
}

// Diagnostics serves read-only views of the container:
//
//	GET /providers   registered providers, in registration order
//	GET /compiled    keys of the compiled-activator cache
//
//	router.Mount("/_container", gohttp.Diagnostics(c))
func Diagnostics(c *container.Container) http.Handler {
	r := chi.NewRouter()
	r.Get("/providers", func(w http.ResponseWriter, _ *http.Request) {
		NewResponse(w).Success(providerViews(c.Registry().Providers()))
	})
	r.Get("/compiled", func(w http.ResponseWriter, _ *http.Request) {
		NewResponse(w).Success(compiledViews(c.CompiledKeys()))
	})
	return r
}

func providerViews(ps []*container.Provider) []providerView {
	out := make([]providerView, 0, len(ps))
	for _, p := range ps {
		v := providerView{
			ID:          p.ID(),
			Activation:  typeName(p.ActivationType()),
			Lifestyle:   p.Lifestyle().String(),
			Priority:    p.Priority(),
			Key:         keyString(p.Key()),
			Decorator:   p.IsDecorator(),
			OpenGeneric: p.IsOpenGeneric(),
		}
		for _, t := range p.ExportedTypes() {
			v.Services = append(v.Services, typeName(t))
		}
		for _, d := range p.Dependencies() {
			v.Dependencies = append(v.Dependencies, dependencyView{
				Type:     typeName(d.Type),
				Name:     d.Name,
				Key:      keyString(d.Key),
				Required: d.Required,
			})
		}
		out = append(out, v)
	}
	return out
}

func compiledViews(keys []container.CompiledKey) []compiledView {
	out := make([]compiledView, 0, len(keys))
	for _, k := range keys {
		out = append(out, compiledView{Type: typeName(k.Type), Key: keyString(k.Key), All: k.All})
	}
	slices.SortFunc(out, func(a, b compiledView) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func keyString(key any) string {
	if key == nil {
		return ""
	}
	return fmt.Sprint(key)
}
