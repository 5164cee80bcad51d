package http

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/km-arc/go-activator/framework/container"
)

// ScopeHeader carries the ID of the scope that served a request.
const ScopeHeader = "X-Scope-ID"

// ErrNoScope is returned by Resolve for a request that did not pass
// through ScopePerRequest.
var ErrNoScope = errors.New("http: request has no container scope")

type scopeCtxKey struct{}

// Logger logs one line per request.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// ScopePerRequest opens a container scope for every request and closes it
// once the handler returns, disposing everything the request created.
// Handlers reach the scope through FromRequest.
//
//	router.Middleware(gohttp.ScopePerRequest(c))
func ScopePerRequest(c *container.Container) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := middleware.GetReqID(r.Context())
			if name == "" {
				name = "http"
			}
			scope := c.OpenScope(name)
			defer func() {
				if err := scope.Close(); err != nil {
					c.Logger().Warn("request scope dispose failed",
						zap.String("scope", scope.ID().String()),
						zap.Error(err))
				}
			}()

			w.Header().Set(ScopeHeader, scope.ID().String())
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

// WithScope returns a copy of ctx carrying scope.
func WithScope(ctx context.Context, scope *container.Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// FromRequest returns the scope opened by ScopePerRequest, or nil.
func FromRequest(r *http.Request) *container.Scope {
	scope, _ := r.Context().Value(scopeCtxKey{}).(*container.Scope)
	return scope
}

// Ambient returns a container context holding the request and its
// context.Context. Extend it and pass it to Resolve with WithContext.
//
//	ambient := gohttp.Ambient(r).Set("tenant", r.Header.Get("X-Tenant"))
//	svc, err := gohttp.Resolve[*Billing](r, container.WithContext(ambient))
func Ambient(r *http.Request) *container.Context {
	return container.NewContext().
		Set(reflect.TypeFor[*http.Request](), r).
		Set(reflect.TypeFor[context.Context](), r.Context())
}

// Resolve resolves T from the request's scope. Unless a context is passed,
// Ambient(r) supplies the ambient values.
//
//	svc, err := gohttp.Resolve[*UserService](r)
func Resolve[T any](r *http.Request, opts ...container.ResolveOption) (T, error) {
	scope := FromRequest(r)
	if scope == nil {
		var zero T
		return zero, ErrNoScope
	}
	opts = append([]container.ResolveOption{container.WithContext(Ambient(r))}, opts...)
	return container.Resolve[T](scope, opts...)
}
