// Package http connects the container to net/http.
//
// # Request scopes
//
// ScopePerRequest opens a container scope for every request. Scoped
// providers live until the response is written, then the scope is closed
// and everything it tracked is disposed.
//
//	router := gohttp.NewRouter(log)
//	router.Middleware(gohttp.ScopePerRequest(c))
//	router.Get("/users", func(w http.ResponseWriter, r *http.Request) {
//	    svc, err := gohttp.Resolve[*UserService](r)
//	    if err != nil {
//	        gohttp.NewResponse(w).ResolveError(err)
//	        return
//	    }
//	    gohttp.NewResponse(w).Success(svc.List())
//	})
//
// # Responses
//
//	res := gohttp.NewResponse(w)
//	res.Success(v)            // 200 {"data": v}
//	res.Created(v)            // 201 {"data": v}
//	res.NoContent()           // 204
//	res.Error(400, "bad")     // 400 {"message": "bad"}
//	res.NotFound()            // 404
//	res.ResolveError(err)     // 500 {"message": ..., "chain": [...]}
//
// # Diagnostics
//
// Diagnostics lists registered providers and compiled activators as JSON.
package http
