package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// withRouteContext makes sure r carries a chi routing context. A chi router
// reuses one it finds, so middleware outside the router can read the matched
// pattern after the call returns.
func withRouteContext(r *http.Request) *http.Request {
	if chi.RouteContext(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
}

// routePattern returns the matched route, or "unmatched" for requests that
// never reached one. Bounded label values keep metric cardinality low.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
