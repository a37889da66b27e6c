package httpserver

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middleware so the first one is outermost:
//
//	Chain(Tracing(cfg), Recovery(logger), Logger(lcfg))(api)
//
// runs Tracing, then Recovery, then Logger on the way in.
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
