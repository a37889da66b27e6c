package httpserver

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the id of an API call.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID forwards the caller's X-Request-ID or generates a UUID, echoes it
// on the response and stores it in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

// RequestIDFromContext returns the id stored by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDOf finds the id for middleware running outside RequestID, which
// only sees it on the response headers.
func requestIDOf(r *http.Request, w http.ResponseWriter) string {
	if id := RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return w.Header().Get(RequestIDHeader)
}
