package httpserver

import (
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig configures the access log middleware.
type LoggerConfig struct {
	Logger zerolog.Logger

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are not logged. Probes and /metrics are usually listed here.
	SkipPaths []string
}

// Logger writes one line per API call. 4xx responses log at Warn and 5xx at
// Error; everything else at Info.
func Logger(cfg LoggerConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(cfg.SkipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			r = withRouteContext(r)
			start := time.Now()
			rec := wrapResponseWriter(w)
			next.ServeHTTP(rec, r)

			var event *zerolog.Event
			switch status := rec.Status(); {
			case status >= 500:
				event = cfg.Logger.Error()
			case status >= 400:
				event = cfg.Logger.Warn()
			default:
				event = cfg.Logger.Info()
			}

			event.
				Str("service", cfg.serviceName).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", rec.Status()).
				Dur("duration", time.Since(start)).
				Int("bytes", rec.BytesWritten()).
				Str("remote_addr", r.RemoteAddr)

			if id := requestIDOf(r, rec); id != "" {
				event.Str("request_id", id)
			}
			event.Msg("request completed")
		})
	}
}
