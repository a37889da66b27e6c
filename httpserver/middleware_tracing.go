package httpserver

import (
	"net/http"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/ar-nelson/tapir-sub001/httpserver"

// TracingConfig configures the tracing middleware.
type TracingConfig struct {
	// TracerProvider defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// Propagator defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are not traced.
	SkipPaths []string
}

// Tracing starts a server span per API call. The caller's trace context is
// extracted first, so a dispatch submitted by a traced caller stays in the
// caller's trace through every delivery attempt. The span is renamed to the
// matched route once routing is done.
func Tracing(cfg TracingConfig) Middleware {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	tracer := cfg.TracerProvider.Tracer(scope)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(cfg.SkipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := cfg.Propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("service.name", cfg.serviceName),
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("user_agent.original", r.UserAgent()),
					attribute.String("client.address", r.RemoteAddr),
				),
			)
			defer span.End()

			r = withRouteContext(r.WithContext(ctx))
			rec := wrapResponseWriter(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			status := rec.Status()
			span.SetName("HTTP " + r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
			)
			if id := requestIDOf(r, rec); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}
