package httpserver

import (
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsConfig configures the request metrics middleware.
type MetricsConfig struct {
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are not recorded.
	SkipPaths []string
}

// Metrics records API call metrics labelled by route, not raw path.
type Metrics struct {
	serviceName     string
	skipPaths       []string
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	requests        metric.Int64Counter
}

// NewMetrics creates the instruments.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter(scope)

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of API calls, including dispatch-and-wait time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600, 3600),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("API calls in progress"),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("API calls by route and status"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		serviceName:     cfg.serviceName,
		skipPaths:       cfg.SkipPaths,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
		requests:        requests,
	}, nil
}

// Middleware records http.server.request.duration, http.server.active_requests
// and http.server.requests.
func (m *Metrics) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(m.skipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			active := metric.WithAttributes(
				attribute.String("service.name", m.serviceName),
				attribute.String("http.request.method", r.Method),
			)
			m.activeRequests.Add(ctx, 1, active)
			defer m.activeRequests.Add(ctx, -1, active)

			start := time.Now()
			r = withRouteContext(r)
			rec := wrapResponseWriter(w)
			next.ServeHTTP(rec, r)

			attrs := metric.WithAttributes(
				attribute.String("service.name", m.serviceName),
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", routePattern(r)),
				attribute.Int("http.response.status_code", rec.Status()),
			)
			m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.requests.Add(ctx, 1, attrs)
		})
	}
}
