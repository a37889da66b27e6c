package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport wraps a RoundTripper with a client span and request metrics.
type otelTransport struct {
	base http.RoundTripper
	cfg  *internalConfig
}

func newOtelTransport(base http.RoundTripper, cfg *internalConfig) *otelTransport {
	return &otelTransport{base: base, cfg: cfg}
}

// RoundTrip implements http.RoundTripper.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := t.cfg.Tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)
	defer span.End()

	req = req.WithContext(ctx)
	t.cfg.Propagators.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	metricAttrs := append(baseAttrs, attribute.String("http.request.method", req.Method))
	metricAttrs = append(metricAttrs, serverAttributes(req.URL)...)

	if err != nil {
		errorType := ClassifyError(err)
		setSpanError(span, err, errorType)
		t.cfg.Metrics.recordError(ctx, errorType, metricAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration,
			append(metricAttrs, attribute.String("error.type", errorType)))
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	metricAttrs = append(metricAttrs, attribute.Int("http.response.status_code", resp.StatusCode))

	if maxBytes, ok := maxBytesFrom(req.Context()); ok {
		if err := bufferBody(resp, maxBytes); err != nil {
			errorType := ClassifyError(err)
			setSpanError(span, err, errorType)
			t.cfg.Metrics.recordError(ctx, errorType, metricAttrs)
			t.cfg.Metrics.recordRequestDuration(ctx, time.Since(start),
				append(metricAttrs, attribute.String("error.type", errorType)))
			return nil, err
		}
		duration = time.Since(start)
	}
	if errorType := errorTypeFromStatusCode(resp.StatusCode); errorType != "" {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorType))
		metricAttrs = append(metricAttrs, attribute.String("error.type", errorType))
	}

	t.cfg.Metrics.recordRequestDuration(ctx, duration, metricAttrs)
	return resp, nil
}

func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := append(t.cfg.baseAttributes(), attribute.String("http.request.method", req.Method))
	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", req.URL.String()),
			attribute.String("url.scheme", req.URL.Scheme),
		)
		attrs = append(attrs, serverAttributes(req.URL)...)
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}

// serverAttributes returns server.address and server.port, filling in the
// scheme's default port.
func serverAttributes(u *url.URL) []attribute.KeyValue {
	if u == nil || u.Hostname() == "" {
		return nil
	}

	attrs := []attribute.KeyValue{attribute.String("server.address", u.Hostname())}
	if p, err := strconv.Atoi(u.Port()); err == nil {
		return append(attrs, attribute.Int("server.port", p))
	}
	switch u.Scheme {
	case "http":
		attrs = append(attrs, attribute.Int("server.port", 80))
	case "https":
		attrs = append(attrs, attribute.Int("server.port", 443))
	}
	return attrs
}
