// Package httpclient performs single outbound HTTP exchanges for the
// dispatcher: one request in, one fully buffered response out, with an
// optional response size cap, OpenTelemetry instrumentation and an opt-in
// per-host circuit breaker.
//
// Retries are not performed here; the dispatcher owns retry scheduling.
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("dispatchd"),
//	    httpclient.WithBreaker(httpclient.DefaultBreakerConfig()),
//	)
//	resp, err := client.Fetch(ctx, req, 1<<20)
package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/ar-nelson/tapir-sub001/httpclient"

	defaultUserAgent = "tapir-dispatch/1.0"
)

// Config holds transport settings. Start from DefaultConfig() and adjust.
type Config struct {
	// Timeout bounds a single exchange including reading the body.
	// Default: 30s
	Timeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	// Default: 10s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive period.
	// Default: 30s
	KeepAlive time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request is written. Zero relies on Timeout.
	ResponseHeaderTimeout time.Duration

	// IdleConnTimeout closes idle pooled connections.
	// Default: 90s
	IdleConnTimeout time.Duration

	// MaxIdleConns caps idle connections across all hosts.
	// Default: 200
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host. Federation traffic
	// fans out to many hosts, so this stays small.
	// Default: 4
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps concurrent connections per host. Zero is unlimited.
	// Default: 16
	MaxConnsPerHost int

	// UserAgent is set on requests that carry none.
	// Default: "tapir-dispatch/1.0"
	UserAgent string

	// MaxBytes is the response size cap used when Fetch is called with a
	// non-positive limit. Zero disables the default cap.
	// Default: 10 MiB
	MaxBytes int64
}

// DefaultConfig returns settings suited to federation delivery: many hosts,
// few requests each, slow peers.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     16,
		UserAgent:           defaultUserAgent,
		MaxBytes:            10 << 20,
	}
}

// ConservativeConfig trades throughput for resource use: shorter timeouts,
// fewer pooled connections and a 1 MiB default cap.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.DialTimeout = 5 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 2
	cfg.MaxConnsPerHost = 4
	cfg.MaxBytes = 1 << 20
	return cfg
}

// internalConfig holds the transport config plus instrumentation settings.
type internalConfig struct {
	httpConfig Config

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// ServiceName is added as "http.client.name" on spans and metrics.
	ServiceName string

	// BreakerConfig enables per-host circuit breaking when non-nil.
	BreakerConfig *BreakerConfig

	// Transport replaces the pooled base transport, mostly for tests.
	Transport http.RoundTripper

	Logger zerolog.Logger
	Debug  bool
}

func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		Logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Instruments are optional; a nil *metrics records nothing.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:   hc.DialTimeout,
		KeepAlive: hc.KeepAlive,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          hc.MaxIdleConns,
		MaxIdleConnsPerHost:   hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:       hc.MaxConnsPerHost,
		IdleConnTimeout:       hc.IdleConnTimeout,
		TLSHandshakeTimeout:   hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout: hc.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
}

func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	if cfg.ServiceName == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("http.client.name", cfg.ServiceName)}
}

// Option configures the client.
type Option func(*internalConfig)

// WithConfig sets the transport configuration.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName identifies this client in traces, metrics and breaker names.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		if tp != nil {
			cfg.TracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		if mp != nil {
			cfg.MeterProvider = mp
		}
	}
}

// WithPropagators sets the propagators used to inject trace context.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		if p != nil {
			cfg.Propagators = p
		}
	}
}

// WithBreaker enables a circuit breaker per destination host.
func WithBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithTransport replaces the base transport. Instrumentation and the
// breaker still wrap it.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithMockTransport is WithTransport for a MockTransport.
func WithMockTransport(mock *MockTransport) Option {
	return WithTransport(mock)
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs each exchange, including an equivalent curl command, at
// debug level.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}
