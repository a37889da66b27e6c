package dispatcher

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ar-nelson/tapir-sub001/clock"
	"github.com/ar-nelson/tapir-sub001/tasks"
	"github.com/ar-nelson/tapir-sub001/trust"
)

const scope = "github.com/ar-nelson/tapir-sub001/dispatcher"

// Config holds scheduling settings. Start from DefaultConfig() and adjust.
type Config struct {
	// InitialBackoff is how long an origin is held after its first failure.
	// Default: 5s
	InitialBackoff time.Duration

	// BackoffMultiplier scales the hold after each further failure in a row.
	// Default: 10 (5s → 50s → 500s → 5000s)
	BackoffMultiplier float64

	// MaxBackoff caps a single hold.
	// Default: 2h
	MaxBackoff time.Duration

	// JitterFactor randomises holds by ±factor. Zero keeps them exact.
	// Default: 0
	JitterFactor float64

	// MaxRetries is how many times a failing request is retried before the
	// dispatcher gives up. The first attempt is not a retry.
	// Default: 4
	MaxRetries int

	// SpacedGap is the minimum time between the starts of two Spaced
	// requests to the same origin.
	// Default: 1s
	SpacedGap time.Duration

	// MaxRetryAfter caps how long a 429's Retry-After may hold an origin.
	// Default: 2h
	MaxRetryAfter time.Duration

	// MaxConcurrentPerHost caps requests in flight to one origin. When the
	// cap is reached, queued requests start in priority order as slots free
	// up. Zero is unlimited.
	// Default: 0
	MaxConcurrentPerHost int
}

// DefaultConfig returns the federation delivery schedule.
func DefaultConfig() Config {
	return Config{
		InitialBackoff:    5 * time.Second,
		BackoffMultiplier: 10,
		MaxBackoff:        2 * time.Hour,
		MaxRetries:        4,
		SpacedGap:         time.Second,
		MaxRetryAfter:     2 * time.Hour,
	}
}

// RequestOptions are per-request settings.
type RequestOptions struct {
	// Priority orders the request against others to the same origin.
	Priority Priority

	// MaxBytes caps the response body. Zero uses the client's default.
	MaxBytes int64

	// OverrideTrust sends the request even if the destination is blocked.
	OverrideTrust bool

	// ErrorKind, when set, turns a final non-2xx response or a failure into
	// an *Error of this kind. Blocked requests keep KindBlocked.
	ErrorKind ErrorKind

	// ErrorMessage is copied into errors produced for ErrorKind.
	ErrorMessage string
}

// Watcher observes futures nobody waits on.
type Watcher interface {
	Watch(f tasks.Future, description string)
}

type internalConfig struct {
	cfg            Config
	clock          clock.Clock
	store          trust.Store
	watcher        Watcher
	classifier     Classifier
	logger         zerolog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func newConfig(opts ...Option) *internalConfig {
	c := &internalConfig{
		cfg:            DefaultConfig(),
		clock:          clock.New(),
		classifier:     DefaultClassifier,
		logger:         zerolog.Nop(),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Dispatcher.
type Option func(*internalConfig)

// WithConfig sets the scheduling configuration.
func WithConfig(cfg Config) Option {
	return func(c *internalConfig) {
		c.cfg = cfg
	}
}

// WithClock sets the time source. Tests pass a *clock.Fake.
func WithClock(clk clock.Clock) Option {
	return func(c *internalConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithTrustStore enables the trust gate. Without a store every destination
// is admitted.
func WithTrustStore(store trust.Store) Option {
	return func(c *internalConfig) {
		c.store = store
	}
}

// WithWatcher sets who observes fire-and-forget dispatches.
func WithWatcher(w Watcher) Option {
	return func(c *internalConfig) {
		c.watcher = w
	}
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(fn Classifier) Option {
	return func(c *internalConfig) {
		if fn != nil {
			c.classifier = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *internalConfig) {
		c.logger = logger
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *internalConfig) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *internalConfig) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}
