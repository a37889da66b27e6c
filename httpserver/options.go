package httpserver

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Option configures a Server.
type Option func(*Config)

// WithConfig replaces the whole configuration. Apply it before other options.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithServiceName sets the name carried by logs, spans and metrics.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithHandler sets the root handler.
func WithHandler(h http.Handler) Option {
	return func(c *Config) {
		c.Handler = h
	}
}

// WithLogger sets the lifecycle logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMiddleware appends middleware applied inside the built-in layers.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Config) {
		c.Middleware = append(c.Middleware, mw...)
	}
}

// WithTracing enables server spans.
func WithTracing(cfg TracingConfig) Option {
	return func(c *Config) {
		c.TracingConfig = &cfg
	}
}

// WithMetrics enables request metrics.
func WithMetrics(cfg MetricsConfig) Option {
	return func(c *Config) {
		c.MetricsConfig = &cfg
	}
}

// WithLogging enables access logs.
func WithLogging(cfg LoggerConfig) Option {
	return func(c *Config) {
		c.LoggerConfig = &cfg
	}
}
