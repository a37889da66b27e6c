package httpserver

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the settings of the dispatchd front server.
type Config struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string

	// ServiceName labels logs, spans and metrics.
	// Default: "dispatchd"
	ServiceName string

	// ReadTimeout bounds reading the whole request including the body.
	// Default: 15s
	ReadTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 5s
	ReadHeaderTimeout time.Duration

	// WriteTimeout bounds writing the response. Dispatch-and-wait calls can
	// take as long as a whole retry schedule, so the default is unbounded and
	// handlers apply their own wait limits.
	// Default: 0
	WriteTimeout time.Duration

	// IdleTimeout closes idle keep-alive connections.
	// Default: 60s
	IdleTimeout time.Duration

	// MaxHeaderBytes caps request header size.
	// Default: 1 MiB
	MaxHeaderBytes int

	// ShutdownTimeout is how long in-flight requests get to finish once
	// shutdown starts.
	// Default: 10s
	ShutdownTimeout time.Duration

	// Handler serves every request. Required.
	Handler http.Handler

	// Logger receives lifecycle logs. A disabled logger falls back to stdout.
	Logger zerolog.Logger

	// Middleware runs inside the built-in tracing, metrics and logging layers.
	Middleware []Middleware

	TracingConfig *TracingConfig
	MetricsConfig *MetricsConfig
	LoggerConfig  *LoggerConfig
}

// DefaultConfig returns the settings dispatchd runs with unless overridden.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ServiceName:       "dispatchd",
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,
	}
}
