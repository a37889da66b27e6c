package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoHandler is returned when a Server is started without a handler.
var ErrNoHandler = errors.New("httpserver: handler is required (use WithHandler)")

// Server runs the dispatchd HTTP front with graceful shutdown and lifecycle
// logging.
//
//	server := httpserver.New(
//	    httpserver.WithAddr(":8080"),
//	    httpserver.WithHandler(router),
//	    httpserver.WithLogging(httpserver.LoggerConfig{Logger: logger}),
//	)
//	err := server.ListenAndServe(ctx) // returns once ctx is done and requests drained
type Server struct {
	httpServer *http.Server
	config     Config
	logger     zerolog.Logger

	mu    sync.Mutex
	bound net.Addr
}

// New creates a Server. Options are applied over DefaultConfig.
func New(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "dispatchd"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	var middlewares []Middleware
	if cfg.TracingConfig != nil {
		tracingCfg := *cfg.TracingConfig
		tracingCfg.serviceName = cfg.ServiceName
		middlewares = append(middlewares, Tracing(tracingCfg))
	}
	if cfg.MetricsConfig != nil {
		metricsCfg := *cfg.MetricsConfig
		metricsCfg.serviceName = cfg.ServiceName
		if m, err := NewMetrics(metricsCfg); err != nil {
			logger.Warn().Err(err).Msg("server metrics disabled")
		} else {
			middlewares = append(middlewares, m.Middleware())
		}
	}
	if cfg.LoggerConfig != nil {
		loggerCfg := *cfg.LoggerConfig
		loggerCfg.serviceName = cfg.ServiceName
		middlewares = append(middlewares, Logger(loggerCfg))
	}
	middlewares = append(middlewares, cfg.Middleware...)

	handler := cfg.Handler
	if handler != nil && len(middlewares) > 0 {
		handler = Chain(middlewares...)(handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		config: cfg,
		logger: logger,
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.config.Handler == nil {
		return ErrNoHandler
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. A nil return means the
// server drained cleanly within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.Handler == nil {
		_ = ln.Close()
		return ErrNoHandler
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("server starting")
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.logger.Error().Err(err).Msg("server error")
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Err(ctx.Err()).Msg("context cancelled, shutting down")
	}

	return s.shutdown(context.WithoutCancel(ctx))
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info().Dur("timeout", s.config.ShutdownTimeout).Msg("starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed, forcing close")
		if closeErr := s.httpServer.Close(); closeErr != nil {
			s.logger.Error().Err(closeErr).Msg("force close failed")
		}
		return err
	}

	s.logger.Info().Msg("server stopped gracefully")
	return nil
}

// Shutdown stops the server without waiting for the serve context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once serving, otherwise the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.httpServer.Addr
}

// ServiceName returns the configured service name.
func (s *Server) ServiceName() string {
	return s.config.ServiceName
}
