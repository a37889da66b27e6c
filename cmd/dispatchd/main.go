// Command dispatchd runs the outbound federation dispatcher behind a small
// JSON API.
//
//	dispatchd -config /etc/dispatchd.yaml
//
// Settings may also come from DISPATCHD_ environment variables; see package
// config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ar-nelson/tapir-sub001/config"
	"github.com/ar-nelson/tapir-sub001/dispatcher"
	"github.com/ar-nelson/tapir-sub001/httpclient"
	"github.com/ar-nelson/tapir-sub001/httpserver"
	"github.com/ar-nelson/tapir-sub001/tasks"
	"github.com/ar-nelson/tapir-sub001/trust"
)

const serviceName = "dispatchd"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "dispatchd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, out)

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	store, err := newTrustStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}

	reporter := tasks.NewReporter(tasks.WithLogger(logger))
	client := httpclient.New(clientOptions(cfg, rdb, logger)...)
	d := dispatcher.New(client,
		dispatcher.WithConfig(cfg.DispatcherSettings()),
		dispatcher.WithTrustStore(store),
		dispatcher.WithWatcher(reporter),
		dispatcher.WithLogger(logger),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		dispatcher.NewCollector(d),
	)

	health := httpserver.NewHealthHandler(
		httpserver.WithHealthServiceName(serviceName),
		httpserver.WithVersion(version),
	)
	if rdb != nil {
		health.AddReadinessCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	probes := []string{"/ping", "/livez", "/readyz", "/metrics"}
	server := httpserver.New(
		httpserver.WithAddr(cfg.Server.Addr),
		httpserver.WithServiceName(serviceName),
		httpserver.WithLogger(logger),
		httpserver.WithHandler(newAPI(d, logger, cfg.Server.MaxBodyBytes, cfg.Server.MaxWait).routes(health, registry)),
		httpserver.WithTracing(httpserver.TracingConfig{SkipPaths: probes}),
		httpserver.WithMetrics(httpserver.MetricsConfig{SkipPaths: probes}),
		httpserver.WithLogging(httpserver.LoggerConfig{Logger: logger, SkipPaths: probes}),
		httpserver.WithMiddleware(httpserver.Recovery(logger), httpserver.RequestID()),
		func(c *httpserver.Config) {
			c.ReadTimeout = cfg.Server.ReadTimeout
			c.ShutdownTimeout = cfg.Server.ShutdownTimeout
		},
	)

	logger.Info().
		Str("version", version).
		Str("trust_store", cfg.Trust.Store).
		Bool("breaker", cfg.Breaker.Enabled).
		Msg("dispatchd starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(cfg.LogLevel()).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// newTrustStore builds the configured store and writes the seed entries.
func newTrustStore(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient) (trust.Store, error) {
	seed, err := cfg.TrustSeed()
	if err != nil {
		return nil, err
	}

	if cfg.Trust.Store != config.StoreRedis {
		return trust.NewMemoryStore(seed), nil
	}

	store := trust.NewRedisStore(rdb, cfg.Trust.Key)
	for domain, level := range seed {
		if err := store.Set(ctx, domain, level); err != nil {
			return nil, fmt.Errorf("seed trust store: %w", err)
		}
	}
	return store, nil
}

func clientOptions(cfg *config.Config, rdb redis.UniversalClient, logger zerolog.Logger) []httpclient.Option {
	opts := []httpclient.Option{
		httpclient.WithConfig(cfg.HTTPClientSettings()),
		httpclient.WithServiceName(serviceName),
		httpclient.WithLogger(logger),
		httpclient.WithDebug(cfg.Client.Debug),
	}
	if !cfg.Breaker.Enabled {
		return opts
	}

	bc := httpclient.DefaultBreakerConfig()
	bc.ConsecutiveFailures = cfg.Breaker.ConsecutiveFailures
	bc.Timeout = cfg.Breaker.Timeout
	if cfg.Breaker.Distributed {
		bc.Store = httpclient.NewRedisStore(rdb)
	}
	bc.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	}
	return append(opts, httpclient.WithBreaker(bc))
}
