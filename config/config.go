// Package config loads dispatchd settings. Sources are layered, later ones
// winning: built-in defaults, an optional YAML file, then DISPATCHD_
// environment variables where "__" separates nesting levels:
//
//	DISPATCHD_SERVER__ADDR=:9090
//	DISPATCHD_DISPATCHER__MAX_RETRIES=6
//	DISPATCHD_TRUST__STORE=redis
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/ar-nelson/tapir-sub001/dispatcher"
	"github.com/ar-nelson/tapir-sub001/httpclient"
	"github.com/ar-nelson/tapir-sub001/trust"
)

// EnvPrefix marks environment variables read by Load.
const EnvPrefix = "DISPATCHD_"

// Trust store kinds.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Redis      RedisConfig      `koanf:"redis"`
	Trust      TrustConfig      `koanf:"trust"`
	Client     ClientConfig     `koanf:"client"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
}

// ServerConfig configures the API listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// MaxBodyBytes caps an API request body, dispatched payloads included.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gt=0"`
	// MaxWait caps how long a dispatch-and-wait call holds its connection.
	MaxWait time.Duration `koanf:"max_wait" validate:"gt=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

// RedisConfig points at the Redis shared by replicas. An empty Addr disables
// every Redis-backed component.
type RedisConfig struct {
	Addr     string `koanf:"addr" validate:"omitempty,hostname_port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

// TrustConfig selects the domain trust store.
type TrustConfig struct {
	Store string `koanf:"store" validate:"oneof=memory redis"`
	// Key is the Redis hash name. Empty uses trust.DefaultRedisKey.
	Key string `koanf:"key"`
	// Seed entries are written to the store at start.
	Seed []SeedEntry `koanf:"seed" validate:"dive"`
}

// SeedEntry assigns a trust level name to a domain and its subdomains.
type SeedEntry struct {
	Domain string `koanf:"domain" validate:"required,hostname_rfc1123"`
	Level  string `koanf:"level" validate:"required,trust_level"`
}

// ClientConfig configures outbound HTTP.
type ClientConfig struct {
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxBytes        int64         `koanf:"max_bytes" validate:"gt=0"`
	MaxConnsPerHost int           `koanf:"max_conns_per_host" validate:"gte=0"`
	UserAgent       string        `koanf:"user_agent" validate:"required"`
	Debug           bool          `koanf:"debug"`
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	Enabled bool `koanf:"enabled"`
	// Distributed shares breaker state through Redis.
	Distributed         bool          `koanf:"distributed"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures" validate:"gt=0"`
	Timeout             time.Duration `koanf:"timeout" validate:"gt=0"`
}

// DispatcherConfig mirrors dispatcher.Config.
type DispatcherConfig struct {
	InitialBackoff       time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	BackoffMultiplier    float64       `koanf:"backoff_multiplier" validate:"gte=1"`
	MaxBackoff           time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	JitterFactor         float64       `koanf:"jitter_factor" validate:"gte=0,lt=1"`
	MaxRetries           int           `koanf:"max_retries" validate:"gte=0"`
	SpacedGap            time.Duration `koanf:"spaced_gap" validate:"gte=0"`
	MaxRetryAfter        time.Duration `koanf:"max_retry_after" validate:"gt=0"`
	MaxConcurrentPerHost int           `koanf:"max_concurrent_per_host" validate:"gte=0"`
}

func defaults() map[string]any {
	d := dispatcher.DefaultConfig()
	c := httpclient.DefaultConfig()

	return map[string]any{
		"server.addr":             ":8080",
		"server.read_timeout":     "15s",
		"server.shutdown_timeout": "10s",
		"server.max_body_bytes":   1 << 20,
		"server.max_wait":         "2h",

		"log.level":  "info",
		"log.pretty": false,

		"redis.addr": "",
		"redis.db":   0,

		"trust.store": StoreMemory,
		"trust.key":   "",

		"client.timeout":            c.Timeout.String(),
		"client.max_bytes":          c.MaxBytes,
		"client.max_conns_per_host": c.MaxConnsPerHost,
		"client.user_agent":         c.UserAgent,
		"client.debug":              false,

		"breaker.enabled":              false,
		"breaker.distributed":          false,
		"breaker.consecutive_failures": 5,
		"breaker.timeout":              "1m",

		"dispatcher.initial_backoff":         d.InitialBackoff.String(),
		"dispatcher.backoff_multiplier":      d.BackoffMultiplier,
		"dispatcher.max_backoff":             d.MaxBackoff.String(),
		"dispatcher.jitter_factor":           d.JitterFactor,
		"dispatcher.max_retries":             d.MaxRetries,
		"dispatcher.spaced_gap":              d.SpacedGap.String(),
		"dispatcher.max_retry_after":         d.MaxRetryAfter.String(),
		"dispatcher.max_concurrent_per_host": d.MaxConcurrentPerHost,
	}
}

// Load reads the configuration. path names a YAML file; empty skips it, and
// a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DISPATCHD_DISPATCHER__MAX_RETRIES to dispatcher.max_retries.
func envKey(k, v string) (string, any) {
	k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(k, "__", "."), v
}

// LogLevel returns the parsed log level. Validate has already vetted it.
func (c LogConfig) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// DispatcherSettings converts to the scheduler's settings.
func (c *Config) DispatcherSettings() dispatcher.Config {
	d := c.Dispatcher
	return dispatcher.Config{
		InitialBackoff:       d.InitialBackoff,
		BackoffMultiplier:    d.BackoffMultiplier,
		MaxBackoff:           d.MaxBackoff,
		JitterFactor:         d.JitterFactor,
		MaxRetries:           d.MaxRetries,
		SpacedGap:            d.SpacedGap,
		MaxRetryAfter:        d.MaxRetryAfter,
		MaxConcurrentPerHost: d.MaxConcurrentPerHost,
	}
}

// HTTPClientSettings converts to outbound transport settings, keeping the
// library defaults for everything not exposed here.
func (c *Config) HTTPClientSettings() httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = c.Client.Timeout
	hc.MaxBytes = c.Client.MaxBytes
	hc.MaxConnsPerHost = c.Client.MaxConnsPerHost
	hc.UserAgent = c.Client.UserAgent
	return hc
}

// TrustSeed parses the seed entries.
func (c *Config) TrustSeed() (map[string]trust.Level, error) {
	seed := make(map[string]trust.Level, len(c.Trust.Seed))
	for _, entry := range c.Trust.Seed {
		level, err := trust.ParseLevel(entry.Level)
		if err != nil {
			return nil, fmt.Errorf("config: trust seed %s: %w", entry.Domain, err)
		}
		seed[entry.Domain] = level
	}
	return seed, nil
}
