package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ar-nelson/tapir-sub001/dispatcher"
	"github.com/ar-nelson/tapir-sub001/trust"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, zerolog.InfoLevel, cfg.Log.LogLevel())
	assert.Equal(t, StoreMemory, cfg.Trust.Store)
	assert.False(t, cfg.Breaker.Enabled)
	assert.Equal(t, dispatcher.DefaultConfig(), cfg.DispatcherSettings())
	assert.Equal(t, int64(10<<20), cfg.HTTPClientSettings().MaxBytes)
}

func TestLoad_Layers(t *testing.T) {
	path := writeYAML(t, `
server:
  addr: "127.0.0.1:9000"
log:
  level: debug
dispatcher:
  max_retries: 2
  spaced_gap: 250ms
trust:
  seed:
    - domain: spam.example
      level: block_unconditional
    - domain: friends.example
      level: trusted
`)

	t.Setenv("DISPATCHD_SERVER__ADDR", "127.0.0.1:9100")
	t.Setenv("DISPATCHD_DISPATCHER__MAX_CONCURRENT_PER_HOST", "3")
	t.Setenv("DISPATCHD_CLIENT__USER_AGENT", "tapir-test/0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr, "environment wins over file")
	assert.Equal(t, zerolog.DebugLevel, cfg.Log.LogLevel())
	assert.Equal(t, 2, cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.SpacedGap)
	assert.Equal(t, 3, cfg.Dispatcher.MaxConcurrentPerHost)
	assert.Equal(t, "tapir-test/0", cfg.HTTPClientSettings().UserAgent)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.InitialBackoff, "unset keys keep defaults")

	seed, err := cfg.TrustSeed()
	require.NoError(t, err)
	assert.Equal(t, map[string]trust.Level{
		"spam.example":    trust.BlockUnconditional,
		"friends.example": trust.Trusted,
	}, seed)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantKeys []string
	}{
		{
			name:   "given defaults, then valid",
			mutate: func(*Config) {},
		},
		{
			name:     "given unknown log level, then log.level reported",
			mutate:   func(c *Config) { c.Log.Level = "loud" },
			wantKeys: []string{"log.level"},
		},
		{
			name:     "given redis trust store without redis, then trust.store reported",
			mutate:   func(c *Config) { c.Trust.Store = StoreRedis },
			wantKeys: []string{"trust.store"},
		},
		{
			name: "given redis trust store with redis, then valid",
			mutate: func(c *Config) {
				c.Trust.Store = StoreRedis
				c.Redis.Addr = "127.0.0.1:6379"
			},
		},
		{
			name: "given distributed breaker without redis, then breaker.distributed reported",
			mutate: func(c *Config) {
				c.Breaker.Enabled = true
				c.Breaker.Distributed = true
			},
			wantKeys: []string{"breaker.distributed"},
		},
		{
			name: "given max backoff below initial, then dispatcher.max_backoff reported",
			mutate: func(c *Config) {
				c.Dispatcher.MaxBackoff = time.Second
			},
			wantKeys: []string{"dispatcher.max_backoff"},
		},
		{
			name: "given bad seed entry, then its level reported",
			mutate: func(c *Config) {
				c.Trust.Seed = []SeedEntry{{Domain: "ok.example", Level: "sometimes"}}
			},
			wantKeys: []string{"trust.seed[0].level"},
		},
		{
			name: "given several problems, then all reported",
			mutate: func(c *Config) {
				c.Dispatcher.MaxRetries = -1
				c.Client.MaxBytes = 0
			},
			wantKeys: []string{"client.max_bytes", "dispatcher.max_retries"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)

			err := Validate(cfg)
			if len(tt.wantKeys) == 0 {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			var keys []string
			for _, f := range verr.Fields {
				keys = append(keys, f.Key)
			}
			assert.ElementsMatch(t, tt.wantKeys, keys)
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Trust.Store = StoreRedis

	err = Validate(cfg)
	require.Error(t, err)
	assert.Equal(t, "config: invalid settings: trust.store: requires redis.addr", err.Error())
}
