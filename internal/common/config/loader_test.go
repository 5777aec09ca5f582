package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayEnvVars = []string{
	"PORT", "RECAPTCHA_SECRET_KEY", "FRONTEND_ORIGIN", "REDIS_URL", "APP_ENVIRONMENT",
	"SERVER_PORT", "SERVER_ALLOWED_ORIGINS", "SERVER_REQUIRE_ORIGIN",
	"UPSTREAM_SECRET_KEY", "UPSTREAM_TIMEOUT", "UPSTREAM_PROVIDER", "UPSTREAM_VERIFY_URL",
	"RATE_LIMIT_ENABLED", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"DATABASE_REDIS_ADDRESS", "LOGGING_LEVEL", "TRACING_SAMPLE_RATIO",
}

// isolate clears relay variables and moves into an empty directory so no
// config.yaml or .env from the repository is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	for _, name := range relayEnvVars {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("RECAPTCHA_SECRET_KEY", "s3cr3t")
	t.Setenv("PORT", "5050")
	t.Setenv("FRONTEND_ORIGIN", "https://example.com, https://www.example.com/ ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.Upstream.SecretKey)
	assert.Equal(t, 5050, cfg.Server.Port)
	assert.Equal(t, []string{"https://example.com", "https://www.example.com"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Server.RequireOrigin)
	assert.Equal(t, DefaultProvider, cfg.Upstream.Provider)
	assert.Equal(t, 5*time.Second, GetDuration(cfg.Upstream.Timeout))
	assert.False(t, cfg.RateLimitActive())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("RECAPTCHA_SECRET_KEY", "s3cr3t")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, []string{DefaultOrigin}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 20, cfg.RateLimit.Requests)
	assert.Equal(t, 60000, cfg.RateLimit.Window)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
}

func TestLoad_MissingSecretFailsFast(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "upstream.secret_key is required")
}

func TestLoad_StructuredEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("UPSTREAM_SECRET_KEY", "from-viper")
	t.Setenv("RECAPTCHA_SECRET_KEY", "legacy")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("PORT", "9000")
	t.Setenv("UPSTREAM_TIMEOUT", "2500")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("DATABASE_REDIS_ADDRESS", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-viper", cfg.Upstream.SecretKey)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 2500, cfg.Upstream.Timeout)
	assert.True(t, cfg.RateLimitActive())
}

func TestLoad_InvalidPort(t *testing.T) {
	isolate(t)
	t.Setenv("RECAPTCHA_SECRET_KEY", "s3cr3t")
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be numeric")
}

func TestLoadFromFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TEST_RELAY_SECRET", "yaml-secret")

	path := filepath.Join(dir, "relay.yaml")
	yaml := `
server:
  port: 6001
  allowed_origins:
    - https://portfolio.example
  require_origin: false
upstream:
  provider: hcaptcha
  secret_key: ${TEST_RELAY_SECRET}
  timeout: 1500
  forward_client_ip: true
rate_limit:
  enabled: true
  requests: 5
  window: 10000
database:
  redis:
    address: localhost:6380
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 6001, cfg.Server.Port)
	assert.Equal(t, []string{"https://portfolio.example"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Server.RequireOrigin)
	assert.Equal(t, "hcaptcha", cfg.Upstream.Provider)
	assert.Equal(t, "yaml-secret", cfg.Upstream.SecretKey)
	assert.Equal(t, 1500, cfg.Upstream.Timeout)
	assert.True(t, cfg.Upstream.ForwardClientIP)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.True(t, cfg.RateLimitActive())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_Missing(t *testing.T) {
	dir := isolate(t)

	_, err := LoadFromFile(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 5000, AllowedOrigins: []string{DefaultOrigin}},
			Upstream: UpstreamConfig{SecretKey: "s", Timeout: 5000, Provider: DefaultProvider},
			Tracing:  TracingConfig{SampleRatio: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Upstream.SecretKey = "" }, errMsg: "secret_key is required"},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errMsg: "server.port"},
		{name: "unknown provider", mutate: func(c *Config) { c.Upstream.Provider = "nope" }, errMsg: "upstream.provider"},
		{name: "unknown provider with registry file", mutate: func(c *Config) {
			c.Upstream.Provider = "local"
			c.Upstream.ProvidersFile = "providers.json"
		}},
		{name: "no origins", mutate: func(c *Config) { c.Server.AllowedOrigins = nil }, errMsg: "allowed_origins"},
		{name: "origin without scheme", mutate: func(c *Config) {
			c.Server.AllowedOrigins = []string{"localhost:8080"}
		}, errMsg: "allowed_origins"},
		{name: "origin with path", mutate: func(c *Config) {
			c.Server.AllowedOrigins = []string{"https://site.example/contact"}
		}, errMsg: "allowed_origins"},
		{name: "wildcard origin", mutate: func(c *Config) { c.Server.AllowedOrigins = []string{"*"} }},
		{name: "negative timeout", mutate: func(c *Config) { c.Upstream.Timeout = -1 }, errMsg: "upstream.timeout"},
		{name: "rate limit without requests", mutate: func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Requests: 0, Window: 1000}
		}, errMsg: "rate_limit.requests"},
		{name: "rate limit without window", mutate: func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Requests: 1, Window: 0}
		}, errMsg: "rate_limit.window"},
		{name: "sample ratio out of range", mutate: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, errMsg: "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t,
		[]string{"http://a.test", "http://b.test"},
		SplitOrigins(" http://a.test/, http://b.test ,http://a.test"),
	)
	assert.Empty(t, SplitOrigins(" , "))
}

func TestLoadFromFile_UnsetPlaceholders(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "relay.yaml")
	yaml := `
upstream:
  secret_key: ${RECAPTCHA_SECRET_KEY}
database:
  redis:
    address: ${REDIS_URL}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_key is required")

	t.Setenv("RECAPTCHA_SECRET_KEY", "from-env")
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Upstream.SecretKey)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_OriginWithoutScheme(t *testing.T) {
	isolate(t)
	t.Setenv("RECAPTCHA_SECRET_KEY", "s3cr3t")
	t.Setenv("FRONTEND_ORIGIN", "https://ok.example,localhost:8080")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), `"localhost:8080"`)
}
