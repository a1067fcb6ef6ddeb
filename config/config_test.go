package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfigDefaults(t *testing.T) {
	t.Setenv("IDENTITY_BASE_URL", "https://auth.example.com/auth/v1")
	t.Setenv("BACKEND_BASE_URL", "https://api.example.com")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.False(t, cfg.IsDev)
	assert.Equal(t, 30*time.Second, cfg.Identity.RefreshLeeway)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, StoreBackendBadger, cfg.Store.Backend)
	assert.Equal(t, ".attuned/credentials", cfg.Store.Path)
	assert.Equal(t, "credentials:", cfg.Store.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Session.InitTimeout)
	assert.Equal(t, "session.snapshot", cfg.Session.StoreKey)
	assert.False(t, cfg.Observability.Metrics.IsEnabled())
	assert.Equal(t, "127.0.0.1:8125", cfg.Observability.Metrics.StatsdAddress)
}

func TestAppConfigFromEnvironment(t *testing.T) {
	t.Setenv("DEV", "true")
	t.Setenv("IDENTITY_BASE_URL", "https://auth.example.com/auth/v1/")
	t.Setenv("IDENTITY_API_KEY", "  anon-key  ")
	t.Setenv("IDENTITY_REFRESH_LEEWAY", "45s")
	t.Setenv("BACKEND_BASE_URL", "https://api.example.com/")
	t.Setenv("BACKEND_TIMEOUT", "5s")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("STORE_REDIS_ADDRESS", "redis.internal:6379")
	t.Setenv("STORE_REDIS_DB", "3")
	t.Setenv("SESSION_INIT_TIMEOUT", "500ms")
	t.Setenv("OBSERVABILITY_METRICS_ENABLED", "true")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.True(t, cfg.IsDev)
	// Trailing slash and whitespace trimmed.
	assert.Equal(t, "https://auth.example.com/auth/v1", cfg.Identity.BaseURL)
	assert.Equal(t, "anon-key", cfg.Identity.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Identity.RefreshLeeway)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Store.RedisAddress)
	assert.Equal(t, 3, cfg.Store.RedisDB)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.InitTimeout)
	assert.True(t, cfg.Observability.Metrics.IsEnabled())
}

func TestIdentityBaseURLRequired(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "https://api.example.com")

	var cfg AppConfig
	assert.Error(t, env.Parse(&cfg))
}

func TestStoreBackendUnmarshalText(t *testing.T) {
	var b StoreBackend

	require.NoError(t, b.UnmarshalText([]byte("REDIS")))
	assert.Equal(t, StoreBackendRedis, b)

	err := b.UnmarshalText([]byte("sqlite"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid StoreBackend: "sqlite"`)
}

func TestDetectDevModeFromNodeEnv(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	t.Setenv("IDENTITY_BASE_URL", "https://auth.example.com")
	t.Setenv("BACKEND_BASE_URL", "https://api.example.com")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.True(t, cfg.IsDev)
}

func TestSanitizeGuardrails(t *testing.T) {
	cfg := AppConfig{
		Identity: IdentityConfig{BaseURL: " https://auth.example.com/ ", RefreshLeeway: -1},
		Backend:  BackendConfig{BaseURL: "https://api.example.com", Timeout: 0},
		Store:    StoreConfig{Backend: StoreBackendBadger},
		Session:  SessionConfig{InitTimeout: -time.Second},
	}
	cfg.Sanitize()

	assert.Equal(t, "https://auth.example.com", cfg.Identity.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Identity.RefreshLeeway)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, ".attuned/credentials", cfg.Store.Path)
	assert.Equal(t, "credentials:", cfg.Store.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Session.InitTimeout)
	assert.Equal(t, "session.snapshot", cfg.Session.StoreKey)
}

func TestMetricsDisabledWithoutAddress(t *testing.T) {
	c := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  "}
	c.Sanitize()

	assert.False(t, c.Enabled)
	assert.False(t, c.IsEnabled())
}
