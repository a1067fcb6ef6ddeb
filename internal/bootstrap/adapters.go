package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/attuned-ai/attuned/config"
	"github.com/attuned-ai/attuned/internal/adapters/backendapi"
	"github.com/attuned-ai/attuned/internal/adapters/credstore"
	"github.com/attuned-ai/attuned/internal/adapters/identity"
	"github.com/attuned-ai/attuned/internal/observability/statsd"
	"github.com/attuned-ai/attuned/internal/ports"
)

const redisPingTimeout = 5 * time.Second

// BuildCredentialStore constructs the credential store selected by
// configuration. The returned close func releases store resources and is
// safe to call on every path.
func BuildCredentialStore(cfg config.StoreConfig, logger *slog.Logger) (ports.CredentialStore, func() error, error) {
	switch cfg.Backend {
	case config.StoreBackendBadger:
		store, err := credstore.OpenBadger(credstore.BadgerConfig{
			Path:   cfg.Path,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger credential store: %w", err)
		}
		return store, store.Close, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddress, err)
		}
		return credstore.NewRedisStore(client, cfg.KeyPrefix), client.Close, nil

	case config.StoreBackendMemory:
		return credstore.NewMemoryStore(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown credential store backend %q", cfg.Backend)
	}
}

// BuildIdentityProvider constructs the hosted identity provider client.
func BuildIdentityProvider(cfg config.IdentityConfig, logger *slog.Logger) (*identity.Client, error) {
	client, err := identity.NewClient(identity.Config{
		BaseURL:            cfg.BaseURL,
		APIKey:             cfg.APIKey,
		RefreshLeeway:      cfg.RefreshLeeway,
		DisableAutoRefresh: cfg.DisableAutoRefresh,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create identity client: %w", err)
	}
	return client, nil
}

// BuildProfileBackend constructs the backend profile API client. The
// token func keeps backend requests authorized with the provider's
// current access token; a static config token wins when set.
func BuildProfileBackend(cfg config.BackendConfig, idp *identity.Client, logger *slog.Logger) (*backendapi.Client, error) {
	token := func() string { return cfg.Token }
	if cfg.Token == "" && idp != nil {
		token = func() string {
			sess, err := idp.CurrentSession(context.Background())
			if err != nil || sess == nil {
				return ""
			}
			return sess.AccessToken
		}
	}

	client, err := backendapi.NewClient(backendapi.Config{
		BaseURL: cfg.BaseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}
	return client, nil
}

// BuildMetricsSink constructs the StatsD sink, falling back to a no-op
// sink when metrics are disabled or the dial fails.
func BuildMetricsSink(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) statsd.Sink {
	if !cfg.IsEnabled() {
		return statsd.Nop{}
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return statsd.Nop{}
	}
	return client
}
