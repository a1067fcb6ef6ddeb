package config

import (
	"strings"
	"time"
)

// IdentityConfig configures the hosted identity provider (GoTrue-style
// REST auth API).
type IdentityConfig struct {
	// BaseURL is the root of the auth API, e.g. https://auth.example.com/auth/v1.
	BaseURL string `env:"BASE_URL,required"`

	// APIKey is the project/anon API key sent with every request.
	APIKey string `env:"API_KEY"`

	// RefreshLeeway is how far before access-token expiry the background
	// refresh fires.
	RefreshLeeway time.Duration `env:"REFRESH_LEEWAY" envDefault:"30s"`

	// DisableAutoRefresh turns off the background token refresh loop.
	// Mostly useful in tests and one-shot CLI invocations.
	DisableAutoRefresh bool `env:"DISABLE_AUTO_REFRESH" envDefault:"false"`
}

// Sanitize normalises identity configuration values.
func (c *IdentityConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.RefreshLeeway <= 0 {
		c.RefreshLeeway = 30 * time.Second
	}
}
