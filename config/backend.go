package config

import (
	"strings"
	"time"
)

// BackendConfig configures the backend profile API client.
type BackendConfig struct {
	// BaseURL is the root of the backend API, e.g. https://api.example.com.
	BaseURL string `env:"BASE_URL,required"`

	// Token is a static bearer token. Leave empty when the runtime wires
	// the identity provider's access token instead.
	Token string `env:"TOKEN"`

	// Timeout bounds each backend HTTP request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

// Sanitize normalises backend configuration values.
func (c *BackendConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Token = strings.TrimSpace(c.Token)
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}
