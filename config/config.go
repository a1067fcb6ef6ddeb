package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - identity.go: Identity provider (auth) configuration
//   - backend.go: Backend profile API configuration
//   - store.go: Credential store configuration
//   - session.go: Session controller tunables
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, text
	// log format). Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Identity provider configuration
	Identity IdentityConfig `envPrefix:"IDENTITY_"`

	// Backend profile API configuration
	Backend BackendConfig `envPrefix:"BACKEND_"`

	// Credential store configuration
	Store StoreConfig `envPrefix:"STORE_"`

	// Session controller configuration
	Session SessionConfig `envPrefix:"SESSION_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Identity.Sanitize()
	c.Backend.Sanitize()
	c.Store.Sanitize()
	c.Session.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
