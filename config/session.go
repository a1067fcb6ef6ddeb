package config

import "time"

// SessionConfig holds session controller tunables.
type SessionConfig struct {
	// InitTimeout bounds how long startup waits for the credential store
	// before proceeding unauthenticated.
	InitTimeout time.Duration `env:"INIT_TIMEOUT" envDefault:"2s"`

	// StoreKey is the credential store key holding the session snapshot.
	StoreKey string `env:"STORE_KEY" envDefault:"session.snapshot"`
}

// Sanitize applies guardrails to session tunables.
func (c *SessionConfig) Sanitize() {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 2 * time.Second
	}
	if c.StoreKey == "" {
		c.StoreKey = "session.snapshot"
	}
}
