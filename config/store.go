package config

import (
	"fmt"
	"strings"
)

// StoreBackend selects the credential store implementation.
type StoreBackend string

const (
	// StoreBackendBadger uses an embedded BadgerDB directory (default,
	// on-device).
	StoreBackendBadger StoreBackend = "badger"
	// StoreBackendRedis uses a Redis server (hosted deployments).
	StoreBackendRedis StoreBackend = "redis"
	// StoreBackendMemory keeps credentials in process memory only.
	StoreBackendMemory StoreBackend = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreBackend.
func (b *StoreBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "badger", "redis", "memory":
		*b = StoreBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StoreBackend: %q (valid options: badger, redis, memory)", v)
	}
}

// StoreConfig configures the credential store.
type StoreConfig struct {
	// Backend selects the store implementation.
	Backend StoreBackend `env:"BACKEND" envDefault:"badger"`

	// Path is the BadgerDB directory (Backend=badger).
	Path string `env:"PATH" envDefault:".attuned/credentials"`

	// Redis connection (Backend=redis).
	RedisAddress  string `env:"REDIS_ADDRESS"  envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`

	// KeyPrefix namespaces keys in shared stores (Backend=redis).
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"credentials:"`
}

// Sanitize normalises store configuration values.
func (c *StoreConfig) Sanitize() {
	if c.Backend == "" {
		c.Backend = StoreBackendBadger
	}
	c.Path = strings.TrimSpace(c.Path)
	c.RedisAddress = strings.TrimSpace(c.RedisAddress)
	if c.KeyPrefix == "" {
		c.KeyPrefix = "credentials:"
	}
	if c.Backend == StoreBackendBadger && c.Path == "" {
		c.Path = ".attuned/credentials"
	}
}
