package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// StoreBackend selects where the session is persisted.
type StoreBackend string

const (
	// StoreBackendRedis shares the session through Redis; other processes are notified over pub/sub.
	StoreBackendRedis StoreBackend = "redis"
	// StoreBackendSQLite keeps the session in a device-local SQLite file.
	StoreBackendSQLite StoreBackend = "sqlite"
	// StoreBackendMemory keeps the session in process memory only.
	StoreBackendMemory StoreBackend = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for StoreBackend.
func (b *StoreBackend) UnmarshalText(text []byte) error {
	v := StoreBackend(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case StoreBackendRedis, StoreBackendSQLite, StoreBackendMemory:
		*b = v
		return nil
	default:
		return fmt.Errorf("invalid StoreBackend: %q (valid options: redis, sqlite, memory)", string(text))
	}
}

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Credential broker and auth backend configuration
//   - database.go: Session storage, Redis, and journal database configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DeviceID names this device's stored session. Processes sharing it share the session.
	DeviceID string `env:"DEVICE_ID" envDefault:"default"`

	// TokenEncryptionKey seals stored sessions. Required outside development.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	// Authentication configuration
	Auth    AuthConfig
	Backend BackendConfig `envPrefix:"SUPABASE_"`

	// Session storage configuration
	Store    StoreConfig
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Postgres DBConfig    `envPrefix:"DB_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.DeviceID = strings.TrimSpace(c.DeviceID); c.DeviceID == "" {
		c.DeviceID = "default"
	}
	c.TokenEncryptionKey = strings.TrimSpace(c.TokenEncryptionKey)

	c.Auth.Sanitize()
	c.Backend.Sanitize()
	c.Store.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// Validate reports configuration that cannot produce a working agent.
func (c *AppConfig) Validate() error {
	if c.Auth.Mode == AuthModeOIDC {
		if err := c.Auth.OIDC.validate(); err != nil {
			return err
		}
		if c.Backend.URL == "" {
			return fmt.Errorf("SUPABASE_URL is required when AUTH_MODE=%s", AuthModeOIDC)
		}
		if c.Backend.AnonKey == "" {
			return fmt.Errorf("SUPABASE_ANON_KEY is required when AUTH_MODE=%s", AuthModeOIDC)
		}
	}
	if c.Auth.Mode == AuthModeMock && len(c.Auth.DevAuth.Secret) < 16 {
		return errors.New("DEV_AUTH_SECRET must be at least 16 bytes")
	}
	if c.Store.Backend != StoreBackendMemory && c.TokenEncryptionKey == "" && !c.IsDev {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required outside development for the %s store", c.Store.Backend)
	}
	if c.TokenEncryptionKey != "" && len(c.TokenEncryptionKey) < 16 {
		return errors.New("TOKEN_ENCRYPTION_KEY must be at least 16 bytes")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
