package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOIDC uses an OpenID Connect provider and the Supabase auth backend.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock uses the offline dev broker and backend (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oidc, mock)", v)
	}
}

// OIDCConfig contains the identity provider configuration for the credential broker.
type OIDCConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://127.0.0.1:8765/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL" envDefault:"https://accounts.google.com"`
}

func (c *OIDCConfig) sanitize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.RedirectURL = strings.TrimSpace(c.RedirectURL)
	c.DiscoveryURL = strings.TrimSpace(c.DiscoveryURL)
	if strings.TrimSpace(c.Scope) == "" {
		c.Scope = "openid profile email"
	}
}

func (c *OIDCConfig) validate() error {
	if c.ClientID == "" {
		return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
	}
	if c.DiscoveryURL == "" {
		return errors.New("OIDC_DISCOVERY_URL is required when AUTH_MODE=oidc")
	}
	if c.RedirectURL == "" {
		return errors.New("OIDC_REDIRECT_URL is required when AUTH_MODE=oidc")
	}
	return nil
}

// DevAuthConfig controls the mock identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Email  string `env:"EMAIL"   envDefault:"dev@example.com"`
	Name   string `env:"NAME"    envDefault:"Dev User"`
	// Secret signs dev identity tokens; at least 16 bytes.
	Secret string `env:"SECRET"  envDefault:"bemypet-dev-secret-change-me"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which broker and backend to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oidc"`

	// BackendClientID is the audience the identity token is issued for, i.e.
	// the web client ID the auth backend trusts. Defaults to OIDC_CLIENT_ID.
	BackendClientID string `env:"AUTH_BACKEND_CLIENT_ID"`

	// RefreshMargin is how long before expiry the access token is refreshed.
	RefreshMargin time.Duration `env:"AUTH_REFRESH_MARGIN" envDefault:"1m"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"OIDC_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize applies defaults derived from other fields.
func (c *AuthConfig) Sanitize() {
	if c.Mode == "" {
		c.Mode = AuthModeOIDC
	}
	c.OIDC.sanitize()
	if c.BackendClientID = strings.TrimSpace(c.BackendClientID); c.BackendClientID == "" {
		c.BackendClientID = c.OIDC.ClientID
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = time.Minute
	}
}

// BackendConfig configures the Supabase (GoTrue) auth backend.
type BackendConfig struct {
	URL     string        `env:"URL"`
	AnonKey string        `env:"ANON_KEY"`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"10s"`
	// Provider is the identity provider name the backend expects with the ID token.
	Provider string `env:"PROVIDER" envDefault:"google"`
}

// Sanitize trims and defaults backend settings.
func (c *BackendConfig) Sanitize() {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	c.AnonKey = strings.TrimSpace(c.AnonKey)
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Provider = strings.TrimSpace(c.Provider); c.Provider == "" {
		c.Provider = "google"
	}
}
