package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/junghoonshin3/bemypet/config"
	"github.com/junghoonshin3/bemypet/internal/adapters/devauth"
	"github.com/junghoonshin3/bemypet/internal/adapters/gotrue"
	"github.com/junghoonshin3/bemypet/internal/adapters/oidc"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

// AuthAdapters is the broker/backend pair selected by AUTH_MODE.
type AuthAdapters struct {
	Broker  ports.CredentialBroker
	Backend ports.AuthBackend
	// BackendClientID is the audience requested for identity tokens.
	BackendClientID string
}

// AuthConfig contains configuration for the auth adapters.
type AuthConfig struct {
	Auth    config.AuthConfig
	Backend config.BackendConfig
	Logger  *slog.Logger
}

// BuildAuthAdapters creates the credential broker and auth backend for the configured mode.
func BuildAuthAdapters(cfg AuthConfig) (AuthAdapters, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		return buildDevAuth(cfg)
	case config.AuthModeOIDC:
		return buildOIDCAuth(cfg)
	default:
		return AuthAdapters{}, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildDevAuth(cfg AuthConfig) (AuthAdapters, error) {
	dev := devauth.Config{
		UserID:   cfg.Auth.DevAuth.UserID,
		Email:    cfg.Auth.DevAuth.Email,
		Name:     cfg.Auth.DevAuth.Name,
		Secret:   []byte(cfg.Auth.DevAuth.Secret),
		Audience: cfg.Auth.BackendClientID,
	}
	broker, err := devauth.NewBroker(dev)
	if err != nil {
		return AuthAdapters{}, fmt.Errorf("create dev auth broker: %w", err)
	}
	backend, err := devauth.NewBackend(dev)
	if err != nil {
		return AuthAdapters{}, fmt.Errorf("create dev auth backend: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Warn("dev auth enabled; identities are minted locally", "user_id", dev.UserID)
	}
	return AuthAdapters{Broker: broker, Backend: backend, BackendClientID: cfg.Auth.BackendClientID}, nil
}

func buildOIDCAuth(cfg AuthConfig) (AuthAdapters, error) {
	o := cfg.Auth.OIDC
	if o.ClientID == "" || o.DiscoveryURL == "" {
		if cfg.Logger != nil {
			cfg.Logger.Warn("AuthModeOIDC selected but required config missing",
				"discovery_url_empty", o.DiscoveryURL == "",
				"client_id_empty", o.ClientID == "",
			)
		}
		return AuthAdapters{}, errors.New("oidc client ID and discovery URL are required")
	}

	backend, err := gotrue.NewClient(gotrue.Config{
		URL:      cfg.Backend.URL,
		AnonKey:  cfg.Backend.AnonKey,
		Provider: cfg.Backend.Provider,
		Timeout:  cfg.Backend.Timeout,
	})
	if err != nil {
		return AuthAdapters{}, fmt.Errorf("create auth backend: %w", err)
	}

	broker, err := oidc.NewBroker(oidc.BrokerConfig{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURL,
		Scope:        o.Scope,
		DiscoveryURL: o.DiscoveryURL,
		Receiver:     &oidc.LoopbackReceiver{RedirectURL: o.RedirectURL, Logger: cfg.Logger},
	})
	if err != nil {
		return AuthAdapters{}, fmt.Errorf("create oidc broker: %w", err)
	}

	return AuthAdapters{Broker: broker, Backend: backend, BackendClientID: cfg.Auth.BackendClientID}, nil
}
