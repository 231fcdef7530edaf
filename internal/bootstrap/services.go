package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/junghoonshin3/bemypet/config"
	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
	"github.com/junghoonshin3/bemypet/internal/ports"
	"github.com/junghoonshin3/bemypet/internal/service"
)

// Agent is the wired session pipeline: broker, exchange, store and facade.
type Agent struct {
	Credentials *service.CredentialProvider
	Identity    *service.IdentityService
	Sessions    *service.SessionStore
	Account     *service.AccountFacade
	Login       *service.LoginFlow
	History     ports.SessionHistory
}

// Close stops the session store.
func (a *Agent) Close() {
	if a == nil || a.Sessions == nil {
		return
	}
	a.Sessions.Close()
}

// AgentConfig contains the dependencies for BuildAgent.
type AgentConfig struct {
	Auth    AuthAdapters
	Storage *Storage
	Metrics statsd.Sink
	Logger  *slog.Logger

	RefreshMargin time.Duration
	// Origin identifies this process in change notifications; random when empty.
	Origin string
}

// BuildAgent wires the services over already-built adapters. The session
// store starts watching immediately; call Close when done.
func BuildAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Auth.Broker == nil || cfg.Auth.Backend == nil {
		return nil, errors.New("credential broker and auth backend are required")
	}
	if cfg.Storage == nil || cfg.Storage.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	creds := service.NewCredentialProvider(service.CredentialProviderOptions{
		Broker:          cfg.Auth.Broker,
		BackendClientID: cfg.Auth.BackendClientID,
		Logger:          logger,
		Metrics:         cfg.Metrics,
	})

	identity := service.NewIdentityService(service.IdentityServiceOptions{
		Backend:       cfg.Auth.Backend,
		Tokens:        cfg.Storage.Tokens,
		Credentials:   creds,
		Notifier:      cfg.Storage.Notifier,
		Logger:        logger,
		Metrics:       cfg.Metrics,
		RefreshMargin: cfg.RefreshMargin,
		Origin:        cfg.Origin,
	})

	var journal ports.SessionJournal
	if cfg.Storage.History != nil {
		journal = cfg.Storage.History
	}
	sessions := service.NewSessionStore(service.SessionStoreOptions{
		Source:  identity,
		Journal: journal,
		Logger:  logger,
		Metrics: cfg.Metrics,
	})

	account := service.NewAccountFacade(service.AccountFacadeOptions{
		Sources:  []ports.AccountSource{sessions, creds},
		Sessions: sessions,
		Identity: identity,
	})

	login := service.NewLoginFlow(service.LoginFlowOptions{
		Credentials: creds,
		Identity:    identity,
		Accounts:    creds,
		Logger:      logger,
	})

	return &Agent{
		Credentials: creds,
		Identity:    identity,
		Sessions:    sessions,
		Account:     account,
		Login:       login,
		History:     cfg.Storage.History,
	}, nil
}

// Runtime bundles everything a command needs, built from configuration.
type Runtime struct {
	Agent   *Agent
	Storage *Storage
	Metrics *Metrics
}

// RuntimeConfig controls BuildRuntime.
type RuntimeConfig struct {
	Config *config.AppConfig
	Logger *slog.Logger
	// Prometheus forces the Prometheus sink on, e.g. for a command serving /metrics.
	Prometheus bool
}

// BuildRuntime builds metrics, adapters, storage and the agent from configuration.
func BuildRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Config == nil {
		return nil, errors.New("runtime config is required")
	}
	appCfg := cfg.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := BuildMetrics(MetricsConfig{
		Observability: appCfg.Observability.Metrics,
		Prometheus:    cfg.Prometheus,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	auth, err := BuildAuthAdapters(AuthConfig{Auth: appCfg.Auth, Backend: appCfg.Backend, Logger: logger})
	if err != nil {
		return nil, errors.Join(err, m.Close())
	}

	storage, err := BuildStorage(ctx, StorageConfig{
		Config:    appCfg,
		Encryptor: CreateEncryptor(appCfg.TokenEncryptionKey, logger),
		Logger:    logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("build storage: %w", err), m.Close())
	}

	agent, err := BuildAgent(AgentConfig{
		Auth:          auth,
		Storage:       storage,
		Metrics:       m.Sink,
		Logger:        logger,
		RefreshMargin: appCfg.Auth.RefreshMargin,
	})
	if err != nil {
		return nil, errors.Join(err, storage.Close(), m.Close())
	}

	return &Runtime{Agent: agent, Storage: storage, Metrics: m}, nil
}

// Close stops the agent before releasing storage and metrics.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.Agent.Close()
	return errors.Join(r.Storage.Close(), r.Metrics.Close())
}
