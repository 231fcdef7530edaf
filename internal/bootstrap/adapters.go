package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/junghoonshin3/bemypet/config"
	redisadapter "github.com/junghoonshin3/bemypet/internal/adapters/redis"
	"github.com/junghoonshin3/bemypet/internal/adapters/sqlite"
	"github.com/junghoonshin3/bemypet/internal/data"
	"github.com/junghoonshin3/bemypet/internal/data/cryptoutil"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

// Storage is the persistence side of the agent.
type Storage struct {
	Tokens ports.TokenStore
	// Notifier is nil unless the store is shared between processes.
	Notifier ports.SessionNotifier
	// History is nil when no journal is configured.
	History ports.SessionHistory

	closers []func() error
}

// Close releases every connection the storage opened.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// StorageConfig contains configuration for session storage.
type StorageConfig struct {
	Config    *config.AppConfig
	Encryptor cryptoutil.Encryptor
	Logger    *slog.Logger

	// Redis and DB are used when already connected; otherwise they are
	// connected on demand and closed with the Storage.
	Redis redis.UniversalClient
	DB    *sql.DB
}

// BuildStorage opens the configured token store, notifier and journal.
func BuildStorage(ctx context.Context, cfg StorageConfig) (*Storage, error) {
	if cfg.Config == nil {
		return nil, errors.New("storage config is required")
	}
	appCfg := cfg.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := &Storage{}

	switch appCfg.Store.Backend {
	case config.StoreBackendRedis:
		client := cfg.Redis
		if client == nil {
			var err error
			client, err = ConnectRedis(ctx, DatabaseConfig{RedisConfig: appCfg.Redis, Logger: logger})
			if err != nil {
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			st.closers = append(st.closers, client.Close)
		}
		st.Tokens = redisadapter.NewTokenStore(client, redisadapter.TokenStoreOptions{
			Prefix:    appCfg.Store.KeyPrefix,
			DeviceID:  appCfg.DeviceID,
			TTL:       appCfg.Store.TokenTTL,
			Encryptor: cfg.Encryptor,
		})
		st.Notifier = redisadapter.NewNotifier(client, redisadapter.NotifierOptions{
			Prefix:   appCfg.Store.KeyPrefix,
			DeviceID: appCfg.DeviceID,
			Logger:   logger,
		})

	case config.StoreBackendSQLite, config.StoreBackendMemory:
		path := appCfg.Store.SQLitePath
		if appCfg.Store.Backend == config.StoreBackendMemory {
			path = sqlite.MemoryPath
		}
		local, err := sqlite.Open(path, sqlite.Options{DeviceID: appCfg.DeviceID, Encryptor: cfg.Encryptor})
		if err != nil {
			return nil, fmt.Errorf("open session file: %w", err)
		}
		st.closers = append(st.closers, local.Close)
		st.Tokens = local
		st.History = local

	default:
		return nil, fmt.Errorf("unsupported store backend %q", appCfg.Store.Backend)
	}

	if appCfg.Postgres.JournalEnabled {
		repo, err := buildPostgresJournal(ctx, cfg, st, logger)
		if err != nil {
			return nil, errors.Join(err, st.Close())
		}
		st.History = repo
	}

	logger.InfoContext(ctx, "session storage ready",
		"backend", appCfg.Store.Backend,
		"device_id", appCfg.DeviceID,
		"shared", st.Notifier != nil,
		"journal", st.History != nil,
	)
	return st, nil
}

func buildPostgresJournal(ctx context.Context, cfg StorageConfig, st *Storage, logger *slog.Logger) (*data.SessionEventRepo, error) {
	db := cfg.DB
	if db == nil {
		var err error
		db, err = ConnectDB(ctx, DatabaseConfig{DBConfig: cfg.Config.Postgres, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		st.closers = append(st.closers, db.Close)
	}
	if cfg.Config.Postgres.RunMigrationsOnStart {
		if _, err := RunMigrations(ctx, db, logger); err != nil {
			return nil, err
		}
	}
	return data.NewSessionEventRepo(db, data.SessionEventRepoOptions{DeviceID: cfg.Config.DeviceID})
}
