package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StoreConfig selects and tunes session persistence.
type StoreConfig struct {
	Backend StoreBackend `env:"STORE_BACKEND" envDefault:"sqlite"`
	// SQLitePath is the session file used by the sqlite backend.
	SQLitePath string `env:"SQLITE_PATH" envDefault:"bemypet-session.db"`
	// TokenTTL bounds how long a stored session survives without being saved
	// again (redis backend). It should cover the refresh token lifetime.
	TokenTTL time.Duration `env:"STORE_TOKEN_TTL" envDefault:"720h"`
	// KeyPrefix namespaces Redis keys and the notification channel.
	KeyPrefix string `env:"STORE_KEY_PREFIX" envDefault:"bemypet:"`
}

// Sanitize applies defaults.
func (c *StoreConfig) Sanitize() {
	if c.Backend == "" {
		c.Backend = StoreBackendSQLite
	}
	if c.SQLitePath = strings.TrimSpace(c.SQLitePath); c.SQLitePath == "" {
		c.SQLitePath = "bemypet-session.db"
	}
	if c.TokenTTL < 0 {
		c.TokenTTL = 0
	}
	if c.KeyPrefix = strings.TrimSpace(c.KeyPrefix); c.KeyPrefix == "" {
		c.KeyPrefix = "bemypet:"
	}
}

// DBConfig contains PostgreSQL configuration for the shared session journal.
type DBConfig struct {
	// JournalEnabled records session transitions in Postgres.
	JournalEnabled bool   `env:"JOURNAL_ENABLED"          envDefault:"false"`
	Host           string `env:"HOST"                     envDefault:"localhost"`
	Port           int    `env:"PORT"                     envDefault:"5432"`
	User           string `env:"USER"                     envDefault:"bemypet"`
	Password       string `env:"PASSWORD"                 envDefault:"bemypet"`
	Name           string `env:"NAME"                     envDefault:"bemypet"`
	SSLMode        string `env:"SSL_MODE"                 envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// DSN renders the pgx connection URL. url.URL escapes special characters in
// the credentials.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}
