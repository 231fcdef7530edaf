// Package sqlite keeps the session and its journal in a device-local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/junghoonshin3/bemypet/internal/data/cryptoutil"
	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

// schema is applied in order; PRAGMA user_version records how far a file got.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		device_id  TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		sign_out    INTEGER NOT NULL DEFAULT 0,
		device_id   TEXT NOT NULL DEFAULT '',
		occurred_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS session_events_occurred_at_idx ON session_events (occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS session_events_device_occurred_idx ON session_events (device_id, occurred_at DESC)`,
}

// Options configures Store.
type Options struct {
	DeviceID string // default "default"
	// Encryptor seals the stored session, bound to the device ID. Nil stores plain JSON.
	Encryptor cryptoutil.Encryptor
	Now       func() time.Time
}

// Store implements ports.TokenStore and ports.SessionJournal over one SQLite file.
type Store struct {
	sqlDB    *sql.DB
	deviceID string
	enc      cryptoutil.Encryptor
	now      func() time.Time
}

var (
	_ ports.TokenStore     = (*Store)(nil)
	_ ports.SessionHistory = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

// Open opens (creating if needed) the SQLite file at path and applies the schema.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	if path == MemoryPath {
		dsn = MemoryPath + "?_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is its own database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	device := strings.TrimSpace(opts.DeviceID)
	if device == "" {
		device = "default"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{sqlDB: sqlDB, deviceID: device, enc: opts.Encryptor, now: now}, nil
}

func migrate(sqlDB *sql.DB) error {
	var version int
	if err := sqlDB.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for i := version; i < len(schema); i++ {
		if _, err := sqlDB.Exec(schema[i]); err != nil {
			return fmt.Errorf("apply schema step %d: %w", i+1, err)
		}
		if _, err := sqlDB.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			return fmt.Errorf("record schema step %d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Load(ctx context.Context) (domainauth.Tokens, error) {
	var payload string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE device_id = ?`, s.deviceID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domainauth.Tokens{}, ports.ErrNoTokens
	}
	if err != nil {
		return domainauth.Tokens{}, fmt.Errorf("select session: %w", err)
	}

	data := []byte(payload)
	if s.enc != nil {
		if data, err = s.enc.Decrypt(payload, []byte(s.deviceID)); err != nil {
			return domainauth.Tokens{}, fmt.Errorf("decrypt session: %w", err)
		}
	}
	var tokens domainauth.Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return domainauth.Tokens{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if tokens.UserID == "" || tokens.RefreshToken == "" {
		return domainauth.Tokens{}, ports.ErrNoTokens
	}
	return tokens, nil
}

func (s *Store) Save(ctx context.Context, tokens domainauth.Tokens) error {
	if tokens.UserID == "" {
		return errors.New("session user ID cannot be empty")
	}
	if tokens.RefreshToken == "" {
		return errors.New("session refresh token cannot be empty")
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	payload := string(data)
	if s.enc != nil {
		if payload, err = s.enc.Encrypt(data, []byte(s.deviceID)); err != nil {
			return fmt.Errorf("encrypt session: %w", err)
		}
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (device_id, payload, user_id, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   payload = excluded.payload,
		   user_id = excluded.user_id,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		s.deviceID, payload, tokens.UserID, toMillis(tokens.ExpiresAt), toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE device_id = ?`, s.deviceID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Record appends a session transition. Replaying an event ID is a no-op.
func (s *Store) Record(ctx context.Context, ev ports.SessionEvent) error {
	if strings.TrimSpace(ev.Kind) == "" {
		return errors.New("session event kind is required")
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO session_events (id, kind, user_id, sign_out, device_id, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, ev.Kind, ev.UserID, ev.SignOut, s.deviceID, toMillis(occurred),
	)
	if isDuplicate(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// Recent returns up to limit events recorded by this device, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ports.SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, kind, user_id, sign_out, occurred_at FROM session_events
		 WHERE device_id = ?
		 ORDER BY occurred_at DESC, rowid DESC LIMIT ?`, s.deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ports.SessionEvent
	for rows.Next() {
		var (
			ev       ports.SessionEvent
			occurred int64
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.UserID, &ev.SignOut, &occurred); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.OccurredAt = fromMillis(occurred)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}
	return out, nil
}

func isDuplicate(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// Prune deletes this device's events recorded before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM session_events WHERE device_id = ? AND occurred_at < ?`,
		s.deviceID, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune session events: %w", err)
	}
	return res.RowsAffected()
}
