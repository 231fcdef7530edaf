package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/junghoonshin3/bemypet/internal/errors"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// ErrDBRequired is returned when a repository is built without a database handle.
var ErrDBRequired = errors.New("database handle is required")

// SessionEventRepo stores session transitions in Postgres.
type SessionEventRepo struct {
	db       *sql.DB
	deviceID string
	now      func() time.Time
}

var _ ports.SessionHistory = (*SessionEventRepo)(nil)

// SessionEventRepoOptions configures SessionEventRepo.
type SessionEventRepoOptions struct {
	// DeviceID tags every recorded event.
	DeviceID string
	Now      func() time.Time
}

// NewSessionEventRepo creates a repository over db.
func NewSessionEventRepo(db *sql.DB, opts SessionEventRepoOptions) (*SessionEventRepo, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionEventRepo{db: db, deviceID: strings.TrimSpace(opts.DeviceID), now: now}, nil
}

// Record inserts ev. Replaying an event with the same ID is a no-op.
func (r *SessionEventRepo) Record(ctx context.Context, ev ports.SessionEvent) error {
	if strings.TrimSpace(ev.Kind) == "" {
		return apperrors.ValidationField("kind", "session event kind is required")
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return apperrors.ValidationField("id", "session event id must be a uuid")
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = r.now()
	}

	const q = `
		INSERT INTO session_events (id, kind, user_id, sign_out, device_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, q, id, ev.Kind, ev.UserID, ev.SignOut, r.deviceID, occurred.UTC()); err != nil {
		return fmt.Errorf("insert session event: %w", apperrors.MapDBError(err))
	}
	return nil
}

// SessionEventFilter narrows List.
type SessionEventFilter struct {
	// DeviceID limits results to one device when set.
	DeviceID string
	UserID   string
	Since    time.Time
	// Limit defaults to 50 and is capped at 1000.
	Limit int
}

// List returns recorded events, newest first.
func (r *SessionEventRepo) List(ctx context.Context, f SessionEventFilter) ([]ports.SessionEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	var (
		where []string
		args  []any
	)
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		where = append(where, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	args = append(args, limit)

	q := `SELECT id, kind, user_id, sign_out, occurred_at FROM session_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []ports.SessionEvent
	for rows.Next() {
		var ev ports.SessionEvent
		if scanErr := rows.Scan(&ev.ID, &ev.Kind, &ev.UserID, &ev.SignOut, &ev.OccurredAt); scanErr != nil {
			return nil, fmt.Errorf("scan session event: %w", scanErr)
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

// Recent returns the newest events recorded by this device.
func (r *SessionEventRepo) Recent(ctx context.Context, limit int) ([]ports.SessionEvent, error) {
	return r.List(ctx, SessionEventFilter{DeviceID: r.deviceID, Limit: limit})
}

// Prune deletes this device's events that occurred before cutoff and reports
// how many were removed.
func (r *SessionEventRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM session_events WHERE device_id = $1 AND occurred_at < $2`,
		r.deviceID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune session events: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune session events: %w", err)
	}
	return n, nil
}
