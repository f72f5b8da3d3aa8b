package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/placebot/core/logger"
	"github.com/m3rciful/placebot/internal/geo"
)

const componentDB = "db"

// PostgresStore persists sessions in the sessions table.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type sessionRow struct {
	UserID       int64           `db:"user_id"`
	DisplayName  string          `db:"display_name"`
	Handle       string          `db:"handle"`
	Latitude     sql.NullFloat64 `db:"latitude"`
	Longitude    sql.NullFloat64 `db:"longitude"`
	Category     string          `db:"category"`
	RadiusMeters int             `db:"radius_meters"`
	State        string          `db:"state"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func toRow(s *Session) sessionRow {
	row := sessionRow{
		UserID:       s.UserID,
		DisplayName:  s.DisplayName,
		Handle:       s.Handle,
		Category:     s.Category,
		RadiusMeters: s.RadiusMeters,
		State:        string(s.State),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if s.Location != nil {
		row.Latitude = sql.NullFloat64{Float64: s.Location.Lat, Valid: true}
		row.Longitude = sql.NullFloat64{Float64: s.Location.Lng, Valid: true}
	}
	return row
}

func (r sessionRow) toSession() Session {
	s := Session{
		UserID:       r.UserID,
		DisplayName:  r.DisplayName,
		Handle:       r.Handle,
		Category:     r.Category,
		RadiusMeters: r.RadiusMeters,
		State:        State(r.State),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		s.Location = &geo.Point{Lat: r.Latitude.Float64, Lng: r.Longitude.Float64}
	}
	if !s.State.Valid() {
		s.State = StateNew
	}
	return s
}

const selectColumns = `user_id, display_name, handle, latitude, longitude, category, radius_meters, state, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, userID int64) (*Session, error) {
	var row sessionRow
	err := p.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM sessions WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", userID, err)
	}
	s := row.toSession()
	return &s, nil
}

const upsertSQL = `
INSERT INTO sessions (user_id, display_name, handle, latitude, longitude, category, radius_meters, state, created_at, updated_at)
VALUES (:user_id, :display_name, :handle, :latitude, :longitude, :category, :radius_meters, :state, :created_at, :updated_at)
ON CONFLICT (user_id) DO UPDATE SET
    display_name  = EXCLUDED.display_name,
    handle        = EXCLUDED.handle,
    latitude      = EXCLUDED.latitude,
    longitude     = EXCLUDED.longitude,
    category      = EXCLUDED.category,
    radius_meters = EXCLUDED.radius_meters,
    state         = EXCLUDED.state,
    updated_at    = EXCLUDED.updated_at
RETURNING created_at`

// Upsert inserts or replaces the session. CreatedAt is preserved across updates.
func (p *PostgresStore) Upsert(ctx context.Context, s *Session) error {
	now := p.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	start := time.Now()
	query, args, err := p.db.BindNamed(upsertSQL, toRow(s))
	if err != nil {
		return fmt.Errorf("bind upsert: %w", err)
	}
	var created time.Time
	if err := p.db.QueryRowxContext(ctx, query, args...).Scan(&created); err != nil {
		logger.Warn(ctx, componentDB, "session.upsert",
			slog.Int64("user_id", s.UserID),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("upsert session %d: %w", s.UserID, err)
	}
	s.CreatedAt = created
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, componentDB, "session.upsert",
			slog.Int64("user_id", s.UserID),
			slog.String("status", "ok"),
			slog.String("state", string(s.State)),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, userID int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete session %d: %w", userID, err)
	}
	return nil
}

// List returns every stored session ordered by user id.
func (p *PostgresStore) List(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+selectColumns+` FROM sessions ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSession())
	}
	return out, nil
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT count(*) FROM sessions`); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
