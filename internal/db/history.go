package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/btafoya/pronto/internal/models"
	"github.com/btafoya/pronto/internal/session"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository stores the history of closed call cards
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, session_id, call_source, call_id, display_number, placeholder_committed, started_at, activated_at, ended_at, duration_ms, close_reason`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.OverlaySession, error) {
	s := &models.OverlaySession{}
	var activated sql.NullTime
	err := row.Scan(&s.ID, &s.SessionID, &s.CallSource, &s.CallID, &s.DisplayNumber, &s.PlaceholderCommitted,
		&s.StartedAt, &activated, &s.EndedAt, &s.DurationMs, &s.CloseReason)
	if err != nil {
		return nil, err
	}
	if activated.Valid {
		t := activated.Time
		s.ActivatedAt = &t
	}
	return s, nil
}

// Create inserts a closed session
func (r *SessionRepository) Create(ctx context.Context, s *models.OverlaySession) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO overlay_sessions (session_id, call_source, call_id, display_number, placeholder_committed, started_at, activated_at, ended_at, duration_ms, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SessionID, s.CallSource, s.CallID, s.DisplayNumber, s.PlaceholderCommitted, s.StartedAt, s.ActivatedAt, s.EndedAt, s.DurationMs, s.CloseReason)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

// GetBySessionID retrieves a session by its card identifier
func (r *SessionRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.OverlaySession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM overlay_sessions WHERE session_id = ?`, sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SessionFilter holds filter options for listing sessions
type SessionFilter struct {
	CloseReason string
	CallSource  string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

func (f SessionFilter) where() (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if f.CloseReason != "" {
		clause += " AND close_reason = ?"
		args = append(args, f.CloseReason)
	}
	if f.CallSource != "" {
		clause += " AND call_source = ?"
		args = append(args, f.CallSource)
	}
	if f.StartDate != nil {
		clause += " AND started_at >= ?"
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		clause += " AND started_at <= ?"
		args = append(args, *f.EndDate)
	}
	return clause, args
}

// List returns sessions newest first with optional filtering and pagination
func (r *SessionRepository) List(ctx context.Context, filter SessionFilter) ([]*models.OverlaySession, error) {
	where, args := filter.where()
	query := `SELECT ` + sessionColumns + ` FROM overlay_sessions` + where + " ORDER BY started_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.OverlaySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Count returns the number of sessions matching the filter
func (r *SessionRepository) Count(ctx context.Context, filter SessionFilter) (int, error) {
	where, args := filter.where()
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM overlay_sessions`+where, args...).Scan(&count)
	return count, err
}

// DeleteOlderThan removes sessions that ended before the cutoff
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM overlay_sessions WHERE ended_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecordSession stores a closed session from the controller
func (r *SessionRepository) RecordSession(ctx context.Context, rec session.Record) error {
	s := &models.OverlaySession{
		SessionID:            rec.ID,
		CallSource:           rec.Call.Source,
		CallID:               rec.Call.ID,
		DisplayNumber:        string(rec.DisplayNumber),
		PlaceholderCommitted: rec.PlaceholderCommitted,
		StartedAt:            rec.StartedAt,
		EndedAt:              rec.EndedAt,
		DurationMs:           rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
		CloseReason:          rec.Reason,
	}
	if !rec.ActivatedAt.IsZero() {
		t := rec.ActivatedAt
		s.ActivatedAt = &t
	}
	return r.Create(ctx, s)
}
