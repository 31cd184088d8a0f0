package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/btafoya/pronto/internal/models"
)

// StatusEventRepository stores conditions shown in the settings UI
type StatusEventRepository struct {
	db *sql.DB
}

// NewStatusEventRepository creates a new StatusEventRepository
func NewStatusEventRepository(db *sql.DB) *StatusEventRepository {
	return &StatusEventRepository{db: db}
}

// Create inserts a status event
func (r *StatusEventRepository) Create(ctx context.Context, e *models.StatusEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO status_events (kind, message, created_at) VALUES (?, ?, ?)
	`, e.Kind, e.Message, e.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// GetRecent returns the most recent events
func (r *StatusEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.StatusEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, message, created_at FROM status_events
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.StatusEvent
	for rows.Next() {
		e := &models.StatusEvent{}
		if err := rows.Scan(&e.ID, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOlderThan removes events created before the cutoff
func (r *StatusEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM status_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
