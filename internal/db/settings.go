package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btafoya/pronto/internal/models"
)

var ErrSettingNotFound = errors.New("setting not found")

// Settings keys
const (
	SettingEnabled           = "enabled"
	SettingOverlayGrant      = "grant.overlay"
	SettingCallControlGrant  = "grant.call_control"
	SettingQuietHoursEnabled = "quiet_hours.enabled"
	SettingQuietHoursStart   = "quiet_hours.start"
	SettingQuietHoursEnd     = "quiet_hours.end"
)

// SettingsRepository handles database operations for settings
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves a setting value by key
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetWithDefault retrieves a setting value or returns the default if not found
func (r *SettingsRepository) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := r.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetBool retrieves a boolean setting
func (r *SettingsRepository) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(r.GetWithDefault(ctx, key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return b
}

// Set creates or updates a setting
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// Delete removes a setting
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}

// GetAll retrieves all settings
func (r *SettingsRepository) GetAll(ctx context.Context) ([]*models.Setting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		s := &models.Setting{}
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// SetMultiple sets multiple settings in a transaction
func (r *SettingsRepository) SetMultiple(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, key, value, now); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Load reads the typed settings. Missing keys fall back to enabled with
// both grants given and quiet hours off.
func (r *SettingsRepository) Load(ctx context.Context) (models.Settings, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return models.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	values := make(map[string]string, len(all))
	for _, s := range all {
		values[s.Key] = s.Value
	}

	boolOr := func(key string, def bool) bool {
		if v, ok := values[key]; ok {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return def
	}

	return models.Settings{
		Enabled:            boolOr(SettingEnabled, true),
		OverlayGranted:     boolOr(SettingOverlayGrant, true),
		CallControlGranted: boolOr(SettingCallControlGrant, true),
		QuietHoursEnabled:  boolOr(SettingQuietHoursEnabled, false),
		QuietHoursStart:    values[SettingQuietHoursStart],
		QuietHoursEnd:      values[SettingQuietHoursEnd],
	}, nil
}

// Save writes the typed settings
func (r *SettingsRepository) Save(ctx context.Context, s models.Settings) error {
	return r.SetMultiple(ctx, map[string]string{
		SettingEnabled:           strconv.FormatBool(s.Enabled),
		SettingOverlayGrant:      strconv.FormatBool(s.OverlayGranted),
		SettingCallControlGrant:  strconv.FormatBool(s.CallControlGranted),
		SettingQuietHoursEnabled: strconv.FormatBool(s.QuietHoursEnabled),
		SettingQuietHoursStart:   s.QuietHoursStart,
		SettingQuietHoursEnd:     s.QuietHoursEnd,
	})
}
