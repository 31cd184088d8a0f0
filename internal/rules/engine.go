// Package rules decides whether an incoming call may raise a call card and
// which capabilities the user has granted
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/models"
)

// Deny reasons returned by Allow
const (
	ReasonDisabled   = "disabled"
	ReasonQuietHours = "quiet_hours"
)

// Engine evaluates the settings gate against a cached copy of the settings
// table. The cache is read from the event loop and must never block.
type Engine struct {
	database *db.DB
	timezone *time.Location
	settings atomic.Pointer[models.Settings]
}

// NewEngine creates a new rules engine. Until the first Refresh the engine
// uses the seeded defaults: enabled with both grants given.
func NewEngine(database *db.DB, timezone string) *Engine {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	e := &Engine{
		database: database,
		timezone: loc,
	}
	e.Apply(models.Settings{Enabled: true, OverlayGranted: true, CallControlGranted: true})
	return e
}

// Refresh reloads the settings from the database
func (e *Engine) Refresh(ctx context.Context) error {
	if e.database == nil {
		return nil
	}
	s, err := e.database.Settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh settings: %w", err)
	}
	e.Apply(s)
	return nil
}

// Apply replaces the cached settings
func (e *Engine) Apply(s models.Settings) {
	e.settings.Store(&s)
}

// Settings returns the cached settings
func (e *Engine) Settings() models.Settings {
	return *e.settings.Load()
}

// Run refreshes the settings on every tick until ctx is done, so writes made
// by other processes are picked up.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				slog.Warn("Settings refresh failed", "error", err)
			}
		}
	}
}

// Allow reports whether a call arriving at now may open a card
func (e *Engine) Allow(now time.Time) (bool, string) {
	s := e.Settings()
	if !s.Enabled {
		return false, ReasonDisabled
	}
	if s.QuietHoursEnabled && e.inQuietHours(s, now) {
		return false, ReasonQuietHours
	}
	return true, ""
}

// OverlayAllowed reports whether the user granted drawing over other apps
func (e *Engine) OverlayAllowed() bool {
	return e.Settings().OverlayGranted
}

// CallControlAllowed reports whether the user granted answering and
// rejecting calls
func (e *Engine) CallControlAllowed() bool {
	return e.Settings().CallControlGranted
}

func (e *Engine) inQuietHours(s models.Settings, now time.Time) bool {
	start, err := parseClock(s.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(s.QuietHoursEnd)
	if err != nil {
		return false
	}

	local := now.In(e.timezone)
	minute := local.Hour()*60 + local.Minute()

	if start == end {
		return false
	}
	if start < end {
		// Same day range (e.g., 13:00-15:00)
		return minute >= start && minute < end
	}
	// Overnight range (e.g., 22:00-07:00)
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" into minutes after midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateSettings validates settings written by the settings UI
func ValidateSettings(s models.Settings) []string {
	var errors []string

	if s.QuietHoursEnabled {
		if _, err := parseClock(s.QuietHoursStart); err != nil {
			errors = append(errors, "Quiet hours start must be HH:MM")
		}
		if _, err := parseClock(s.QuietHoursEnd); err != nil {
			errors = append(errors, "Quiet hours end must be HH:MM")
		}
	}

	return errors
}
