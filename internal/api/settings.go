package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/btafoya/pronto/internal/models"
	"github.com/btafoya/pronto/internal/rules"
)

// SettingsHandler reads and writes the settings consumed by the call-card core
type SettingsHandler struct {
	deps *Dependencies
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(deps *Dependencies) *SettingsHandler {
	return &SettingsHandler{deps: deps}
}

// Get returns the settings currently in effect
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.deps.Rules != nil {
		WriteJSON(w, http.StatusOK, h.deps.Rules.Settings())
		return
	}

	settings, err := h.deps.DB.Settings.Load(r.Context())
	if err != nil {
		WriteInternalError(w)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

// Update replaces the settings and applies them immediately
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteValidationError(w, "Invalid request body", nil)
		return
	}

	if problems := rules.ValidateSettings(req); len(problems) > 0 {
		details := make([]FieldError, 0, len(problems))
		for _, p := range problems {
			details = append(details, FieldError{Field: "quiet_hours", Message: p})
		}
		WriteValidationError(w, "Validation failed", details)
		return
	}

	if err := h.deps.DB.Settings.Save(r.Context(), req); err != nil {
		slog.Error("Failed to save settings", "error", err)
		WriteInternalError(w)
		return
	}
	if h.deps.Rules != nil {
		h.deps.Rules.Apply(req)
	}

	slog.Info("Settings updated",
		"enabled", req.Enabled,
		"overlay_granted", req.OverlayGranted,
		"call_control_granted", req.CallControlGranted,
		"quiet_hours", req.QuietHoursEnabled,
	)
	WriteJSON(w, http.StatusOK, req)
}
