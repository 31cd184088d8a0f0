// Package models defines the persisted models for PRONTO
package models

import (
	"time"
)

// Setting represents a key-value settings entry
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings is the typed view of the settings table consumed by the call-card core
type Settings struct {
	Enabled            bool   `json:"enabled"`
	OverlayGranted     bool   `json:"overlay_granted"`
	CallControlGranted bool   `json:"call_control_granted"`
	QuietHoursEnabled  bool   `json:"quiet_hours_enabled"`
	QuietHoursStart    string `json:"quiet_hours_start,omitempty"` // "HH:MM"
	QuietHoursEnd      string `json:"quiet_hours_end,omitempty"`   // "HH:MM"
}

// OverlaySession is the history entry of one closed call card
type OverlaySession struct {
	ID                   int64      `json:"id"`
	SessionID            string     `json:"session_id"`
	CallSource           string     `json:"call_source"` // "sip", "twilio", "device"
	CallID               string     `json:"call_id,omitempty"`
	DisplayNumber        string     `json:"display_number"`
	PlaceholderCommitted bool       `json:"placeholder_committed"`
	StartedAt            time.Time  `json:"started_at"`
	ActivatedAt          *time.Time `json:"activated_at,omitempty"`
	EndedAt              time.Time  `json:"ended_at"`
	DurationMs           int64      `json:"duration_ms"`
	CloseReason          string     `json:"close_reason"`
}

// StatusEvent is a condition surfaced to the settings UI for user remediation
type StatusEvent struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"` // "overlay_unavailable"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Status event kinds
const (
	StatusOverlayUnavailable = "overlay_unavailable"
)
