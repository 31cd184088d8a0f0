// Package session owns the single overlay session that follows one
// incoming call from first ring to teardown
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/phone"
)

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StatePending
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Close reasons
const (
	ReasonCallEnded       = "call_ended"
	ReasonAnsweredElse    = "answered_elsewhere"
	ReasonUserClose       = "user_close"
	ReasonOpenChat        = "open_chat"
	ReasonAnswer          = "answer"
	ReasonReject          = "reject"
	ReasonAutoDismiss     = "auto_dismiss"
	ReasonCallNotLive     = "call_not_live"
	ReasonOverlayDeadline = "overlay_deadline"
	ReasonRenderFailed    = "render_failed"
	ReasonInternalError   = "internal_error"
	ReasonShutdown        = "shutdown"
)

// Session is the live overlay instance for one call. It is owned by the
// Controller and only ever mutated on the loop.
type Session struct {
	ID                  string
	Generation          uint64
	Call                callstate.CallRef
	DisplayNumber       phone.Number
	State               State
	StartedAt           time.Time
	ActivatedAt         time.Time
	AutoDismissDeadline time.Time
	BridgeReady         bool

	// true when the placeholder was committed as the final number
	placeholderCommitted bool
}

// Snapshot is an immutable copy of a Session handed to collaborators
type Snapshot struct {
	ID                  string            `json:"id"`
	Generation          uint64            `json:"generation"`
	Call                callstate.CallRef `json:"call"`
	DisplayNumber       phone.Number      `json:"display_number"`
	State               State             `json:"state"`
	StartedAt           time.Time         `json:"started_at"`
	ActivatedAt         time.Time         `json:"activated_at,omitempty"`
	AutoDismissDeadline time.Time         `json:"auto_dismiss_deadline,omitempty"`
	BridgeReady         bool              `json:"bridge_ready"`
}

// Committed reports whether the display number is final
func (s Snapshot) Committed() bool {
	return s.State == StateActive
}

// Snapshot copies the session
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:                  s.ID,
		Generation:          s.Generation,
		Call:                s.Call,
		DisplayNumber:       s.DisplayNumber,
		State:               s.State,
		StartedAt:           s.StartedAt,
		ActivatedAt:         s.ActivatedAt,
		AutoDismissDeadline: s.AutoDismissDeadline,
		BridgeReady:         s.BridgeReady,
	}
}

// Record is the history entry written when a session closes
type Record struct {
	ID                   string
	Call                 callstate.CallRef
	DisplayNumber        phone.Number
	PlaceholderCommitted bool
	StartedAt            time.Time
	ActivatedAt          time.Time
	EndedAt              time.Time
	Reason               string
}

// Presenter puts the card on and off screen. Implementations must be safe
// to call from the loop and must not block it.
type Presenter interface {
	Present(Snapshot)
	Update(Snapshot)
	Dismiss()
}

// Gate decides whether call events should produce a card at all
type Gate interface {
	Allow(now time.Time) (bool, string)
}

// StatusSink receives failures that need user remediation
type StatusSink interface {
	OverlayUnavailable(reason string)
}

// Recorder persists closed sessions
type Recorder interface {
	RecordSession(ctx context.Context, rec Record) error
}
