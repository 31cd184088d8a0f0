// Package callstate turns the raw, duplicate-prone call-state stream
// delivered by call sources into normalized CallSignals
package callstate

import (
	"fmt"
	"strings"
	"time"

	"github.com/btafoya/pronto/internal/phone"
)

// Raw call states as delivered by sources
const (
	StateRinging = "RINGING"
	StateIdle    = "IDLE"
	StateOffhook = "OFFHOOK"
)

// Call sources
const (
	SourceSIP    = "sip"
	SourceTwilio = "twilio"
	SourceDevice = "device"
)

// CallRef identifies a physical call at its source (SIP Call-ID, Twilio
// CallSid, or whatever id the device agent supplies)
type CallRef struct {
	Source string `json:"source"`
	ID     string `json:"id,omitempty"`
}

// SameCall reports whether two refs can describe the same call. A ref
// without an id matches anything, since not every source can supply one.
func (r CallRef) SameCall(other CallRef) bool {
	if r.ID == "" || other.ID == "" {
		return true
	}
	return r.Source == other.Source && r.ID == other.ID
}

func (r CallRef) String() string {
	if r.ID == "" {
		return r.Source
	}
	return r.Source + ":" + r.ID
}

// RawEvent is one call-state transition as reported by a source
type RawEvent struct {
	State  string
	Number string
	Call   CallRef
}

// Kind classifies a CallSignal
type Kind int

const (
	KindRingingUnknown Kind = iota + 1
	KindRingingKnown
	KindIdle
	KindOffhook
)

func (k Kind) String() string {
	switch k {
	case KindRingingUnknown:
		return "ringing_unknown"
	case KindRingingKnown:
		return "ringing_known"
	case KindIdle:
		return "idle"
	case KindOffhook:
		return "offhook"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Ends reports whether the signal terminates the call
func (k Kind) Ends() bool {
	return k == KindIdle || k == KindOffhook
}

// CallSignal is a normalized call-state transition
type CallSignal struct {
	Kind      Kind
	Number    phone.Number // only meaningful for KindRingingKnown
	Call      CallRef
	Timestamp time.Time
}

// parseState maps the loose state strings sources send to a canonical state
func parseState(s string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RINGING", "RING", "EXTRA_STATE_RINGING":
		return StateRinging, true
	case "IDLE", "ENDED", "HANGUP", "EXTRA_STATE_IDLE":
		return StateIdle, true
	case "OFFHOOK", "ANSWERED", "EXTRA_STATE_OFFHOOK":
		return StateOffhook, true
	}
	return "", false
}
