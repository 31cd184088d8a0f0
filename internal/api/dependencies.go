package api

import (
	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/certs"
	"github.com/btafoya/pronto/internal/config"
	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/phone"
	"github.com/btafoya/pronto/internal/rules"
	"github.com/btafoya/pronto/internal/session"
)

// Dependencies holds all dependencies for API handlers
type Dependencies struct {
	Config   *config.Config
	DB       *db.DB
	Rules    *rules.Engine
	Events   EventSink
	Sessions SessionView
	Links    ChatLinker
	Hub      *Hub
	SIP      SIPStatus
	Twilio   TwilioClient
	Certs    *certs.Manager
}

// EventSink accepts raw call-state events; implemented by the normalizer
type EventSink interface {
	Submit(ev *callstate.RawEvent) bool
}

// SessionView exposes the live session; implemented by the session controller
type SessionView interface {
	Current() (session.Snapshot, bool)
}

// ChatLinker builds chat URLs for a number; implemented by the action executor
type ChatLinker interface {
	ChatLinks(n phone.Number) (primary, fallback string, valid bool)
}

// SIPStatus interface for SIP server status
type SIPStatus interface {
	IsRunning() bool
	GetActiveCallCount() int
}

// TwilioClient interface for Twilio status and webhook validation
type TwilioClient interface {
	IsHealthy() bool
	AuthToken() string
}
