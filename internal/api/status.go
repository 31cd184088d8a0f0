package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/btafoya/pronto/internal/certs"
	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/session"
	"github.com/go-chi/chi/v5"
)

// StatusHandler reports engine status and history
type StatusHandler struct {
	deps *Dependencies
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{deps: deps}
}

// StatusResponse is the engine status overview
type StatusResponse struct {
	Enabled  bool              `json:"enabled"`
	Session  *session.Snapshot `json:"session,omitempty"`
	Surfaces int               `json:"surfaces"`
	SIP      *SIPStatusInfo    `json:"sip,omitempty"`
	Twilio   *TwilioStatusInfo `json:"twilio,omitempty"`
	TLS      *certs.Status     `json:"tls,omitempty"`
}

// SIPStatusInfo describes the SIP listener
type SIPStatusInfo struct {
	Running     bool `json:"running"`
	ActiveCalls int  `json:"active_calls"`
}

// TwilioStatusInfo describes the Twilio client
type TwilioStatusInfo struct {
	Healthy bool `json:"healthy"`
}

// Get returns the status overview
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{}

	if h.deps.Rules != nil {
		resp.Enabled = h.deps.Rules.Settings().Enabled
	}
	if h.deps.Sessions != nil {
		if snap, ok := h.deps.Sessions.Current(); ok {
			resp.Session = &snap
		}
	}
	if h.deps.Hub != nil {
		resp.Surfaces = h.deps.Hub.Surfaces()
	}
	if h.deps.SIP != nil {
		resp.SIP = &SIPStatusInfo{
			Running:     h.deps.SIP.IsRunning(),
			ActiveCalls: h.deps.SIP.GetActiveCallCount(),
		}
	}
	if h.deps.Twilio != nil {
		resp.Twilio = &TwilioStatusInfo{Healthy: h.deps.Twilio.IsHealthy()}
	}
	if h.deps.Certs != nil {
		st := h.deps.Certs.Status()
		resp.TLS = &st
	}

	WriteJSON(w, http.StatusOK, resp)
}

// ListSessions returns overlay session history with filters and pagination
func (h *StatusHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.SessionFilter{
		CloseReason: q.Get("reason"),
		CallSource:  q.Get("source"),
		Limit:       50,
	}

	var problems []FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			problems = append(problems, FieldError{Field: "limit", Message: "Limit must be between 1 and 500"})
		} else {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			problems = append(problems, FieldError{Field: "offset", Message: "Offset must be a non-negative integer"})
		} else {
			filter.Offset = n
		}
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			problems = append(problems, FieldError{Field: "start", Message: "Start must be RFC 3339"})
		} else {
			filter.StartDate = &t
		}
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			problems = append(problems, FieldError{Field: "end", Message: "End must be RFC 3339"})
		} else {
			filter.EndDate = &t
		}
	}
	if len(problems) > 0 {
		WriteValidationError(w, "Validation failed", problems)
		return
	}

	sessions, err := h.deps.DB.Sessions.List(r.Context(), filter)
	if err != nil {
		WriteInternalError(w)
		return
	}
	total, err := h.deps.DB.Sessions.Count(r.Context(), filter)
	if err != nil {
		WriteInternalError(w)
		return
	}

	WriteList(w, sessions, total, filter.Limit, filter.Offset)
}

// GetSession returns one history entry by session id
func (h *StatusHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.DB.Sessions.GetBySessionID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			WriteNotFoundError(w, "Session")
			return
		}
		WriteInternalError(w)
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

// ListEvents returns recent status events, newest first
func (h *StatusHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			WriteValidationError(w, "Validation failed", []FieldError{
				{Field: "limit", Message: "Limit must be between 1 and 500"},
			})
			return
		}
		limit = n
	}

	events, err := h.deps.DB.StatusEvents.GetRecent(r.Context(), limit)
	if err != nil {
		WriteInternalError(w)
		return
	}
	WriteJSON(w, http.StatusOK, events)
}
