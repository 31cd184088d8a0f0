package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/btafoya/pronto/internal/callstate"
)

// EventsHandler accepts raw phone-state broadcasts from a device agent
type EventsHandler struct {
	deps *Dependencies
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(deps *Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// DeviceEventRequest is one phone-state broadcast. Number may be empty for
// withheld callers or when the device lacks the call-log grant.
type DeviceEventRequest struct {
	State  string `json:"state"`
	Number string `json:"number"`
	CallID string `json:"call_id,omitempty"`
}

// Ingest queues a device event for the normalizer
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req DeviceEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metricIntake.WithLabelValues("invalid").Inc()
		WriteValidationError(w, "Invalid request body", nil)
		return
	}

	state := strings.ToUpper(strings.TrimSpace(req.State))
	switch state {
	case callstate.StateRinging, callstate.StateIdle, callstate.StateOffhook:
	default:
		metricIntake.WithLabelValues("invalid").Inc()
		WriteValidationError(w, "Validation failed", []FieldError{
			{Field: "state", Message: "State must be RINGING, IDLE or OFFHOOK"},
		})
		return
	}

	if h.deps.Events == nil {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Event intake unavailable", nil)
		return
	}

	ok := h.deps.Events.Submit(&callstate.RawEvent{
		State:  state,
		Number: req.Number,
		Call:   callstate.CallRef{Source: callstate.SourceDevice, ID: req.CallID},
	})
	if !ok {
		metricIntake.WithLabelValues("dropped").Inc()
		WriteError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Event queue full", nil)
		return
	}

	metricIntake.WithLabelValues("accepted").Inc()
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
