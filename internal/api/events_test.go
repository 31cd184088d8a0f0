package api

import (
	"net/http"
	"testing"

	"github.com/btafoya/pronto/internal/callstate"
)

func TestEventsHandler_Ingest(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantEvent  *callstate.RawEvent
	}{
		{
			name:       "ringing",
			body:       DeviceEventRequest{State: "RINGING", Number: "+393331234567", CallID: "c1"},
			wantStatus: http.StatusAccepted,
			wantEvent: &callstate.RawEvent{
				State:  callstate.StateRinging,
				Number: "+393331234567",
				Call:   callstate.CallRef{Source: callstate.SourceDevice, ID: "c1"},
			},
		},
		{
			name:       "lower case state",
			body:       DeviceEventRequest{State: " offhook "},
			wantStatus: http.StatusAccepted,
			wantEvent: &callstate.RawEvent{
				State: callstate.StateOffhook,
				Call:  callstate.CallRef{Source: callstate.SourceDevice},
			},
		},
		{
			name:       "ringing without number",
			body:       DeviceEventRequest{State: "RINGING"},
			wantStatus: http.StatusAccepted,
			wantEvent: &callstate.RawEvent{
				State: callstate.StateRinging,
				Call:  callstate.CallRef{Source: callstate.SourceDevice},
			},
		},
		{
			name:       "unknown state",
			body:       DeviceEventRequest{State: "HOLD"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid body",
			body:       []int{1},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &MockEventSink{}
			h := NewEventsHandler(&Dependencies{Events: sink})

			rr := makeRequest(t, http.MethodPost, "/api/events", tt.body, http.HandlerFunc(h.Ingest))
			assertStatus(t, rr, tt.wantStatus)

			events := sink.Events()
			if tt.wantEvent == nil {
				if len(events) != 0 {
					t.Errorf("expected no event, got %+v", events)
				}
				return
			}
			if len(events) != 1 || events[0] != *tt.wantEvent {
				t.Errorf("events = %+v, want %+v", events, *tt.wantEvent)
			}
		})
	}
}

func TestEventsHandler_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		sink EventSink
	}{
		{"no intake", nil},
		{"queue full", &MockEventSink{full: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewEventsHandler(&Dependencies{Events: tt.sink})

			rr := makeRequest(t, http.MethodPost, "/api/events", DeviceEventRequest{State: "IDLE"}, http.HandlerFunc(h.Ingest))
			assertStatus(t, rr, http.StatusServiceUnavailable)
			assertErrorCode(t, rr, ErrCodeServiceUnavailable)
		})
	}
}
