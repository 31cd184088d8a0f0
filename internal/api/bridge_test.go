package api

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
)

func TestBridgeHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		hub        *Hub
		body       interface{}
		wantStatus int
		wantReady  int
	}{
		{"matching card", hubWithCard(&MockBridge{generation: 4}), BridgeRequest{Generation: 4}, http.StatusOK, 1},
		{"stale generation", hubWithCard(&MockBridge{generation: 4}), BridgeRequest{Generation: 3}, http.StatusConflict, 0},
		{"no card", NewHub(nil), BridgeRequest{Generation: 4}, http.StatusConflict, 0},
		{"bad body", hubWithCard(&MockBridge{generation: 4}), "nope", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBridgeHandler(&Dependencies{Hub: tt.hub})

			rr := makeRequest(t, http.MethodPost, "/bridge/ready", tt.body, http.HandlerFunc(h.Ready))
			assertStatus(t, rr, tt.wantStatus)

			if b, ok := tt.hub.currentBridge(0).(*MockBridge); ok && b.ReadyCount() != tt.wantReady {
				t.Errorf("ReadyCount = %d, want %d", b.ReadyCount(), tt.wantReady)
			}
		})
	}
}

func TestBridgeHandler_Action(t *testing.T) {
	tests := []struct {
		name       string
		req        BridgeRequest
		wantStatus int
		wantCode   string
	}{
		{"whatsapp", BridgeRequest{Generation: 9, Action: "WHATSAPP"}, http.StatusAccepted, ""},
		{"close", BridgeRequest{Generation: 9, Action: "CLOSE"}, http.StatusAccepted, ""},
		{"unknown action", BridgeRequest{Generation: 9, Action: "DANCE"}, http.StatusBadRequest, ErrCodeValidation},
		{"stale generation", BridgeRequest{Generation: 8, Action: "CLOSE"}, http.StatusConflict, ErrCodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &MockBridge{generation: 9}
			h := NewBridgeHandler(&Dependencies{Hub: hubWithCard(b)})

			rr := makeRequest(t, http.MethodPost, "/bridge/action", tt.req, http.HandlerFunc(h.Action))
			assertStatus(t, rr, tt.wantStatus)
			if tt.wantCode != "" {
				assertErrorCode(t, rr, tt.wantCode)
			}

			actions := b.Actions()
			if tt.wantStatus == http.StatusAccepted {
				if len(actions) != 1 || actions[0] != tt.req.Action {
					t.Errorf("Actions = %v, want [%s]", actions, tt.req.Action)
				}
			} else if len(actions) != 0 {
				t.Errorf("rejected action reached the bridge: %v", actions)
			}
		})
	}
}

func TestBridgeHandler_Number(t *testing.T) {
	b := &MockBridge{generation: 2, number: "+393331234567"}
	h := NewBridgeHandler(&Dependencies{Hub: hubWithCard(b)})

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantNumber string
	}{
		{"current card", "/bridge/number?generation=2", http.StatusOK, "+393331234567"},
		{"no generation", "/bridge/number", http.StatusOK, "+393331234567"},
		{"stale card", "/bridge/number?generation=1", http.StatusOK, ""},
		{"bad generation", "/bridge/number?generation=x", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := makeRequest(t, http.MethodGet, tt.url, nil, http.HandlerFunc(h.Number))
			assertStatus(t, rr, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp NumberResponse
			decodeResponse(t, rr, &resp)
			if resp.Number != tt.wantNumber {
				t.Errorf("Number = %q, want %q", resp.Number, tt.wantNumber)
			}
		})
	}
}

func TestBridgeHandler_QR(t *testing.T) {
	b := &MockBridge{generation: 5, number: "+393331234567"}
	h := NewBridgeHandler(&Dependencies{Hub: hubWithCard(b), Links: MockLinker{}})

	rr := makeRequest(t, http.MethodGet, "/bridge/qr?generation=5", nil, http.HandlerFunc(h.QR))
	assertStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s", ct)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}

	rr = makeRequest(t, http.MethodGet, "/bridge/qr?generation=5&format=dataurl", nil, http.HandlerFunc(h.QR))
	assertStatus(t, rr, http.StatusOK)
	if !strings.HasPrefix(rr.Body.String(), "data:image/png;base64,") {
		t.Errorf("body = %.40s, want a data URL", rr.Body.String())
	}
}

func TestBridgeHandler_QRWithoutNumber(t *testing.T) {
	tests := []struct {
		name string
		hub  *Hub
	}{
		{"placeholder card", hubWithCard(&MockBridge{generation: 5})},
		{"no card", NewHub(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBridgeHandler(&Dependencies{Hub: tt.hub, Links: MockLinker{}})

			rr := makeRequest(t, http.MethodGet, "/bridge/qr", nil, http.HandlerFunc(h.QR))
			assertStatus(t, rr, http.StatusNotFound)
			assertErrorCode(t, rr, ErrCodeNotFound)
		})
	}
}
