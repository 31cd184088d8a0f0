package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/btafoya/pronto/internal/action"
	"github.com/btafoya/pronto/internal/phone"
	qrcode "github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

// BridgeHandler serves the HTTP fallbacks of the surface bridge for
// surfaces that cannot hold a WebSocket open
type BridgeHandler struct {
	deps *Dependencies
}

// NewBridgeHandler creates a new BridgeHandler
func NewBridgeHandler(deps *Dependencies) *BridgeHandler {
	return &BridgeHandler{deps: deps}
}

// BridgeRequest is the body of the bridge POST endpoints
type BridgeRequest struct {
	Generation uint64 `json:"generation"`
	Action     string `json:"action,omitempty"`
}

// NumberResponse carries the committed number of the card on screen
type NumberResponse struct {
	Generation uint64 `json:"generation"`
	Number     string `json:"number"`
}

// Ready completes the surface handshake
func (h *BridgeHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var req BridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteValidationError(w, "Invalid request body", nil)
		return
	}

	b := h.deps.Hub.currentBridge(req.Generation)
	if b == nil {
		WriteConflictError(w, "No matching card on screen")
		return
	}
	b.Ready()

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Action runs a card button
func (h *BridgeHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req BridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteValidationError(w, "Invalid request body", nil)
		return
	}

	if action.ParseAction(req.Action) == action.Unknown {
		WriteValidationError(w, "Validation failed", []FieldError{
			{Field: "action", Message: "Action must be one of WHATSAPP, ANSWER, REJECT, CLOSE"},
		})
		return
	}

	b := h.deps.Hub.currentBridge(req.Generation)
	if b == nil {
		WriteConflictError(w, "No matching card on screen")
		return
	}
	b.PerformAction(req.Action)

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Number returns the committed number, empty before commit
func (h *BridgeHandler) Number(w http.ResponseWriter, r *http.Request) {
	gen, ok := generationParam(w, r)
	if !ok {
		return
	}

	b := h.deps.Hub.currentBridge(gen)
	if b == nil {
		WriteJSON(w, http.StatusOK, NumberResponse{Generation: gen})
		return
	}

	WriteJSON(w, http.StatusOK, NumberResponse{Generation: b.Generation(), Number: b.PhoneNumber()})
}

// QR renders the chat link of the caller on screen as a QR code, for
// opening the chat on another device
func (h *BridgeHandler) QR(w http.ResponseWriter, r *http.Request) {
	gen, ok := generationParam(w, r)
	if !ok {
		return
	}

	b := h.deps.Hub.currentBridge(gen)
	if b == nil || b.PhoneNumber() == "" {
		WriteNotFoundError(w, "Caller")
		return
	}
	if h.deps.Links == nil {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Chat links unavailable", nil)
		return
	}

	_, link, _ := h.deps.Links.ChatLinks(phone.Number(b.PhoneNumber()))

	data, contentType, err := generateQRCode(link, r.URL.Query().Get("format"))
	if err != nil {
		WriteInternalError(w)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func generationParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("generation")
	if raw == "" {
		return 0, true
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		WriteValidationError(w, "Invalid generation", nil)
		return 0, false
	}
	return gen, true
}

// nopCloser wraps an io.Writer with a no-op Close method
type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

// generateQRCode creates a PNG QR code for url, raw or as a data URL
func generateQRCode(url string, format string) ([]byte, string, error) {
	qrc, err := qrcode.New(url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create QR code: %w", err)
	}

	var buf bytes.Buffer
	writer := standard.NewWithWriter(nopCloser{&buf}, standard.WithQRWidth(8))
	if err := qrc.Save(writer); err != nil {
		return nil, "", fmt.Errorf("failed to save QR code: %w", err)
	}

	if format == "dataurl" {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
		return []byte(dataURL), "text/plain", nil
	}
	return buf.Bytes(), "image/png", nil
}
