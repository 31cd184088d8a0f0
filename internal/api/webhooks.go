package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/twilio"
)

// ringHoldSeconds keeps an unforwarded Twilio call open while the card is up
const ringHoldSeconds = 60

// withheldCallers are the From values Twilio uses for callers without an id
var withheldCallers = map[string]bool{
	"anonymous":   true,
	"restricted":  true,
	"unknown":     true,
	"unavailable": true,
	"+266696687":  true, // ANONYMOUS
	"+7378742833": true, // RESTRICTED
	"+2562533":    true, // BLOCKED
	"+8656696":    true, // UNKNOWN
}

// WebhookHandler handles Twilio voice webhooks
type WebhookHandler struct {
	deps *Dependencies
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{deps: deps}
}

// VoiceIncoming turns an incoming Twilio call into a RINGING event
func (h *WebhookHandler) VoiceIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metricWebhooks.WithLabelValues("incoming", "bad_request").Inc()
		WriteValidationError(w, "Invalid request", nil)
		return
	}

	if !h.validateSignature(r) {
		metricWebhooks.WithLabelValues("incoming", "bad_signature").Inc()
		WriteForbiddenError(w)
		return
	}

	callSID := r.FormValue("CallSid")
	if callSID == "" {
		metricWebhooks.WithLabelValues("incoming", "bad_request").Inc()
		WriteValidationError(w, "Missing CallSid", nil)
		return
	}

	h.submit(callstate.StateRinging, callerNumber(r.FormValue("From")), callSID)
	metricWebhooks.WithLabelValues("incoming", "ok").Inc()

	slog.Info("Incoming Twilio call", "call_sid", callSID)
	h.respondTwiML(w, h.ringTwiML())
}

// VoiceStatus maps Twilio call status callbacks onto call-state events
func (h *WebhookHandler) VoiceStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		metricWebhooks.WithLabelValues("status", "bad_request").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.validateSignature(r) {
		metricWebhooks.WithLabelValues("status", "bad_signature").Inc()
		WriteForbiddenError(w)
		return
	}

	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")

	state, ok := stateForStatus(status)
	if !ok || callSID == "" {
		metricWebhooks.WithLabelValues("status", "ignored").Inc()
		slog.Debug("Ignoring Twilio status", "call_sid", callSID, "status", status)
		w.WriteHeader(http.StatusOK)
		return
	}

	var number string
	if state != callstate.StateIdle {
		number = callerNumber(r.FormValue("From"))
	}
	h.submit(state, number, callSID)
	metricWebhooks.WithLabelValues("status", "ok").Inc()

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) submit(state, number, callSID string) {
	if h.deps.Events == nil {
		return
	}
	ev := &callstate.RawEvent{
		State:  state,
		Number: number,
		Call:   callstate.CallRef{Source: callstate.SourceTwilio, ID: callSID},
	}
	if !h.deps.Events.Submit(ev) {
		slog.Warn("Call event dropped", "call_sid", callSID, "state", state)
	}
}

// stateForStatus maps a Twilio CallStatus to a call state
func stateForStatus(status string) (string, bool) {
	switch status {
	case twilio.StatusRinging:
		return callstate.StateRinging, true
	case twilio.StatusInProgress:
		return callstate.StateOffhook, true
	case twilio.StatusCompleted, twilio.StatusBusy, twilio.StatusFailed, twilio.StatusNoAnswer, twilio.StatusCanceled:
		return callstate.StateIdle, true
	default:
		return "", false
	}
}

// callerNumber returns "" for withheld callers
func callerNumber(from string) string {
	from = strings.TrimSpace(from)
	if withheldCallers[strings.ToLower(from)] {
		return ""
	}
	return from
}

// ringTwiML forwards the call when a target is configured and otherwise
// holds it open so the card can answer or reject it
func (h *WebhookHandler) ringTwiML() string {
	if h.deps.Config != nil && h.deps.Config.TwilioForwardTo != "" {
		return twilio.DialTwiML(h.deps.Config.TwilioForwardTo)
	}
	return `<Response><Pause length="` + strconv.Itoa(ringHoldSeconds) + `"/></Response>`
}

func (h *WebhookHandler) authToken() string {
	if h.deps.Twilio != nil {
		if token := h.deps.Twilio.AuthToken(); token != "" {
			return token
		}
	}
	if h.deps.Config != nil {
		return h.deps.Config.TwilioAuthToken
	}
	return ""
}

func (h *WebhookHandler) validateSignature(r *http.Request) bool {
	authToken := h.authToken()
	if authToken == "" {
		return false
	}

	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}

	expected := twilioSignature(authToken, requestURL(r), r.PostForm)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// twilioSignature computes the X-Twilio-Signature of a form POST
func twilioSignature(authToken, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) respondTwiML(w http.ResponseWriter, twiml string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`)
	io.WriteString(w, twiml)
}
