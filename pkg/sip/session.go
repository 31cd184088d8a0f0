package sip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
)

// CallState represents the current state of a call
type CallState string

const (
	CallStateRinging    CallState = "ringing"
	CallStateActive     CallState = "active"
	CallStateTerminated CallState = "terminated"
)

// responder is the part of a server transaction the handlers need
type responder interface {
	Respond(res *sip.Response) error
}

// CallSession tracks one incoming call from INVITE to BYE or CANCEL
type CallSession struct {
	mu sync.RWMutex

	CallID     string `json:"call_id"`
	FromTag    string `json:"from_tag"`
	RemoteURI  string `json:"remote_uri"`
	FromNumber string `json:"from_number"`

	State CallState `json:"state"`

	CreatedAt    time.Time  `json:"created_at"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`

	RemoteSDP []byte `json:"-"`

	invite   *sip.Request
	inviteTx responder
}

// NewCallSession creates a new call session from an INVITE request
func NewCallSession(req *sip.Request, tx responder) *CallSession {
	session := &CallSession{
		CallID:     req.CallID().Value(),
		FromTag:    getTag(req.From()),
		RemoteURI:  req.From().Address.String(),
		FromNumber: CallerNumber(req),
		State:      CallStateRinging,
		CreatedAt:  time.Now(),
		invite:     req,
		inviteTx:   tx,
	}

	if body := req.Body(); len(body) > 0 {
		session.RemoteSDP = body
	}

	return session
}

// SetState transitions the call to a new state with validation
func (s *CallSession) SetState(newState CallState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isValidTransition(newState) {
		return fmt.Errorf("invalid state transition: %s -> %s", s.State, newState)
	}

	previous := s.State
	s.State = newState

	now := time.Now()
	switch newState {
	case CallStateActive:
		if s.AnsweredAt == nil {
			s.AnsweredAt = &now
		}
	case CallStateTerminated:
		s.TerminatedAt = &now
	}

	slog.Debug("Call state changed",
		"call_id", s.CallID,
		"from_state", previous,
		"to_state", newState,
	)

	return nil
}

func (s *CallSession) isValidTransition(newState CallState) bool {
	switch s.State {
	case CallStateRinging:
		return newState == CallStateActive || newState == CallStateTerminated
	case CallStateActive:
		return newState == CallStateTerminated
	default:
		return false
	}
}

// GetState returns the current call state
func (s *CallSession) GetState() CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// IsActive returns true if the call is not terminated
func (s *CallSession) IsActive() bool {
	return s.GetState() != CallStateTerminated
}

// Duration returns the answered call duration in seconds
func (s *CallSession) Duration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.AnsweredAt == nil {
		return 0
	}

	endTime := time.Now()
	if s.TerminatedAt != nil {
		endTime = *s.TerminatedAt
	}

	return int(endTime.Sub(*s.AnsweredAt).Seconds())
}

// respond answers the pending INVITE transaction
func (s *CallSession) respond(code sip.StatusCode, reason string, body []byte) error {
	s.mu.RLock()
	req, tx := s.invite, s.inviteTx
	s.mu.RUnlock()

	if req == nil || tx == nil {
		return fmt.Errorf("no pending INVITE for call %s", s.CallID)
	}

	res := sip.NewResponseFromRequest(req, code, reason, body)
	if body != nil {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	return tx.Respond(res)
}

// SessionManager manages all tracked call sessions
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession // keyed by CallID
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*CallSession),
	}
}

// Add adds a new session to the manager
func (m *SessionManager) Add(session *CallSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.CallID] = session

	slog.Debug("Session added", "call_id", session.CallID, "state", session.State)
}

// Get retrieves a session by CallID
func (m *SessionManager) Get(callID string) *CallSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[callID]
}

// Remove removes a session from the manager
func (m *SessionManager) Remove(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, callID)
}

// Count returns the number of live sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.sessions {
		if s.IsActive() {
			count++
		}
	}
	return count
}

// Cleanup removes terminated sessions older than the given duration
func (m *SessionManager) Cleanup(ctx context.Context, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for callID, session := range m.sessions {
		session.mu.RLock()
		expired := session.State == CallStateTerminated && session.TerminatedAt != nil && session.TerminatedAt.Before(cutoff)
		session.mu.RUnlock()

		if expired {
			delete(m.sessions, callID)
			removed++
		}
	}

	return removed
}

// Helper functions

func getTag(header *sip.FromHeader) string {
	if header == nil || header.Params == nil {
		return ""
	}
	if tag, ok := header.Params.Get("tag"); ok {
		return tag
	}
	return ""
}

// anonymousUsers are user parts that carry no caller identity
var anonymousUsers = map[string]bool{
	"anonymous":   true,
	"unknown":     true,
	"private":     true,
	"restricted":  true,
	"unavailable": true,
	"blocked":     true,
}

// CallerNumber returns the caller's number from P-Asserted-Identity or
// From. It returns "" for withheld callers.
func CallerNumber(req *sip.Request) string {
	if h := req.GetHeader("Privacy"); h != nil {
		privacy := strings.ToLower(h.Value())
		if strings.Contains(privacy, "id") || strings.Contains(privacy, "user") {
			return ""
		}
	}

	if h := req.GetHeader("P-Asserted-Identity"); h != nil {
		if user := extractNumber(h.Value()); user != "" {
			return checkAnonymous(user)
		}
	}

	from := req.From()
	if from == nil {
		return ""
	}
	if strings.EqualFold(from.Address.Host, "anonymous.invalid") {
		return ""
	}
	return checkAnonymous(from.Address.User)
}

func checkAnonymous(user string) string {
	if anonymousUsers[strings.ToLower(user)] {
		return ""
	}
	return user
}

// extractNumber pulls the user part out of "<sip:user@host>" or "tel:+39..."
func extractNumber(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.Index(uri, "<"); i >= 0 {
		uri = uri[i+1:]
		if j := strings.Index(uri, ">"); j >= 0 {
			uri = uri[:j]
		}
	}

	for _, scheme := range []string{"sips:", "sip:", "tel:"} {
		if strings.HasPrefix(strings.ToLower(uri), scheme) {
			uri = uri[len(scheme):]
			break
		}
	}

	if i := strings.IndexAny(uri, "@;"); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

// Status codes used for call control
const (
	statusRequestTerminated sip.StatusCode = 487
	statusDecline           sip.StatusCode = 603
)
