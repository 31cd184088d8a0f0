package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/phone"
	"github.com/btafoya/pronto/internal/session"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const testAdminToken = "test-admin-token"

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// hashToken hashes a token with the minimum bcrypt cost to keep tests fast
func hashToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash token: %v", err)
	}
	return string(hash)
}

// MockEventSink records submitted call events
type MockEventSink struct {
	mu     sync.Mutex
	events []callstate.RawEvent
	full   bool
}

func (m *MockEventSink) Submit(ev *callstate.RawEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.events = append(m.events, *ev)
	return true
}

func (m *MockEventSink) Events() []callstate.RawEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]callstate.RawEvent(nil), m.events...)
}

// MockBridge stands in for the bridge of the card on screen
type MockBridge struct {
	mu         sync.Mutex
	generation uint64
	number     string
	ready      int
	actions    []string
}

func (m *MockBridge) Generation() uint64 { return m.generation }

func (m *MockBridge) Ready() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready++
}

func (m *MockBridge) PerformAction(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, raw)
}

func (m *MockBridge) PhoneNumber() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.number
}

func (m *MockBridge) ReadyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *MockBridge) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.actions...)
}

// MockLinker returns fixed chat links
type MockLinker struct{}

func (MockLinker) ChatLinks(n phone.Number) (string, string, bool) {
	return "whatsapp://send?phone=" + string(n), "https://wa.me/" + string(n), true
}

// MockSessions returns a fixed snapshot
type MockSessions struct {
	snap *session.Snapshot
}

func (m MockSessions) Current() (session.Snapshot, bool) {
	if m.snap == nil {
		return session.Snapshot{}, false
	}
	return *m.snap, true
}

// MockSIP reports fixed SIP status
type MockSIP struct {
	running     bool
	activeCalls int
}

func (m MockSIP) IsRunning() bool         { return m.running }
func (m MockSIP) GetActiveCallCount() int { return m.activeCalls }

// MockTwilioClient reports fixed Twilio status
type MockTwilioClient struct {
	healthy bool
	token   string
}

func (m MockTwilioClient) IsHealthy() bool   { return m.healthy }
func (m MockTwilioClient) AuthToken() string { return m.token }

// hubWithCard returns a hub that already shows a card backed by b
func hubWithCard(b *MockBridge) *Hub {
	hub := NewHub(nil)
	hub.mu.Lock()
	hub.bridge = b
	hub.mu.Unlock()
	return hub
}

func makeRequest(t *testing.T, method, url string, body interface{}, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	return makeAuthenticatedRequest(t, method, url, body, handler, "")
}

func makeAuthenticatedRequest(t *testing.T, method, url string, body interface{}, handler http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, url, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()

	if rr.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if errResp.Error.Code != expectedCode {
		t.Errorf("Expected error code %s, got %s", expectedCode, errResp.Error.Code)
	}
}
