package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btafoya/pronto/internal/config"
	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/models"
)

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

func newTestNotifier(cfg *config.Config, database *db.DB) *Notifier {
	n := NewNotifier(cfg, database)
	n.backoff = time.Millisecond
	return n
}

func TestNewNotifier(t *testing.T) {
	database := setupTestDB(t)
	cfg := &config.Config{}

	notifier := NewNotifier(cfg, database)

	if notifier == nil {
		t.Fatal("NewNotifier should not return nil")
	}
	if notifier.cfg != cfg {
		t.Error("Config not properly set")
	}
	if notifier.database != database {
		t.Error("Database not properly set")
	}
	if notifier.client == nil {
		t.Error("HTTP client should be initialized")
	}
}

func TestNotifier_SendPush_NotConfigured(t *testing.T) {
	notifier := newTestNotifier(&config.Config{}, nil)

	err := notifier.SendPush("Test Title", "Test message")
	if err == nil {
		t.Fatal("SendPush should error when Gotify not configured")
	}
	if err.Error() != "Gotify not configured" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestNotifier_SendPush_Success(t *testing.T) {
	var receivedPayload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if token := r.URL.Query().Get("token"); token != "test-token" {
			t.Errorf("Expected token=test-token, got %s", token)
		}

		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &receivedPayload)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := newTestNotifier(&config.Config{GotifyURL: server.URL, GotifyToken: "test-token"}, nil)

	if err := notifier.SendPush("Test Title", "Test message"); err != nil {
		t.Errorf("SendPush failed: %v", err)
	}
	if receivedPayload["title"] != "Test Title" {
		t.Errorf("Expected title=Test Title, got %v", receivedPayload["title"])
	}
	if receivedPayload["priority"] != float64(5) {
		t.Errorf("Expected priority=5, got %v", receivedPayload["priority"])
	}
}

func TestNotifier_SendPush_Retries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := newTestNotifier(&config.Config{GotifyURL: server.URL}, nil)

	if err := notifier.SendPush("title", "message"); err == nil {
		t.Error("SendPush should error on server error")
	}
	if got := calls.Load(); got != config.GotifyMaxRetries {
		t.Errorf("Expected %d attempts, got %d", config.GotifyMaxRetries, got)
	}
}

func TestNotifier_SendWebhook(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"bad request", http.StatusBadRequest, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("Expected application/json content type, got %s", r.Header.Get("Content-Type"))
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			notifier := newTestNotifier(&config.Config{}, nil)
			err := notifier.SendWebhook(server.URL, map[string]string{"event": "test"})
			if (err != nil) != tt.wantErr {
				t.Errorf("SendWebhook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNotifier_SendWebhook_InvalidURL(t *testing.T) {
	notifier := newTestNotifier(&config.Config{}, nil)

	if err := notifier.SendWebhook("http://127.0.0.1:0/nowhere", map[string]string{}); err == nil {
		t.Error("SendWebhook should error for unreachable URL")
	}
}

func TestNotifier_OverlayUnavailable(t *testing.T) {
	var pushed, hooked atomic.Int32
	var payload StatusPayload

	gotify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushed.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer gotify.Close()

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooked.Add(1)
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	database := setupTestDB(t)
	cfg := &config.Config{GotifyURL: gotify.URL, StatusWebhookURL: webhook.URL}
	notifier := newTestNotifier(cfg, database)

	notifier.OverlayUnavailable("overlay permission missing")
	notifier.Wait()

	if pushed.Load() != 1 {
		t.Errorf("Expected 1 push, got %d", pushed.Load())
	}
	if hooked.Load() != 1 {
		t.Errorf("Expected 1 webhook, got %d", hooked.Load())
	}
	if payload.Kind != models.StatusOverlayUnavailable || payload.Message != "overlay permission missing" {
		t.Errorf("Unexpected webhook payload: %+v", payload)
	}

	events, err := database.StatusEvents.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Failed to list status events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != models.StatusOverlayUnavailable {
		t.Errorf("Expected one overlay_unavailable event, got %+v", events)
	}
}

func TestNotifier_Report_DeliveryFailureIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	database := setupTestDB(t)
	notifier := newTestNotifier(&config.Config{StatusWebhookURL: server.URL}, database)

	if err := notifier.Report(context.Background(), models.StatusOverlayUnavailable, "no surface connected"); err != nil {
		t.Errorf("Report should not fail on delivery error: %v", err)
	}
}
