// Package notifications tells the user about conditions that need their
// attention, such as a call card that could not be shown
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/btafoya/pronto/internal/config"
	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/models"
)

// Notifier records status events and forwards them as Gotify pushes and
// status webhooks
type Notifier struct {
	cfg      *config.Config
	database *db.DB
	client   *http.Client
	backoff  time.Duration

	wg sync.WaitGroup
}

// NewNotifier creates a new notifier instance
func NewNotifier(cfg *config.Config, database *db.DB) *Notifier {
	return &Notifier{
		cfg:      cfg,
		database: database,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: time.Second,
	}
}

// StatusPayload is the body posted to the status webhook
type StatusPayload struct {
	Event     string    `json:"event"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OverlayUnavailable reports that a call card could not be shown. It is
// called from the event loop, so the work runs in the background.
func (n *Notifier) OverlayUnavailable(reason string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := n.Report(ctx, models.StatusOverlayUnavailable, reason); err != nil {
			slog.Warn("Failed to report overlay status", "reason", reason, "error", err)
		}
	}()
}

// Wait blocks until background reports have finished
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Report stores a status event and sends it to the configured channels.
// Delivery failures are logged; only a failure to store is returned.
func (n *Notifier) Report(ctx context.Context, kind, message string) error {
	event := &models.StatusEvent{Kind: kind, Message: message, CreatedAt: time.Now()}

	if n.database != nil {
		if err := n.database.StatusEvents.Create(ctx, event); err != nil {
			return fmt.Errorf("failed to store status event: %w", err)
		}
	}

	if n.cfg.GotifyURL != "" {
		if err := n.SendPush("Call card unavailable", message); err != nil {
			slog.Warn("Failed to send push notification", "error", err)
		}
	}

	if n.cfg.StatusWebhookURL != "" {
		payload := StatusPayload{
			Event:     "status",
			Kind:      kind,
			Message:   message,
			Timestamp: event.CreatedAt,
		}
		if err := n.SendWebhook(n.cfg.StatusWebhookURL, payload); err != nil {
			slog.Warn("Failed to send status webhook", "error", err)
		}
	}

	return nil
}

// SendPush sends a push notification via Gotify
func (n *Notifier) SendPush(title, message string) error {
	if n.cfg.GotifyURL == "" {
		return fmt.Errorf("Gotify not configured")
	}

	payload := map[string]interface{}{
		"title":    title,
		"message":  message,
		"priority": 5,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/message?token=%s", n.cfg.GotifyURL, n.cfg.GotifyToken)

	// Retry logic
	var lastErr error
	for attempt := 0; attempt < config.GotifyMaxRetries; attempt++ {
		req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonPayload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(n.backoff << uint(attempt))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}

		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		time.Sleep(n.backoff << uint(attempt))
	}

	return fmt.Errorf("failed after %d retries: %w", config.GotifyMaxRetries, lastErr)
}

// SendWebhook sends a webhook notification
func (n *Notifier) SendWebhook(url string, payload interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
