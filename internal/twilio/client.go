// Package twilio provides call control and liveness checks for calls that
// arrive through a Twilio number
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/config"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	ErrNotInitialized = errors.New("twilio client not initialized")
	ErrNoAnswerTarget = errors.New("no answer URL or forward number configured")
	ErrWrongSource    = errors.New("call does not belong to twilio")
)

// Twilio call statuses
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// callAPI is the subset of the Twilio REST API used by the client
type callAPI interface {
	FetchCall(sid string, params *twilioApi.FetchCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
	FetchAccount(sid string) (*twilioApi.ApiV2010Account, error)
}

// Client wraps the Twilio API client with retry logic and health monitoring
type Client struct {
	api          callAPI
	accountSID   string
	authToken    string
	mu           sync.RWMutex
	healthy      bool
	lastCheck    time.Time
	failureCount int
	backoff      time.Duration
	cfg          *config.Config
}

// NewClient creates a new Twilio client
func NewClient(cfg *config.Config) *Client {
	c := &Client{
		cfg:     cfg,
		healthy: false,
		backoff: 250 * time.Millisecond,
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		c.UpdateCredentials(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	}

	return c
}

// UpdateCredentials updates the Twilio credentials and reinitializes the client
func (c *Client) UpdateCredentials(accountSID, authToken string) {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.accountSID = accountSID
	c.authToken = authToken
	c.api = rest.Api
	c.healthy = true
	c.failureCount = 0
}

// AuthToken returns the token used to validate webhook signatures
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// IsHealthy returns the current health status of the Twilio connection
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy && c.api != nil
}

func (c *Client) current() (callAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, ErrNotInitialized
	}
	return c.api, nil
}

// Accept answers a ringing call by redirecting it to the answer URL, or
// by dialing the forward number when no URL is configured
func (c *Client) Accept(ctx context.Context, ref callstate.CallRef) error {
	if ref.Source != callstate.SourceTwilio {
		return ErrWrongSource
	}

	params := &twilioApi.UpdateCallParams{}
	switch {
	case c.cfg.TwilioAnswerURL != "":
		params.SetUrl(c.cfg.TwilioAnswerURL)
		params.SetMethod("POST")
	case c.cfg.TwilioForwardTo != "":
		params.SetTwiml(DialTwiML(c.cfg.TwilioForwardTo))
	default:
		return ErrNoAnswerTarget
	}

	return c.updateCall(ctx, ref.ID, params)
}

// End hangs up the call
func (c *Client) End(ctx context.Context, ref callstate.CallRef) error {
	if ref.Source != callstate.SourceTwilio {
		return ErrWrongSource
	}

	params := &twilioApi.UpdateCallParams{}
	params.SetStatus(StatusCompleted)

	return c.updateCall(ctx, ref.ID, params)
}

func (c *Client) updateCall(ctx context.Context, sid string, params *twilioApi.UpdateCallParams) error {
	api, err := c.current()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < config.TwilioMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := api.UpdateCall(sid, params)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err
		c.recordFailure()
		slog.Debug("Twilio call update failed", "call_sid", sid, "attempt", attempt+1, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff << uint(attempt)):
		}
	}

	return fmt.Errorf("failed after %d retries: %w", config.TwilioMaxRetries, lastErr)
}

// CallActive reports whether the call is still queued, ringing or in
// progress
func (c *Client) CallActive(ctx context.Context, ref callstate.CallRef) (bool, error) {
	if ref.Source != callstate.SourceTwilio {
		return false, ErrWrongSource
	}
	api, err := c.current()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	resp, err := api.FetchCall(ref.ID, nil)
	if err != nil {
		c.recordFailure()
		return false, fmt.Errorf("twilio API error: %w", err)
	}
	c.recordSuccess()

	if resp.Status == nil {
		return false, fmt.Errorf("no status returned from Twilio")
	}
	return IsLiveStatus(*resp.Status), nil
}

// IsLiveStatus reports whether a Twilio call status means the call has not
// ended yet
func IsLiveStatus(status string) bool {
	switch status {
	case StatusQueued, StatusRinging, StatusInProgress:
		return true
	default:
		return false
	}
}

// DialTwiML builds the TwiML that bridges the call to number
func DialTwiML(number string) string {
	return `<Response><Dial>` + escapeXML(number) + `</Dial></Response>`
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}

// Health monitoring helpers

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.lastCheck = time.Now()

	if c.failureCount >= config.TwilioMaxRetries {
		c.healthy = false
	}
}

// CheckHealth performs a health check by validating credentials
func (c *Client) CheckHealth(ctx context.Context) error {
	api, err := c.current()
	if err != nil {
		return err
	}

	c.mu.RLock()
	accountSID := c.accountSID
	c.mu.RUnlock()

	if _, err := api.FetchAccount(accountSID); err != nil {
		c.recordFailure()
		return err
	}

	c.recordSuccess()
	return nil
}

// Start starts the background health checker
func (c *Client) Start(ctx context.Context) {
	go c.healthChecker(ctx)
}

func (c *Client) healthChecker(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckHealth(ctx); err != nil {
				slog.Warn("Twilio health check failed", "error", err)
			}
		}
	}
}
