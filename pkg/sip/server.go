// Package sip provides the SIP user-agent server that turns incoming
// INVITEs into call-state events, using sipgo
package sip

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btafoya/pronto/internal/action"
	"github.com/btafoya/pronto/internal/callstate"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

var ErrCallNotFound = errors.New("call not found")

// Config holds SIP server configuration
type Config struct {
	Port      int
	UserAgent string
	TLSPort   int
	TLSConfig *tls.Config
}

// EventSink receives raw call-state events
type EventSink interface {
	Submit(ev *callstate.RawEvent) bool
}

// Server wraps sipgo server with PRONTO call tracking
type Server struct {
	cfg      Config
	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	sessions *SessionManager
	sink     EventSink

	mu       sync.RWMutex
	running  bool
	cancelFn context.CancelFunc
}

// NewServer creates a new SIP server
func NewServer(cfg Config, sink EventSink) (*Server, error) {
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Server{
		cfg:      cfg,
		ua:       ua,
		srv:      srv,
		sessions: NewSessionManager(),
		sink:     sink,
	}, nil
}

// Start begins listening for SIP messages
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.mu.Unlock()

	s.srv.OnInvite(s.handleInvite)
	s.srv.OnAck(s.handleAck)
	s.srv.OnBye(s.handleBye)
	s.srv.OnCancel(s.handleCancel)
	s.srv.OnOptions(s.handleOptions)

	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)

	go func() {
		slog.Info("Starting SIP UDP listener", "addr", addr)
		if err := s.srv.ListenAndServe(ctx, "udp", addr); err != nil {
			slog.Error("SIP UDP listener error", "error", err)
		}
	}()

	go func() {
		slog.Info("Starting SIP TCP listener", "addr", addr)
		if err := s.srv.ListenAndServe(ctx, "tcp", addr); err != nil {
			slog.Error("SIP TCP listener error", "error", err)
		}
	}()

	if s.cfg.TLSConfig != nil && s.cfg.TLSPort > 0 {
		tlsAddr := fmt.Sprintf("0.0.0.0:%d", s.cfg.TLSPort)
		go func() {
			slog.Info("Starting SIP TLS listener (SIPS)", "addr", tlsAddr)
			if err := s.srv.ListenAndServeTLS(ctx, "tcp", tlsAddr, s.cfg.TLSConfig); err != nil {
				slog.Error("SIP TLS listener error", "error", err)
			}
		}()
	}

	go s.cleanupTerminatedSessions(ctx)

	return nil
}

// Stop gracefully shuts down the SIP server
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.cancelFn != nil {
		s.cancelFn()
	}
	if s.ua != nil {
		if err := s.ua.Close(); err != nil {
			slog.Warn("Failed to close SIP user agent", "error", err)
		}
	}

	s.running = false
	slog.Info("SIP server stopped")
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetActiveCallCount returns the number of calls that have not ended
func (s *Server) GetActiveCallCount() int {
	return s.sessions.Count()
}

// GetSessions returns the session manager for external access
func (s *Server) GetSessions() *SessionManager {
	return s.sessions
}

func (s *Server) lookup(ref callstate.CallRef) (*CallSession, error) {
	if ref.Source != callstate.SourceSIP {
		return nil, fmt.Errorf("call %s does not belong to sip", ref)
	}
	session := s.sessions.Get(ref.ID)
	if session == nil {
		return nil, ErrCallNotFound
	}
	return session, nil
}

// Accept answers a ringing call with 200 OK
func (s *Server) Accept(ctx context.Context, ref callstate.CallRef) error {
	session, err := s.lookup(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := session.SetState(CallStateActive); err != nil {
		return fmt.Errorf("accept call: %w", err)
	}
	if err := session.respond(sip.StatusOK, "OK", AnswerSDP(session.RemoteSDP)); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}

	slog.Info("Call answered", "call_id", ref.ID)
	s.emit(callstate.StateOffhook, session.FromNumber, ref.ID)
	return nil
}

// End declines a ringing call with 603. Hanging up an answered call needs
// an in-dialog BYE, which this server does not originate.
func (s *Server) End(ctx context.Context, ref callstate.CallRef) error {
	session, err := s.lookup(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch session.GetState() {
	case CallStateActive:
		return action.ErrUnsupported
	case CallStateTerminated:
		return nil
	}

	if err := session.SetState(CallStateTerminated); err != nil {
		return fmt.Errorf("decline call: %w", err)
	}
	if err := session.respond(statusDecline, "Decline", nil); err != nil {
		return fmt.Errorf("send 603: %w", err)
	}

	slog.Info("Call declined", "call_id", ref.ID)
	s.emit(callstate.StateIdle, "", ref.ID)
	return nil
}

// CallActive reports whether the call is still ringing or answered. An
// unknown call counts as ended.
func (s *Server) CallActive(ctx context.Context, ref callstate.CallRef) (bool, error) {
	session, err := s.lookup(ref)
	if errors.Is(err, ErrCallNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.IsActive(), nil
}

// cleanupTerminatedSessions periodically removes terminated sessions
func (s *Server) cleanupTerminatedSessions(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count := s.sessions.Cleanup(ctx, 10*time.Minute); count > 0 {
				slog.Debug("Cleaned up terminated sessions", "count", count)
			}
		}
	}
}
