package session

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/phone"
	"github.com/google/uuid"
)

// Config holds the session timers
type Config struct {
	// UnknownGrace is how long a Pending session waits for the real number
	// before committing the placeholder
	UnknownGrace time.Duration
	// AutoDismiss is the hard ceiling on an Active session
	AutoDismiss time.Duration
}

// Controller is the call-card state machine. Signals, closes and overlay
// reports are all processed one at a time on the loop.
type Controller struct {
	loop      *loop.Loop
	cfg       Config
	presenter Presenter
	gate      Gate
	status    StatusSink
	recorder  Recorder

	// at most one session may be Pending or Active
	active atomic.Bool

	generation   uint64
	current      *Session
	unknownTimer *loop.Task
	dismissTimer *loop.Task

	published atomic.Pointer[Snapshot]

	// outstanding history writes
	wg sync.WaitGroup
}

// NewController creates a Controller presenting through p
func NewController(l *loop.Loop, cfg Config, p Presenter) *Controller {
	return &Controller{
		loop:      l,
		cfg:       cfg,
		presenter: p,
	}
}

// SetGate installs the enabled/quiet-hours gate
func (c *Controller) SetGate(g Gate) {
	c.gate = g
}

// SetStatusSink installs the receiver for overlay failures
func (c *Controller) SetStatusSink(s StatusSink) {
	c.status = s
}

// SetRecorder installs the session history writer
func (c *Controller) SetRecorder(r Recorder) {
	c.recorder = r
}

// Active reports whether a session is Pending or Active. Safe from any goroutine.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// Current returns the latest published snapshot of the live session.
// Safe from any goroutine.
func (c *Controller) Current() (Snapshot, bool) {
	snap := c.published.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// HandleSignal applies one normalized signal. Must run on the loop.
func (c *Controller) HandleSignal(sig callstate.CallSignal) {
	defer c.recoverPanic("signal")

	switch sig.Kind {
	case callstate.KindRingingUnknown, callstate.KindRingingKnown:
		c.handleRinging(sig)
	case callstate.KindIdle:
		c.handleEnd(sig, ReasonCallEnded)
	case callstate.KindOffhook:
		c.handleEnd(sig, ReasonAnsweredElse)
	default:
		slog.Warn("Ignoring unknown call signal", "kind", sig.Kind.String())
	}
}

// RequestClose closes the session with the given generation. Requests for
// an older generation are ignored. Safe from any goroutine.
func (c *Controller) RequestClose(generation uint64, reason string) {
	c.loop.Post(func() {
		defer c.recoverPanic("close")
		c.close(generation, reason)
	})
}

// BridgeReady records that the card surface completed its handshake.
// Safe from any goroutine.
func (c *Controller) BridgeReady(generation uint64) {
	c.loop.Post(func() {
		defer c.recoverPanic("bridge_ready")
		s := c.current
		if s == nil || s.Generation != generation {
			return
		}
		s.BridgeReady = true
		c.publish()
	})
}

// RenderFailed closes the session after the overlay could not be shown.
// It is never retried. Safe from any goroutine.
func (c *Controller) RenderFailed(generation uint64, err error) {
	c.loop.Post(func() {
		defer c.recoverPanic("render_failed")
		s := c.current
		if s == nil || s.Generation != generation {
			return
		}
		slog.Warn("Overlay could not be shown, closing session",
			"session_id", s.ID,
			"generation", generation,
			"error", err,
		)
		c.close(generation, ReasonRenderFailed)
		if c.status != nil {
			reason := ReasonRenderFailed
			if err != nil {
				reason = err.Error()
			}
			c.status.OverlayUnavailable(reason)
		}
	})
}

// Shutdown closes any live session. Safe from any goroutine.
func (c *Controller) Shutdown() {
	c.loop.Post(func() {
		defer c.recoverPanic("shutdown")
		if c.current != nil {
			c.close(c.current.Generation, ReasonShutdown)
		}
	})
}

func (c *Controller) handleRinging(sig callstate.CallSignal) {
	s := c.current
	if s == nil {
		c.start(sig)
		return
	}

	if !s.Call.SameCall(sig.Call) {
		metricRejected.WithLabelValues("other_call").Inc()
		slog.Info("Ignoring ringing for another call while a session is live",
			"session_id", s.ID,
			"call_id", sig.Call.String(),
		)
		return
	}
	if s.Call.ID == "" && sig.Call.ID != "" {
		s.Call = sig.Call
	}

	if sig.Kind == callstate.KindRingingUnknown {
		return
	}

	switch s.State {
	case StatePending:
		c.unknownTimer.Cancel()
		c.unknownTimer = nil
		s.DisplayNumber = sig.Number
		c.activate(s)
		slog.Info("Caller ID resolved", "session_id", s.ID, "generation", s.Generation)
		c.publish()
		c.presenter.Update(s.Snapshot())

	case StateActive:
		switch {
		case sig.Number == s.DisplayNumber:
			// duplicate
		case s.DisplayNumber.IsPlaceholder():
			s.DisplayNumber = sig.Number
			s.placeholderCommitted = false
			slog.Info("Replacing placeholder with late caller ID", "session_id", s.ID, "generation", s.Generation)
			c.publish()
			c.presenter.Update(s.Snapshot())
		default:
			metricRejected.WithLabelValues("other_number").Inc()
			slog.Info("Ignoring ringing with a different number while a session is live",
				"session_id", s.ID,
			)
		}
	}
}

func (c *Controller) start(sig callstate.CallSignal) {
	now := c.loop.Now()

	if c.gate != nil {
		if ok, why := c.gate.Allow(now); !ok {
			metricRejected.WithLabelValues("gate").Inc()
			slog.Info("Call card suppressed", "reason", why, "call_id", sig.Call.String())
			return
		}
	}

	if !c.active.CompareAndSwap(false, true) {
		metricRejected.WithLabelValues("already_active").Inc()
		slog.Warn("Session start rejected, another session is in flight", "call_id", sig.Call.String())
		return
	}

	c.generation++
	s := &Session{
		ID:         uuid.NewString(),
		Generation: c.generation,
		Call:       sig.Call,
		StartedAt:  now,
	}

	if sig.Kind == callstate.KindRingingUnknown {
		s.State = StatePending
		s.DisplayNumber = phone.Placeholder
		c.unknownTimer = c.schedule(s.Generation, c.cfg.UnknownGrace, c.commitPlaceholder)
	} else {
		s.DisplayNumber = sig.Number
		c.activate(s)
	}

	c.current = s
	metricStarted.Inc()
	metricActive.Set(1)
	slog.Info("Session started",
		"session_id", s.ID,
		"generation", s.Generation,
		"state", s.State.String(),
		"call_id", s.Call.String(),
	)

	c.publish()
	c.presenter.Present(s.Snapshot())
}

// activate moves s to Active and arms the auto-dismiss ceiling
func (c *Controller) activate(s *Session) {
	now := c.loop.Now()
	s.State = StateActive
	s.ActivatedAt = now
	s.AutoDismissDeadline = now.Add(c.cfg.AutoDismiss)

	gen := s.Generation
	c.dismissTimer = c.schedule(gen, c.cfg.AutoDismiss, func() {
		slog.Info("Auto-dismiss deadline reached", "generation", gen)
		c.close(gen, ReasonAutoDismiss)
	})
}

func (c *Controller) commitPlaceholder() {
	s := c.current
	if s == nil || s.State != StatePending {
		return
	}
	c.unknownTimer = nil
	s.placeholderCommitted = true
	c.activate(s)
	slog.Info("No caller ID received, committing placeholder", "session_id", s.ID, "generation", s.Generation)
	c.publish()
	c.presenter.Update(s.Snapshot())
}

func (c *Controller) handleEnd(sig callstate.CallSignal, reason string) {
	s := c.current
	if s == nil {
		return
	}
	if !s.Call.SameCall(sig.Call) {
		slog.Debug("Ignoring end of another call", "session_id", s.ID, "call_id", sig.Call.String())
		return
	}
	c.close(s.Generation, reason)
}

// close tears down the session with the given generation. Idempotent.
func (c *Controller) close(generation uint64, reason string) {
	s := c.current
	if s == nil || s.Generation != generation {
		return
	}
	if s.State == StateClosing || s.State == StateClosed {
		return
	}

	s.State = StateClosing
	c.cancelTimers()
	c.presenter.Dismiss()

	s.State = StateClosed
	c.current = nil
	c.active.Store(false)
	c.publish()

	now := c.loop.Now()
	metricClosed.WithLabelValues(reason).Inc()
	metricActive.Set(0)
	metricDuration.Observe(now.Sub(s.StartedAt).Seconds())
	slog.Info("Session closed",
		"session_id", s.ID,
		"generation", s.Generation,
		"reason", reason,
	)

	c.record(s, reason, now)
}

func (c *Controller) record(s *Session, reason string, endedAt time.Time) {
	if c.recorder == nil {
		return
	}
	rec := Record{
		ID:                   s.ID,
		Call:                 s.Call,
		DisplayNumber:        s.DisplayNumber,
		PlaceholderCommitted: s.placeholderCommitted,
		StartedAt:            s.StartedAt,
		ActivatedAt:          s.ActivatedAt,
		EndedAt:              endedAt,
		Reason:               reason,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.RecordSession(ctx, rec); err != nil {
			slog.Error("Failed to record session", "session_id", rec.ID, "error", err)
		}
	}()
}

// Wait blocks until background history writes have finished
func (c *Controller) Wait() {
	c.wg.Wait()
}

// schedule runs fn on the loop after d unless the session generation has
// moved on by then
func (c *Controller) schedule(generation uint64, d time.Duration, fn func()) *loop.Task {
	return c.loop.Schedule(d, func() {
		defer c.recoverPanic("timer")
		if c.current == nil || c.current.Generation != generation {
			return
		}
		fn()
	})
}

func (c *Controller) cancelTimers() {
	c.unknownTimer.Cancel()
	c.unknownTimer = nil
	c.dismissTimer.Cancel()
	c.dismissTimer = nil
}

func (c *Controller) publish() {
	if c.current == nil {
		c.published.Store(nil)
		return
	}
	snap := c.current.Snapshot()
	c.published.Store(&snap)
}

// recoverPanic resets the controller after an unexpected failure so the
// next call can still be shown
func (c *Controller) recoverPanic(where string) {
	r := recover()
	if r == nil {
		return
	}
	metricPanics.Inc()
	slog.Error("Recovered panic in session controller",
		"where", where,
		"panic", r,
		"stack", string(debug.Stack()),
	)

	c.cancelTimers()
	if c.current != nil {
		c.current.State = StateClosed
		c.current = nil
	}
	c.active.Store(false)
	c.published.Store(nil)
	metricActive.Set(0)

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Overlay dismiss panicked during recovery", "panic", r)
			}
		}()
		c.presenter.Dismiss()
	}()
}
