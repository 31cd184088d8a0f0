// Package overlay presents the call card on a surface and owns every
// resource tied to it: the bridge, the keep-alive, the hard deadline and
// the liveness poller
package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btafoya/pronto/internal/action"
	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/session"
)

// ErrOverlayDenied is reported when the overlay grant is missing
var ErrOverlayDenied = errors.New("overlay permission not granted")

// LayoutWrap asks the surface to size itself to the card content
const LayoutWrap = "wrap"

// Display is the rendering surface
type Display interface {
	// Open shows card. An error means the card could not be shown at all.
	Open(card Card, b *Bridge) error
	// Push delivers a message to the open card
	Push(msg Message)
	// Close removes the card
	Close()
}

// Grants reports the standing overlay permission
type Grants interface {
	OverlayAllowed() bool
}

// Prober reports whether a call is still up at its source
type Prober interface {
	CallActive(ctx context.Context, call callstate.CallRef) (bool, error)
}

// Reporter receives overlay outcomes; implemented by the session controller
type Reporter interface {
	RequestClose(generation uint64, reason string)
	BridgeReady(generation uint64)
	RenderFailed(generation uint64, err error)
}

// ActionHandler runs card actions; implemented by the action executor
type ActionHandler interface {
	Execute(act action.Action, req action.Request)
}

// Config holds the overlay safety nets
type Config struct {
	// MaxLifetime is the overlay's own hard ceiling
	MaxLifetime time.Duration
	// LivenessInterval is how often the call source is polled
	LivenessInterval time.Duration
	// ProbeTimeout bounds a single liveness query
	ProbeTimeout time.Duration
}

// Manager turns Present/Update/Dismiss into surface operations. The three
// commands are safe from any goroutine; everything else runs on the loop.
type Manager struct {
	loop      *loop.Loop
	cfg       Config
	display   Display
	keepAlive KeepAlive

	grants   Grants
	reporter Reporter
	actions  ActionHandler
	probes   map[string]Prober

	active   atomic.Bool
	current  session.Snapshot
	deadline *loop.Task
	poll     *loop.Task

	mu     sync.RWMutex
	bridge *Bridge
}

// NewManager creates a Manager rendering on display
func NewManager(l *loop.Loop, cfg Config, display Display, keepAlive KeepAlive) *Manager {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if keepAlive == nil {
		keepAlive = NewGuard()
	}
	return &Manager{
		loop:      l,
		cfg:       cfg,
		display:   display,
		keepAlive: keepAlive,
		probes:    make(map[string]Prober),
	}
}

// SetReporter installs the receiver of overlay outcomes
func (m *Manager) SetReporter(r Reporter) {
	m.reporter = r
}

// SetGrants installs the overlay permission source
func (m *Manager) SetGrants(g Grants) {
	m.grants = g
}

// SetActionHandler installs the card action executor
func (m *Manager) SetActionHandler(h ActionHandler) {
	m.actions = h
}

// RegisterProber installs liveness polling for a call source
func (m *Manager) RegisterProber(source string, p Prober) {
	m.probes[source] = p
}

// Bridge returns the bridge of the card on screen, or nil
func (m *Manager) Bridge() *Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bridge
}

// Visible reports whether a card is on screen
func (m *Manager) Visible() bool {
	return m.active.Load()
}

// Present shows a new card for snap
func (m *Manager) Present(snap session.Snapshot) {
	m.loop.Post(func() { m.present(snap) })
}

// Update pushes a changed snapshot into the card on screen
func (m *Manager) Update(snap session.Snapshot) {
	m.loop.Post(func() { m.update(snap) })
}

// Dismiss tears the card down. Calling it more than once is a no-op.
func (m *Manager) Dismiss() {
	m.loop.Post(m.teardown)
}

func (m *Manager) present(snap session.Snapshot) {
	if m.active.Load() {
		slog.Warn("Presenting over a live card, tearing the old one down",
			"old_generation", m.current.Generation,
			"generation", snap.Generation,
		)
		m.teardown()
	}

	if m.grants != nil && !m.grants.OverlayAllowed() {
		metricPresentFailures.WithLabelValues("denied").Inc()
		m.reportFailure(snap.Generation, ErrOverlayDenied)
		return
	}

	if !m.active.CompareAndSwap(false, true) {
		return
	}

	m.current = snap
	m.keepAlive.Acquire()

	gen := snap.Generation
	b := newBridge(gen, m.display.Push,
		func() {
			if m.reporter != nil {
				m.reporter.BridgeReady(gen)
			}
		},
		func(act action.Action) {
			m.loop.Post(func() { m.handleAction(gen, act) })
		},
	)
	m.setBridge(b)

	card := Card{
		SessionID:  snap.ID,
		Generation: gen,
		Layout:     LayoutWrap,
		Committed:  snap.Committed(),
		Deadline:   snap.AutoDismissDeadline,
	}
	if snap.Committed() {
		card.Number = string(snap.DisplayNumber)
	}

	if err := m.display.Open(card, b); err != nil {
		metricPresentFailures.WithLabelValues("display").Inc()
		m.teardown()
		m.reportFailure(gen, err)
		return
	}

	if snap.Committed() {
		b.SetPhoneNumber(snap.DisplayNumber)
	}

	m.deadline = m.loop.Schedule(m.cfg.MaxLifetime, func() {
		if !m.active.Load() || m.current.Generation != gen {
			return
		}
		slog.Warn("Overlay hard deadline reached", "generation", gen)
		m.teardown()
		if m.reporter != nil {
			m.reporter.RequestClose(gen, session.ReasonOverlayDeadline)
		}
	})
	m.schedulePoll(gen)

	metricPresented.Inc()
	slog.Debug("Overlay presented", "generation", gen, "committed", snap.Committed())
}

func (m *Manager) update(snap session.Snapshot) {
	if !m.active.Load() || m.current.Generation != snap.Generation {
		slog.Debug("Ignoring update for a card that is not on screen", "generation", snap.Generation)
		return
	}
	m.current = snap

	if snap.Committed() {
		if b := m.Bridge(); b != nil {
			b.SetPhoneNumber(snap.DisplayNumber)
		}
	}
}

func (m *Manager) handleAction(gen uint64, act action.Action) {
	if !m.active.Load() || m.current.Generation != gen {
		slog.Debug("Ignoring action for a card that is gone", "action", act.String(), "generation", gen)
		return
	}
	if m.actions == nil {
		slog.Warn("No action handler installed", "action", act.String())
		return
	}
	m.actions.Execute(act, action.Request{
		Generation: gen,
		Number:     m.current.DisplayNumber,
		Call:       m.current.Call,
	})
}

// schedulePoll arms the next liveness probe for gen
func (m *Manager) schedulePoll(gen uint64) {
	call := m.current.Call
	prober, ok := m.probes[call.Source]
	if !ok || call.ID == "" || m.cfg.LivenessInterval <= 0 {
		return
	}

	m.poll = m.loop.Schedule(m.cfg.LivenessInterval, func() {
		if !m.active.Load() || m.current.Generation != gen {
			return
		}
		go m.probe(gen, call, prober)
	})
}

// probe runs off the loop and posts its verdict back
func (m *Manager) probe(gen uint64, call callstate.CallRef, prober Prober) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()

	live, err := prober.CallActive(ctx, call)

	m.loop.Post(func() {
		if !m.active.Load() || m.current.Generation != gen {
			return
		}
		switch {
		case err != nil:
			metricProbes.WithLabelValues("error").Inc()
			slog.Debug("Liveness probe failed", "call_id", call.String(), "error", err)
		case !live:
			metricProbes.WithLabelValues("ended").Inc()
			slog.Info("Call ended without an idle event, closing card", "call_id", call.String(), "generation", gen)
			if m.reporter != nil {
				m.reporter.RequestClose(gen, session.ReasonCallNotLive)
			}
			return
		default:
			metricProbes.WithLabelValues("live").Inc()
		}
		m.schedulePoll(gen)
	})
}

// teardown releases everything in a fixed order. The CompareAndSwap makes
// a second call a no-op.
func (m *Manager) teardown() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}

	m.deadline.Cancel()
	m.deadline = nil
	m.poll.Cancel()
	m.poll = nil

	m.keepAlive.Release()

	if b := m.Bridge(); b != nil {
		b.detach()
	}
	m.setBridge(nil)

	m.display.Close()

	metricTeardowns.Inc()
	slog.Debug("Overlay torn down", "generation", m.current.Generation)
}

func (m *Manager) setBridge(b *Bridge) {
	m.mu.Lock()
	m.bridge = b
	m.mu.Unlock()
}

func (m *Manager) reportFailure(gen uint64, err error) {
	slog.Warn("Overlay could not be presented", "generation", gen, "error", err)
	if m.reporter != nil {
		m.reporter.RenderFailed(gen, err)
	}
}
