package overlay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btafoya/pronto/internal/action"
	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/phone"
	"github.com/btafoya/pronto/internal/session"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeDisplay struct {
	mu      sync.Mutex
	opened  []Card
	pushed  []Message
	closed  int
	openErr error
}

func (d *fakeDisplay) Open(card Card, _ *Bridge) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = append(d.opened, card)
	return nil
}

func (d *fakeDisplay) Push(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushed = append(d.pushed, msg)
}

func (d *fakeDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

func (d *fakeDisplay) numbers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, m := range d.pushed {
		if m.Type == MsgSetPhoneNumber {
			out = append(out, m.Number)
		}
	}
	return out
}

type fakeReporter struct {
	closes []string
	ready  []uint64
	failed []error
	gens   []uint64
}

func (r *fakeReporter) RequestClose(gen uint64, reason string) {
	r.closes = append(r.closes, reason)
	r.gens = append(r.gens, gen)
}
func (r *fakeReporter) BridgeReady(gen uint64)           { r.ready = append(r.ready, gen) }
func (r *fakeReporter) RenderFailed(_ uint64, err error) { r.failed = append(r.failed, err) }

type fakeGrants struct{ allowed bool }

func (g fakeGrants) OverlayAllowed() bool { return g.allowed }

type fakeHandler struct {
	acts []action.Action
	reqs []action.Request
}

func (h *fakeHandler) Execute(act action.Action, req action.Request) {
	h.acts = append(h.acts, act)
	h.reqs = append(h.reqs, req)
}

type fakeProber struct {
	live  bool
	err   error
	calls chan callstate.CallRef
}

func (p *fakeProber) CallActive(_ context.Context, call callstate.CallRef) (bool, error) {
	p.calls <- call
	return p.live, p.err
}

type harness struct {
	clock    *loop.FakeClock
	loop     *loop.Loop
	display  *fakeDisplay
	guard    *Guard
	reporter *fakeReporter
	handler  *fakeHandler
	mgr      *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    loop.NewFakeClock(epoch),
		display:  &fakeDisplay{},
		guard:    NewGuard(),
		reporter: &fakeReporter{},
		handler:  &fakeHandler{},
	}
	h.loop = loop.New(h.clock)
	h.mgr = NewManager(h.loop, Config{
		MaxLifetime:      20 * time.Second,
		LivenessInterval: 2 * time.Second,
	}, h.display, h.guard)
	h.mgr.SetReporter(h.reporter)
	h.mgr.SetActionHandler(h.handler)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.AdvanceWith(d, func() { h.loop.RunPending() })
}

// waitFor drains the loop until cond holds, for work posted by goroutines
func (h *harness) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.loop.RunPending()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func activeSnap(gen uint64, number phone.Number) session.Snapshot {
	return session.Snapshot{
		ID:            "sess",
		Generation:    gen,
		Call:          callstate.CallRef{Source: callstate.SourceSIP, ID: "call-1"},
		DisplayNumber: number,
		State:         session.StateActive,
		StartedAt:     epoch,
	}
}

func pendingSnap(gen uint64) session.Snapshot {
	s := activeSnap(gen, phone.Placeholder)
	s.State = session.StatePending
	return s
}

func TestPresentBuffersNumberUntilReady(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(activeSnap(1, "333 1234567"))
	h.loop.RunPending()

	if len(h.display.opened) != 1 {
		t.Fatalf("display opened %d times", len(h.display.opened))
	}
	card := h.display.opened[0]
	if card.Layout != LayoutWrap || card.Generation != 1 || card.Number != "333 1234567" {
		t.Errorf("card = %+v", card)
	}
	if h.guard.Held() != 1 {
		t.Errorf("keep-alive held = %d, want 1", h.guard.Held())
	}
	if n := h.display.numbers(); len(n) != 0 {
		t.Fatalf("number pushed before handshake: %v", n)
	}

	b := h.mgr.Bridge()
	if b == nil {
		t.Fatal("no bridge")
	}
	if got := b.PhoneNumber(); got != "333 1234567" {
		t.Errorf("PhoneNumber() = %q", got)
	}

	b.Ready()
	b.Ready()
	if n := h.display.numbers(); len(n) != 1 || n[0] != "333 1234567" {
		t.Errorf("pushed numbers = %v", n)
	}
	if len(h.reporter.ready) != 1 || h.reporter.ready[0] != 1 {
		t.Errorf("bridge ready reports = %v", h.reporter.ready)
	}
}

func TestPendingCardReceivesNumberOnUpdate(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(pendingSnap(1))
	h.loop.RunPending()
	b := h.mgr.Bridge()
	b.Ready()

	if got := b.PhoneNumber(); got != "" {
		t.Errorf("uncommitted PhoneNumber() = %q, want empty", got)
	}
	if n := h.display.numbers(); len(n) != 0 {
		t.Fatalf("placeholder pushed before commit: %v", n)
	}

	h.mgr.Update(activeSnap(1, "+39 333 1234567"))
	h.loop.RunPending()

	if n := h.display.numbers(); len(n) != 1 || n[0] != "+39 333 1234567" {
		t.Errorf("pushed numbers = %v", n)
	}
	if len(h.display.opened) != 1 {
		t.Error("update recreated the card")
	}
}

func TestUpdateForOtherGenerationIgnored(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(pendingSnap(2))
	h.loop.RunPending()
	h.mgr.Bridge().Ready()

	h.mgr.Update(activeSnap(1, "333 1234567"))
	h.loop.RunPending()

	if n := h.display.numbers(); len(n) != 0 {
		t.Errorf("stale update pushed %v", n)
	}
}

func TestDismissIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(activeSnap(1, "333 1234567"))
	h.loop.RunPending()
	b := h.mgr.Bridge()

	h.mgr.Dismiss()
	h.mgr.Dismiss()
	h.loop.RunPending()

	if h.display.closed != 1 {
		t.Errorf("display closed %d times, want 1", h.display.closed)
	}
	if h.guard.Held() != 0 {
		t.Errorf("keep-alive held = %d after dismiss", h.guard.Held())
	}
	if h.mgr.Bridge() != nil || h.mgr.Visible() {
		t.Error("manager still reports a card")
	}

	// detached bridge is inert
	b.SetPhoneNumber("333")
	b.Ready()
	b.PerformAction("CLOSE")
	h.loop.RunPending()
	if len(h.display.pushed) != 0 || len(h.handler.acts) != 0 || b.PhoneNumber() != "" {
		t.Error("detached bridge still active")
	}

	// timers are gone
	h.advance(time.Minute)
	if len(h.reporter.closes) != 0 {
		t.Errorf("timers fired after dismiss: %v", h.reporter.closes)
	}
}

func TestDismissWithoutCard(t *testing.T) {
	h := newHarness(t)
	h.mgr.Dismiss()
	h.loop.RunPending()
	if h.display.closed != 0 {
		t.Error("display closed without a card")
	}
}

func TestPresentWithoutGrantFails(t *testing.T) {
	h := newHarness(t)
	h.mgr.SetGrants(fakeGrants{allowed: false})

	h.mgr.Present(activeSnap(1, "333 1234567"))
	h.loop.RunPending()

	if len(h.display.opened) != 0 {
		t.Error("card opened without the overlay grant")
	}
	if len(h.reporter.failed) != 1 || !errors.Is(h.reporter.failed[0], ErrOverlayDenied) {
		t.Errorf("failures = %v", h.reporter.failed)
	}
	if h.guard.Held() != 0 {
		t.Error("keep-alive acquired for a denied card")
	}
}

func TestDisplayFailureReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.display.openErr = errors.New("no surface connected")

	h.mgr.Present(activeSnap(1, "333 1234567"))
	h.loop.RunPending()

	if len(h.reporter.failed) != 1 {
		t.Fatalf("failures = %v", h.reporter.failed)
	}
	if h.guard.Held() != 0 || h.mgr.Visible() || h.mgr.Bridge() != nil {
		t.Error("resources left behind after a failed present")
	}
}

func TestHardDeadline(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(activeSnap(4, "333 1234567"))
	h.loop.RunPending()

	h.advance(19 * time.Second)
	if h.display.closed != 0 {
		t.Fatal("closed before the hard deadline")
	}
	h.advance(time.Second)

	if h.display.closed != 1 || h.guard.Held() != 0 {
		t.Error("card not torn down at the hard deadline")
	}
	if len(h.reporter.closes) != 1 || h.reporter.closes[0] != session.ReasonOverlayDeadline || h.reporter.gens[0] != 4 {
		t.Errorf("closes = %v gens = %v", h.reporter.closes, h.reporter.gens)
	}
}

func TestLivenessPollClosesEndedCall(t *testing.T) {
	h := newHarness(t)
	prober := &fakeProber{live: true, calls: make(chan callstate.CallRef, 4)}
	h.mgr.RegisterProber(callstate.SourceSIP, prober)

	h.mgr.Present(activeSnap(1, "333 1234567"))
	h.loop.RunPending()

	h.advance(2 * time.Second)
	if ref := <-prober.calls; ref.ID != "call-1" {
		t.Errorf("probed %v", ref)
	}
	// first probe says live, a second poll gets armed once the result lands
	h.waitFor(t, func() bool { return h.clock.Pending() >= 2 })

	prober.live = false
	h.advance(2 * time.Second)
	<-prober.calls
	h.waitFor(t, func() bool { return len(h.reporter.closes) == 1 })

	if h.reporter.closes[0] != session.ReasonCallNotLive {
		t.Errorf("close reason = %q", h.reporter.closes[0])
	}
}

func TestNoPollingWithoutProberOrCallID(t *testing.T) {
	h := newHarness(t)

	snap := activeSnap(1, "333 1234567")
	snap.Call = callstate.CallRef{Source: callstate.SourceDevice}
	h.mgr.Present(snap)
	h.loop.RunPending()

	// only the hard deadline is armed
	if got := h.clock.Pending(); got != 1 {
		t.Errorf("pending timers = %d, want 1", got)
	}
}

func TestBridgeActionReachesHandler(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(activeSnap(5, "+39 333 1234567"))
	h.loop.RunPending()

	b := h.mgr.Bridge()
	b.PerformAction("whatsapp")
	b.PerformAction("explode")
	h.loop.RunPending()

	if len(h.handler.acts) != 1 || h.handler.acts[0] != action.OpenChat {
		t.Fatalf("actions = %v", h.handler.acts)
	}
	req := h.handler.reqs[0]
	if req.Generation != 5 || req.Number != "+39 333 1234567" || req.Call.ID != "call-1" {
		t.Errorf("request = %+v", req)
	}
}

func TestPresentOverLiveCardReplacesIt(t *testing.T) {
	h := newHarness(t)

	h.mgr.Present(activeSnap(1, "333 1234567"))
	h.mgr.Present(activeSnap(2, "06 5550000"))
	h.loop.RunPending()

	if h.display.closed != 1 || len(h.display.opened) != 2 {
		t.Errorf("closed = %d opened = %d", h.display.closed, len(h.display.opened))
	}
	if h.guard.Held() != 1 {
		t.Errorf("keep-alive held = %d, want 1", h.guard.Held())
	}
	if b := h.mgr.Bridge(); b == nil || b.Generation() != 2 {
		t.Error("bridge does not belong to the new card")
	}
}

func TestMessageEncodeEscapesHTML(t *testing.T) {
	data, err := Message{Type: MsgSetPhoneNumber, Number: "<script>'</script>"}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, "<") || strings.Contains(s, ">") {
		t.Errorf("encoded message not escaped: %s", s)
	}
}

func TestGuardReleaseWithoutAcquire(t *testing.T) {
	g := NewGuard()
	g.Release()
	if g.Held() != 0 {
		t.Errorf("Held() = %d", g.Held())
	}
}
