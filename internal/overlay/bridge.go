package overlay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/btafoya/pronto/internal/action"
	"github.com/btafoya/pronto/internal/phone"
)

// Message types pushed to the card surface
const (
	MsgShow           = "show"
	MsgHide           = "hide"
	MsgSetPhoneNumber = "setPhoneNumber"
	MsgOpen           = "open"
)

// Card describes the surface to render. The surface sizes itself to its
// content and must not cover anything outside its bounds.
type Card struct {
	SessionID  string    `json:"session_id"`
	Generation uint64    `json:"generation"`
	Layout     string    `json:"layout"`
	Number     string    `json:"number,omitempty"`
	Committed  bool      `json:"committed"`
	Deadline   time.Time `json:"deadline,omitempty"`
}

// Message is one push from the manager to the surface
type Message struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation,omitempty"`
	Number     string `json:"number,omitempty"`
	URL        string `json:"url,omitempty"`
	Card       *Card  `json:"card,omitempty"`
}

// Encode renders m as JSON. encoding/json escapes <, > and & so the
// payload is safe to hand to an HTML surface.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Bridge is the two-way channel between one presented card and the
// manager. Surface-facing methods are safe from any goroutine.
type Bridge struct {
	generation uint64

	mu       sync.Mutex
	ready    bool
	detached bool
	number   phone.Number // last committed number, empty until committed
	pending  bool         // number set before the surface was ready

	push     func(Message)
	onReady  func()
	onAction func(action.Action)
}

func newBridge(generation uint64, push func(Message), onReady func(), onAction func(action.Action)) *Bridge {
	return &Bridge{
		generation: generation,
		push:       push,
		onReady:    onReady,
		onAction:   onAction,
	}
}

// Generation is the session generation this bridge belongs to
func (b *Bridge) Generation() uint64 {
	return b.generation
}

// Ready marks the surface handshake as complete and flushes a number that
// arrived before it
func (b *Bridge) Ready() {
	metricBridgeCalls.WithLabelValues("ready").Inc()
	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	already := b.ready
	b.ready = true
	onReady := b.onReady
	var flush *Message
	if b.pending {
		b.pending = false
		flush = &Message{Type: MsgSetPhoneNumber, Generation: b.generation, Number: string(b.number)}
	}
	b.mu.Unlock()

	if flush != nil {
		b.push(*flush)
	}
	if !already && onReady != nil {
		onReady()
	}
}

// IsReady reports whether the surface finished its handshake
func (b *Bridge) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// maxLoggedAction bounds how much of an unknown action string is logged
const maxLoggedAction = 32

// PerformAction handles a button press on the card. The string is
// untrusted; unrecognized values are logged and ignored.
func (b *Bridge) PerformAction(raw string) {
	act := action.ParseAction(raw)
	if act == action.Unknown {
		metricBridgeCalls.WithLabelValues("performAction_unknown").Inc()
		slog.Warn("Ignoring unknown bridge action", "action", truncate(raw, maxLoggedAction), "generation", b.generation)
		return
	}

	b.mu.Lock()
	onAction := b.onAction
	detached := b.detached
	b.mu.Unlock()
	if detached || onAction == nil {
		slog.Debug("Ignoring action on detached bridge", "action", act.String(), "generation", b.generation)
		return
	}

	metricBridgeCalls.WithLabelValues("performAction").Inc()
	onAction(act)
}

// PhoneNumber returns the committed number, or "" before commit and after
// the bridge is detached
func (b *Bridge) PhoneNumber() string {
	metricBridgeCalls.WithLabelValues("getPhoneNumber").Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return ""
	}
	return string(b.number)
}

// SetPhoneNumber pushes n to the surface, or buffers it until Ready
func (b *Bridge) SetPhoneNumber(n phone.Number) {
	clean := phone.Sanitize(string(n))

	b.mu.Lock()
	if b.detached {
		b.mu.Unlock()
		return
	}
	b.number = clean
	if !b.ready {
		b.pending = true
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.push(Message{Type: MsgSetPhoneNumber, Generation: b.generation, Number: string(clean)})
}

// detach disconnects the bridge; every later call is a no-op
func (b *Bridge) detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detached = true
	b.pending = false
	b.onReady = nil
	b.onAction = nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
