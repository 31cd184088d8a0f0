package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/btafoya/pronto/internal/overlay"
	"nhooyr.io/websocket"
)

// ErrNoSurface is returned when no card surface is connected
var ErrNoSurface = errors.New("no card surface connected")

// Inbound message types sent by the surface
const (
	inReady          = "ready"
	inPerformAction  = "performAction"
	inGetPhoneNumber = "getPhoneNumber"
)

const (
	surfaceSendBuffer   = 16
	surfaceWriteTimeout = 5 * time.Second
	surfaceReadLimit    = 4096
)

// cardBridge is the part of overlay.Bridge the surface talks to
type cardBridge interface {
	Generation() uint64
	Ready()
	PerformAction(raw string)
	PhoneNumber() string
}

// inbound is one message from the surface
type inbound struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation,omitempty"`
	Action     string `json:"action,omitempty"`
}

type surfaceConn struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans card messages out to every connected surface and routes their
// replies to the bridge of the card on screen. It is the overlay Display
// and the in-app chat launcher.
type Hub struct {
	originPatterns []string

	mu     sync.Mutex
	conns  map[*surfaceConn]struct{}
	card   *overlay.Card
	bridge cardBridge
}

// NewHub creates a Hub accepting WebSocket origins matching originPatterns
func NewHub(originPatterns []string) *Hub {
	return &Hub{
		originPatterns: originPatterns,
		conns:          make(map[*surfaceConn]struct{}),
	}
}

// Surfaces returns the number of connected surfaces
func (h *Hub) Surfaces() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Open shows card on every surface. It fails when none is connected.
func (h *Hub) Open(card overlay.Card, b *overlay.Bridge) error {
	return h.attach(card, b)
}

func (h *Hub) attach(card overlay.Card, b cardBridge) error {
	msg, err := overlay.Message{Type: overlay.MsgShow, Generation: card.Generation, Card: &card}.Encode()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return ErrNoSurface
	}
	h.card = &card
	h.bridge = b
	h.broadcastLocked(msg)
	return nil
}

// Push delivers msg to every surface without blocking
func (h *Hub) Push(msg overlay.Message) {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("Failed to encode surface message", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(data)
}

// Close hides the card and forgets its bridge
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var gen uint64
	if h.card != nil {
		gen = h.card.Generation
	}
	h.card = nil
	h.bridge = nil

	data, _ := overlay.Message{Type: overlay.MsgHide, Generation: gen}.Encode()
	h.broadcastLocked(data)
}

// Launch asks the surfaces to open url. It fails when none is connected so
// the caller can fall back to another launcher.
func (h *Hub) Launch(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := overlay.Message{Type: overlay.MsgOpen, URL: url}.Encode()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return ErrNoSurface
	}
	h.broadcastLocked(data)
	return nil
}

// currentBridge returns the bridge of the card on screen. A non-zero
// generation must match it; stale surfaces get nil.
func (h *Hub) currentBridge(generation uint64) cardBridge {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bridge == nil {
		return nil
	}
	if generation != 0 && generation != h.bridge.Generation() {
		return nil
	}
	return h.bridge
}

func (h *Hub) broadcastLocked(data []byte) {
	for sc := range h.conns {
		select {
		case sc.send <- data:
		default:
			metricSurfaceDrops.Inc()
			slog.Warn("Surface not reading, dropping message")
		}
	}
}

func (h *Hub) register(sc *surfaceConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sc] = struct{}{}
	metricSurfaces.Set(float64(len(h.conns)))

	if h.card != nil {
		card := *h.card
		if data, err := (overlay.Message{Type: overlay.MsgShow, Generation: card.Generation, Card: &card}).Encode(); err == nil {
			sc.send <- data
		}
	}
}

func (h *Hub) unregister(sc *surfaceConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[sc]; !ok {
		return
	}
	delete(h.conns, sc)
	close(sc.send)
	metricSurfaces.Set(float64(len(h.conns)))
}

// ServeWS upgrades the request and serves one surface until it disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Surface WebSocket accept failed", "error", err)
		return
	}
	c.SetReadLimit(surfaceReadLimit)

	sc := &surfaceConn{conn: c, send: make(chan []byte, surfaceSendBuffer)}
	h.register(sc)
	slog.Info("Card surface connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, sc)

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid surface message", "error", err)
			continue
		}
		if reply := h.handleInbound(msg); reply != nil {
			if data, err := reply.Encode(); err == nil {
				h.sendTo(sc, data)
			}
		}
	}

	h.unregister(sc)
	_ = c.Close(websocket.StatusNormalClosure, "done")
	slog.Info("Card surface disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) sendTo(sc *surfaceConn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[sc]; !ok {
		return
	}
	select {
	case sc.send <- data:
	default:
		metricSurfaceDrops.Inc()
	}
}

func (h *Hub) writePump(ctx context.Context, sc *surfaceConn) {
	for data := range sc.send {
		wctx, cancel := context.WithTimeout(ctx, surfaceWriteTimeout)
		err := sc.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("Surface write failed", "error", err)
			return
		}
	}
}

// handleInbound applies one surface message and returns the reply, if any
func (h *Hub) handleInbound(msg inbound) *overlay.Message {
	b := h.currentBridge(msg.Generation)
	if b == nil {
		slog.Debug("Surface message without a matching card", "type", msg.Type, "generation", msg.Generation)
		if msg.Type == inGetPhoneNumber {
			return &overlay.Message{Type: overlay.MsgSetPhoneNumber, Generation: msg.Generation}
		}
		return nil
	}

	switch msg.Type {
	case inReady:
		b.Ready()
	case inPerformAction:
		b.PerformAction(msg.Action)
	case inGetPhoneNumber:
		return &overlay.Message{Type: overlay.MsgSetPhoneNumber, Generation: b.Generation(), Number: b.PhoneNumber()}
	default:
		slog.Warn("Unknown surface message", "type", truncate(msg.Type, 32))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
