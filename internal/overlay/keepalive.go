package overlay

import (
	"log/slog"
	"sync"
)

// KeepAlive holds the process awake while a card is on screen
type KeepAlive interface {
	Acquire()
	Release()
}

// Guard is a counted KeepAlive exported as a gauge
type Guard struct {
	mu   sync.Mutex
	held int
}

// NewGuard returns an unheld Guard
func NewGuard() *Guard {
	return &Guard{}
}

// Acquire takes one hold
func (g *Guard) Acquire() {
	g.mu.Lock()
	g.held++
	held := g.held
	g.mu.Unlock()

	metricKeepAlive.Set(float64(held))
}

// Release drops one hold. Releasing an unheld guard is logged and ignored.
func (g *Guard) Release() {
	g.mu.Lock()
	if g.held == 0 {
		g.mu.Unlock()
		slog.Warn("Keep-alive released while not held")
		return
	}
	g.held--
	held := g.held
	g.mu.Unlock()

	metricKeepAlive.Set(float64(held))
}

// Held returns the number of outstanding holds
func (g *Guard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
