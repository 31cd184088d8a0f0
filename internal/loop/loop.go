// Package loop provides the single goroutine on which all call-card state
// is mutated. Sources, HTTP handlers and timers never touch that state
// directly; they post closures here.
package loop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a FIFO task queue drained by exactly one goroutine
type Loop struct {
	clock Clock

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

// New creates a Loop. A nil clock selects the real clock.
func New(clock Clock) *Loop {
	if clock == nil {
		clock = RealClock()
	}
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the loop's time source
func (l *Loop) Clock() Clock {
	return l.clock
}

// Now is shorthand for l.Clock().Now()
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post enqueues fn. It is safe from any goroutine and never blocks.
// It returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	depth := len(l.queue)
	l.mu.Unlock()

	metricQueueDepth.Set(float64(depth))

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run drains the queue until ctx is done. Tasks posted after Run returns
// are rejected.
func (l *Loop) Run(ctx context.Context) error {
	slog.Debug("Event loop started")
	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			dropped := len(l.queue)
			l.queue = nil
			l.mu.Unlock()

			slog.Debug("Event loop stopped", "dropped_tasks", dropped)
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunPending runs queued tasks on the calling goroutine until the queue is
// empty, including tasks posted by the tasks it runs. It returns the number
// of tasks executed. Tests use it in place of Run.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			metricQueueDepth.Set(0)
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safeRun(fn)
		n++
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metricPanics.Inc()
			slog.Error("Event loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	metricTasks.Inc()
	fn()
}

// Task is a callback scheduled with Schedule
type Task struct {
	cancelled atomic.Bool
	timer     Timer
}

// Schedule runs fn on the loop after d. Cancelling the returned Task from
// the loop goroutine guarantees fn will not run.
func (l *Loop) Schedule(d time.Duration, fn func()) *Task {
	task := &Task{}
	task.timer = l.clock.AfterFunc(d, func() {
		if task.cancelled.Load() {
			return
		}
		l.Post(func() {
			if task.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return task
}

// Cancel stops the task. Safe to call more than once and on a nil Task.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Cancelled reports whether Cancel has been called
func (t *Task) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
