package callstate

import (
	"log/slog"
	"time"

	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/phone"
)

// Config holds the normalizer windows
type Config struct {
	// Debounce drops a repeated ringing with the same number inside it
	Debounce time.Duration
	// UnknownGrace is how long an empty caller ID waits for the real number
	UnknownGrace time.Duration
}

// Normalizer debounces raw call-state events and resolves the
// "empty caller ID, then the real number" race. All methods except Submit
// must run on the loop goroutine.
type Normalizer struct {
	loop *loop.Loop
	cfg  Config
	emit func(CallSignal)

	lastEmitTime time.Time
	lastNumber   phone.Number
	lastCall     CallRef

	pendingUnknownSince time.Time
	pendingCall         CallRef
	deferred            *loop.Task

	// set once a ringing signal went out for the current call, cleared on idle/offhook
	unknownEmitted bool
	knownEmitted   bool
}

// NewNormalizer creates a Normalizer that delivers signals to emit on the loop
func NewNormalizer(l *loop.Loop, cfg Config, emit func(CallSignal)) *Normalizer {
	return &Normalizer{
		loop: l,
		cfg:  cfg,
		emit: emit,
	}
}

// Submit hands ev to the loop. Safe from any goroutine.
func (n *Normalizer) Submit(ev *RawEvent) bool {
	if ev == nil {
		slog.Warn("Dropping nil call event")
		metricDropped.WithLabelValues("malformed").Inc()
		return false
	}
	e := *ev
	return n.loop.Post(func() { n.Handle(&e) })
}

// Handle normalizes ev and emits the resulting signal, if any
func (n *Normalizer) Handle(ev *RawEvent) {
	if sig, ok := n.Normalize(ev); ok {
		n.deliver(sig)
	}
}

// Normalize applies the debounce and grace policy to ev. It returns the
// signal to emit immediately, if any. A deferred RingingUnknown is
// delivered later through the emit callback. Normalize never panics.
func (n *Normalizer) Normalize(ev *RawEvent) (sig CallSignal, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered panic while normalizing call event", "panic", r)
			metricDropped.WithLabelValues("panic").Inc()
			n.reset()
			sig, ok = CallSignal{}, false
		}
	}()

	if ev == nil {
		slog.Warn("Dropping nil call event")
		metricDropped.WithLabelValues("malformed").Inc()
		return CallSignal{}, false
	}

	state, valid := parseState(ev.State)
	if !valid {
		slog.Warn("Dropping call event with unknown state", "state", ev.State, "call_id", ev.Call.String())
		metricDropped.WithLabelValues("malformed").Inc()
		return CallSignal{}, false
	}
	metricRawEvents.WithLabelValues(state).Inc()

	now := n.loop.Now()

	switch state {
	case StateIdle, StateOffhook:
		n.endCall(ev.Call)
		kind := KindIdle
		if state == StateOffhook {
			kind = KindOffhook
		}
		return n.signal(kind, "", ev.Call, now), true
	}

	number := phone.Sanitize(ev.Number)
	if number.IsPlaceholder() {
		n.ringingUnknown(ev.Call, now)
		return CallSignal{}, false
	}

	if !n.pendingUnknownSince.IsZero() && ev.Call.SameCall(n.pendingCall) {
		slog.Debug("Caller ID resolved inside grace window",
			"call_id", ev.Call.String(),
			"waited", now.Sub(n.pendingUnknownSince),
		)
		n.deferred.Cancel()
		n.deferred = nil
		n.pendingUnknownSince = time.Time{}
		metricSuperseded.Inc()
		return n.known(number, ev.Call, now), true
	}

	if number == n.lastNumber && ev.Call.SameCall(n.lastCall) && !n.lastEmitTime.IsZero() && now.Sub(n.lastEmitTime) < n.cfg.Debounce {
		slog.Debug("Debounced duplicate ringing", "call_id", ev.Call.String())
		metricDropped.WithLabelValues("debounced").Inc()
		return CallSignal{}, false
	}

	return n.known(number, ev.Call, now), true
}

// ringingUnknown arms the deferred RingingUnknown unless one is already
// pending or this call already produced a ringing signal
func (n *Normalizer) ringingUnknown(call CallRef, now time.Time) {
	switch {
	case !n.pendingUnknownSince.IsZero():
		metricDropped.WithLabelValues("duplicate_unknown").Inc()
		return
	case (n.unknownEmitted || n.knownEmitted) && call.SameCall(n.lastCall):
		metricDropped.WithLabelValues("late_unknown").Inc()
		return
	}

	n.pendingUnknownSince = now
	n.pendingCall = call
	n.deferred = n.loop.Schedule(n.cfg.UnknownGrace, n.fireUnknown)
	slog.Debug("Ringing without caller ID, waiting for number",
		"call_id", call.String(),
		"grace", n.cfg.UnknownGrace,
	)
}

func (n *Normalizer) fireUnknown() {
	if n.pendingUnknownSince.IsZero() {
		return
	}
	now := n.loop.Now()
	call := n.pendingCall
	n.pendingUnknownSince = time.Time{}
	n.pendingCall = CallRef{}
	n.deferred = nil
	n.unknownEmitted = true
	n.lastEmitTime = now
	n.lastNumber = ""
	n.lastCall = call

	n.deliver(n.signal(KindRingingUnknown, "", call, now))
}

func (n *Normalizer) known(number phone.Number, call CallRef, now time.Time) CallSignal {
	n.lastEmitTime = now
	n.lastNumber = number
	n.lastCall = call
	n.knownEmitted = true
	return n.signal(KindRingingKnown, number, call, now)
}

func (n *Normalizer) signal(kind Kind, number phone.Number, call CallRef, now time.Time) CallSignal {
	return CallSignal{Kind: kind, Number: number, Call: call, Timestamp: now}
}

func (n *Normalizer) deliver(sig CallSignal) {
	metricSignals.WithLabelValues(sig.Kind.String()).Inc()
	if n.emit != nil {
		n.emit(sig)
	}
}

// endCall clears the state that belongs to call. A pending unknown or an
// emitted ringing of another call is left alone.
func (n *Normalizer) endCall(call CallRef) {
	if !n.pendingUnknownSince.IsZero() && call.SameCall(n.pendingCall) {
		n.clearPending()
	}
	if call.SameCall(n.lastCall) {
		n.clearLast()
	}
}

// reset clears all pending and debounce state
func (n *Normalizer) reset() {
	n.clearPending()
	n.clearLast()
}

func (n *Normalizer) clearPending() {
	n.deferred.Cancel()
	n.deferred = nil
	n.pendingUnknownSince = time.Time{}
	n.pendingCall = CallRef{}
}

func (n *Normalizer) clearLast() {
	n.lastEmitTime = time.Time{}
	n.lastNumber = ""
	n.lastCall = CallRef{}
	n.unknownEmitted = false
	n.knownEmitted = false
}
