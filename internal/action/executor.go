package action

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/phone"
)

// Chat link templates
const (
	chatAppDeepLink = "whatsapp://send?phone="
	chatWebDeepLink = "https://wa.me/"
	chatAppEntry    = "whatsapp://"
	chatWebEntry    = "https://web.whatsapp.com/"
)

// Close reasons passed to the Closer
const (
	reasonOpenChat  = "open_chat"
	reasonAnswer    = "answer"
	reasonReject    = "reject"
	reasonUserClose = "user_close"
)

// Config holds executor delays and dialing rules
type Config struct {
	ChatCloseDelay   time.Duration
	AnswerCloseDelay time.Duration
	ControlTimeout   time.Duration
	DialRule         phone.DialRule
}

// Executor runs card actions. Execute is called on the loop and never
// blocks it: launches and call control run on their own goroutines.
type Executor struct {
	loop   *loop.Loop
	cfg    Config
	closer Closer
	grants Grants

	app      Launcher
	web      Launcher
	controls map[string]CallControl
}

// NewExecutor creates an Executor that closes sessions through closer
func NewExecutor(l *loop.Loop, cfg Config, closer Closer) *Executor {
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = 5 * time.Second
	}
	return &Executor{
		loop:     l,
		cfg:      cfg,
		closer:   closer,
		controls: make(map[string]CallControl),
	}
}

// SetLaunchers installs the app launcher and the web fallback. Either may be nil.
func (e *Executor) SetLaunchers(app, web Launcher) {
	e.app = app
	e.web = web
}

// SetGrants installs the call-control permission source
func (e *Executor) SetGrants(g Grants) {
	e.grants = g
}

// RegisterCallControl installs call control for a call source
func (e *Executor) RegisterCallControl(source string, cc CallControl) {
	e.controls[source] = cc
}

// ChatLinks returns the primary and fallback URLs for a chat with n, and
// whether they deep-link to the number
func (e *Executor) ChatLinks(n phone.Number) (primary, fallback string, valid bool) {
	return ChatLinks(e.cfg.DialRule, n)
}

// ChatLinks returns the primary and fallback chat URLs for n under rule
func ChatLinks(rule phone.DialRule, n phone.Number) (primary, fallback string, valid bool) {
	target, ok := rule.Target(n)
	if !ok {
		return chatAppEntry, chatWebEntry, false
	}
	t := url.PathEscape(target)
	return chatAppDeepLink + t, chatWebDeepLink + t, true
}

// Execute performs act for the session described by req
func (e *Executor) Execute(act Action, req Request) {
	metricActions.WithLabelValues(act.String()).Inc()

	switch act {
	case OpenChat:
		primary, fallback, valid := e.ChatLinks(req.Number)
		slog.Info("Opening chat",
			"generation", req.Generation,
			"deep_link", valid,
		)
		go e.launch(primary, fallback)
		e.closeAfter(req.Generation, e.cfg.ChatCloseDelay, reasonOpenChat)

	case Answer:
		e.control(req, "accept", func(ctx context.Context, cc CallControl) error {
			return cc.Accept(ctx, req.Call)
		})
		e.closeAfter(req.Generation, e.cfg.AnswerCloseDelay, reasonAnswer)

	case Reject:
		e.control(req, "end", func(ctx context.Context, cc CallControl) error {
			return cc.End(ctx, req.Call)
		})
		e.closer.RequestClose(req.Generation, reasonReject)

	case Close:
		e.closer.RequestClose(req.Generation, reasonUserClose)

	default:
		slog.Warn("Ignoring unknown action", "generation", req.Generation)
	}
}

// control runs a call-control operation off the loop. Missing grants or
// call control degrade to a logged no-op.
func (e *Executor) control(req Request, op string, fn func(context.Context, CallControl) error) {
	if e.grants != nil && !e.grants.CallControlAllowed() {
		metricControlFailures.WithLabelValues(op, "no_grant").Inc()
		slog.Warn("Call-control permission missing", "op", op, "generation", req.Generation)
		return
	}

	cc, ok := e.controls[req.Call.Source]
	if !ok {
		metricControlFailures.WithLabelValues(op, "unsupported").Inc()
		slog.Warn("No call control for source", "op", op, "source", req.Call.Source, "error", ErrUnsupported)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ControlTimeout)
		defer cancel()
		if err := fn(ctx, cc); err != nil {
			metricControlFailures.WithLabelValues(op, "error").Inc()
			slog.Warn("Call control failed", "op", op, "call_id", req.Call.String(), "error", err)
			return
		}
		slog.Info("Call control succeeded", "op", op, "call_id", req.Call.String())
	}()
}

// launch tries the app link first and the web link second
func (e *Executor) launch(primary, fallback string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ControlTimeout)
	defer cancel()

	err := errors.New("no app launcher")
	if e.app != nil {
		if err = e.app.Launch(ctx, primary); err == nil {
			return
		}
	}
	slog.Debug("App launch failed, trying web fallback", "error", err)

	if e.web == nil {
		metricLaunchFailures.Inc()
		slog.Warn("Chat launch failed and no web fallback configured", "error", err)
		return
	}
	if err := e.web.Launch(ctx, fallback); err != nil {
		metricLaunchFailures.Inc()
		slog.Warn("Chat web fallback failed", "error", err)
	}
}

func (e *Executor) closeAfter(generation uint64, d time.Duration, reason string) {
	if d <= 0 {
		e.closer.RequestClose(generation, reason)
		return
	}
	e.loop.Schedule(d, func() {
		e.closer.RequestClose(generation, reason)
	})
}
