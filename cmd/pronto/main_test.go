package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/btafoya/pronto/internal/config"
	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/phone"
	"golang.org/x/crypto/bcrypt"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		wantDebug bool
	}{
		{"info", false, false},
		{"debug", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.debug)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}

			logger.Info("hello", "call_id", "c1")
			if !strings.Contains(buf.String(), `"call_id":"c1"`) {
				t.Errorf("expected JSON output, got %s", buf.String())
			}
		})
	}
}

func TestDialRule(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want phone.DialRule
	}{
		{"configured", config.Config{CountryCode: "44", NationalLength: 10}, phone.DialRule{CountryCode: "44", NationalLength: 10}},
		{"missing country", config.Config{NationalLength: 9}, phone.DefaultDialRule},
		{"missing length", config.Config{CountryCode: "33"}, phone.DefaultDialRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dialRule(&tt.cfg); got != tt.want {
				t.Errorf("dialRule() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(&config.Config{HTTPPort: 8088}, nil)

	if srv.Addr != ":8088" {
		t.Errorf("Addr = %s, want :8088", srv.Addr)
	}
	if srv.ReadTimeout != 15*time.Second || srv.WriteTimeout != 15*time.Second {
		t.Errorf("timeouts = %v/%v", srv.ReadTimeout, srv.WriteTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v", srv.IdleTimeout)
	}
}

func TestPrintAdminToken(t *testing.T) {
	var buf bytes.Buffer
	if err := printAdminToken(&buf); err != nil {
		t.Fatalf("printAdminToken() error = %v", err)
	}

	var token, hash string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		switch {
		case strings.HasPrefix(line, "Admin token: "):
			token = strings.TrimPrefix(line, "Admin token: ")
		case strings.HasPrefix(line, "PRONTO_ADMIN_TOKEN_HASH="):
			hash = strings.TrimPrefix(line, "PRONTO_ADMIN_TOKEN_HASH=")
		}
	}
	if token == "" || hash == "" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		t.Errorf("printed hash does not match token: %v", err)
	}
}

func TestDrainLoop(t *testing.T) {
	l := loop.New(loop.RealClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	ran := false
	l.Post(func() { ran = true })
	if !drainLoop(l, time.Second) {
		t.Fatal("drainLoop() = false, want true")
	}
	if !ran {
		t.Error("task posted before the drain did not run")
	}

	cancel()
	<-done
	if drainLoop(l, 10*time.Millisecond) {
		t.Error("drainLoop() on a stopped loop = true, want false")
	}
}

func TestDefaultTimeouts(t *testing.T) {
	if shutdownTimeout < 10*time.Second || shutdownTimeout > 60*time.Second {
		t.Errorf("shutdownTimeout = %v", shutdownTimeout)
	}
	if loopDrainTimeout >= shutdownTimeout {
		t.Errorf("loopDrainTimeout %v should be shorter than shutdownTimeout %v", loopDrainTimeout, shutdownTimeout)
	}
	if settingsRefreshInterval <= 0 || historyPruneInterval <= 0 || historyRetention < historyPruneInterval {
		t.Error("invalid background intervals")
	}
}
