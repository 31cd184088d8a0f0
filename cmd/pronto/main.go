// Package main is the entry point for the PRONTO call-card engine
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btafoya/pronto/internal/action"
	"github.com/btafoya/pronto/internal/api"
	"github.com/btafoya/pronto/internal/callstate"
	"github.com/btafoya/pronto/internal/certs"
	"github.com/btafoya/pronto/internal/config"
	"github.com/btafoya/pronto/internal/db"
	"github.com/btafoya/pronto/internal/loop"
	"github.com/btafoya/pronto/internal/notifications"
	"github.com/btafoya/pronto/internal/overlay"
	"github.com/btafoya/pronto/internal/phone"
	"github.com/btafoya/pronto/internal/rules"
	"github.com/btafoya/pronto/internal/session"
	"github.com/btafoya/pronto/internal/twilio"
	"github.com/btafoya/pronto/pkg/sip"
)

const (
	settingsRefreshInterval = 30 * time.Second
	historyRetention        = 90 * 24 * time.Hour
	historyPruneInterval    = 24 * time.Hour
	shutdownTimeout         = 30 * time.Second
	loopDrainTimeout        = 2 * time.Second
)

func main() {
	genToken := flag.Bool("gen-token", false, "print a new admin token and its bcrypt hash, then exit")
	flag.Parse()

	if *genToken {
		if err := printAdminToken(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg := config.Load()

	slog.SetDefault(newLogger(os.Stdout, cfg.DebugMode))
	slog.Info("Starting PRONTO", "version", api.Version)

	if cfg.AdminTokenHash == "" {
		slog.Warn("PRONTO_ADMIN_TOKEN_HASH not set, admin endpoints are locked; run with -gen-token")
	}

	// Ensure data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		slog.Error("Failed to create data directories", "error", err)
		os.Exit(1)
	}

	// Initialize database
	database, err := db.New(cfg.DBPath())
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Settings gate
	engine := rules.NewEngine(database, cfg.Timezone)
	if err := engine.Refresh(ctx); err != nil {
		slog.Warn("Using default settings", "error", err)
	}
	go engine.Run(ctx, settingsRefreshInterval)
	go pruneHistory(ctx, database)

	// Event loop; it outlives ctx so the shutdown close can still run on it
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	l := loop.New(loop.RealClock())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		l.Run(loopCtx)
	}()

	// Call-card core
	hub := api.NewHub(cfg.CORSOrigins)
	notifier := notifications.NewNotifier(cfg, database)

	overlayMgr := overlay.NewManager(l, overlay.Config{
		MaxLifetime:      cfg.OverlayMaxLifetime,
		LivenessInterval: cfg.LivenessInterval,
		ProbeTimeout:     config.LivenessProbeTimeout,
	}, hub, overlay.NewGuard())

	controller := session.NewController(l, session.Config{
		UnknownGrace: cfg.UnknownGrace,
		AutoDismiss:  cfg.AutoDismiss,
	}, overlayMgr)
	controller.SetGate(engine)
	controller.SetStatusSink(notifier)
	controller.SetRecorder(database.Sessions)

	normalizer := callstate.NewNormalizer(l, callstate.Config{
		Debounce:     cfg.DebounceWindow,
		UnknownGrace: cfg.UnknownGrace,
	}, controller.HandleSignal)

	executor := action.NewExecutor(l, action.Config{
		ChatCloseDelay:   cfg.ChatCloseDelay,
		AnswerCloseDelay: cfg.AnswerCloseDelay,
		ControlTimeout:   config.CallControlTimeout,
		DialRule:         dialRule(cfg),
	}, controller)
	executor.SetLaunchers(hub, action.CommandLauncher{Command: cfg.OpenCommand})
	executor.SetGrants(engine)

	overlayMgr.SetReporter(controller)
	overlayMgr.SetGrants(engine)
	overlayMgr.SetActionHandler(executor)

	// TLS certificates
	certManager, err := certs.NewManager(cfg.TLS, cfg.CertsPath())
	if err != nil {
		slog.Error("Failed to initialize TLS certificates", "error", err)
		os.Exit(1)
	}

	// Initialize SIP server
	var sipServer *sip.Server
	if cfg.SIPEnabled {
		sipCfg := sip.Config{
			Port:      cfg.SIPPort,
			UserAgent: config.DefaultUserAgent,
		}
		if certManager != nil {
			sipCfg.TLSPort = cfg.TLS.SIPPort
			sipCfg.TLSConfig = certManager.TLSConfig()
		}

		sipServer, err = sip.NewServer(sipCfg, normalizer)
		if err != nil {
			slog.Error("Failed to initialize SIP server", "error", err)
			os.Exit(1)
		}
		if err := sipServer.Start(ctx); err != nil {
			slog.Error("Failed to start SIP server", "error", err)
			os.Exit(1)
		}
		slog.Info("SIP server started", "port", cfg.SIPPort)

		executor.RegisterCallControl(callstate.SourceSIP, sipServer)
		overlayMgr.RegisterProber(callstate.SourceSIP, sipServer)
	}

	// Initialize Twilio client
	twilioClient := twilio.NewClient(cfg)
	twilioClient.Start(ctx)
	executor.RegisterCallControl(callstate.SourceTwilio, twilioClient)
	overlayMgr.RegisterProber(callstate.SourceTwilio, twilioClient)
	slog.Info("Twilio client initialized")

	deps := &api.Dependencies{
		Config:   cfg,
		DB:       database,
		Rules:    engine,
		Events:   normalizer,
		Sessions: controller,
		Links:    executor,
		Hub:      hub,
		Twilio:   twilioClient,
		Certs:    certManager,
	}
	if sipServer != nil {
		deps.SIP = sipServer
	}

	// Initialize and start HTTP server
	httpServer := newHTTPServer(cfg, api.NewRouter(deps))

	go func() {
		var err error
		if certManager != nil {
			httpServer.TLSConfig = certManager.TLSConfig()
			slog.Info("HTTPS server started", "port", cfg.HTTPPort)
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			slog.Info("HTTP server started", "port", cfg.HTTPPort)
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Info("Shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		slog.Info("Server failed, shutting down...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Stop call sources
	cancel()
	if sipServer != nil {
		sipServer.Stop()
	}

	// Close the live card, then stop the loop once the close has run
	controller.Shutdown()
	drainLoop(l, loopDrainTimeout)
	stopLoop()
	<-loopDone

	controller.Wait()
	notifier.Wait()

	slog.Info("PRONTO shutdown complete")
}

// newLogger returns the JSON logger, at debug level when debug is set
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func dialRule(cfg *config.Config) phone.DialRule {
	rule := phone.DialRule{
		CountryCode:    cfg.CountryCode,
		NationalLength: cfg.NationalLength,
	}
	if rule.CountryCode == "" || rule.NationalLength <= 0 {
		return phone.DefaultDialRule
	}
	return rule
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// printAdminToken writes a fresh admin token and the hash to configure
func printAdminToken(w io.Writer) error {
	token, hash, err := api.NewAdminToken()
	if err != nil {
		return fmt.Errorf("failed to generate admin token: %w", err)
	}
	fmt.Fprintf(w, "Admin token: %s\n", token)
	fmt.Fprintf(w, "PRONTO_ADMIN_TOKEN_HASH=%s\n", hash)
	return nil
}

// drainLoop waits until every task posted so far has run, or timeout
func drainLoop(l *loop.Loop, timeout time.Duration) bool {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("Event loop did not drain before shutdown")
		return false
	}
}

// pruneHistory deletes old session history and status events once a day
func pruneHistory(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().Add(-historyRetention)
		if n, err := database.Sessions.DeleteOlderThan(ctx, cutoff); err != nil {
			slog.Warn("Failed to prune session history", "error", err)
		} else if n > 0 {
			slog.Info("Pruned session history", "deleted", n)
		}
		if _, err := database.StatusEvents.DeleteOlderThan(ctx, cutoff); err != nil {
			slog.Warn("Failed to prune status events", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
