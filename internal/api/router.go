// Package api provides the HTTP surface of PRONTO: the card bridge, call
// event intake, Twilio webhooks and the settings API
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// NewRouter creates and configures the API router
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if deps.Config != nil && len(deps.Config.CORSOrigins) > 0 {
		origins = deps.Config.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	bridgeHandler := NewBridgeHandler(deps)
	webhookHandler := NewWebhookHandler(deps)
	eventsHandler := NewEventsHandler(deps)
	settingsHandler := NewSettingsHandler(deps)
	statusHandler := NewStatusHandler(deps)

	// Health endpoints
	var store Pinger
	if deps.DB != nil {
		store = deps.DB
	}
	healthHandler := NewHealthHandler(Version, store)
	r.Get("/health", healthHandler.Health)
	r.Get("/api/health", healthHandler.Health)
	r.Get("/api/ready", healthHandler.Ready)
	r.Get("/api/live", healthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())

	// Card surface and its bridge
	r.Get("/card", ServeCard)
	r.Route("/bridge", func(r chi.Router) {
		if deps.Hub != nil {
			r.Get("/ws", deps.Hub.ServeWS)
		}
		r.Post("/ready", bridgeHandler.Ready)
		r.Post("/action", bridgeHandler.Action)
		r.Get("/number", bridgeHandler.Number)
		r.Get("/qr", bridgeHandler.QR)
	})

	r.Route("/api", func(r chi.Router) {
		// Twilio webhooks (secured by Twilio signature validation)
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/voice/incoming", webhookHandler.VoiceIncoming)
			r.Post("/voice/status", webhookHandler.VoiceStatus)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			var tokenHash string
			if deps.Config != nil {
				tokenHash = deps.Config.AdminTokenHash
			}
			r.Use(AdminMiddleware(tokenHash))

			r.Post("/events", eventsHandler.Ingest)

			r.Get("/status", statusHandler.Get)
			r.Get("/status/events", statusHandler.ListEvents)

			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", statusHandler.ListSessions)
				r.Get("/{id}", statusHandler.GetSession)
			})
		})
	})

	return r
}
