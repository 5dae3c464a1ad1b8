package api

import (
	"net/http"

	"github.com/dom/presence-registry/internal/api/handlers"
	"github.com/dom/presence-registry/internal/api/middleware"
	"github.com/dom/presence-registry/internal/config"
	"github.com/dom/presence-registry/internal/service"
	"github.com/dom/presence-registry/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(services *service.Services, hub *websocket.Hub, cfg *config.Config, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Initialize handlers
	presenceHandler := handlers.NewPresenceHandler(services.Presence, cfg.MaxBulkUsers)
	wsHandler := handlers.NewWebSocketHandler(hub, services.Presence, services.Token)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Token))

			r.Route("/presence", func(r chi.Router) {
				r.Get("/online", presenceHandler.OnlineUsers)
				r.Post("/bulk", presenceHandler.BulkIsOnline)
				r.Post("/last-activity", presenceHandler.LastActivity)

				// Caller's own presence
				r.Get("/me/connections", presenceHandler.MyConnections)
				r.Delete("/me", presenceHandler.RemoveMe)

				// Gateway-reported connection events
				r.Post("/events/connect", presenceHandler.Connect)
				r.Post("/events/disconnect", presenceHandler.Disconnect)
				r.Post("/events/activity", presenceHandler.Activity)

				r.Get("/{userId}", presenceHandler.IsOnline)
			})
		})

		// WebSocket endpoint
		r.Get("/ws", wsHandler.Handle)
	})

	return r
}
