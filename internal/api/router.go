package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Pool statistics (no auth required for basic monitoring)
		r.Get("/stats", s.handleStats)

		// WebSocket upgrade. Auth is the single-use ticket issued by
		// POST /auth/ws-ticket: browser WebSocket clients cannot set an
		// Authorization header on the upgrade request, so this route
		// must sit outside the bearer-token group.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication - user must be logged in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Connection endpoints
			r.Route("/connections", func(r chi.Router) {
				r.Get("/", s.handleListConnections)
				r.Post("/", s.handleConnect)

				r.Route("/{address}", func(r chi.Router) {
					r.Get("/", s.handleGetConnection)
					r.Delete("/", s.handleRelease)
					r.Get("/state", s.handleDeviceState)
					r.Post("/command", s.handleSendCommand)
				})
			})

			// Journal endpoints
			r.Get("/events", s.handleListEvents)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStats returns connection pool counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.pool.Stats()

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool":       stats,
		"ws_clients": clients,
	})
}
