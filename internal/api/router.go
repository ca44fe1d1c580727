package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.accessMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/system", s.handleSystem)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/session", s.handleGetSession)
					r.Post("/session/start", s.handleStartSession)
					r.Post("/session/pause", s.handlePauseSession)
					r.Post("/session/resume", s.handleResumeSession)
					r.Post("/session/toggle", s.handleToggleSession)
					r.Post("/session/stop", s.handleStopSession)
				})
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Get("/history", s.handleSessionHistory)
				r.Post("/start-all", s.handleStartAll)
				r.Post("/pause-all", s.handlePauseAll)
				r.Post("/resume-all", s.handleResumeAll)
				r.Post("/stop-all", s.handleStopAll)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.handleRecentEvents)
				r.Get("/history", s.handleEventHistory)
			})
		})

		// Authenticated by ticket inside the handler.
		wsPath := s.wsCfg.Path
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status, including each optional
// infrastructure client.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		if err := c.HealthCheck(r.Context()); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
