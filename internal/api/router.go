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

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/parks", func(r chi.Router) {
			r.Get("/", s.handleListParks)
			r.Post("/", s.handleUpsertPark)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetPark)
				r.Delete("/", s.handleDeletePark)
				r.Put("/state", s.handleSetParkState)
			})
		})

		r.Route("/points/{device}", func(r chi.Router) {
			r.Get("/", s.handleGetPoints)
			r.Post("/reset", s.handleResetPoints)
		})

		r.Route("/fieldbus", func(r chi.Router) {
			r.Get("/devices", s.handleListDevices)
			r.Post("/read", s.handleFieldbusRead)
			r.Post("/write", s.handleFieldbusWrite)
		})

		r.Route("/flows/{flowID}", func(r chi.Router) {
			r.Get("/", s.handleGetFlow)
			r.Put("/", s.handleSaveFlow)
		})

		r.Route("/flow", func(r chi.Router) {
			r.Post("/start", s.handleStartFlow)
			r.Post("/stop", s.handleStopFlow)
			r.Get("/status", s.handleFlowStatus)
			r.Get("/kinds", s.handleListNodeKinds)
		})

		r.Get("/logs", s.handleListLogs)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running := false
	if s.runner != nil {
		running = s.runner.Status().Running
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"flow_running": running,
	})
}
