package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Stream relay routes
	r.Route("/stream", func(r chi.Router) {
		r.Post("/", s.startStream)

		r.Route("/{streamID}", func(r chi.Router) {
			r.Get("/", s.pollStream)
			r.Post("/abort", s.abortStream)
		})
	})

	// Health check
	r.Get("/health", s.health)
}
