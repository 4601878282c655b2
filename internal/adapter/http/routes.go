package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, corsOrigin string) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors(corsOrigin))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/debates", h.CreateDebate)
		r.Get("/debates/{id}", h.GetDebate)
		r.Get("/debates/{id}/events", h.ListDebateEvents)
		r.Post("/debates/{id}/restart", h.RestartDebate)
		r.Post("/debates/{id}/stop", h.StopDebate)
		r.Get("/debates/{id}/ws", h.ServeWS)
	})
}

// cors allows the configured frontend origin.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
