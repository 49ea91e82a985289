/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/accounts/*          Chart of accounts
  /api/entries/*           Posting, voiding, reversal
  /api/subjects/*          Per-lease history and balances
  /api/schedules/*         Recurring charges
  /api/reconciliations/*   Bank statement reconciliation
  /api/recon-lines/*       Statement line resolution

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Chart of accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{code}", h.GetAccount)
			r.Delete("/{code}", h.DeactivateAccount)
		})

		// Entry posting and lifecycle
		r.Route("/entries", func(r chi.Router) {
			r.Post("/", h.PostEntry)
			r.Post("/pair", h.PostPair)
			r.Post("/batch", h.PostBatch)
			r.Post("/reverse", h.ReversePair)
			r.Get("/{id}", h.GetEntry)
			r.Post("/{id}/void", h.VoidEntry)
		})

		// Per-subject (lease/tenant) views
		r.Route("/subjects", func(r chi.Router) {
			r.Get("/{id}/entries", h.ListSubjectEntries)
			r.Get("/{id}/balance", h.GetSubjectBalance)
		})

		// Recurring charge schedules
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Post("/run", h.RunSchedules)
		})

		// Reconciliation sessions
		r.Route("/reconciliations", func(r chi.Router) {
			r.Get("/", h.ListReconciliations)
			r.Post("/", h.ImportStatement)
			r.Get("/{id}", h.GetReconciliation)
			r.Post("/{id}/rematch", h.RematchReconciliation)
			r.Post("/{id}/complete", h.CompleteReconciliation)
		})

		// Statement line resolution
		r.Route("/recon-lines", func(r chi.Router) {
			r.Post("/{id}/match", h.MatchLine)
			r.Post("/{id}/unmatch", h.UnmatchLine)
			r.Post("/{id}/exclude", h.ExcludeLine)
		})
	})

	// Health check for load balancers and container orchestrators.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
