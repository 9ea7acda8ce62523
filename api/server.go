/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the storefront and admin UI

ROUTE GROUPS:
  /api/availability/*   Customer snapshot and cart evaluation
  /api/orders/*         Checkout commit, lookup, cancel
  /api/admin/*          Admin snapshot, re-assignment, calendar, settings
  /api/scenarios/*      Demo scenarios
  /api/reset            Database reset (dev only)
  /metrics              Prometheus

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are used when none are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Method("GET", "/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/availability", func(r chi.Router) {
			r.Get("/", h.GetAvailability)
			r.Post("/evaluate", h.EvaluateCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
		})

		r.Get("/categories", h.ListCategories)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/availability", h.GetAdminAvailability)

			r.Put("/orders/{id}/delivery-dates", h.ReassignOrder)
			r.Get("/orders/{id}/session", h.GetOrderSession)

			r.Get("/blocked-dates", h.ListBlockedDates)
			r.Post("/blocked-dates", h.BlockDate)
			r.Delete("/blocked-dates/{date}", h.UnblockDate)

			r.Get("/date-overrides", h.ListDateOverrides)
			r.Put("/date-overrides/{date}", h.PutDateOverride)
			r.Delete("/date-overrides/{date}", h.DeleteDateOverride)

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.PutSettings)

			r.Put("/categories/{id}", h.PutCategory)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}
