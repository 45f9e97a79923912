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
  /api/products/*    Product catalogue and stock mutations
  /api/orders/*      Order confirmation and returns
  /api/sessions/*    Counting session lifecycle and reconciliation
  /api/tasks/*       Counting task transitions
  /api/audit         Audit trail queries

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/low-stock", h.ListLowStock)
			r.Get("/value", h.StockValue)
			r.Get("/{id}", h.GetProduct)
			r.Post("/{id}/add", h.AddStock)
			r.Post("/{id}/remove", h.RemoveStock)
			r.Post("/{id}/adjust", h.AdjustStock)
			r.Post("/{id}/count", h.CountStock)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/confirm", h.ConfirmOrder)
			r.Post("/return", h.ReturnOrder)
		})

		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.OpenSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/close", h.CloseSession)
			r.Post("/{id}/reconcile", h.ReconcileSession)
			r.Post("/{id}/cancel", h.CancelSession)
		})

		// Task routes
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/{id}/assign", h.AssignTask)
			r.Post("/{id}/start", h.StartTask)
			r.Post("/{id}/complete", h.CompleteTask)
			r.Post("/{id}/cancel", h.CancelTask)
		})

		// Audit routes
		r.Get("/audit", h.QueryAudit)
	})

	return r
}
