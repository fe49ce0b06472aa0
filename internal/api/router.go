/**
 * @description
 * This file sets up the HTTP router. Webhooks authenticate with their own
 * shared secrets; everything under /api requires a Supabase access token.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the browser front end.
 */
package api

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ZrianRashid/ai-ugc-generator/internal/metrics"
)

// RouterConfig holds the router's settings.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
}

// NewRouter creates a new Chi router and registers every route.
func NewRouter(h *Handler, accounts AccountProvisioner, cfg RouterConfig, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: !slices.Contains(cfg.AllowedOrigins, "*"),
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", h.handleStripeWebhook)
		r.Post("/render", h.handleRenderWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", handleListPlans)

		r.Group(func(r chi.Router) {
			r.Use(SupabaseAuthMiddleware(cfg.JWTSecret, accounts, logger))
			r.Post("/generate", h.handleGenerate)
			r.Get("/account", h.handleGetAccount)
			r.Get("/videos", h.handleListVideos)
			r.Get("/videos/{id}", h.handleGetVideo)
			r.Post("/checkout", h.handleCheckout)
		})
	})

	return r
}
