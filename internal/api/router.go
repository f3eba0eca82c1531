package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/falimentos/mariia/internal/observability"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Handle("/metrics", observability.MetricsHandler())

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Seller-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/chat", apiHandler.ChatHandler)
			r.Post("/chat/stream", apiHandler.ChatStreamHandler)

			r.Post("/pitch", apiHandler.PitchHandler)
			r.Post("/pitch/feedback", apiHandler.PitchFeedbackHandler)

			r.Get("/insights", apiHandler.InsightsHandler)
			r.Get("/inactive", apiHandler.InactiveHandler)
			r.Get("/customer/{cardCode}", apiHandler.CustomerHandler)
			r.Get("/customer/{cardCode}/trends", apiHandler.CustomerTrendsHandler)
			// Legacy path shape some clients still call.
			r.Get("/trends/{cardCode}", apiHandler.CustomerTrendsHandler)
			r.Get("/customer/{cardCode}/bales_breakdown", apiHandler.BalesBreakdownHandler)
		})
	})

	return r
}
