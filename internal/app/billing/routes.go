// Package billing собирает HTTP-приложение биллинга работодателей.
package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
)

// Routes обработчики, которые регистрирует приложение.
type Routes struct {
	Webhook   http.Handler
	Checkout  http.Handler
	Payments  http.Handler
	Current   http.Handler
	Read      http.Handler
	Cancel    http.Handler
	Resume    http.Handler
	Health    http.Handler
	Metrics   http.Handler
	Tokens    middlewarectx.TokenParser
	RateLimit float64
	RateBurst int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, h Routes) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук провайдера, аутентификация по подписи
		r.Post("/payments/webhook", h.Webhook.ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(h.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, h.RateLimit, h.RateBurst))
			r.Post("/checkout", h.Checkout.ServeHTTP)
			r.Get("/payments", h.Payments.ServeHTTP)
			r.Get("/subscriptions/current", h.Current.ServeHTTP)
			r.Get("/subscriptions/{id}", h.Read.ServeHTTP)
			r.Post("/subscriptions/{id}/cancel", h.Cancel.ServeHTTP)
			r.Post("/subscriptions/{id}/resume", h.Resume.ServeHTTP)
		})
	})

	r.Handle("/health", h.Health)
	r.Handle("/metrics", h.Metrics)
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
