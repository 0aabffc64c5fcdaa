package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventhub/booking/internal/observability"
	"github.com/eventhub/booking/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))

	r.With(IdempotencyMiddleware).Post("/v1/bookings", h.CreateBooking)
	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Get("/v1/categories/{id}/availability", h.GetAvailability)
	r.Get("/v1/payments/vnpay/callback", h.VNPayCallback)
	r.Post("/v1/sweep", h.Sweep)
	r.Post("/v1/tickets/{token}/checkin", h.CheckIn)
	r.Post("/v1/events/{id}/notify", h.NotifyEventHolders)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
