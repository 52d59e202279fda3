// Package router wires the HTTP surface: JWT authentication on every
// booking route and the idempotency guard on the mutating ones.
package router

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/handler"
	"github.com/iliyamo/concert-ticket-booking/internal/idempotency"
	"github.com/iliyamo/concert-ticket-booking/internal/middleware"
)

// Handlers bundles the route handlers so RegisterRoutes stays a single
// call site in main.
type Handlers struct {
	Queue   *handler.QueueHandler
	Booking *handler.BookingHandler
	Payment *handler.PaymentHandler
}

// RegisterRoutes mounts all endpoints on the Echo instance. Seat listing
// and the health probe are public; everything else requires a valid JWT.
// Booking, payment and refund additionally run behind the idempotency
// middleware so a retried request never double-books or double-charges.
func RegisterRoutes(e *echo.Echo, h Handlers, guard *idempotency.Guard, jwtSecret string, retryAfter time.Duration) {
	e.GET("/health", handler.Health)

	v1 := e.Group("/v1")
	v1.GET("/schedules/:id/seats", h.Booking.ListSeats)

	auth := v1.Group("", middleware.JWTAuth(jwtSecret))
	auth.POST("/schedules/:id/queue/token", h.Queue.IssueToken)
	auth.GET("/schedules/:id/queue/tokens/:token_id", h.Queue.Position)

	idem := auth.Group("", middleware.NewIdempotency(guard, retryAfter))
	idem.POST("/schedules/:id/seats", h.Booking.RegisterSeats)
	idem.POST("/schedules/:id/seats/:seat_id/book", h.Booking.Book)
	idem.POST("/reservations/:id/payment", h.Payment.Pay)
	idem.POST("/reservations/:id/refund", h.Payment.Refund)
}
