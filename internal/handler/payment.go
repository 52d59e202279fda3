package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/service"
)

// PaymentHandler exposes the payment saga. Pay and Refund are the routes
// mounted behind the idempotency middleware: retried clients must not
// move points twice.
type PaymentHandler struct {
	Queue        *service.QueueService
	Reservations *service.ReservationService
	Payments     *service.PaymentService
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(queue *service.QueueService, reservations *service.ReservationService, payments *service.PaymentService) *PaymentHandler {
	if queue == nil || reservations == nil || payments == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Queue: queue, Reservations: reservations, Payments: payments}
}

// Pay handles POST /v1/reservations/:id/payment. It runs the forward
// saga for the reservation's price and, on success, consumes the
// caller's queue token: a paid user has left the booking flow.
func (h *PaymentHandler) Pay(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	reservationID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || reservationID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx := c.Request().Context()
	reservation, err := h.Reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return writeError(c, err)
	}
	if reservation.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your reservation"})
	}
	payment, err := h.Payments.ProcessPayment(ctx, userID, reservation.Price, reservationID)
	if err != nil {
		return writeError(c, err)
	}
	if tokenID, parseErr := strconv.ParseUint(c.Request().Header.Get(queueTokenHeader), 10, 64); parseErr == nil && tokenID != 0 {
		// Best effort: a token another sweep already expired is fine.
		_ = h.Queue.ExpireToken(ctx, reservation.ScheduleID, tokenID)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"price":      payment.Price,
	})
}

// Refund handles POST /v1/reservations/:id/refund, the mirror saga.
func (h *PaymentHandler) Refund(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	reservationID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || reservationID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx := c.Request().Context()
	reservation, err := h.Reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return writeError(c, err)
	}
	if reservation.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your reservation"})
	}
	payment, err := h.Payments.ProcessRefund(ctx, userID, reservation.Price, reservationID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"price":      payment.Price,
	})
}
