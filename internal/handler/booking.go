package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/service"
)

// queueTokenHeader carries the caller's admission token into the booking
// flow. A request without a currently ACTIVE token is turned away before
// any seat is touched.
const queueTokenHeader = "X-Queue-Token"

// BookingHandler exposes seat registration and the booking flow. Booking
// is gated by the admission controller: the seat lock and the reservation
// are only attempted for callers holding an ACTIVE queue token.
type BookingHandler struct {
	Queue        *service.QueueService
	Reservations *service.ReservationService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(queue *service.QueueService, reservations *service.ReservationService) *BookingHandler {
	if queue == nil || reservations == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Queue: queue, Reservations: reservations}
}

// RegisterSeats handles POST /v1/schedules/:id/seats. The request body
// carries the seat numbers and a uniform price; the inventory is created
// once per schedule.
func (h *BookingHandler) RegisterSeats(c echo.Context) error {
	if _, err := getUserID(c); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	scheduleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || scheduleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	var body struct {
		Numbers []uint32 `json:"numbers"`
		Price   int64    `json:"price"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Numbers) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "numbers is required"})
	}
	if err := h.Reservations.RegisterSeats(c.Request().Context(), scheduleID, body.Numbers, body.Price); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"registered": len(body.Numbers)})
}

// ListSeats handles GET /v1/schedules/:id/seats.
func (h *BookingHandler) ListSeats(c echo.Context) error {
	scheduleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || scheduleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	seats, err := h.Reservations.SeatsBySchedule(c.Request().Context(), scheduleID)
	if err != nil {
		return writeError(c, err)
	}
	type seatView struct {
		ID     uint64 `json:"id"`
		Number uint32 `json:"number"`
		Price  int64  `json:"price"`
		Status string `json:"status"`
	}
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		out = append(out, seatView{ID: s.ID, Number: s.Number, Price: s.Price, Status: s.Status})
	}
	return c.JSON(http.StatusOK, echo.Map{"seats": out})
}

// Book handles POST /v1/schedules/:id/seats/:seat_id/book. It validates
// the caller's queue token, locks the seat under the version guard and
// creates the BOOKED reservation. Exactly one of N concurrent calls on
// the same seat succeeds; the rest get 409.
func (h *BookingHandler) Book(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	scheduleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || scheduleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	seatID, err := strconv.ParseUint(c.Param("seat_id"), 10, 64)
	if err != nil || seatID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	tokenID, err := strconv.ParseUint(c.Request().Header.Get(queueTokenHeader), 10, 64)
	if err != nil || tokenID == 0 {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "queue token required"})
	}
	ctx := c.Request().Context()
	if err := h.Queue.ValidateActiveToken(ctx, scheduleID, tokenID); err != nil {
		return writeError(c, err)
	}
	reservation, err := h.Reservations.BookSeat(ctx, userID, scheduleID, seatID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation_id": reservation.ID,
		"seat_id":        reservation.SeatID,
		"price":          reservation.Price,
		"status":         reservation.Status,
		"expired_at":     reservation.ExpiredAt.Format(time.RFC3339),
	})
}
