package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/service"
)

// QueueHandler exposes the admission controller. All methods assume JWT
// authentication has already run.
type QueueHandler struct {
	Queue *service.QueueService
}

// NewQueueHandler constructs a QueueHandler.
func NewQueueHandler(queue *service.QueueService) *QueueHandler {
	if queue == nil {
		panic("nil queue service passed to NewQueueHandler")
	}
	return &QueueHandler{Queue: queue}
}

// IssueToken handles POST /v1/schedules/:id/queue/token. It admits the
// caller to the schedule's queue and returns the token, which starts
// ACTIVE when there is headroom and WAIT otherwise.
func (h *QueueHandler) IssueToken(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	scheduleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || scheduleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	token, err := h.Queue.IssueToken(c.Request().Context(), userID, scheduleID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"token_id":   token.ID,
		"status":     token.Status,
		"expired_at": token.ExpiredAt.Format(time.RFC3339),
	})
}

// Position handles GET /v1/schedules/:id/queue/tokens/:token_id. It
// returns how many WAIT tokens stand ahead of this one; an ACTIVE token
// reports zero.
func (h *QueueHandler) Position(c echo.Context) error {
	if _, err := getUserID(c); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	scheduleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || scheduleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid schedule id"})
	}
	tokenID, err := strconv.ParseUint(c.Param("token_id"), 10, 64)
	if err != nil || tokenID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid token id"})
	}
	remaining, err := h.Queue.RemainingTokenCount(c.Request().Context(), scheduleID, tokenID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"remaining": remaining})
}
