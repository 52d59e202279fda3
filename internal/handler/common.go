package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/middleware"
	"github.com/iliyamo/concert-ticket-booking/internal/model"
	"github.com/iliyamo/concert-ticket-booking/internal/repository"
)

// getUserID extracts the authenticated user id injected by the JWT
// middleware.
func getUserID(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, echo.ErrUnauthorized
	}
	return id, nil
}

// writeError maps the core error taxonomy onto HTTP statuses. Synchronous
// callers see the typed failure immediately; nothing is masked.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
	case errors.Is(err, repository.ErrAlreadyExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already exists"})
	case errors.Is(err, repository.ErrCapacityExceeded):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "capacity exceeded"})
	case errors.Is(err, repository.ErrBusinessRule):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "operation not allowed in current state"})
	case errors.Is(err, repository.ErrInsufficientPoints):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "insufficient points"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
