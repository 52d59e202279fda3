package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/idempotency"
)

// allowedHeaders is the subset of response headers an idempotent replay
// restores. Everything else is request-specific and recomputed.
var allowedHeaders = []string{"Content-Type", "Location"}

// captureWriter captures response status/body while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// NewIdempotency adapts the idempotency guard to HTTP. Requests carrying
// an Idempotency-Key header execute at most once per (method+route, key)
// within the guard's TTL; duplicates replay the recorded response
// verbatim, and a duplicate racing the original execution gets 202
// Accepted with a Retry-After hint. Requests without the header pass
// straight through.
func NewIdempotency(guard *idempotency.Guard, retryAfter time.Duration) echo.MiddlewareFunc {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			idemKey := c.Request().Header.Get("Idempotency-Key")
			if idemKey == "" {
				return next(c)
			}
			operationKey := c.Request().Method + " " + c.Path()

			executed := false
			res, replayed, err := guard.Wrap(c.Request().Context(), operationKey, idemKey,
				func(ctx context.Context) (*idempotency.Result, error) {
					executed = true
					cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
					c.Response().Writer = cw
					c.Response().Header().Set("X-Idempotency", "MISS")
					if err := next(c); err != nil {
						return nil, err
					}
					hdr := make(http.Header, len(allowedHeaders))
					for _, k := range allowedHeaders {
						if v := c.Response().Header().Get(k); v != "" {
							hdr.Set(k, v)
						}
					}
					return &idempotency.Result{
						Status:   cw.status,
						Header:   hdr,
						BodyType: c.Response().Header().Get("Content-Type"),
						Body:     cw.buf.Bytes(),
					}, nil
				})
			if err != nil {
				if errors.Is(err, idempotency.ErrInFlight) {
					c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
					return c.JSON(http.StatusAccepted, echo.Map{
						"message": "request is being processed, retry later",
					})
				}
				return err
			}
			// The executing request already streamed its response through
			// the capture writer; only replays still need a write.
			if executed {
				return nil
			}
			for k, vals := range res.Header {
				for _, v := range vals {
					c.Response().Header().Set(k, v)
				}
			}
			if res.BodyType != "" && c.Response().Header().Get("Content-Type") == "" {
				c.Response().Header().Set("Content-Type", res.BodyType)
			}
			if replayed {
				c.Response().Header().Set("X-Idempotency", "HIT")
			}
			c.Response().WriteHeader(res.Status)
			if len(res.Body) > 0 {
				_, _ = c.Response().Write(res.Body)
			}
			return nil
		}
	}
}
