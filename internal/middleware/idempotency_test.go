package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticket-booking/internal/idempotency"
)

type stubStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

func (s *stubStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.records[key]
	return bs, ok, nil
}

func (s *stubStore) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = payload
	return nil
}

type stubLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	jammed bool
}

func (l *stubLocker) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jammed || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *stubLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func newIdempotentEcho(t *testing.T, locker *stubLocker) (*echo.Echo, *int) {
	t.Helper()
	guard := idempotency.NewGuard(&stubStore{records: make(map[string][]byte)}, locker, time.Hour)
	e := echo.New()
	e.Use(NewIdempotency(guard, 2*time.Second))
	executions := 0
	e.POST("/book", func(c echo.Context) error {
		executions++
		c.Response().Header().Set("Location", "/v1/reservations/"+strconv.Itoa(executions))
		return c.JSON(http.StatusCreated, echo.Map{"reservation_id": executions})
	})
	return e, &executions
}

func doPost(e *echo.Echo, idemKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/book", nil)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	e, executions := newIdempotentEcho(t, &stubLocker{held: make(map[string]bool)})

	first := doPost(e, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}
	second := doPost(e, "key-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("second status = %d, want 201", second.Code)
	}
	if *executions != 1 {
		t.Errorf("handler executed %d times, want 1", *executions)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body = %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Location") != first.Header().Get("Location") {
		t.Errorf("replayed Location = %q, want %q", second.Header().Get("Location"), first.Header().Get("Location"))
	}
	if second.Header().Get("X-Idempotency") != "HIT" {
		t.Errorf("X-Idempotency = %q, want HIT", second.Header().Get("X-Idempotency"))
	}
}

func TestIdempotencyDistinctKeysExecute(t *testing.T) {
	e, executions := newIdempotentEcho(t, &stubLocker{held: make(map[string]bool)})

	doPost(e, "key-1")
	doPost(e, "key-2")
	if *executions != 2 {
		t.Errorf("handler executed %d times, want 2", *executions)
	}
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	e, executions := newIdempotentEcho(t, &stubLocker{held: make(map[string]bool)})

	doPost(e, "")
	doPost(e, "")
	if *executions != 2 {
		t.Errorf("handler executed %d times, want 2", *executions)
	}
}

func TestIdempotencyInFlightAnswers202(t *testing.T) {
	locker := &stubLocker{held: make(map[string]bool), jammed: true}
	e, executions := newIdempotentEcho(t, locker)

	rec := doPost(e, "key-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", rec.Header().Get("Retry-After"))
	}
	if *executions != 0 {
		t.Errorf("handler executed %d times while in flight, want 0", *executions)
	}
}
