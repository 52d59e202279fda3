package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
	"github.com/iliyamo/concert-ticket-booking/internal/repository"
)

type memOutboxStore struct {
	mu      sync.Mutex
	seq     uint64
	entries map[uint64]*model.OutboxEntry
}

func newMemOutboxStore() *memOutboxStore {
	return &memOutboxStore{entries: make(map[uint64]*model.OutboxEntry)}
}

func (s *memOutboxStore) Stage(_ context.Context, e *model.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = s.seq
	e.Status = model.OutboxStatusPending
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *memOutboxStore) Pending(_ context.Context, limit int) ([]model.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OutboxEntry
	for _, e := range s.entries {
		if e.Status == model.OutboxStatusPending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memOutboxStore) MarkSent(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = model.OutboxStatusSent
	return nil
}

func (s *memOutboxStore) MarkFailedAttempt(_ context.Context, id uint64, maxRetry int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.RetryCount++
	if e.RetryCount > maxRetry {
		e.Status = model.OutboxStatusError
	}
	return nil
}

func (s *memOutboxStore) DeleteSent(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if e.Status == model.OutboxStatusSent {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *memOutboxStore) RequeueErrors(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.Status == model.OutboxStatusError {
			e.Status = model.OutboxStatusPending
			e.RetryCount = 0
			n++
		}
	}
	return n, nil
}

// brokerStub records publishes and can be told to fail.
type brokerStub struct {
	mu        sync.Mutex
	published map[string]int
	fail      error
}

func newBrokerStub() *brokerStub {
	return &brokerStub{published: make(map[string]int)}
}

func (b *brokerStub) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.published[topic+"|"+string(payload)]++
	return nil
}

func TestSendPendingPublishesEachEntryOnce(t *testing.T) {
	store := newMemOutboxStore()
	broker := newBrokerStub()
	svc := NewOutboxService(store, broker, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := &model.OutboxEntry{Topic: "payment.completed", Payload: []byte{byte('a' + i)}}
		if err := store.Stage(ctx, e); err != nil {
			t.Fatalf("Stage: %v", err)
		}
	}

	sent, err := svc.SendPending(ctx)
	if err != nil {
		t.Fatalf("SendPending: %v", err)
	}
	if sent != 3 {
		t.Errorf("sent = %d, want 3", sent)
	}
	// A second pass finds nothing PENDING; nothing publishes twice.
	if sent, err = svc.SendPending(ctx); err != nil || sent != 0 {
		t.Errorf("second pass: sent = %d, err = %v, want 0, nil", sent, err)
	}
	for key, n := range broker.published {
		if n != 1 {
			t.Errorf("message %q published %d times, want 1", key, n)
		}
	}
}

func TestSendPendingParksExhaustedEntries(t *testing.T) {
	store := newMemOutboxStore()
	broker := newBrokerStub()
	broker.fail = errors.New("broker down")
	svc := NewOutboxService(store, broker, 2)
	ctx := context.Background()

	e := &model.OutboxEntry{Topic: "seat.assigned", Payload: []byte("x")}
	if err := store.Stage(ctx, e); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	// maxRetry failures keep the entry PENDING; one more parks it.
	for i := 0; i < 3; i++ {
		if _, err := svc.SendPending(ctx); err != nil {
			t.Fatalf("SendPending %d: %v", i, err)
		}
	}
	if got := store.entries[e.ID].Status; got != model.OutboxStatusError {
		t.Fatalf("entry status = %s, want ERROR", got)
	}

	// Re-queue and recover the broker: the entry finally goes out.
	if err := svc.RetryErrors(ctx); err != nil {
		t.Fatalf("RetryErrors: %v", err)
	}
	broker.fail = nil
	sent, err := svc.SendPending(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("after requeue: sent = %d, err = %v, want 1, nil", sent, err)
	}
	if got := store.entries[e.ID].Status; got != model.OutboxStatusSent {
		t.Errorf("entry status = %s, want SENT", got)
	}
}

func TestRemoveSent(t *testing.T) {
	store := newMemOutboxStore()
	broker := newBrokerStub()
	svc := NewOutboxService(store, broker, 5)
	ctx := context.Background()

	sentEntry := &model.OutboxEntry{Topic: "a", Payload: []byte("1")}
	pendingEntry := &model.OutboxEntry{Topic: "b", Payload: []byte("2")}
	if err := store.Stage(ctx, sentEntry); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := store.Stage(ctx, pendingEntry); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := store.MarkSent(ctx, sentEntry.ID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	if err := svc.RemoveSent(ctx); err != nil {
		t.Fatalf("RemoveSent: %v", err)
	}
	if _, ok := store.entries[sentEntry.ID]; ok {
		t.Errorf("sent entry survived cleanup")
	}
	if _, ok := store.entries[pendingEntry.ID]; !ok {
		t.Errorf("pending entry was removed")
	}
}
