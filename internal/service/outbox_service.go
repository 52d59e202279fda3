package service

import (
	"context"
	"log"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// OutboxStore is the persistence port for staged outbound events.
type OutboxStore interface {
	Stage(ctx context.Context, e *model.OutboxEntry) error
	Pending(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	MarkSent(ctx context.Context, id uint64) error
	MarkFailedAttempt(ctx context.Context, id uint64, maxRetry int) error
	DeleteSent(ctx context.Context) (int64, error)
	RequeueErrors(ctx context.Context) (int64, error)
}

// Broker is the message-broker port the relay publishes through.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// relayBatchSize bounds how many entries one relay pass publishes.
const relayBatchSize = 100

// OutboxService drains the staged-event table toward the broker with
// at-least-once delivery: an entry only leaves PENDING once the publish
// returned, and a crash between publish and MarkSent redelivers. Downstream
// consumers deduplicate.
type OutboxService struct {
	store    OutboxStore
	broker   Broker
	maxRetry int
}

// NewOutboxService constructs an OutboxService. maxRetry is the number of
// failed publishes after which an entry parks in ERROR.
func NewOutboxService(store OutboxStore, broker Broker, maxRetry int) *OutboxService {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &OutboxService{store: store, broker: broker, maxRetry: maxRetry}
}

// SendPending publishes a batch of PENDING entries synchronously. A
// publish failure increments the entry's retry count; the entry flips to
// ERROR once the budget is spent. When the publish succeeds but MarkSent
// fails, the entry stays PENDING and the next pass publishes it again —
// that duplicate is within the at-least-once contract and downstream
// consumers deduplicate. Returns the number of entries sent.
func (s *OutboxService) SendPending(ctx context.Context) (int, error) {
	pending, err := s.store.Pending(ctx, relayBatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, e := range pending {
		if err := s.broker.Publish(ctx, e.Topic, e.Payload); err != nil {
			log.Printf("outbox: publish entry=%d topic=%s failed: %v", e.ID, e.Topic, err)
			if markErr := s.store.MarkFailedAttempt(ctx, e.ID, s.maxRetry); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := s.store.MarkSent(ctx, e.ID); err != nil {
			log.Printf("outbox: mark entry=%d sent failed: %v", e.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// RemoveSent deletes SENT entries to bound storage growth.
func (s *OutboxService) RemoveSent(ctx context.Context) error {
	n, err := s.store.DeleteSent(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("outbox: removed %d sent entries", n)
	}
	return nil
}

// RetryErrors re-queues ERROR entries to PENDING for another bounded
// attempt window.
func (s *OutboxService) RetryErrors(ctx context.Context) error {
	n, err := s.store.RequeueErrors(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("outbox: re-queued %d error entries", n)
	}
	return nil
}
