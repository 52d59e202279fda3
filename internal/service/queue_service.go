// Package service implements the booking core behind storage-agnostic
// ports: admission control, the reservation state machine, the payment
// saga and the outbox relay. Each service mutates only the records it
// owns; everything else is reached through a port interface.
package service

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
	"github.com/iliyamo/concert-ticket-booking/internal/repository"
)

// TokenStore is the persistence port of the admission queue. Both the
// relational and the key-value backing implement it with identical
// externally observed semantics: FIFO order by (created_at, id), atomic
// per-token promotion, guarded expiry.
type TokenStore interface {
	Create(ctx context.Context, t *model.Token) error
	Get(ctx context.Context, scheduleID, tokenID uint64) (*model.Token, error)
	CountActive(ctx context.Context, scheduleID uint64) (int, error)
	PromoteOldest(ctx context.Context, scheduleID uint64, k int, expiredAt time.Time) ([]uint64, error)
	Expire(ctx context.Context, scheduleID, tokenID uint64) error
	WaitingAhead(ctx context.Context, scheduleID, tokenID uint64) (int, error)
	ExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Token, error)
}

// sweepBatchSize bounds how many lapsed tokens one sweep pass handles.
const sweepBatchSize = 500

// QueueService is the admission controller: it gates entry to the booking
// flow per concert schedule, keeping the ACTIVE token count within the
// queue policy at all times. Queues of different schedules are fully
// independent.
type QueueService struct {
	store  TokenStore
	policy model.QueuePolicy
	now    func() time.Time
}

// NewQueueService constructs a QueueService over the given backing.
func NewQueueService(store TokenStore, policy model.QueuePolicy) *QueueService {
	return &QueueService{store: store, policy: policy, now: time.Now}
}

// IssueToken admits a user to the queue of a schedule. While the ACTIVE
// count is under the activation threshold the token starts ACTIVE with
// the active-token TTL; otherwise it joins the tail of the waiting queue.
func (s *QueueService) IssueToken(ctx context.Context, userID, scheduleID uint64) (*model.Token, error) {
	active, err := s.store.CountActive(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &model.Token{
		UserID:     userID,
		ScheduleID: scheduleID,
		CreatedAt:  now,
	}
	if active < s.policy.ImmediateActivationLimit() {
		t.Status = model.TokenStatusActive
		t.ExpiredAt = now.Add(s.policy.ActiveTokenDuration)
	} else {
		t.Status = model.TokenStatusWait
		t.ExpiredAt = now.Add(s.policy.WaitingTokenDuration)
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ActivateTokens promotes up to k of the oldest WAIT tokens of a schedule.
// If promoting k tokens could push the ACTIVE count past the policy limit
// it activates none and returns ErrCapacityExceeded; there is no partial
// activation. Returns the promoted token ids.
func (s *QueueService) ActivateTokens(ctx context.Context, scheduleID uint64, k int) ([]uint64, error) {
	if k <= 0 {
		return nil, nil
	}
	active, err := s.store.CountActive(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if active+k > s.policy.MaxConcurrentUsers {
		return nil, repository.ErrCapacityExceeded
	}
	deadline := s.now().UTC().Add(s.policy.ActiveTokenDuration)
	return s.store.PromoteOldest(ctx, scheduleID, k, deadline)
}

// ExpireToken moves a WAIT or ACTIVE token to EXPIRED. Expiring a token
// twice is a bug in the caller and fails with ErrBusinessRule.
func (s *QueueService) ExpireToken(ctx context.Context, scheduleID, tokenID uint64) error {
	return s.store.Expire(ctx, scheduleID, tokenID)
}

// RemainingTokenCount returns how many WAIT tokens stand strictly ahead
// of this token in its schedule's queue. ACTIVE tokens are already
// admitted and report zero; asking for an EXPIRED token is a business
// rule violation.
func (s *QueueService) RemainingTokenCount(ctx context.Context, scheduleID, tokenID uint64) (int, error) {
	t, err := s.store.Get(ctx, scheduleID, tokenID)
	if err != nil {
		return 0, err
	}
	switch t.Status {
	case model.TokenStatusActive:
		return 0, nil
	case model.TokenStatusExpired:
		return 0, repository.ErrBusinessRule
	}
	return s.store.WaitingAhead(ctx, scheduleID, tokenID)
}

// ValidateActiveToken checks that a token admits its user right now. The
// booking boundary calls this before letting a request touch seats.
func (s *QueueService) ValidateActiveToken(ctx context.Context, scheduleID, tokenID uint64) error {
	t, err := s.store.Get(ctx, scheduleID, tokenID)
	if err != nil {
		return err
	}
	if !t.Active(s.now().UTC()) {
		return repository.ErrBusinessRule
	}
	return nil
}

// Sweep expires ACTIVE tokens past their deadline and activates an equal
// number of waiting tokens per schedule, holding the steady-state
// concurrency at the policy limit without a global lock. A token already
// expired by a concurrent sweep is skipped; the loser of the guarded
// update simply does not count it.
func (s *QueueService) Sweep(ctx context.Context) error {
	lapsed, err := s.store.ExpiredActive(ctx, s.now().UTC(), sweepBatchSize)
	if err != nil {
		return err
	}
	expiredPerSchedule := make(map[uint64]int)
	for _, t := range lapsed {
		if err := s.store.Expire(ctx, t.ScheduleID, t.ID); err != nil {
			if err == repository.ErrBusinessRule || err == repository.ErrNotFound {
				continue
			}
			return err
		}
		expiredPerSchedule[t.ScheduleID]++
	}
	deadline := s.now().UTC().Add(s.policy.ActiveTokenDuration)
	for scheduleID, n := range expiredPerSchedule {
		active, err := s.store.CountActive(ctx, scheduleID)
		if err != nil {
			return err
		}
		k := n
		if headroom := s.policy.MaxConcurrentUsers - active; k > headroom {
			k = headroom
		}
		if k <= 0 {
			continue
		}
		promoted, err := s.store.PromoteOldest(ctx, scheduleID, k, deadline)
		if err != nil {
			return err
		}
		if len(promoted) > 0 {
			log.Printf("queue-sweep: schedule=%d expired=%d activated=%d", scheduleID, n, len(promoted))
		}
	}
	return nil
}
