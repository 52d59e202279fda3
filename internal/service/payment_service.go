package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// PaymentStore is the persistence port for payment attempts.
type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	Get(ctx context.Context, id uint64) (*model.Payment, error)
	CompletedByReservation(ctx context.Context, reservationID uint64) (*model.Payment, error)
	UpdateStatus(ctx context.Context, id uint64, from, to string, staged *model.OutboxEntry) error
}

// PointStore is the point-module collaborator. It is owned by a separate
// module, which is exactly why the saga exists: a point movement and a
// reservation transition cannot share one atomic transaction.
type PointStore interface {
	Balance(ctx context.Context, userID uint64) (int64, error)
	Increase(ctx context.Context, userID uint64, amount int64) error
	Decrease(ctx context.Context, userID uint64, amount int64) error
}

// CompensationStore persists point movements the saga failed to apply
// synchronously so the retry sweep can finish the job.
type CompensationStore interface {
	Create(ctx context.Context, c *model.CompensationTxLog) error
	Pending(ctx context.Context, limit int) ([]model.CompensationTxLog, error)
	MarkCompleted(ctx context.Context, id uint64) error
	MarkFailedAttempt(ctx context.Context, id uint64, maxRetry int) error
}

// ReservationModule is the slice of the reservation service the saga
// drives.
type ReservationModule interface {
	ConfirmReservation(ctx context.Context, id uint64) error
	CancelReservation(ctx context.Context, id uint64) error
}

// Topics published by the saga through the outbox.
const (
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentRefunded  = "payment.refunded"
)

// paymentEvent is the payload staged when a payment settles or refunds.
type paymentEvent struct {
	PaymentID     uint64 `json:"payment_id"`
	UserID        uint64 `json:"user_id"`
	ReservationID uint64 `json:"reservation_id"`
	Price         int64  `json:"price"`
	OccurredAt    string `json:"occurred_at"`
}

// PaymentService orchestrates the payment saga across the point and
// reservation modules. Every partial failure resolves into either an
// immediate compensating call or a persisted compensation log — a saga is
// never left half-applied without a tracked remediation path.
type PaymentService struct {
	payments      PaymentStore
	points        PointStore
	reservations  ReservationModule
	compensations CompensationStore
	maxRetry      int
	now           func() time.Time
}

// NewPaymentService constructs a PaymentService. maxRetry bounds how
// often the compensation sweep retries one log entry before giving it to
// an operator.
func NewPaymentService(payments PaymentStore, points PointStore, reservations ReservationModule, compensations CompensationStore, maxRetry int) *PaymentService {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &PaymentService{
		payments:      payments,
		points:        points,
		reservations:  reservations,
		compensations: compensations,
		maxRetry:      maxRetry,
		now:           time.Now,
	}
}

// ProcessPayment runs the forward saga: deduct points, confirm the
// reservation, complete the payment. A point failure fails fast; a
// confirm failure after the deduction triggers a synchronous point
// restore, falling back to a PENDING compensation log when the restore
// itself fails. The returned payment reflects the final status; the
// error is the collaborator failure that stopped the saga, if any.
func (s *PaymentService) ProcessPayment(ctx context.Context, userID uint64, price int64, reservationID uint64) (*model.Payment, error) {
	p := &model.Payment{
		UserID:        userID,
		ReservationID: reservationID,
		Price:         price,
		Status:        model.PaymentStatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	if err := s.points.Decrease(ctx, userID, price); err != nil {
		s.failPayment(ctx, p)
		return p, err
	}

	if err := s.reservations.ConfirmReservation(ctx, reservationID); err != nil {
		if compErr := s.points.Increase(ctx, userID, price); compErr != nil {
			s.logCompensation(ctx, p, price)
		}
		s.failPayment(ctx, p)
		return p, err
	}

	staged, _ := s.stagedEvent(TopicPaymentCompleted, p)
	if err := s.payments.UpdateStatus(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusCompleted, staged); err != nil {
		return p, err
	}
	p.Status = model.PaymentStatusCompleted
	return p, nil
}

// ProcessRefund mirrors the forward saga: restore points, cancel the
// reservation, mark the payment REFUNDED. A cancellation failure after
// the restore triggers a synchronous point reclaim, falling back to a
// compensation log with a negative signed price on double failure.
func (s *PaymentService) ProcessRefund(ctx context.Context, userID uint64, price int64, reservationID uint64) (*model.Payment, error) {
	p, err := s.payments.CompletedByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if err := s.points.Increase(ctx, userID, price); err != nil {
		return p, err
	}

	if err := s.reservations.CancelReservation(ctx, reservationID); err != nil {
		if compErr := s.points.Decrease(ctx, userID, price); compErr != nil {
			s.logCompensation(ctx, p, -price)
		}
		return p, err
	}

	staged, _ := s.stagedEvent(TopicPaymentRefunded, p)
	if err := s.payments.UpdateStatus(ctx, p.ID, model.PaymentStatusCompleted, model.PaymentStatusRefunded, staged); err != nil {
		return p, err
	}
	p.Status = model.PaymentStatusRefunded
	return p, nil
}

// RetryCompensations reapplies pending compensation entries: positive
// signed prices restore points, negative ones reclaim them. Entries that
// keep failing count up toward the retry budget and end FAILED, visible
// for manual reconciliation and never dropped.
func (s *PaymentService) RetryCompensations(ctx context.Context) error {
	pending, err := s.compensations.Pending(ctx, sweepBatchSize)
	if err != nil {
		return err
	}
	for _, c := range pending {
		var applyErr error
		if c.SignedPrice >= 0 {
			applyErr = s.points.Increase(ctx, c.UserID, c.SignedPrice)
		} else {
			applyErr = s.points.Decrease(ctx, c.UserID, -c.SignedPrice)
		}
		if applyErr != nil {
			if err := s.compensations.MarkFailedAttempt(ctx, c.ID, s.maxRetry); err != nil {
				return err
			}
			if c.RetryCount+1 >= s.maxRetry {
				log.Printf("compensation-retry: log=%d payment=%d exhausted retries, needs operator attention: %v",
					c.ID, c.PaymentID, applyErr)
			}
			continue
		}
		if err := s.compensations.MarkCompleted(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// failPayment moves a payment to FAILED. The guarded update can only lose
// to the saga's own earlier write, so a failure here is logged, not
// propagated over the original collaborator error.
func (s *PaymentService) failPayment(ctx context.Context, p *model.Payment) {
	if err := s.payments.UpdateStatus(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusFailed, nil); err != nil {
		log.Printf("payment-saga: mark payment %d failed: %v", p.ID, err)
		return
	}
	p.Status = model.PaymentStatusFailed
}

// logCompensation persists the point movement that could not be applied
// synchronously. If even the log write fails there is nothing further to
// do inline; the error is logged loudly for operators.
func (s *PaymentService) logCompensation(ctx context.Context, p *model.Payment, signedPrice int64) {
	c := &model.CompensationTxLog{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		ReservationID: p.ReservationID,
		SignedPrice:   signedPrice,
		Status:        model.CompensationStatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.compensations.Create(ctx, c); err != nil {
		log.Printf("payment-saga: CRITICAL: compensation for payment %d (signed price %d) could not be persisted: %v",
			p.ID, signedPrice, err)
	}
}

func (s *PaymentService) stagedEvent(topic string, p *model.Payment) (*model.OutboxEntry, error) {
	payload, err := json.Marshal(paymentEvent{
		PaymentID:     p.ID,
		UserID:        p.UserID,
		ReservationID: p.ReservationID,
		Price:         p.Price,
		OccurredAt:    s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return &model.OutboxEntry{Topic: topic, Payload: payload}, nil
}
