package model

import "time"

// Payment statuses. A payment row records one saga attempt and is mutated
// in place only by the orchestrator that created it; retries create new
// rows, so the table reads as a history of attempts.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Payment tracks one attempt to pay for a reservation with points.
//
// Fields:
//  ID            – primary key identifier.
//  UserID        – paying user.
//  ReservationID – reservation the payment settles.
//  Price         – amount of points moved.
//  Status        – PENDING, COMPLETED, FAILED or REFUNDED.
//  CreatedAt     – attempt timestamp.
type Payment struct {
	ID            uint64    // payments.id
	UserID        uint64    // payments.user_id
	ReservationID uint64    // payments.reservation_id
	Price         int64     // payments.price
	Status        string    // payments.status
	CreatedAt     time.Time // payments.created_at
}
