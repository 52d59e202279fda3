package model

import "time"

// Compensation log statuses. PENDING entries are retried by the sweep
// until COMPLETED or the retry budget runs out, after which they stay
// FAILED for manual reconciliation. They are never dropped.
const (
	CompensationStatusPending   = "PENDING"
	CompensationStatusCompleted = "COMPLETED"
	CompensationStatusFailed    = "FAILED"
)

// CompensationTxLog records a point movement that must still be applied to
// undo a half-finished saga. SignedPrice > 0 restores points to the user,
// SignedPrice < 0 reclaims points from the user.
//
// Fields:
//  ID            – primary key identifier.
//  PaymentID     – payment attempt the compensation belongs to.
//  UserID        – user whose balance is corrected.
//  ReservationID – reservation involved in the failed saga.
//  SignedPrice   – amount to apply; sign selects the direction.
//  Status        – PENDING, COMPLETED or FAILED.
//  RetryCount    – completed retry attempts.
//  CreatedAt     – when the saga persisted the entry.
type CompensationTxLog struct {
	ID            uint64    // compensation_tx_logs.id
	PaymentID     uint64    // compensation_tx_logs.payment_id
	UserID        uint64    // compensation_tx_logs.user_id
	ReservationID uint64    // compensation_tx_logs.reservation_id
	SignedPrice   int64     // compensation_tx_logs.signed_price
	Status        string    // compensation_tx_logs.status
	RetryCount    int       // compensation_tx_logs.retry_count
	CreatedAt     time.Time // compensation_tx_logs.created_at
}
