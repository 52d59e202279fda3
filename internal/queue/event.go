// Package queue defines message payloads exchanged over the message
// broker and the RabbitMQ publisher/consumer that move them. Topics map
// one-to-one onto durable queues; delivery is at-least-once and consumers
// must deduplicate.
package queue

// SeatAssignedEvent is published when a seat is locked for a user, from
// the outbox entry staged in the same commit as the seat update.
type SeatAssignedEvent struct {
	SeatID     uint64 `json:"seat_id"`
	ScheduleID uint64 `json:"schedule_id"`
	UserID     uint64 `json:"user_id"`
	Number     uint32 `json:"number"`
	AssignedAt string `json:"assigned_at"`
}

// PaymentEvent is published when a payment completes or refunds. The
// topic distinguishes the two.
type PaymentEvent struct {
	PaymentID     uint64 `json:"payment_id"`
	UserID        uint64 `json:"user_id"`
	ReservationID uint64 `json:"reservation_id"`
	Price         int64  `json:"price"`
	OccurredAt    string `json:"occurred_at"`
}
