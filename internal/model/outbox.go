package model

import "time"

// Outbox entry statuses. PENDING entries are relayed to the broker at
// least once; failures increment RetryCount until the budget is spent and
// the entry moves to ERROR. ERROR entries can be re-queued to PENDING for
// another bounded attempt window.
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusError   = "ERROR"
)

// OutboxEntry is an outbound event staged in the same local commit as the
// state change that produced it, so the event survives broker outages.
//
// Fields:
//  ID         – primary key identifier.
//  Topic      – broker routing key.
//  Payload    – JSON event body.
//  Status     – PENDING, SENT or ERROR.
//  RetryCount – failed publish attempts so far.
//  CreatedAt  – staging timestamp.
type OutboxEntry struct {
	ID         uint64    // outbox_entries.id
	Topic      string    // outbox_entries.topic
	Payload    []byte    // outbox_entries.payload
	Status     string    // outbox_entries.status
	RetryCount int       // outbox_entries.retry_count
	CreatedAt  time.Time // outbox_entries.created_at
}
