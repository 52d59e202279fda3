package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// OutboxRepo persists staged outbound events. Entries are usually created
// inside the transaction of the state change that produced them (see
// SeatRepo.CompareAndSetStatus and PaymentRepo.UpdateStatus); Stage exists
// for callers that have no surrounding transaction of their own.
type OutboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo constructs an OutboxRepo with the given DB handle.
func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Stage inserts a PENDING entry.
func (r *OutboxRepo) Stage(ctx context.Context, e *model.OutboxEntry) error {
	const q = `INSERT INTO outbox_entries (topic, payload, status, retry_count)
	           VALUES (?, ?, ?, 0)`
	res, err := r.db.ExecContext(ctx, q, e.Topic, e.Payload, model.OutboxStatusPending)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.Status = model.OutboxStatusPending
	return nil
}

// Pending lists PENDING entries in insertion order for the relay.
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	const q = `SELECT id, topic, payload, status, retry_count, created_at
	           FROM outbox_entries
	           WHERE status = ?
	           ORDER BY id
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.OutboxEntry
	for rows.Next() {
		var e model.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.Status, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent records a successful publish.
func (r *OutboxRepo) MarkSent(ctx context.Context, id uint64) error {
	const q = `UPDATE outbox_entries SET status = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, model.OutboxStatusSent, id, model.OutboxStatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBusinessRule
	}
	return nil
}

// MarkFailedAttempt increments the retry counter of a PENDING entry and
// flips it to ERROR once the counter passes maxRetry.
func (r *OutboxRepo) MarkFailedAttempt(ctx context.Context, id uint64, maxRetry int) error {
	const q = `UPDATE outbox_entries
	           SET retry_count = retry_count + 1,
	               status = IF(retry_count + 1 > ?, ?, status)
	           WHERE id = ? AND status = ?`
	_, err := r.db.ExecContext(ctx, q, maxRetry, model.OutboxStatusError, id, model.OutboxStatusPending)
	return err
}

// DeleteSent removes SENT entries to bound table growth. Returns the
// number of rows removed.
func (r *OutboxRepo) DeleteSent(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox_entries WHERE status = ?`, model.OutboxStatusSent)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequeueErrors moves ERROR entries back to PENDING with a fresh retry
// budget. Returns the number of entries re-queued.
func (r *OutboxRepo) RequeueErrors(ctx context.Context) (int64, error) {
	const q = `UPDATE outbox_entries SET status = ?, retry_count = 0 WHERE status = ?`
	res, err := r.db.ExecContext(ctx, q, model.OutboxStatusPending, model.OutboxStatusError)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
