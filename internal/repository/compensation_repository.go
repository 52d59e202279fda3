package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// CompensationRepo persists compensation entries the saga could not apply
// synchronously. The retry sweep drains PENDING rows; rows that exhaust
// the retry budget flip to FAILED and stay visible for operators.
type CompensationRepo struct {
	db *sql.DB
}

// NewCompensationRepo constructs a CompensationRepo with the given DB handle.
func NewCompensationRepo(db *sql.DB) *CompensationRepo {
	return &CompensationRepo{db: db}
}

// Create inserts a compensation log row and populates its ID.
func (r *CompensationRepo) Create(ctx context.Context, c *model.CompensationTxLog) error {
	const q = `INSERT INTO compensation_tx_logs
	           (payment_id, user_id, reservation_id, signed_price, status, retry_count, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, c.PaymentID, c.UserID, c.ReservationID,
		c.SignedPrice, c.Status, c.RetryCount,
		c.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// Pending lists PENDING compensation entries, oldest first.
func (r *CompensationRepo) Pending(ctx context.Context, limit int) ([]model.CompensationTxLog, error) {
	const q = `SELECT id, payment_id, user_id, reservation_id, signed_price, status, retry_count, created_at
	           FROM compensation_tx_logs
	           WHERE status = ?
	           ORDER BY created_at, id
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.CompensationStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.CompensationTxLog
	for rows.Next() {
		var c model.CompensationTxLog
		if err := rows.Scan(&c.ID, &c.PaymentID, &c.UserID, &c.ReservationID,
			&c.SignedPrice, &c.Status, &c.RetryCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkCompleted resolves a PENDING entry whose inverse operation applied.
func (r *CompensationRepo) MarkCompleted(ctx context.Context, id uint64) error {
	const q = `UPDATE compensation_tx_logs SET status = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, model.CompensationStatusCompleted, id, model.CompensationStatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBusinessRule
	}
	return nil
}

// MarkFailedAttempt records one failed retry. Entries that reach the
// budget flip to FAILED in the same statement and are never retried
// again; they require manual reconciliation.
func (r *CompensationRepo) MarkFailedAttempt(ctx context.Context, id uint64, maxRetry int) error {
	const q = `UPDATE compensation_tx_logs
	           SET retry_count = retry_count + 1,
	               status = IF(retry_count + 1 >= ?, ?, status)
	           WHERE id = ? AND status = ?`
	_, err := r.db.ExecContext(ctx, q, maxRetry, model.CompensationStatusFailed, id, model.CompensationStatusPending)
	return err
}
