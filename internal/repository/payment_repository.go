package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// PaymentRepo persists payment attempts. Each row records one saga run and
// is only ever mutated through guarded status transitions by the
// orchestrator that created it.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo constructs a PaymentRepo with the given DB handle.
func NewPaymentRepo(db *sql.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

// Create inserts a payment row and populates its ID.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const q = `INSERT INTO payments (user_id, reservation_id, price, status, created_at)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.UserID, p.ReservationID, p.Price, p.Status,
		p.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// Get retrieves a payment by its id.
func (r *PaymentRepo) Get(ctx context.Context, id uint64) (*model.Payment, error) {
	const q = `SELECT id, user_id, reservation_id, price, status, created_at
	           FROM payments WHERE id = ?`
	var p model.Payment
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&p.ID, &p.UserID, &p.ReservationID, &p.Price, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CompletedByReservation returns the most recent COMPLETED payment for a
// reservation, the attempt a refund must settle against.
func (r *PaymentRepo) CompletedByReservation(ctx context.Context, reservationID uint64) (*model.Payment, error) {
	const q = `SELECT id, user_id, reservation_id, price, status, created_at
	           FROM payments
	           WHERE reservation_id = ? AND status = ?
	           ORDER BY id DESC
	           LIMIT 1`
	var p model.Payment
	err := r.db.QueryRowContext(ctx, q, reservationID, model.PaymentStatusCompleted).
		Scan(&p.ID, &p.UserID, &p.ReservationID, &p.Price, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdateStatus transitions a payment from one status to another. When
// staged is non-nil the outbox entry is written in the same transaction,
// so a COMPLETED payment and its downstream event commit together.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id uint64, from, to string, staged *model.OutboxEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `UPDATE payments SET status = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrBusinessRule
	}
	if staged != nil {
		const ins = `INSERT INTO outbox_entries (topic, payload, status, retry_count)
		             VALUES (?, ?, ?, 0)`
		if _, err := tx.ExecContext(ctx, ins, staged.Topic, staged.Payload, model.OutboxStatusPending); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
