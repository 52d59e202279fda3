package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// SeatRepo provides access to the seat inventory. Status changes go
// through CompareAndSetStatus, which enforces the optimistic version
// guard: the UPDATE matches only the expected version and increments it,
// so of N concurrent writers exactly one succeeds and the rest see
// ErrConflict.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// Register inserts the seat inventory of a schedule in a single statement
// and is called once per schedule at registration time.
func (r *SeatRepo) Register(ctx context.Context, seats []*model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO seats (schedule_id, number, price, status, version) VALUES `
	args := make([]interface{}, 0, len(seats)*5)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, s.ScheduleID, s.Number, s.Price, s.Status, s.Version)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// Get retrieves a seat by its id.
func (r *SeatRepo) Get(ctx context.Context, id uint64) (*model.Seat, error) {
	const q = `SELECT id, schedule_id, number, price, status, version, created_at, updated_at
	           FROM seats WHERE id = ?`
	var s model.Seat
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&s.ID, &s.ScheduleID, &s.Number, &s.Price, &s.Status, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListBySchedule retrieves all seats of a schedule ordered by number.
func (r *SeatRepo) ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error) {
	const q = `SELECT id, schedule_id, number, price, status, version, created_at, updated_at
	           FROM seats
	           WHERE schedule_id = ?
	           ORDER BY number`
	rows, err := r.db.QueryContext(ctx, q, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.ScheduleID, &s.Number, &s.Price, &s.Status, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CompareAndSetStatus transitions a seat to the given status if and only
// if its version still matches expectedVersion, incrementing the version
// in the same statement. When staged is non-nil the outbox entry is
// inserted in the same transaction as the seat update, so the event and
// the state change commit or roll back together. A version mismatch
// returns ErrConflict; a missing seat returns ErrNotFound.
func (r *SeatRepo) CompareAndSetStatus(ctx context.Context, seatID, expectedVersion uint64, status string, staged *model.OutboxEntry) error {
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

	const upd = `UPDATE seats
	             SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP(6)
	             WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, upd, status, seatID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM seats WHERE id = ?`, seatID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
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
