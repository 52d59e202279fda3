package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// ReservationRepo provides access to reservations. Creation enforces the
// single non-terminal reservation per (schedule, seat) invariant inside a
// transaction; every status transition is a guarded UPDATE keyed on the
// expected current status, so illegal transitions and lost races both
// surface as zero affected rows instead of overwriting state.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo constructs a ReservationRepo with the given DB handle.
func NewReservationRepo(db *sql.DB) *ReservationRepo {
	return &ReservationRepo{db: db}
}

// Create inserts a BOOKED reservation after verifying no non-terminal
// reservation exists for the same (schedule, seat). The check and the
// insert share a transaction with a locking read, so two concurrent
// creates for one seat serialize and the loser gets ErrAlreadyExists.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
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

	const check = `SELECT COUNT(*) FROM reservations
	               WHERE schedule_id = ? AND seat_id = ? AND status IN (?, ?)
	               FOR UPDATE`
	var n int
	if err := tx.QueryRowContext(ctx, check, res.ScheduleID, res.SeatID,
		model.ReservationStatusBooked, model.ReservationStatusPaid).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrAlreadyExists
	}

	const ins = `INSERT INTO reservations (user_id, seat_id, schedule_id, price, status, expired_at, created_at)
	             VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, ins,
		res.UserID, res.SeatID, res.ScheduleID, res.Price, res.Status,
		res.ExpiredAt.UTC().Format("2006-01-02 15:04:05.000000"),
		res.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	res.ID = uint64(id)
	return nil
}

// Get retrieves a reservation by its id.
func (r *ReservationRepo) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	const q = `SELECT id, user_id, seat_id, schedule_id, price, status, expired_at, created_at
	           FROM reservations WHERE id = ?`
	var res model.Reservation
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&res.ID, &res.UserID, &res.SeatID, &res.ScheduleID, &res.Price, &res.Status, &res.ExpiredAt, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// NonTerminalBySeat returns the BOOKED or PAID reservation currently
// holding a seat, ErrNotFound when the seat is free. At most one such row
// can exist per (schedule, seat); Create enforces that.
func (r *ReservationRepo) NonTerminalBySeat(ctx context.Context, scheduleID, seatID uint64) (*model.Reservation, error) {
	const q = `SELECT id, user_id, seat_id, schedule_id, price, status, expired_at, created_at
	           FROM reservations
	           WHERE schedule_id = ? AND seat_id = ? AND status IN (?, ?)
	           LIMIT 1`
	var res model.Reservation
	err := r.db.QueryRowContext(ctx, q, scheduleID, seatID,
		model.ReservationStatusBooked, model.ReservationStatusPaid).
		Scan(&res.ID, &res.UserID, &res.SeatID, &res.ScheduleID, &res.Price, &res.Status, &res.ExpiredAt, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// UpdateStatus transitions a reservation from one status to another. Zero
// affected rows means the reservation is missing or not in the expected
// status; the latter is ErrBusinessRule, matching the state machine's
// refusal to overwrite a transition another writer already made.
func (r *ReservationRepo) UpdateStatus(ctx context.Context, id uint64, from, to string) error {
	const q = `UPDATE reservations SET status = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrBusinessRule
	}
	return nil
}

// ExpireBooked moves a BOOKED reservation past its deadline to EXPIRED.
// A reservation that is not BOOKED, or whose hold has not yet lapsed,
// returns ErrBusinessRule.
func (r *ReservationRepo) ExpireBooked(ctx context.Context, id uint64, now time.Time) error {
	const q = `UPDATE reservations SET status = ?
	           WHERE id = ? AND status = ? AND expired_at <= ?`
	res, err := r.db.ExecContext(ctx, q, model.ReservationStatusExpired,
		id, model.ReservationStatusBooked, now.UTC().Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrBusinessRule
	}
	return nil
}

// ExpiredBooked lists BOOKED reservations whose hold deadline has passed,
// oldest deadline first, for the expiry sweep.
func (r *ReservationRepo) ExpiredBooked(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	const q = `SELECT id, user_id, seat_id, schedule_id, price, status, expired_at, created_at
	           FROM reservations
	           WHERE status = ? AND expired_at <= ?
	           ORDER BY expired_at
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.ReservationStatusBooked,
		now.UTC().Format("2006-01-02 15:04:05.000000"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.UserID, &res.SeatID, &res.ScheduleID, &res.Price, &res.Status, &res.ExpiredAt, &res.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
