package repository

import (
	"context"
	"database/sql"
	"errors"
)

// PointRepo is the wallet collaborator of the payment saga. Balances live
// in a user_points row per user; the decrement is guarded by the balance
// itself, so two concurrent payments cannot overdraw an account.
type PointRepo struct {
	db *sql.DB
}

// NewPointRepo constructs a PointRepo with the given DB handle.
func NewPointRepo(db *sql.DB) *PointRepo {
	return &PointRepo{db: db}
}

// Balance returns the user's current point balance.
func (r *PointRepo) Balance(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM user_points WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Increase adds points to the user's balance, creating the wallet row on
// first use.
func (r *PointRepo) Increase(ctx context.Context, userID uint64, amount int64) error {
	const q = `INSERT INTO user_points (user_id, balance) VALUES (?, ?)
	           ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance)`
	_, err := r.db.ExecContext(ctx, q, userID, amount)
	return err
}

// Decrease removes points from the user's balance. The WHERE clause
// refuses to go below zero; zero affected rows means the balance was
// insufficient or the wallet does not exist.
func (r *PointRepo) Decrease(ctx context.Context, userID uint64, amount int64) error {
	const q = `UPDATE user_points SET balance = balance - ?
	           WHERE user_id = ? AND balance >= ?`
	res, err := r.db.ExecContext(ctx, q, amount, userID, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, balErr := r.Balance(ctx, userID); balErr != nil {
			return balErr
		}
		return ErrInsufficientPoints
	}
	return nil
}
