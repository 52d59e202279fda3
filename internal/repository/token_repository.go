package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

// TokenRepo is the relational backing of the admission queue. Queue order
// is (created_at, id): ids are auto-increment, so they double as the FIFO
// tie-break for tokens issued in the same second. Promotion and expiry are
// guarded UPDATEs keyed on the current status, which makes each token pop
// atomic under concurrent sweeps — the second writer matches zero rows.
type TokenRepo struct {
	db *sql.DB
}

// NewTokenRepo constructs a TokenRepo with the given DB handle.
func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{db: db} }

// Create inserts a token row and populates its ID.
func (r *TokenRepo) Create(ctx context.Context, t *model.Token) error {
	const q = `INSERT INTO tokens (user_id, schedule_id, status, created_at, expired_at)
	           VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		t.UserID, t.ScheduleID, t.Status,
		t.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"),
		t.ExpiredAt.UTC().Format("2006-01-02 15:04:05.000000"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// Get retrieves one token of a schedule by its id.
func (r *TokenRepo) Get(ctx context.Context, scheduleID, tokenID uint64) (*model.Token, error) {
	const q = `SELECT id, user_id, schedule_id, status, created_at, expired_at
	           FROM tokens WHERE id = ? AND schedule_id = ?`
	var t model.Token
	err := r.db.QueryRowContext(ctx, q, tokenID, scheduleID).
		Scan(&t.ID, &t.UserID, &t.ScheduleID, &t.Status, &t.CreatedAt, &t.ExpiredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CountActive returns the number of ACTIVE tokens for a schedule.
func (r *TokenRepo) CountActive(ctx context.Context, scheduleID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM tokens WHERE schedule_id = ? AND status = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, q, scheduleID, model.TokenStatusActive).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// PromoteOldest promotes up to k of the oldest WAIT tokens of a schedule
// to ACTIVE with the given deadline and returns the promoted ids. Each
// promotion is a guarded UPDATE on status = WAIT, so a token claimed by a
// concurrent sweep is simply skipped rather than double-activated.
func (r *TokenRepo) PromoteOldest(ctx context.Context, scheduleID uint64, k int, expiredAt time.Time) ([]uint64, error) {
	if k <= 0 {
		return nil, nil
	}
	const sel = `SELECT id FROM tokens
	             WHERE schedule_id = ? AND status = ?
	             ORDER BY created_at, id
	             LIMIT ?`
	rows, err := r.db.QueryContext(ctx, sel, scheduleID, model.TokenStatusWait, k)
	if err != nil {
		return nil, err
	}
	var candidates []uint64
	for rows.Next() {
		var id uint64
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		candidates = append(candidates, id)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	const upd = `UPDATE tokens SET status = ?, expired_at = ?
	             WHERE id = ? AND status = ?`
	deadline := expiredAt.UTC().Format("2006-01-02 15:04:05.000000")
	promoted := make([]uint64, 0, len(candidates))
	for _, id := range candidates {
		res, err := r.db.ExecContext(ctx, upd, model.TokenStatusActive, deadline, id, model.TokenStatusWait)
		if err != nil {
			return promoted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			promoted = append(promoted, id)
		}
	}
	return promoted, nil
}

// Expire moves a WAIT or ACTIVE token to EXPIRED. Expiring an already
// EXPIRED token returns ErrBusinessRule so double-expire bugs surface
// instead of being swallowed.
func (r *TokenRepo) Expire(ctx context.Context, scheduleID, tokenID uint64) error {
	const q = `UPDATE tokens SET status = ?
	           WHERE id = ? AND schedule_id = ? AND status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, q, model.TokenStatusExpired,
		tokenID, scheduleID, model.TokenStatusWait, model.TokenStatusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.Get(ctx, scheduleID, tokenID); getErr != nil {
			return getErr
		}
		return ErrBusinessRule
	}
	return nil
}

// WaitingAhead counts WAIT tokens strictly ahead of the given token in
// queue order. The caller is expected to have checked that the token is
// itself WAIT.
func (r *TokenRepo) WaitingAhead(ctx context.Context, scheduleID, tokenID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM tokens t
	           JOIN tokens me ON me.id = ? AND me.schedule_id = ?
	           WHERE t.schedule_id = me.schedule_id AND t.status = ?
	             AND (t.created_at < me.created_at
	                  OR (t.created_at = me.created_at AND t.id < me.id))`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tokenID, scheduleID, model.TokenStatusWait).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ExpiredActive lists ACTIVE tokens whose deadline has passed, oldest
// deadline first, for the expiry sweep.
func (r *TokenRepo) ExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Token, error) {
	const q = `SELECT id, user_id, schedule_id, status, created_at, expired_at
	           FROM tokens
	           WHERE status = ? AND expired_at <= ?
	           ORDER BY expired_at
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.TokenStatusActive,
		now.UTC().Format("2006-01-02 15:04:05.000000"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Token
	for rows.Next() {
		var t model.Token
		if err := rows.Scan(&t.ID, &t.UserID, &t.ScheduleID, &t.Status, &t.CreatedAt, &t.ExpiredAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
