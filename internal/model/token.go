package model

import "time"

// Token statuses. A token starts either ACTIVE (capacity permitting) or
// WAIT, and ends EXPIRED. Tokens are never deleted; the full history is
// retained for auditing and queue ordering.
const (
	TokenStatusWait    = "WAIT"
	TokenStatusActive  = "ACTIVE"
	TokenStatusExpired = "EXPIRED"
)

// Token is a queue ticket representing one user's position for entering
// the booking flow of one concert schedule. Tokens for a schedule are
// ordered FIFO by CreatedAt with ties broken by the insertion sequence,
// which for both backings is the monotonically assigned ID.
//
// Fields:
//  ID         – primary key identifier (insertion sequence).
//  UserID     – user the token admits.
//  ScheduleID – concert schedule the token belongs to.
//  Status     – WAIT, ACTIVE or EXPIRED.
//  CreatedAt  – issuance timestamp.
//  ExpiredAt  – deadline after which a sweep expires the token.
type Token struct {
	ID         uint64    // tokens.id
	UserID     uint64    // tokens.user_id
	ScheduleID uint64    // tokens.schedule_id
	Status     string    // tokens.status
	CreatedAt  time.Time // tokens.created_at
	ExpiredAt  time.Time // tokens.expired_at
}

// Active reports whether the token currently admits its user, taking the
// expiry deadline into account. Sweeps enforce the deadline lazily, so a
// row can still read ACTIVE after ExpiredAt has passed.
func (t *Token) Active(now time.Time) bool {
	return t.Status == TokenStatusActive && now.Before(t.ExpiredAt)
}
