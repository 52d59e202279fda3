package model

import "time"

// Reservation statuses. Transitions are one-directional except for the
// explicit saga compensations:
//
//	BOOKED → PAID → CANCELLED
//	BOOKED → EXPIRED
//	PAID → BOOKED, EXPIRED → BOOKED (compensation only)
const (
	ReservationStatusBooked    = "BOOKED"
	ReservationStatusPaid      = "PAID"
	ReservationStatusCancelled = "CANCELLED"
	ReservationStatusExpired   = "EXPIRED"
)

// Reservation is one user's hold on one seat of a schedule. At most one
// reservation per (schedule, seat) may be non-terminal at any instant.
//
// Fields:
//  ID         – primary key identifier.
//  UserID     – user who booked the seat.
//  SeatID     – seat being reserved.
//  ScheduleID – schedule of the seat.
//  Price      – price in points captured at booking time.
//  Status     – BOOKED, PAID, CANCELLED or EXPIRED.
//  ExpiredAt  – deadline by which a BOOKED reservation must be paid.
//  CreatedAt  – booking timestamp.
type Reservation struct {
	ID         uint64    // reservations.id
	UserID     uint64    // reservations.user_id
	SeatID     uint64    // reservations.seat_id
	ScheduleID uint64    // reservations.schedule_id
	Price      int64     // reservations.price
	Status     string    // reservations.status
	ExpiredAt  time.Time // reservations.expired_at
	CreatedAt  time.Time // reservations.created_at
}

// Terminal reports whether the reservation no longer holds its seat.
// Seat.Status = UNAVAILABLE must hold exactly while a non-terminal
// reservation references the seat.
func (r *Reservation) Terminal() bool {
	return r.Status == ReservationStatusCancelled || r.Status == ReservationStatusExpired
}
