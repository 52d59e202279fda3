package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks construction failures across the model package. Callers
// use errors.Is to distinguish malformed input from infrastructure errors.
var ErrInvalid = errors.New("invalid model")

// Seat statuses. A seat is UNAVAILABLE exactly while a non-terminal
// reservation references it.
const (
	SeatStatusAvailable   = "AVAILABLE"
	SeatStatusUnavailable = "UNAVAILABLE"
)

// maxSeatNumber bounds the per-schedule seat numbering.
const maxSeatNumber = 10000

// Seat is one sellable seat of a concert schedule. Version is a
// monotonically incrementing concurrency token: every status change must
// compare-and-increment it at the storage layer, so concurrent assignments
// of the same seat resolve to exactly one winner.
//
// Fields:
//  ID         – primary key identifier.
//  ScheduleID – schedule this seat belongs to.
//  Number     – 1-based seat number within the schedule.
//  Price      – price in points.
//  Status     – AVAILABLE or UNAVAILABLE.
//  Version    – optimistic-lock counter.
//  CreatedAt  – registration timestamp.
//  UpdatedAt  – last mutation timestamp.
type Seat struct {
	ID         uint64    // seats.id
	ScheduleID uint64    // seats.schedule_id
	Number     uint32    // seats.number
	Price      int64     // seats.price
	Status     string    // seats.status
	Version    uint64    // seats.version
	CreatedAt  time.Time // seats.created_at
	UpdatedAt  time.Time // seats.updated_at
}

// NewSeat validates seat registration input and returns an AVAILABLE seat
// at version zero. The ID is assigned by the store on insert.
func NewSeat(scheduleID uint64, number uint32, price int64) (*Seat, error) {
	if scheduleID == 0 {
		return nil, fmt.Errorf("%w: schedule id is required", ErrInvalid)
	}
	if number == 0 || number > maxSeatNumber {
		return nil, fmt.Errorf("%w: seat number must be in 1..%d, got %d", ErrInvalid, maxSeatNumber, number)
	}
	if price < 0 {
		return nil, fmt.Errorf("%w: seat price must not be negative, got %d", ErrInvalid, price)
	}
	return &Seat{
		ScheduleID: scheduleID,
		Number:     number,
		Price:      price,
		Status:     SeatStatusAvailable,
		Version:    0,
	}, nil
}
