package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
	"github.com/iliyamo/concert-ticket-booking/internal/repository"
)

// SeatStore is the persistence port for the seat inventory. The
// compare-and-set carries the expected version; implementations must
// match-and-increment atomically and report a lost race as ErrConflict.
// A non-nil staged entry is committed together with the seat change.
type SeatStore interface {
	Register(ctx context.Context, seats []*model.Seat) error
	Get(ctx context.Context, id uint64) (*model.Seat, error)
	ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error)
	CompareAndSetStatus(ctx context.Context, seatID, expectedVersion uint64, status string, staged *model.OutboxEntry) error
}

// ReservationStore is the persistence port for reservations. Create must
// reject a second non-terminal reservation per (schedule, seat) with
// ErrAlreadyExists; UpdateStatus must be guarded on the expected current
// status. NonTerminalBySeat finds the reservation currently holding a
// seat, ErrNotFound when the seat is free.
type ReservationStore interface {
	Create(ctx context.Context, r *model.Reservation) error
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	NonTerminalBySeat(ctx context.Context, scheduleID, seatID uint64) (*model.Reservation, error)
	UpdateStatus(ctx context.Context, id uint64, from, to string) error
	ExpireBooked(ctx context.Context, id uint64, now time.Time) error
	ExpiredBooked(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
}

// TopicSeatAssigned is published when a seat is locked for a user.
const TopicSeatAssigned = "seat.assigned"

// seatAssignedEvent is the payload staged with a successful assignment.
type seatAssignedEvent struct {
	SeatID     uint64 `json:"seat_id"`
	ScheduleID uint64 `json:"schedule_id"`
	UserID     uint64 `json:"user_id"`
	Number     uint32 `json:"number"`
	AssignedAt string `json:"assigned_at"`
}

// ReservationService owns the seat and reservation state machines. All
// seat mutations funnel through the version guard, so under N concurrent
// attempts on one seat exactly one caller wins and the rest observe
// ErrConflict.
type ReservationService struct {
	seats        SeatStore
	reservations ReservationStore
	holdDuration time.Duration
	now          func() time.Time
}

// NewReservationService constructs a ReservationService. holdDuration is
// how long a BOOKED reservation keeps its seat before the expiry sweep
// may reclaim it.
func NewReservationService(seats SeatStore, reservations ReservationStore, holdDuration time.Duration) *ReservationService {
	return &ReservationService{
		seats:        seats,
		reservations: reservations,
		holdDuration: holdDuration,
		now:          time.Now,
	}
}

// RegisterSeats creates the seat inventory of a schedule: one AVAILABLE
// seat per number, all at the same price. Called once per schedule.
func (s *ReservationService) RegisterSeats(ctx context.Context, scheduleID uint64, numbers []uint32, price int64) error {
	seats := make([]*model.Seat, 0, len(numbers))
	for _, n := range numbers {
		seat, err := model.NewSeat(scheduleID, n, price)
		if err != nil {
			return err
		}
		seats = append(seats, seat)
	}
	return s.seats.Register(ctx, seats)
}

// SeatsBySchedule lists the inventory of a schedule.
func (s *ReservationService) SeatsBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error) {
	return s.seats.ListBySchedule(ctx, scheduleID)
}

// AssignSeat locks an AVAILABLE seat for a user. The transition is
// guarded by the seat version; a seat that is already UNAVAILABLE, or
// whose version moved between the read and the update, fails with
// ErrConflict. The seat.assigned event is staged in the same commit.
func (s *ReservationService) AssignSeat(ctx context.Context, scheduleID, seatID, userID uint64) (*model.Seat, error) {
	seat, err := s.seats.Get(ctx, seatID)
	if err != nil {
		return nil, err
	}
	if seat.ScheduleID != scheduleID {
		return nil, repository.ErrNotFound
	}
	if seat.Status != model.SeatStatusAvailable {
		return nil, repository.ErrConflict
	}
	payload, err := json.Marshal(seatAssignedEvent{
		SeatID:     seat.ID,
		ScheduleID: seat.ScheduleID,
		UserID:     userID,
		Number:     seat.Number,
		AssignedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	staged := &model.OutboxEntry{Topic: TopicSeatAssigned, Payload: payload}
	if err := s.seats.CompareAndSetStatus(ctx, seat.ID, seat.Version, model.SeatStatusUnavailable, staged); err != nil {
		return nil, err
	}
	seat.Status = model.SeatStatusUnavailable
	seat.Version++
	return seat, nil
}

// CreateReservation books an assigned seat for a user. The hold expires
// holdDuration from now; a non-terminal reservation already holding the
// seat fails the create with ErrAlreadyExists.
func (s *ReservationService) CreateReservation(ctx context.Context, userID, scheduleID, seatID uint64, price int64) (*model.Reservation, error) {
	now := s.now().UTC()
	r := &model.Reservation{
		UserID:     userID,
		SeatID:     seatID,
		ScheduleID: scheduleID,
		Price:      price,
		Status:     model.ReservationStatusBooked,
		ExpiredAt:  now.Add(s.holdDuration),
		CreatedAt:  now,
	}
	if err := s.reservations.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// BookSeat runs the booking flow for one seat: assign under the version
// guard, then create the BOOKED hold. If the create fails after the seat
// was locked, the seat is released again so no seat is left UNAVAILABLE
// with nothing holding it.
func (s *ReservationService) BookSeat(ctx context.Context, userID, scheduleID, seatID uint64) (*model.Reservation, error) {
	seat, err := s.AssignSeat(ctx, scheduleID, seatID, userID)
	if err != nil {
		return nil, err
	}
	r, err := s.CreateReservation(ctx, userID, scheduleID, seatID, seat.Price)
	if err != nil {
		if relErr := s.releaseSeat(ctx, seatID); relErr != nil {
			log.Printf("booking: release seat %d after failed create: %v", seatID, relErr)
		}
		return nil, err
	}
	return r, nil
}

// GetReservation retrieves a reservation by id.
func (s *ReservationService) GetReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.reservations.Get(ctx, id)
}

// ConfirmReservation moves BOOKED to PAID. Any other current status is a
// business rule violation — a sweep that expired the hold first wins the
// race and the confirm fails instead of resurrecting the reservation.
func (s *ReservationService) ConfirmReservation(ctx context.Context, id uint64) error {
	return s.reservations.UpdateStatus(ctx, id, model.ReservationStatusBooked, model.ReservationStatusPaid)
}

// CancelReservation moves PAID to CANCELLED and releases the seat, since
// a terminal reservation must not keep its seat UNAVAILABLE.
func (s *ReservationService) CancelReservation(ctx context.Context, id uint64) error {
	r, err := s.reservations.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reservations.UpdateStatus(ctx, id, model.ReservationStatusPaid, model.ReservationStatusCancelled); err != nil {
		return err
	}
	return s.releaseSeat(ctx, r.SeatID)
}

// ExpireReservation moves a BOOKED reservation past its hold deadline to
// EXPIRED and releases the seat back to AVAILABLE.
func (s *ReservationService) ExpireReservation(ctx context.Context, id uint64) error {
	r, err := s.reservations.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reservations.ExpireBooked(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	return s.releaseSeat(ctx, r.SeatID)
}

// RollbackConfirm undoes a confirm whose downstream saga step failed:
// PAID back to BOOKED. Only the saga orchestrator calls this.
func (s *ReservationService) RollbackConfirm(ctx context.Context, id uint64) error {
	return s.reservations.UpdateStatus(ctx, id, model.ReservationStatusPaid, model.ReservationStatusBooked)
}

// RollbackExpire undoes an expiry whose downstream saga step failed:
// EXPIRED back to BOOKED, re-locking the seat. Only the saga orchestrator
// calls this. The seat is re-locked before the status moves, so a seat
// another user grabbed in between fails with ErrConflict — either their
// non-terminal reservation already holds it, or the version guard loses
// the re-lock race — and the expired reservation stays expired. The saga
// must then compensate differently; it never ends up with two holds on
// one seat.
func (s *ReservationService) RollbackExpire(ctx context.Context, id uint64) error {
	r, err := s.reservations.Get(ctx, id)
	if err != nil {
		return err
	}
	holder, err := s.reservations.NonTerminalBySeat(ctx, r.ScheduleID, r.SeatID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if holder != nil && holder.ID != id {
		return repository.ErrConflict
	}
	seat, err := s.seats.Get(ctx, r.SeatID)
	if err != nil {
		return err
	}
	if seat.Status == model.SeatStatusAvailable {
		if err := s.seats.CompareAndSetStatus(ctx, seat.ID, seat.Version, model.SeatStatusUnavailable, nil); err != nil {
			return err
		}
	}
	return s.reservations.UpdateStatus(ctx, id, model.ReservationStatusExpired, model.ReservationStatusBooked)
}

// ExpireSweep expires all BOOKED reservations whose hold deadline has
// passed. A reservation confirmed between the listing and the guarded
// expire is left alone.
func (s *ReservationService) ExpireSweep(ctx context.Context) (int, error) {
	lapsed, err := s.reservations.ExpiredBooked(ctx, s.now().UTC(), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range lapsed {
		if err := s.ExpireReservation(ctx, r.ID); err != nil {
			if err == repository.ErrBusinessRule || err == repository.ErrNotFound {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *ReservationService) releaseSeat(ctx context.Context, seatID uint64) error {
	seat, err := s.seats.Get(ctx, seatID)
	if err != nil {
		return err
	}
	if seat.Status == model.SeatStatusAvailable {
		return nil
	}
	return s.seats.CompareAndSetStatus(ctx, seat.ID, seat.Version, model.SeatStatusAvailable, nil)
}
