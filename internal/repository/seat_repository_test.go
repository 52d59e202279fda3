package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/iliyamo/concert-ticket-booking/internal/model"
)

func newSeatRepoMock(t *testing.T) (*SeatRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSeatRepo(db), mock
}

func TestCompareAndSetStatusSuccessStagesOutbox(t *testing.T) {
	repo, mock := newSeatRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").
		WithArgs(model.SeatStatusUnavailable, uint64(3), uint64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox_entries").
		WithArgs("seat.assigned", []byte(`{}`), model.OutboxStatusPending).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	staged := &model.OutboxEntry{Topic: "seat.assigned", Payload: []byte(`{}`)}
	err := repo.CompareAndSetStatus(context.Background(), 3, 0, model.SeatStatusUnavailable, staged)
	if err != nil {
		t.Fatalf("CompareAndSetStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestCompareAndSetStatusVersionConflict(t *testing.T) {
	repo, mock := newSeatRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").
		WithArgs(model.SeatStatusUnavailable, uint64(3), uint64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.CompareAndSetStatus(context.Background(), 3, 0, model.SeatStatusUnavailable, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestCompareAndSetStatusMissingSeat(t *testing.T) {
	repo, mock := newSeatRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").
		WithArgs(model.SeatStatusAvailable, uint64(99), uint64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := repo.CompareAndSetStatus(context.Background(), 99, 2, model.SeatStatusAvailable, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestCompareAndSetStatusRollsBackStagedEntryOnFailure(t *testing.T) {
	repo, mock := newSeatRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seats").
		WithArgs(model.SeatStatusUnavailable, uint64(3), uint64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox_entries").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	staged := &model.OutboxEntry{Topic: "seat.assigned", Payload: []byte(`{}`)}
	err := repo.CompareAndSetStatus(context.Background(), 3, 0, model.SeatStatusUnavailable, staged)
	if err == nil {
		t.Fatal("CompareAndSetStatus succeeded, want error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
