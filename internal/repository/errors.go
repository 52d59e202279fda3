// Package repository defines the persistence ports of the booking core and
// the error values shared across its storage backends. The sentinels let
// services and handlers distinguish failure classes with errors.Is without
// depending on a concrete backend: ErrConflict is a lost optimistic-lock
// race, ErrAlreadyExists a duplicate non-terminal reservation,
// ErrCapacityExceeded an admission queue at its policy limit, and
// ErrBusinessRule an illegal state-machine transition.
package repository

import "errors"

// ErrNotFound is returned when a lookup by identifier yields no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update loses a concurrency race:
// the version compare-and-increment matched no row, or another writer
// changed the status first. It is surfaced immediately and never retried
// by the storage layer.
var ErrConflict = errors.New("conflict")

// ErrAlreadyExists is returned when a create would violate the one
// non-terminal reservation per (schedule, seat) invariant.
var ErrAlreadyExists = errors.New("already exists")

// ErrCapacityExceeded is returned when activating tokens would push the
// ACTIVE count past the queue policy limit. No partial activation happens.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrBusinessRule is returned for state transitions the machine forbids,
// such as confirming an EXPIRED reservation or expiring a token twice.
var ErrBusinessRule = errors.New("business rule violation")

// ErrInsufficientPoints is returned when a point decrement would drive a
// balance negative.
var ErrInsufficientPoints = errors.New("insufficient points")
