package seatlock

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrValidation covers malformed requests: no seats, too many seats,
	// duplicates, or seats that do not belong to the journey.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound means the journey, reservation or lock does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLockExpired means the hold's TTL lapsed before the operation.
	ErrLockExpired = errors.New("lock expired")

	// ErrInvalidState means the reservation is in a state that does not
	// admit the requested transition.
	ErrInvalidState = errors.New("invalid reservation state")
)

// SeatsConflictError reports exactly which requested seats were unavailable,
// split by cause, so clients can re-render the seat map without refetching.
type SeatsConflictError struct {
	LockedSeats []uuid.UUID
	BookedSeats []uuid.UUID
}

func (e *SeatsConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %d locked, %d booked",
		len(e.LockedSeats), len(e.BookedSeats))
}
