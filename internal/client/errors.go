package client

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrBadRequest is a 400 from the upstream: the request itself is wrong
	// and retrying cannot help.
	ErrBadRequest = errors.New("upstream rejected request")

	// ErrNotFound is a 404 from the upstream.
	ErrNotFound = errors.New("upstream resource not found")

	// ErrExpired is a 410: the referenced hold lapsed before the call.
	ErrExpired = errors.New("upstream resource expired")

	// ErrUnavailable means every attempt failed on transport errors,
	// timeouts or 5xx responses.
	ErrUnavailable = errors.New("upstream unavailable")
)

// SeatsConflictError is the 409 payload of a failed seat grab: which of the
// requested seats were already held and which were already sold.
type SeatsConflictError struct {
	LockedSeats []uuid.UUID
	BookedSeats []uuid.UUID
}

func (e *SeatsConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %d locked, %d booked",
		len(e.LockedSeats), len(e.BookedSeats))
}
