package booking

import "errors"

var (
	// ErrValidation covers malformed booking requests.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound means the booking (or its reservation) does not exist.
	ErrNotFound = errors.New("booking not found")

	// ErrAlreadyConfirmed rejects confirming a booking twice.
	ErrAlreadyConfirmed = errors.New("booking already confirmed")

	// ErrCannotConfirmCancelled rejects confirming a cancelled booking.
	ErrCannotConfirmCancelled = errors.New("booking already cancelled")

	// ErrAlreadyCancelled rejects cancelling a booking twice.
	ErrAlreadyCancelled = errors.New("booking already cancelled")

	// ErrReservationExpired means the seat hold lapsed before the step ran.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrPaymentFailed means the payment service rejected the payment.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrUpstream means a dependency stayed unreachable through retries.
	ErrUpstream = errors.New("upstream dependency unavailable")
)
