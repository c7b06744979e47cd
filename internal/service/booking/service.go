// Package booking orchestrates the purchase saga: hold seats, initiate
// payment, persist the pending booking, then confirm or unwind. Every forward
// step has a compensating action; the synchronous path compensates what it
// can immediately, and the payment-failed consumer covers failures that
// surface after the create call already returned.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/client"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/kirinyoku/railgo/internal/repository"
)

// Store is the durable booking record.
type Store interface {
	Create(ctx context.Context, b *domain.Booking) error
	ByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ByPaymentID(ctx context.Context, paymentID string) (*domain.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) error
	SetPaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error
	ListByUser(ctx context.Context, userID uuid.UUID, status domain.BookingStatus, limit, offset int) ([]domain.Booking, int, error)
}

// Seats is the remote seat-lock surface.
type Seats interface {
	AcquireSeats(ctx context.Context, req client.AcquireSeatsRequest) (*client.AcquireSeatsResult, error)
	Release(ctx context.Context, lockID string) error
	ConfirmReservation(ctx context.Context, lockID string) (*client.ConfirmReservationResult, error)
	CancelReservation(ctx context.Context, reservationID uuid.UUID) error
}

// Payments is the remote payment surface.
type Payments interface {
	Initiate(ctx context.Context, req client.InitiatePaymentRequest) (*client.PaymentResult, error)
	Confirm(ctx context.Context, paymentID, transactionID string) (*client.PaymentResult, error)
	Refund(ctx context.Context, paymentID string, amountCents int64) (*client.PaymentResult, error)
	Cancel(ctx context.Context, paymentID string) (*client.PaymentResult, error)
}

// Bus publishes booking lifecycle events.
type Bus interface {
	PublishBookingConfirmed(ctx context.Context, ev domain.BookingConfirmedEvent) error
	PublishBookingCancelled(ctx context.Context, ev domain.BookingCancelledEvent) error
}

// Catalog supplies journey and seat detail for event enrichment.
type Catalog interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Journey, error)
	SeatsByIDs(ctx context.Context, journeyID uuid.UUID, seatIDs []uuid.UUID) ([]domain.Seat, error)
}

// Reservations reads reservation detail for event enrichment.
type Reservations interface {
	ByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
}

type Service struct {
	store        Store
	seats        Seats
	payments     Payments
	bus          Bus
	catalog      Catalog
	reservations Reservations
	logger       *slog.Logger

	now func() time.Time
}

func New(
	store Store,
	seats Seats,
	payments Payments,
	bus Bus,
	catalog Catalog,
	reservations Reservations,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:        store,
		seats:        seats,
		payments:     payments,
		bus:          bus,
		catalog:      catalog,
		reservations: reservations,
		logger:       logger,
		now:          time.Now,
	}
}

type CreateInput struct {
	UserID        uuid.UUID
	JourneyID     uuid.UUID
	SeatIDs       []uuid.UUID
	FromStationID uuid.UUID
	ToStationID   uuid.UUID
	PaymentMethod string
}

// Create runs the forward saga: hold seats, initiate payment, persist the
// pending booking. A payment initiation failure releases the hold before
// returning; a persist failure after the payment is in flight is left for the
// payment-failed consumer to unwind, because releasing seats under an active
// payment could sell them twice.
//
// Returns:
//   - *domain.Booking: the persisted PAYMENT_PENDING booking.
//   - error: ErrValidation, ErrNotFound, *client.SeatsConflictError,
//     ErrPaymentFailed, or ErrUpstream.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Booking, error) {
	const op = "booking.Service.Create"

	if len(in.SeatIDs) == 0 {
		return nil, fmt.Errorf("%s:%w: no seats requested", op, ErrValidation)
	}

	acq, err := s.seats.AcquireSeats(ctx, client.AcquireSeatsRequest{
		UserID:        in.UserID,
		JourneyID:     in.JourneyID,
		SeatIDs:       in.SeatIDs,
		FromStationID: in.FromStationID,
		ToStationID:   in.ToStationID,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapClientErr(err))
	}

	bookingID := uuid.New()

	pay, err := s.payments.Initiate(ctx, client.InitiatePaymentRequest{
		UserID:        in.UserID,
		BookingID:     bookingID,
		ReservationID: acq.ReservationID,
		AmountCents:   acq.TotalFareCents,
		Method:        in.PaymentMethod,
	})
	if err != nil {
		// Compensate the hold; if the release fails too, the TTL frees it.
		if relErr := s.seats.Release(ctx, acq.LockID); relErr != nil {
			s.logger.Error("seat release after payment failure failed",
				"lock_id", acq.LockID, "error", relErr)
		}
		if errors.Is(err, client.ErrBadRequest) {
			return nil, fmt.Errorf("%s:%w: %w", op, ErrPaymentFailed, err)
		}
		return nil, fmt.Errorf("%s:%w", op, mapClientErr(err))
	}

	now := s.now()
	b := &domain.Booking{
		ID:               bookingID,
		UserID:           in.UserID,
		JourneyID:        in.JourneyID,
		ReservationID:    acq.ReservationID,
		LockID:           acq.LockID,
		PaymentID:        pay.PaymentID,
		PaymentStatus:    pay.Status,
		TotalAmountCents: acq.TotalFareCents,
		Status:           domain.BookingPaymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, b); err != nil {
		// Payment is in flight for this reservation. Do not release the
		// seats; the payment-failed event will unwind via ReservationID.
		s.logger.Error("booking persist failed with payment in flight",
			"payment_id", pay.PaymentID, "reservation_id", acq.ReservationID,
			"error", err)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// Confirm completes the saga: capture the payment, make the seat hold
// permanent, flip the booking. If the hold lapsed between payment capture and
// seat confirmation, the captured amount is refunded and the booking
// cancelled before the error is returned.
//
// Returns:
//   - error: ErrNotFound, ErrAlreadyConfirmed, ErrCannotConfirmCancelled,
//     ErrReservationExpired, *client.SeatsConflictError, ErrPaymentFailed,
//     or ErrUpstream.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, transactionID string) (*domain.Booking, error) {
	const op = "booking.Service.Confirm"

	b, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	switch b.Status {
	case domain.BookingConfirmed:
		return nil, fmt.Errorf("%s:%w", op, ErrAlreadyConfirmed)
	case domain.BookingCancelled:
		return nil, fmt.Errorf("%s:%w", op, ErrCannotConfirmCancelled)
	}

	if _, err := s.payments.Confirm(ctx, b.PaymentID, transactionID); err != nil {
		if errors.Is(err, client.ErrBadRequest) {
			return nil, fmt.Errorf("%s:%w: %w", op, ErrPaymentFailed, err)
		}
		return nil, fmt.Errorf("%s:%w", op, mapClientErr(err))
	}

	if _, err := s.seats.ConfirmReservation(ctx, b.LockID); err != nil {
		s.compensateConfirm(ctx, b, err)
		return nil, fmt.Errorf("%s:%w", op, mapClientErr(err))
	}

	if err := s.store.Transition(ctx, id,
		[]domain.BookingStatus{domain.BookingPaymentPending},
		domain.BookingConfirmed,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if err := s.store.SetPaymentStatus(ctx, id, domain.PaymentCompleted); err != nil {
		s.logger.Warn("payment status update failed",
			"booking_id", id, "error", err)
	}

	b.Status = domain.BookingConfirmed
	b.PaymentStatus = domain.PaymentCompleted

	s.publishConfirmed(ctx, b)

	return b, nil
}

// compensateConfirm unwinds a captured payment whose seat confirmation
// failed: refund the full amount and cancel the booking.
func (s *Service) compensateConfirm(ctx context.Context, b *domain.Booking, cause error) {
	s.logger.Error("seat confirmation failed after payment capture, refunding",
		"booking_id", b.ID, "lock_id", b.LockID, "error", cause)

	if _, err := s.payments.Refund(ctx, b.PaymentID, b.TotalAmountCents); err != nil {
		s.logger.Error("compensating refund failed",
			"booking_id", b.ID, "payment_id", b.PaymentID, "error", err)
	}

	if err := s.store.Transition(ctx, b.ID,
		[]domain.BookingStatus{domain.BookingPaymentPending},
		domain.BookingCancelled,
	); err != nil {
		s.logger.Error("compensating booking cancel failed",
			"booking_id", b.ID, "error", err)
		return
	}

	s.publishCancelled(ctx, b, b.TotalAmountCents, "seat confirmation failed")
}

// Cancel unwinds a booking on user request. A captured payment is refunded in
// full; a pending one is voided. The reservation is cancelled so confirmed
// seats go back on sale.
//
// Returns:
//   - error: ErrNotFound, ErrAlreadyCancelled, or ErrUpstream when the
//     refund cannot be placed.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Booking, error) {
	const op = "booking.Service.Cancel"

	if reason == "" {
		reason = "cancelled by user"
	}

	b, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if b.Status == domain.BookingCancelled {
		return nil, fmt.Errorf("%s:%w", op, ErrAlreadyCancelled)
	}

	var refund int64
	if b.PaymentStatus == domain.PaymentCompleted {
		// Never cancel a paid booking without the refund in place.
		if _, err := s.payments.Refund(ctx, b.PaymentID, b.TotalAmountCents); err != nil {
			return nil, fmt.Errorf("%s:%w", op, mapClientErr(err))
		}
		refund = b.TotalAmountCents
		if err := s.store.SetPaymentStatus(ctx, id, domain.PaymentCancelled); err != nil {
			s.logger.Warn("payment status update failed",
				"booking_id", id, "error", err)
		}
	} else {
		if _, err := s.payments.Cancel(ctx, b.PaymentID); err != nil {
			// Nothing was captured; the payment service will time it out.
			s.logger.Warn("payment void failed",
				"booking_id", id, "payment_id", b.PaymentID, "error", err)
		}
	}

	if err := s.seats.CancelReservation(ctx, b.ReservationID); err != nil {
		// An expired or already-cancelled reservation holds no seats.
		if !errors.Is(err, client.ErrNotFound) && !errors.Is(err, client.ErrBadRequest) {
			return nil, fmt.Errorf("%s:%w", op, mapClientErr(err))
		}
		s.logger.Warn("reservation already settled during cancel",
			"booking_id", id, "reservation_id", b.ReservationID, "error", err)
	}

	if err := s.store.Transition(ctx, id,
		[]domain.BookingStatus{domain.BookingPaymentPending, domain.BookingConfirmed},
		domain.BookingCancelled,
	); err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	b.Status = domain.BookingCancelled

	s.publishCancelled(ctx, b, refund, reason)

	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "booking.Service.Get"

	b, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	return b, nil
}

// ListByUser returns a page of the user's bookings plus the total count.
func (s *Service) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	status domain.BookingStatus,
	limit, offset int,
) ([]domain.Booking, int, error) {
	const op = "booking.Service.ListByUser"

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.store.ListByUser(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	return items, total, nil
}

// publishConfirmed emits the confirmed event, enriched with seat and journey
// detail. Publishing is best-effort: the booking is already confirmed and an
// event must not unconfirm it.
func (s *Service) publishConfirmed(ctx context.Context, b *domain.Booking) {
	ev := domain.BookingConfirmedEvent{
		BookingID:        b.ID,
		UserID:           b.UserID,
		JourneyID:        b.JourneyID,
		ReservationID:    b.ReservationID,
		TotalAmountCents: b.TotalAmountCents,
		ConfirmedAt:      s.now(),
	}

	if res, err := s.reservations.ByID(ctx, b.ReservationID); err == nil {
		if seats, err := s.catalog.SeatsByIDs(ctx, b.JourneyID, res.SeatIDs); err == nil {
			for _, seat := range seats {
				ev.Seats = append(ev.Seats, domain.BookedSeat{
					SeatID:     seat.ID,
					SeatNumber: seat.SeatNumber,
					CoachCode:  seat.CoachCode,
				})
			}
		}
		ev.Journey.FromStationID = res.FromStationID
		ev.Journey.ToStationID = res.ToStationID
	}

	if j, err := s.catalog.Get(ctx, b.JourneyID); err == nil {
		ev.Journey.TrainName = j.TrainName
		ev.Journey.TrainNumber = j.TrainNumber
		ev.Journey.DepartureTime = j.DepartureTime
		ev.Journey.ArrivalTime = j.ArrivalTime
	}

	if err := s.bus.PublishBookingConfirmed(ctx, ev); err != nil {
		s.logger.Error("booking confirmed event publish failed",
			"booking_id", b.ID, "error", err)
	}
}

func (s *Service) publishCancelled(ctx context.Context, b *domain.Booking, refund int64, reason string) {
	ev := domain.BookingCancelledEvent{
		BookingID:         b.ID,
		UserID:            b.UserID,
		ReservationID:     b.ReservationID,
		PaymentID:         b.PaymentID,
		RefundAmountCents: refund,
		Reason:            reason,
		CancelledAt:       s.now(),
	}

	if err := s.bus.PublishBookingCancelled(ctx, ev); err != nil {
		s.logger.Error("booking cancelled event publish failed",
			"booking_id", b.ID, "error", err)
	}
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrInvalidState):
		return ErrAlreadyCancelled
	default:
		return err
	}
}

func mapClientErr(err error) error {
	var conflict *client.SeatsConflictError
	if errors.As(err, &conflict) {
		return err
	}

	switch {
	case errors.Is(err, client.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, client.ErrExpired):
		return ErrReservationExpired
	case errors.Is(err, client.ErrBadRequest):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, client.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	default:
		return err
	}
}
