package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/client"
	"github.com/kirinyoku/railgo/internal/domain"
)

// HandlePaymentFailed is the asynchronous compensation path, driven by the
// payment service's failure events. It is idempotent: deliveries are
// at-least-once and the broker redelivers on requeue, so every step tolerates
// having already run. A returned error requeues the event.
func (s *Service) HandlePaymentFailed(ctx context.Context, ev domain.PaymentFailedEvent) error {
	const op = "booking.Service.HandlePaymentFailed"

	b, err := s.lookupForEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The booking never persisted. The payment was initiated against
			// a live reservation, so free the seats directly.
			return s.releaseOrphanReservation(ctx, ev)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	if b.Status != domain.BookingPaymentPending {
		// Already confirmed or cancelled; a stale failure changes nothing.
		s.logger.Info("payment failure for settled booking ignored",
			"booking_id", b.ID, "status", b.Status)
		return nil
	}

	if err := s.store.SetPaymentStatus(ctx, b.ID, domain.PaymentFailed); err != nil {
		s.logger.Warn("payment status update failed",
			"booking_id", b.ID, "error", err)
	}

	if err := s.seats.CancelReservation(ctx, b.ReservationID); err != nil {
		if !errors.Is(err, client.ErrNotFound) && !errors.Is(err, client.ErrBadRequest) {
			return fmt.Errorf("%s:%w", op, mapClientErr(err))
		}
		s.logger.Info("reservation already settled during compensation",
			"booking_id", b.ID, "reservation_id", b.ReservationID)
	}

	if err := s.store.Transition(ctx, b.ID,
		[]domain.BookingStatus{domain.BookingPaymentPending},
		domain.BookingCancelled,
	); err != nil {
		if errors.Is(mapRepoErr(err), ErrAlreadyCancelled) {
			// Lost the race to a concurrent compensation; done either way.
			return nil
		}
		return fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	s.logger.Info("booking compensated after payment failure",
		"booking_id", b.ID, "payment_id", b.PaymentID, "reason", ev.Reason)

	b.Status = domain.BookingCancelled
	s.publishCancelled(ctx, b, 0, "payment failed: "+ev.Reason)

	return nil
}

func (s *Service) lookupForEvent(ctx context.Context, ev domain.PaymentFailedEvent) (*domain.Booking, error) {
	if ev.BookingID != uuid.Nil {
		b, err := s.store.ByID(ctx, ev.BookingID)
		if err == nil {
			return b, nil
		}
		if !errors.Is(mapRepoErr(err), ErrNotFound) {
			return nil, err
		}
	}

	if ev.PaymentID != "" {
		b, err := s.store.ByPaymentID(ctx, ev.PaymentID)
		if err != nil {
			return nil, mapRepoErr(err)
		}
		return b, nil
	}

	return nil, ErrNotFound
}

func (s *Service) releaseOrphanReservation(ctx context.Context, ev domain.PaymentFailedEvent) error {
	const op = "booking.Service.releaseOrphanReservation"

	if ev.ReservationID == uuid.Nil {
		s.logger.Warn("payment failure references no known booking or reservation",
			"payment_id", ev.PaymentID)
		return nil
	}

	if err := s.seats.CancelReservation(ctx, ev.ReservationID); err != nil {
		if errors.Is(err, client.ErrNotFound) || errors.Is(err, client.ErrBadRequest) {
			return nil
		}
		return fmt.Errorf("%s:%w", op, mapClientErr(err))
	}

	s.logger.Info("orphan reservation released after payment failure",
		"reservation_id", ev.ReservationID, "payment_id", ev.PaymentID)

	return nil
}
