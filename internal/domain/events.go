package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys on the booking exchange.
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventPaymentFailed    = "payment.failed"
)

type BookedSeat struct {
	SeatID     uuid.UUID `json:"seat_id"`
	SeatNumber string    `json:"seat_number"`
	CoachCode  string    `json:"coach_code"`
}

type JourneySummary struct {
	TrainName     string    `json:"train_name"`
	TrainNumber   string    `json:"train_number"`
	DepartureTime time.Time `json:"departure_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
	FromStationID uuid.UUID `json:"from_station_id"`
	ToStationID   uuid.UUID `json:"to_station_id"`
}

// BookingConfirmedEvent carries enough denormalized detail for downstream
// consumers (tickets, notifications) to act without a callback.
type BookingConfirmedEvent struct {
	BookingID        uuid.UUID      `json:"booking_id"`
	UserID           uuid.UUID      `json:"user_id"`
	JourneyID        uuid.UUID      `json:"journey_id"`
	ReservationID    uuid.UUID      `json:"reservation_id"`
	TotalAmountCents int64          `json:"total_amount_cents"`
	Seats            []BookedSeat   `json:"seats"`
	Journey          JourneySummary `json:"journey"`
	ConfirmedAt      time.Time      `json:"confirmed_at"`
}

type BookingCancelledEvent struct {
	BookingID         uuid.UUID `json:"booking_id"`
	UserID            uuid.UUID `json:"user_id"`
	ReservationID     uuid.UUID `json:"reservation_id"`
	PaymentID         string    `json:"payment_id"`
	RefundAmountCents int64     `json:"refund_amount_cents"`
	Reason            string    `json:"reason"`
	CancelledAt       time.Time `json:"cancelled_at"`
}

// PaymentFailedEvent is consumed from the payment service when a payment
// fails after the synchronous create path already returned. BookingID may be
// absent; the handler falls back to a lookup by payment id.
type PaymentFailedEvent struct {
	PaymentID     string    `json:"payment_id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	BookingID     uuid.UUID `json:"booking_id,omitempty"`
	Reason        string    `json:"reason"`
}
