package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationLocked    ReservationStatus = "LOCKED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Terminal reports whether the reservation can no longer change state.
// LOCKED is the only state that keeps seats unavailable to other users.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased ||
		s == ReservationExpired || s == ReservationCancelled
}

type BookingStatus string

const (
	BookingPaymentPending BookingStatus = "PAYMENT_PENDING"
	BookingConfirmed      BookingStatus = "CONFIRMED"
	BookingCancelled      BookingStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
)

// Reservation is the durable record of a seat hold. The row is authoritative;
// the lock-store entries mirroring it can be rebuilt from status and expiry.
type Reservation struct {
	ID             uuid.UUID
	LockID         string
	UserID         uuid.UUID
	JourneyID      uuid.UUID
	SeatIDs        []uuid.UUID
	FromStationID  uuid.UUID
	ToStationID    uuid.UUID
	TotalFareCents int64
	LockExpiry     time.Time
	Status         ReservationStatus
	CreatedAt      time.Time
}

// Booking is the user-facing purchase built atop exactly one Reservation.
type Booking struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	JourneyID        uuid.UUID
	ReservationID    uuid.UUID
	LockID           string
	PaymentID        string
	PaymentStatus    PaymentStatus
	TotalAmountCents int64
	Status           BookingStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Journey struct {
	ID            uuid.UUID
	TrainName     string
	TrainNumber   string
	DepartureTime time.Time
	ArrivalTime   time.Time
}

type Seat struct {
	ID            uuid.UUID
	JourneyID     uuid.UUID
	CoachCode     string
	SeatNumber    string
	BaseFareCents int64
}

// LockValue is the payload stored under a seat-lock key.
type LockValue struct {
	UserID   uuid.UUID `json:"user_id"`
	LockID   string    `json:"lock_id"`
	TsUnixMs int64     `json:"ts_unix_ms"`
}

// Availability is the read-only set difference of a journey's seats against
// current locks and confirmed reservations.
type Availability struct {
	JourneyID uuid.UUID   `json:"journey_id"`
	Available []uuid.UUID `json:"available"`
	Locked    []uuid.UUID `json:"locked"`
	Booked    []uuid.UUID `json:"booked"`
}
