package httpgin

import (
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/domain"
)

type AcquireLockRequest struct {
	UserID        string   `json:"userId" binding:"required,uuid"`
	JourneyID     string   `json:"journeyId" binding:"required,uuid"`
	SeatIDs       []string `json:"seatIds" binding:"required,min=1,dive,uuid"`
	FromStationID string   `json:"fromStationId" binding:"required,uuid"`
	ToStationID   string   `json:"toStationId" binding:"required,uuid"`
}

type ExtendLockRequest struct {
	ExtraSeconds int `json:"extraSeconds" binding:"omitempty,min=1"`
}

type ConfirmReservationRequest struct {
	LockID string `json:"lockId" binding:"required"`
}

type CreateBookingRequest struct {
	UserID        string   `json:"userId" binding:"required,uuid"`
	JourneyID     string   `json:"journeyId" binding:"required,uuid"`
	SeatIDs       []string `json:"seatIds" binding:"required,min=1,dive,uuid"`
	FromStationID string   `json:"fromStationId" binding:"required,uuid"`
	ToStationID   string   `json:"toStationId" binding:"required,uuid"`
	PaymentMethod string   `json:"paymentMethod"`
}

type ConfirmBookingRequest struct {
	TransactionID string `json:"transactionId"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error       string      `json:"error"`
	LockedSeats []uuid.UUID `json:"lockedSeats,omitempty"`
	BookedSeats []uuid.UUID `json:"bookedSeats,omitempty"`
}

type ReleaseLockResponse struct {
	Released bool        `json:"released"`
	SeatIDs  []uuid.UUID `json:"seatIds"`
}

type LockResponse struct {
	LockID         string      `json:"lockId"`
	ReservationID  uuid.UUID   `json:"reservationId"`
	JourneyID      uuid.UUID   `json:"journeyId"`
	SeatIDs        []uuid.UUID `json:"seatIds"`
	TotalFareCents int64       `json:"totalFareCents"`
	Status         string      `json:"status"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

type ReservationResponse struct {
	ID             uuid.UUID   `json:"id"`
	LockID         string      `json:"lockId"`
	UserID         uuid.UUID   `json:"userId"`
	JourneyID      uuid.UUID   `json:"journeyId"`
	SeatIDs        []uuid.UUID `json:"seatIds"`
	FromStationID  uuid.UUID   `json:"fromStationId"`
	ToStationID    uuid.UUID   `json:"toStationId"`
	TotalFareCents int64       `json:"totalFareCents"`
	Status         string      `json:"status"`
	LockExpiry     time.Time   `json:"lockExpiry"`
	CreatedAt      time.Time   `json:"createdAt"`
}

type BookingResponse struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"userId"`
	JourneyID        uuid.UUID `json:"journeyId"`
	ReservationID    uuid.UUID `json:"reservationId"`
	LockID           string    `json:"lockId"`
	PaymentID        string    `json:"paymentId"`
	PaymentStatus    string    `json:"paymentStatus"`
	TotalAmountCents int64     `json:"totalAmountCents"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type BookingListResponse struct {
	Items  []BookingResponse `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func toLockResponse(res *domain.Reservation) LockResponse {
	return LockResponse{
		LockID:         res.LockID,
		ReservationID:  res.ID,
		JourneyID:      res.JourneyID,
		SeatIDs:        res.SeatIDs,
		TotalFareCents: res.TotalFareCents,
		Status:         string(res.Status),
		ExpiresAt:      res.LockExpiry,
	}
}

func toReservationResponse(res *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:             res.ID,
		LockID:         res.LockID,
		UserID:         res.UserID,
		JourneyID:      res.JourneyID,
		SeatIDs:        res.SeatIDs,
		FromStationID:  res.FromStationID,
		ToStationID:    res.ToStationID,
		TotalFareCents: res.TotalFareCents,
		Status:         string(res.Status),
		LockExpiry:     res.LockExpiry,
		CreatedAt:      res.CreatedAt,
	}
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		ID:               b.ID,
		UserID:           b.UserID,
		JourneyID:        b.JourneyID,
		ReservationID:    b.ReservationID,
		LockID:           b.LockID,
		PaymentID:        b.PaymentID,
		PaymentStatus:    string(b.PaymentStatus),
		TotalAmountCents: b.TotalAmountCents,
		Status:           string(b.Status),
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}
