package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SeatLockClient is the booking saga's view of the seat-lock surface. It goes
// over HTTP even when both run in one process, so the saga code is identical
// whether the lock manager is co-located or split out.
type SeatLockClient struct {
	baseURL string
	caller
}

func NewSeatLockClient(baseURL string, policy RetryPolicy, logger *slog.Logger) *SeatLockClient {
	return &SeatLockClient{
		baseURL: baseURL,
		caller: caller{
			client: &http.Client{Timeout: 10 * time.Second},
			policy: policy,
			logger: logger,
		},
	}
}

type AcquireSeatsRequest struct {
	UserID        uuid.UUID   `json:"userId"`
	JourneyID     uuid.UUID   `json:"journeyId"`
	SeatIDs       []uuid.UUID `json:"seatIds"`
	FromStationID uuid.UUID   `json:"fromStationId"`
	ToStationID   uuid.UUID   `json:"toStationId"`
}

type AcquireSeatsResult struct {
	LockID         string    `json:"lockId"`
	ReservationID  uuid.UUID `json:"reservationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TotalFareCents int64     `json:"totalFareCents"`
}

func (c *SeatLockClient) AcquireSeats(ctx context.Context, req AcquireSeatsRequest) (*AcquireSeatsResult, error) {
	var out AcquireSeatsResult
	if err := c.postJSON(ctx, c.baseURL+"/api/v1/locks/acquire", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SeatLockClient) Release(ctx context.Context, lockID string) error {
	url := c.baseURL + "/api/v1/locks/" + lockID + "/release"
	return c.postJSON(ctx, url, struct{}{}, nil)
}

type confirmReservationRequest struct {
	LockID string `json:"lockId"`
}

// ConfirmReservationResult mirrors the reservation payload the confirm
// endpoint returns; only the fields the saga reads are decoded.
type ConfirmReservationResult struct {
	ReservationID uuid.UUID `json:"id"`
	Status        string    `json:"status"`
}

func (c *SeatLockClient) ConfirmReservation(ctx context.Context, lockID string) (*ConfirmReservationResult, error) {
	var out ConfirmReservationResult
	url := c.baseURL + "/api/v1/reservations/confirm"
	if err := c.postJSON(ctx, url, confirmReservationRequest{LockID: lockID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SeatLockClient) CancelReservation(ctx context.Context, reservationID uuid.UUID) error {
	url := c.baseURL + "/api/v1/reservations/" + reservationID.String() + "/cancel"
	return c.postJSON(ctx, url, struct{}{}, nil)
}
