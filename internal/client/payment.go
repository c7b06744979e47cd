package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/domain"
)

// PaymentClient talks to the payment service. Initiate is the saga step that
// may be compensated; confirm, refund and cancel drive the payment through
// its lifecycle.
type PaymentClient struct {
	baseURL string
	caller
}

func NewPaymentClient(baseURL string, policy RetryPolicy, logger *slog.Logger) *PaymentClient {
	return &PaymentClient{
		baseURL: baseURL,
		caller: caller{
			client: &http.Client{Timeout: 10 * time.Second},
			policy: policy,
			logger: logger,
		},
	}
}

// InitiatePaymentRequest carries the reservation id so the gateway can echo
// it in a PaymentFailed event; that echo is what lets the consumer release a
// hold whose booking row never made it to disk.
type InitiatePaymentRequest struct {
	UserID        uuid.UUID `json:"userId"`
	BookingID     uuid.UUID `json:"bookingId"`
	ReservationID uuid.UUID `json:"reservationId"`
	AmountCents   int64     `json:"amountCents"`
	Method        string    `json:"method,omitempty"`
}

type PaymentResult struct {
	PaymentID string               `json:"paymentId"`
	Status    domain.PaymentStatus `json:"status"`
}

func (c *PaymentClient) Initiate(ctx context.Context, req InitiatePaymentRequest) (*PaymentResult, error) {
	var out PaymentResult
	if err := c.postJSON(ctx, c.baseURL+"/api/v1/payments/initiate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type confirmPaymentRequest struct {
	TransactionID string `json:"transactionId,omitempty"`
}

func (c *PaymentClient) Confirm(ctx context.Context, paymentID, transactionID string) (*PaymentResult, error) {
	var out PaymentResult
	url := c.baseURL + "/api/v1/payments/" + paymentID + "/confirm"
	req := confirmPaymentRequest{TransactionID: transactionID}
	if err := c.postJSON(ctx, url, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type refundRequest struct {
	AmountCents int64 `json:"amountCents"`
}

func (c *PaymentClient) Refund(ctx context.Context, paymentID string, amountCents int64) (*PaymentResult, error) {
	var out PaymentResult
	url := c.baseURL + "/api/v1/payments/" + paymentID + "/refund"
	if err := c.postJSON(ctx, url, refundRequest{AmountCents: amountCents}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PaymentClient) Cancel(ctx context.Context, paymentID string) (*PaymentResult, error) {
	var out PaymentResult
	url := c.baseURL + "/api/v1/payments/" + paymentID + "/cancel"
	if err := c.postJSON(ctx, url, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
