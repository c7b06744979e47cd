package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiate_TransmitsReservationID(t *testing.T) {
	var (
		mu  sync.Mutex
		got map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paymentId":"pay_1","status":"PENDING"}`))
	}))
	defer srv.Close()

	c := NewPaymentClient(srv.URL, testPolicy(), slog.New(slog.DiscardHandler))

	reservationID := uuid.New()
	res, err := c.Initiate(context.Background(), InitiatePaymentRequest{
		UserID:        uuid.New(),
		BookingID:     uuid.New(),
		ReservationID: reservationID,
		AmountCents:   100_000,
		Method:        "card",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_1", res.PaymentID)

	mu.Lock()
	defer mu.Unlock()
	// The gateway echoes this id in PaymentFailed; without it an orphaned
	// hold could never be traced back and released.
	assert.Equal(t, reservationID.String(), got["reservationId"])
	assert.Equal(t, "card", got["method"])
}
