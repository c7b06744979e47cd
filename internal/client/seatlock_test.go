package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmReservation_DecodesReservationPayload(t *testing.T) {
	reservationID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "` + reservationID.String() + `",
			"lockId": "lock_1_abcd1234",
			"status": "CONFIRMED"
		}`))
	}))
	defer srv.Close()

	c := NewSeatLockClient(srv.URL, testPolicy(), slog.New(slog.DiscardHandler))

	out, err := c.ConfirmReservation(context.Background(), "lock_1_abcd1234")
	require.NoError(t, err)
	assert.Equal(t, reservationID, out.ReservationID)
	assert.Equal(t, "CONFIRMED", out.Status)
}
