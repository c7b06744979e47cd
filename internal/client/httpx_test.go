package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newTestCaller() *caller {
	return &caller{
		client: &http.Client{Timeout: time.Second},
		policy: testPolicy(),
		logger: slog.New(slog.DiscardHandler),
	}
}

func TestPostJSON_RetriesServerErrorsUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestCaller()

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.postJSON(context.Background(), srv.URL, map[string]string{"a": "b"}, &out)

	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPostJSON_ExhaustedRetriesReportUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCaller()

	err := c.postJSON(context.Background(), srv.URL, struct{}{}, nil)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), hits.Load())
}

func TestPostJSON_ConflictIsNotRetriedAndCarriesSeats(t *testing.T) {
	lockedSeat := uuid.New()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"seats unavailable","lockedSeats":["` + lockedSeat.String() + `"]}`))
	}))
	defer srv.Close()

	c := newTestCaller()

	err := c.postJSON(context.Background(), srv.URL, struct{}{}, nil)

	var conflict *SeatsConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []uuid.UUID{lockedSeat}, conflict.LockedSeats)
	assert.Empty(t, conflict.BookedSeats)
	assert.Equal(t, int32(1), hits.Load())
}

func TestPostJSON_ClientErrorsMapToSentinels(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"gone", http.StatusGone, ErrExpired},
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"unprocessable", http.StatusUnprocessableEntity, ErrBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestCaller()

			err := c.postJSON(context.Background(), srv.URL, struct{}{}, nil)

			assert.ErrorIs(t, err, tc.want)
			// 4xx means the upstream understood and rejected; never retried.
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestPostJSON_TransportErrorRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := newTestCaller()

	err := c.postJSON(context.Background(), srv.URL, struct{}{}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPostJSON_ContextCancelStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestCaller()
	c.policy.BaseDelay = time.Hour
	c.policy.MaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.postJSON(ctx, srv.URL, struct{}{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnavailable))
}
