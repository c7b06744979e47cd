// Package client holds the outbound HTTP clients of the booking saga. Every
// call retries transient failures with jittered exponential backoff; 4xx
// responses are mapped to typed errors and never retried, because a request
// the upstream understood and rejected will be rejected again.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	// Full jitter keeps synchronized retry herds off a recovering upstream.
	return time.Duration(rand.Int63n(int64(d) + 1))
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type caller struct {
	client httpDoer
	policy RetryPolicy
	logger *slog.Logger
}

type conflictBody struct {
	LockedSeats []uuid.UUID `json:"lockedSeats"`
	BookedSeats []uuid.UUID `json:"bookedSeats"`
}

// postJSON issues one logical POST. Transport errors and 5xx responses burn an
// attempt; any other status ends the call immediately.
func (c *caller) postJSON(ctx context.Context, url string, in, out any) error {
	const op = "client.postJSON"

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	var lastErr error

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s:%w", op, ctx.Err())
			case <-time.After(c.policy.delay(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("upstream call failed",
				"url", url, "attempt", attempt+1, "error", err)
			continue
		}

		done, err := c.readResponse(resp, out)
		if done {
			return err
		}
		lastErr = err

		c.logger.Warn("upstream returned server error",
			"url", url, "attempt", attempt+1, "status", resp.StatusCode)
	}

	return fmt.Errorf("%s:%w: %w", op, ErrUnavailable, lastErr)
}

// readResponse reports done=false only for retryable (5xx) statuses.
func (c *caller) readResponse(resp *http.Response, out any) (done bool, err error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return true, nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return true, fmt.Errorf("decode response: %w", err)
		}
		return true, nil

	case resp.StatusCode == http.StatusConflict:
		var cb conflictBody
		_ = json.Unmarshal(raw, &cb)
		return true, &SeatsConflictError{
			LockedSeats: cb.LockedSeats,
			BookedSeats: cb.BookedSeats,
		}

	case resp.StatusCode == http.StatusNotFound:
		return true, ErrNotFound

	case resp.StatusCode == http.StatusGone:
		return true, ErrExpired

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return true, fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, raw)

	default:
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
}
