package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/client"
	"github.com/kirinyoku/railgo/internal/domain"
	redisrepo "github.com/kirinyoku/railgo/internal/repository/redis"
	"github.com/kirinyoku/railgo/internal/service"
	"github.com/kirinyoku/railgo/internal/service/booking"
	"github.com/kirinyoku/railgo/internal/service/seatlock"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	// seat locks
	v1.POST("/locks/acquire", handleAcquireLock(svcs))
	v1.POST("/locks/:lockId/extend", handleExtendLock(svcs))
	v1.POST("/locks/:lockId/release", handleReleaseLock(svcs))
	v1.GET("/journeys/:id/availability", handleGetAvailability(svcs))

	// reservations
	v1.POST("/reservations/confirm", handleConfirmReservation(svcs))
	v1.POST("/reservations/:id/cancel", handleCancelReservation(svcs))
	v1.GET("/reservations/:id", handleGetReservation(svcs))
	v1.GET("/users/:id/locks", handleListUserLocks(svcs))

	// bookings
	v1.POST("/bookings", handleCreateBooking(svcs, idem, limiter))
	v1.POST("/bookings/:id/confirm", handleConfirmBooking(svcs))
	v1.POST("/bookings/:id/cancel", handleCancelBooking(svcs))
	v1.GET("/bookings/:id", handleGetBooking(svcs))
	v1.GET("/users/:id/bookings", handleListUserBookings(svcs))

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Acquire seat locks
// @Param    req body  AcquireLockRequest true "payload"
// @Success  201 {object} LockResponse
// @Failure  400 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seats locked or booked"
// @Router   /api/v1/locks/acquire [post]
func handleAcquireLock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AcquireLockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		in, ok := parseAcquireInput(c, req.UserID, req.JourneyID, req.SeatIDs,
			req.FromStationID, req.ToStationID)
		if !ok {
			return
		}

		res, err := svcs.SeatLock.Acquire(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, toLockResponse(res))
	}
}

// @Summary  Extend a seat lock
// @Param    lockId  path  string  true  "Lock ID"
// @Param    req body  ExtendLockRequest false "payload"
// @Success  200 {object} LockResponse
// @Failure  404 {object} ErrorResponse
// @Failure  410 {object} ErrorResponse "lock expired"
// @Router   /api/v1/locks/{lockId}/extend [post]
func handleExtendLock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExtendLockRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}

		extra := time.Duration(req.ExtraSeconds) * time.Second
		res, err := svcs.SeatLock.Extend(c.Request.Context(), c.Param("lockId"), extra)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toLockResponse(res))
	}
}

// @Summary  Release a seat lock
// @Param    lockId  path  string  true  "Lock ID"
// @Success  200 {object} ReleaseLockResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "not in a releasable state"
// @Router   /api/v1/locks/{lockId}/release [post]
func handleReleaseLock(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		seatIDs, err := svcs.SeatLock.Release(c.Request.Context(), c.Param("lockId"))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, ReleaseLockResponse{Released: true, SeatIDs: seatIDs})
	}
}

// @Summary  Journey seat availability
// @Param    id     path   string  true   "Journey ID (uuid)"
// @Param    seats  query  string  false  "comma-separated seat IDs to check"
// @Success  200 {object} domain.Availability
// @Failure  404 {object} ErrorResponse
// @Router   /api/v1/journeys/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		journeyID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		av, err := svcs.SeatLock.Availability(c.Request.Context(), journeyID)
		if err != nil {
			respondErr(c, err)
			return
		}

		if seats := c.Query("seats"); seats != "" {
			subset, err := parseSeatFilter(seats)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			av = filterAvailability(av, subset)
		}

		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, av, "public, max-age=15", true)
	}
}

func parseSeatFilter(raw string) (map[uuid.UUID]struct{}, error) {
	subset := make(map[uuid.UUID]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, errors.New("invalid seat id " + part)
		}
		subset[id] = struct{}{}
	}
	return subset, nil
}

// filterAvailability narrows a full journey partition to the requested seats.
// The cache always stores the full partition; the subset view is derived here.
func filterAvailability(av domain.Availability, subset map[uuid.UUID]struct{}) domain.Availability {
	keep := func(ids []uuid.UUID) []uuid.UUID {
		out := make([]uuid.UUID, 0, len(subset))
		for _, id := range ids {
			if _, ok := subset[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}
	return domain.Availability{
		JourneyID: av.JourneyID,
		Available: keep(av.Available),
		Locked:    keep(av.Locked),
		Booked:    keep(av.Booked),
	}
}

// @Summary  Confirm a reservation
// @Param    req body  ConfirmReservationRequest true "payload"
// @Success  200 {object} ReservationResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Failure  410 {object} ErrorResponse "lock expired"
// @Router   /api/v1/reservations/confirm [post]
func handleConfirmReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfirmReservationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		res, err := svcs.SeatLock.Confirm(c.Request.Context(), req.LockID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toReservationResponse(res))
	}
}

// @Summary  Cancel a reservation
// @Param    id  path  string  true  "Reservation ID (uuid)"
// @Success  200 {object} ReservationResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /api/v1/reservations/{id}/cancel [post]
func handleCancelReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		prior, err := svcs.SeatLock.CancelReservation(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := toReservationResponse(prior)
		resp.Status = string(domain.ReservationCancelled)
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Get reservation
// @Param    id  path  string  true  "Reservation ID (uuid)"
// @Success  200 {object} ReservationResponse
// @Failure  404 {object} ErrorResponse
// @Router   /api/v1/reservations/{id} [get]
func handleGetReservation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		res, err := svcs.SeatLock.GetReservation(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toReservationResponse(res))
	}
}

// @Summary  List a user's active locks
// @Param    id  path  string  true  "User ID (uuid)"
// @Success  200 {array} ReservationResponse
// @Router   /api/v1/users/{id}/locks [get]
func handleListUserLocks(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		locks, err := svcs.SeatLock.UserLocks(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}

		out := make([]ReservationResponse, 0, len(locks))
		for i := range locks {
			out = append(out, toReservationResponse(&locks[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Create booking (idempotent)
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} BookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seats unavailable / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} ErrorResponse "upstream unavailable"
// @Router   /api/v1/bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		in, ok := parseAcquireInput(c, req.UserID, req.JourneyID, req.SeatIDs,
			req.FromStationID, req.ToStationID)
		if !ok {
			return
		}

		if limiter != nil {
			allowed, _, retryAfter, err := limiter.Allow(
				c.Request.Context(), in.UserID.String())
			if err == nil && !allowed {
				c.Header("Retry-After",
					strconv.Itoa(int(retryAfter/time.Second)+1))
				c.JSON(http.StatusTooManyRequests,
					ErrorResponse{Error: "rate limited"})
				return
			}
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(in.UserID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		b, err := svcs.Booking.Create(c.Request.Context(), booking.CreateInput{
			UserID:        in.UserID,
			JourneyID:     in.JourneyID,
			SeatIDs:       in.SeatIDs,
			FromStationID: in.FromStationID,
			ToStationID:   in.ToStationID,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toBookingResponse(b)

		if idemStorageKey != "" && idem != nil {
			raw, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(raw))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Confirm booking
// @Param    id   path  string  true  "Booking ID (uuid)"
// @Param    req  body  ConfirmBookingRequest false "payload"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Failure  410 {object} ErrorResponse "reservation expired"
// @Router   /api/v1/bookings/{id}/confirm [post]
func handleConfirmBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req ConfirmBookingRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}

		b, err := svcs.Booking.Confirm(c.Request.Context(), id, req.TransactionID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Cancel booking
// @Param    id   path  string  true  "Booking ID (uuid)"
// @Param    req  body  CancelBookingRequest false "payload"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /api/v1/bookings/{id}/cancel [post]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		var req CancelBookingRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}

		b, err := svcs.Booking.Cancel(c.Request.Context(), id, req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /api/v1/bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		b, err := svcs.Booking.Get(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, toBookingResponse(b))
	}
}

// @Summary  List a user's bookings
// @Param    id      path   string  true  "User ID (uuid)"
// @Param    status  query  string  false "PAYMENT_PENDING | CONFIRMED | CANCELLED"
// @Param    limit   query  int     false "page size"
// @Param    offset  query  int     false "offset"
// @Success  200 {object} BookingListResponse
// @Router   /api/v1/users/{id}/bookings [get]
func handleListUserBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		limit := parseIntDefault(c.Query("limit"), 20)
		offset := parseIntDefault(c.Query("offset"), 0)
		status := domain.BookingStatus(c.Query("status"))

		items, total, err := svcs.Booking.ListByUser(
			c.Request.Context(), userID, status, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}

		resp := BookingListResponse{
			Items:  make([]BookingResponse, 0, len(items)),
			Total:  total,
			Limit:  limit,
			Offset: offset,
		}
		for i := range items {
			resp.Items = append(resp.Items, toBookingResponse(&items[i]))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// --- Helpers ---

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseAcquireInput(
	c *gin.Context,
	userID, journeyID string,
	seatIDs []string,
	fromStationID, toStationID string,
) (seatlock.AcquireInput, bool) {
	var in seatlock.AcquireInput
	var err error

	if in.UserID, err = uuid.Parse(userID); err != nil {
		badRequest(c, "invalid userId")
		return in, false
	}
	if in.JourneyID, err = uuid.Parse(journeyID); err != nil {
		badRequest(c, "invalid journeyId")
		return in, false
	}
	if in.FromStationID, err = uuid.Parse(fromStationID); err != nil {
		badRequest(c, "invalid fromStationId")
		return in, false
	}
	if in.ToStationID, err = uuid.Parse(toStationID); err != nil {
		badRequest(c, "invalid toStationId")
		return in, false
	}
	for _, s := range seatIDs {
		sid, err := uuid.Parse(s)
		if err != nil {
			badRequest(c, "invalid seat id "+s)
			return in, false
		}
		in.SeatIDs = append(in.SeatIDs, sid)
	}

	return in, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var lockConflict *seatlock.SeatsConflictError
	if errors.As(err, &lockConflict) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:       "seats unavailable",
			LockedSeats: lockConflict.LockedSeats,
			BookedSeats: lockConflict.BookedSeats,
		})
		return
	}

	var remoteConflict *client.SeatsConflictError
	if errors.As(err, &remoteConflict) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:       "seats unavailable",
			LockedSeats: remoteConflict.LockedSeats,
			BookedSeats: remoteConflict.BookedSeats,
		})
		return
	}

	switch {
	// seat lock service
	case errors.Is(err, seatlock.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, seatlock.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, seatlock.ErrLockExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "lock expired"})
	case errors.Is(err, seatlock.ErrInvalidState):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid reservation state"})
	// booking service
	case errors.Is(err, booking.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, booking.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
	case errors.Is(err, booking.ErrAlreadyConfirmed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking already confirmed"})
	case errors.Is(err, booking.ErrCannotConfirmCancelled),
		errors.Is(err, booking.ErrAlreadyCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking already cancelled"})
	case errors.Is(err, booking.ErrReservationExpired):
		c.JSON(http.StatusGone, ErrorResponse{Error: "reservation expired"})
	case errors.Is(err, booking.ErrPaymentFailed):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: "payment failed"})
	case errors.Is(err, booking.ErrUpstream):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "upstream unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
