package service

import (
	"log/slog"

	"github.com/kirinyoku/railgo/internal/client"
	"github.com/kirinyoku/railgo/internal/eventbus"
	postgres "github.com/kirinyoku/railgo/internal/repository/postgres"
	redis "github.com/kirinyoku/railgo/internal/repository/redis"
	"github.com/kirinyoku/railgo/internal/service/booking"
	"github.com/kirinyoku/railgo/internal/service/seatlock"
)

type Services struct {
	SeatLock *seatlock.Service
	Booking  *booking.Service
}

type Config struct {
	SeatLock seatlock.Config
}

func NewServices(
	store *postgres.Store,
	locks *redis.SeatLockStore,
	avail *redis.AvailabilityCache,
	feed *redis.ChangeFeed,
	seatsClient *client.SeatLockClient,
	payments *client.PaymentClient,
	bus *eventbus.Publisher,
	cfg Config,
	logger *slog.Logger,
) *Services {
	return &Services{
		SeatLock: seatlock.New(
			locks,
			store.Reservations(),
			store.Journeys(),
			feed,
			avail,
			cfg.SeatLock,
			logger,
		),
		Booking: booking.New(
			store.Bookings(),
			seatsClient,
			payments,
			bus,
			store.Journeys(),
			store.Reservations(),
			logger,
		),
	}
}
