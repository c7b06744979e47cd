package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/client"
	"github.com/kirinyoku/railgo/internal/config"
	"github.com/kirinyoku/railgo/internal/eventbus"
	"github.com/kirinyoku/railgo/internal/postgres"
	"github.com/kirinyoku/railgo/internal/rabbitmq"
	"github.com/kirinyoku/railgo/internal/redis"
	postgresrepo "github.com/kirinyoku/railgo/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/railgo/internal/repository/redis"
	"github.com/kirinyoku/railgo/internal/service"
	"github.com/kirinyoku/railgo/internal/service/seatlock"
	httpgin "github.com/kirinyoku/railgo/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	consumer   *eventbus.Consumer
	pubsub     *redisrepo.JourneysPubSub
	cache      *redisrepo.Cache
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	amqpConn, err := rabbitmq.New(rabbitmq.Config{URL: cfg.Rabbit.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rabbitmq: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.NewCache(rdb)
	pubsub := redisrepo.NewJourneysPubSub(rdb)
	avail := redisrepo.NewAvailabilityCache(cache, 15*time.Second)
	feed := redisrepo.NewChangeFeed(cache, pubsub, logger)
	locks := redisrepo.NewSeatLockStore(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "bookings", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize outbound clients and the event publisher
	policy := client.DefaultRetryPolicy()
	seatsClient := client.NewSeatLockClient(cfg.SeatLock.BaseURL, policy, logger)
	payments := client.NewPaymentClient(cfg.Payment.BaseURL, policy, logger)

	publisher, err := eventbus.NewPublisher(amqpConn, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	// Initialize services
	services := service.NewServices(
		store, locks, avail, feed, seatsClient, payments, publisher,
		service.Config{
			SeatLock: seatlock.Config{
				LockTTL:       cfg.SeatLock.LockTTL,
				SweepInterval: cfg.SeatLock.SweepInterval,
				MaxSeats:      cfg.SeatLock.MaxSeats,
			},
		},
		logger,
	)

	consumer := eventbus.NewConsumer(cfg.Rabbit.URL, logger, services.Booking.HandlePaymentFailed)

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, limiter, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		consumer: consumer,
		pubsub:   pubsub,
		cache:    cache,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Reconcile expired holds in the background
	g.Go(func() error {
		err := a.services.SeatLock.RunSweeper(gCtx)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("expiry sweeper stopped: %w", err)
		}
		return nil
	})

	// Drive async compensation off payment failure events
	g.Go(func() error {
		err := a.consumer.Run(gCtx)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("payment-failed consumer stopped: %w", err)
		}
		return nil
	})

	// Drop cached availability when another instance changes a seat map
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(ctx context.Context, journeyID uuid.UUID) {
			if err := a.cache.InvalidateJourney(ctx, journeyID); err != nil {
				a.logger.Warn("availability cache invalidation failed",
					"journey_id", journeyID, "error", err)
			}
		})
		if err != nil && err != context.Canceled {
			return fmt.Errorf("journey change subscriber stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
