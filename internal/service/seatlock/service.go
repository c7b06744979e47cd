// Package seatlock implements exclusive, TTL-bounded seat holds. A hold is a
// pair of records written in order: fast lock-store keys grabbed atomically
// per seat, then a durable LOCKED reservation row. The row is the source of
// truth; lost lock keys are rebuilt from it, and orphaned rows are reconciled
// by the expiry sweep.
package seatlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/kirinyoku/railgo/internal/repository"
)

// LockStore is the fast path: per-seat keys with atomic grab and TTL expiry.
type LockStore interface {
	Acquire(ctx context.Context, journeyID, seatID uuid.UUID, val domain.LockValue, ttl time.Duration) (bool, error)
	Release(ctx context.Context, journeyID, seatID uuid.UUID) error
	ReleaseAll(ctx context.Context, journeyID uuid.UUID, seatIDs []uuid.UUID) error
	Extend(ctx context.Context, journeyID, seatID uuid.UUID, ttl time.Duration) (bool, error)
	Recreate(ctx context.Context, journeyID, seatID uuid.UUID, val domain.LockValue, ttl time.Duration) error
	HeldSeats(ctx context.Context, journeyID uuid.UUID, seatIDs []uuid.UUID) (map[uuid.UUID]domain.LockValue, error)
}

// ReservationStore is the durable record of holds and confirmations.
type ReservationStore interface {
	Create(ctx context.Context, res *domain.Reservation) error
	ByLockID(ctx context.Context, lockID string) (*domain.Reservation, error)
	ByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
	ConfirmLocked(ctx context.Context, id uuid.UUID) error
	MarkReleased(ctx context.Context, id uuid.UUID) error
	MarkExpiredIfDue(ctx context.Context, id uuid.UUID) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
	ExtendExpiry(ctx context.Context, id uuid.UUID, newExpiry time.Time) error
	ListExpiredLocked(ctx context.Context, limit int) ([]domain.Reservation, error)
	ActiveLocksByUser(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error)
	BookedSeats(ctx context.Context, journeyID uuid.UUID, seatIDs []uuid.UUID) ([]uuid.UUID, error)
}

// Catalog is the read-only journey and seat reference data.
type Catalog interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Journey, error)
	Seats(ctx context.Context, journeyID uuid.UUID) ([]domain.Seat, error)
	SeatsByIDs(ctx context.Context, journeyID uuid.UUID, seatIDs []uuid.UUID) ([]domain.Seat, error)
}

// Notifier is told whenever a journey's seat map changed.
type Notifier interface {
	JourneyChanged(ctx context.Context, journeyID uuid.UUID)
}

// AvailabilityCache memoizes computed availability between seat-map changes.
type AvailabilityCache interface {
	GetOrSet(ctx context.Context, journeyID uuid.UUID, loader func(ctx context.Context) (domain.Availability, error)) (domain.Availability, error)
}

type Config struct {
	LockTTL       time.Duration
	SweepInterval time.Duration
	MaxSeats      int
	SweepBatch    int
}

type Service struct {
	locks    LockStore
	store    ReservationStore
	catalog  Catalog
	notifier Notifier
	avail    AvailabilityCache
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

func New(
	locks LockStore,
	store ReservationStore,
	catalog Catalog,
	notifier Notifier,
	avail AvailabilityCache,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 200
	}

	return &Service{
		locks:    locks,
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		avail:    avail,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type AcquireInput struct {
	UserID        uuid.UUID
	JourneyID     uuid.UUID
	SeatIDs       []uuid.UUID
	FromStationID uuid.UUID
	ToStationID   uuid.UUID
}

// Acquire takes an exclusive hold on every requested seat, all or nothing.
// Seats are grabbed one key at a time; the first loser rolls back every key
// this call already took, so two overlapping requests can each end up with
// partial grabs only transiently, never with a committed overlap.
//
// Returns:
//   - *domain.Reservation: the durable LOCKED record, including lock id,
//     expiry and the total fare frozen from the catalog.
//   - error: ErrValidation, ErrNotFound (journey), or *SeatsConflictError.
func (s *Service) Acquire(ctx context.Context, in AcquireInput) (*domain.Reservation, error) {
	const op = "seatlock.Service.Acquire"

	seatIDs, err := s.validateSeatIDs(in.SeatIDs)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if _, err := s.catalog.Get(ctx, in.JourneyID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	seats, err := s.catalog.SeatsByIDs(ctx, in.JourneyID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}
	if len(seats) != len(seatIDs) {
		return nil, fmt.Errorf("%s:%w: unknown seats for journey", op, ErrValidation)
	}

	var totalFare int64
	for _, seat := range seats {
		totalFare += seat.BaseFareCents
	}

	// Pre-checks give precise conflict payloads; the per-seat grab below is
	// what actually guarantees exclusivity.
	held, err := s.locks.HeldSeats(ctx, in.JourneyID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	booked, err := s.store.BookedSeats(ctx, in.JourneyID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}
	if len(held) > 0 || len(booked) > 0 {
		conflict := &SeatsConflictError{BookedSeats: booked}
		for sid := range held {
			conflict.LockedSeats = append(conflict.LockedSeats, sid)
		}
		return nil, fmt.Errorf("%s:%w", op, conflict)
	}

	now := s.now()
	lockID := fmt.Sprintf("lock_%d_%s", now.UnixMilli(), in.UserID.String()[:8])
	val := domain.LockValue{
		UserID:   in.UserID,
		LockID:   lockID,
		TsUnixMs: now.UnixMilli(),
	}

	var taken []uuid.UUID
	for _, sid := range seatIDs {
		ok, err := s.locks.Acquire(ctx, in.JourneyID, sid, val, s.cfg.LockTTL)
		if err == nil && !ok {
			// Lost the race for this seat to a concurrent grab.
			err = &SeatsConflictError{LockedSeats: []uuid.UUID{sid}}
		}
		if err != nil {
			if rbErr := s.locks.ReleaseAll(ctx, in.JourneyID, taken); rbErr != nil {
				s.logger.Error("seat grab rollback failed",
					"journey_id", in.JourneyID, "lock_id", lockID, "error", rbErr)
			}
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		taken = append(taken, sid)
	}

	res := &domain.Reservation{
		ID:             uuid.New(),
		LockID:         lockID,
		UserID:         in.UserID,
		JourneyID:      in.JourneyID,
		SeatIDs:        seatIDs,
		FromStationID:  in.FromStationID,
		ToStationID:    in.ToStationID,
		TotalFareCents: totalFare,
		LockExpiry:     now.Add(s.cfg.LockTTL),
		Status:         domain.ReservationLocked,
		CreatedAt:      now,
	}

	if err := s.store.Create(ctx, res); err != nil {
		if rbErr := s.locks.ReleaseAll(ctx, in.JourneyID, taken); rbErr != nil {
			s.logger.Error("seat grab rollback failed",
				"journey_id", in.JourneyID, "lock_id", lockID, "error", rbErr)
		}
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	s.notifier.JourneyChanged(ctx, in.JourneyID)

	return res, nil
}

func (s *Service) validateSeatIDs(seatIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(seatIDs) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", ErrValidation)
	}
	if len(seatIDs) > s.cfg.MaxSeats {
		return nil, fmt.Errorf("%w: at most %d seats per hold", ErrValidation, s.cfg.MaxSeats)
	}

	seen := make(map[uuid.UUID]struct{}, len(seatIDs))
	for _, sid := range seatIDs {
		if sid == uuid.Nil {
			return nil, fmt.Errorf("%w: empty seat id", ErrValidation)
		}
		if _, dup := seen[sid]; dup {
			return nil, fmt.Errorf("%w: duplicate seat id %s", ErrValidation, sid)
		}
		seen[sid] = struct{}{}
	}

	return seatIDs, nil
}

// Availability partitions a journey's full seat map into available, locked
// and booked. Served through the cache; seat-map changes invalidate it.
func (s *Service) Availability(ctx context.Context, journeyID uuid.UUID) (domain.Availability, error) {
	const op = "seatlock.Service.Availability"

	av, err := s.avail.GetOrSet(ctx, journeyID, func(ctx context.Context) (domain.Availability, error) {
		return s.computeAvailability(ctx, journeyID)
	})
	if err != nil {
		return domain.Availability{}, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	return av, nil
}

func (s *Service) computeAvailability(ctx context.Context, journeyID uuid.UUID) (domain.Availability, error) {
	if _, err := s.catalog.Get(ctx, journeyID); err != nil {
		return domain.Availability{}, err
	}

	seats, err := s.catalog.Seats(ctx, journeyID)
	if err != nil {
		return domain.Availability{}, err
	}

	seatIDs := make([]uuid.UUID, 0, len(seats))
	for _, seat := range seats {
		seatIDs = append(seatIDs, seat.ID)
	}

	held, err := s.locks.HeldSeats(ctx, journeyID, seatIDs)
	if err != nil {
		return domain.Availability{}, err
	}

	booked, err := s.store.BookedSeats(ctx, journeyID, nil)
	if err != nil {
		return domain.Availability{}, err
	}
	bookedSet := make(map[uuid.UUID]struct{}, len(booked))
	for _, sid := range booked {
		bookedSet[sid] = struct{}{}
	}

	av := domain.Availability{
		JourneyID: journeyID,
		Available: []uuid.UUID{},
		Locked:    []uuid.UUID{},
		Booked:    []uuid.UUID{},
	}
	for _, sid := range seatIDs {
		if _, ok := bookedSet[sid]; ok {
			av.Booked = append(av.Booked, sid)
			continue
		}
		if _, ok := held[sid]; ok {
			av.Locked = append(av.Locked, sid)
			continue
		}
		av.Available = append(av.Available, sid)
	}

	return av, nil
}

// Extend pushes a live hold's expiry out from now by the given duration,
// defaulting to a full TTL. Lock-store keys that Redis already dropped are
// rebuilt from the durable record, so an extend also heals a hold that lost
// its fast path.
//
// Returns:
//   - error: ErrNotFound, ErrLockExpired, or ErrInvalidState.
func (s *Service) Extend(ctx context.Context, lockID string, extra time.Duration) (*domain.Reservation, error) {
	const op = "seatlock.Service.Extend"

	if extra <= 0 {
		extra = s.cfg.LockTTL
	}

	res, err := s.store.ByLockID(ctx, lockID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	newExpiry := s.now().Add(extra)
	if err := s.store.ExtendExpiry(ctx, res.ID, newExpiry); err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	val := domain.LockValue{
		UserID:   res.UserID,
		LockID:   res.LockID,
		TsUnixMs: res.CreatedAt.UnixMilli(),
	}
	for _, sid := range res.SeatIDs {
		ok, err := s.locks.Extend(ctx, res.JourneyID, sid, extra)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			if err := s.locks.Recreate(ctx, res.JourneyID, sid, val, extra); err != nil {
				return nil, fmt.Errorf("%s:%w", op, err)
			}
		}
	}

	res.LockExpiry = newExpiry
	return res, nil
}

// Confirm turns a live hold into a permanent booking of its seats. The
// durable conditional transition decides the race against expiry; only after
// it commits are the lock keys dropped.
//
// Returns:
//   - error: ErrNotFound, ErrLockExpired (hold lapsed first), ErrInvalidState,
//     or *SeatsConflictError when a seat was confirmed elsewhere.
func (s *Service) Confirm(ctx context.Context, lockID string) (*domain.Reservation, error) {
	const op = "seatlock.Service.Confirm"

	res, err := s.store.ByLockID(ctx, lockID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if err := s.store.ConfirmLocked(ctx, res.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, &SeatsConflictError{BookedSeats: res.SeatIDs})
		}
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if err := s.locks.ReleaseAll(ctx, res.JourneyID, res.SeatIDs); err != nil {
		// Keys self-expire; confirmation already holds in Postgres.
		s.logger.Warn("lock key cleanup after confirm failed",
			"lock_id", lockID, "error", err)
	}

	s.notifier.JourneyChanged(ctx, res.JourneyID)

	res.Status = domain.ReservationConfirmed
	return res, nil
}

// Release voluntarily frees a live hold before its TTL and reports which
// seats went back on sale.
//
// Returns:
//   - error: ErrNotFound or ErrInvalidState (hold not LOCKED anymore).
func (s *Service) Release(ctx context.Context, lockID string) ([]uuid.UUID, error) {
	const op = "seatlock.Service.Release"

	res, err := s.store.ByLockID(ctx, lockID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if err := s.store.MarkReleased(ctx, res.ID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if err := s.locks.ReleaseAll(ctx, res.JourneyID, res.SeatIDs); err != nil {
		s.logger.Warn("lock key cleanup after release failed",
			"lock_id", lockID, "error", err)
	}

	s.notifier.JourneyChanged(ctx, res.JourneyID)

	return res.SeatIDs, nil
}

// CancelReservation cancels a LOCKED or CONFIRMED reservation. Cancelling a
// confirmed one frees its booked seats for resale.
func (s *Service) CancelReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	const op = "seatlock.Service.CancelReservation"

	prior, err := s.store.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	if prior.Status == domain.ReservationLocked {
		if err := s.locks.ReleaseAll(ctx, prior.JourneyID, prior.SeatIDs); err != nil {
			s.logger.Warn("lock key cleanup after cancel failed",
				"reservation_id", id, "error", err)
		}
	}

	s.notifier.JourneyChanged(ctx, prior.JourneyID)

	return prior, nil
}

func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	const op = "seatlock.Service.GetReservation"

	res, err := s.store.ByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	return res, nil
}

// UserLocks lists the user's live holds.
func (s *Service) UserLocks(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error) {
	const op = "seatlock.Service.UserLocks"

	locks, err := s.store.ActiveLocksByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	return locks, nil
}

// ExpireSweep reconciles LOCKED rows whose expiry passed: each is flipped to
// EXPIRED and its lock keys dropped. The conditional flip makes concurrent
// sweeps and racing confirms safe; re-running over the same rows is a no-op.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	const op = "seatlock.Service.ExpireSweep"

	due, err := s.store.ListExpiredLocked(ctx, s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, mapRepoErr(err))
	}

	var swept int
	for _, res := range due {
		did, err := s.store.MarkExpiredIfDue(ctx, res.ID)
		if err != nil {
			s.logger.Error("expiry sweep transition failed",
				"reservation_id", res.ID, "error", err)
			continue
		}
		if !did {
			continue
		}

		if err := s.locks.ReleaseAll(ctx, res.JourneyID, res.SeatIDs); err != nil {
			s.logger.Warn("lock key cleanup during sweep failed",
				"reservation_id", res.ID, "error", err)
		}

		s.notifier.JourneyChanged(ctx, res.JourneyID)
		swept++
	}

	return swept, nil
}

// RunSweeper runs ExpireSweep on a ticker until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.ExpireSweep(ctx)
			if err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired holds swept", "count", n)
			}
		}
	}
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrLockExpired):
		return ErrLockExpired
	case errors.Is(err, repository.ErrInvalidState):
		return ErrInvalidState
	default:
		return err
	}
}
