package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/kirinyoku/railgo/internal/repository"
)

type ReservationRepo struct {
	pool *pgxpool.Pool
}

const reservationColumns = `id, lock_id, user_id, journey_id, seat_ids,
	from_station_id, to_station_id, total_fare_cents, lock_expiry, status, created_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(
		&res.ID, &res.LockID, &res.UserID, &res.JourneyID, &res.SeatIDs,
		&res.FromStationID, &res.ToStationID, &res.TotalFareCents,
		&res.LockExpiry, &res.Status, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Create persists a freshly acquired LOCKED reservation.
//
// Returns:
//   - error: repository.ErrConflict if the lock id already exists.
func (r *ReservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	const op = "postgres.ReservationRepo.Create"

	_, err := r.pool.Exec(ctx,
		`INSERT INTO reservations
	     	(id, lock_id, user_id, journey_id, seat_ids, from_station_id,
	      	 to_station_id, total_fare_cents, lock_expiry, status)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.ID, res.LockID, res.UserID, res.JourneyID, res.SeatIDs,
		res.FromStationID, res.ToStationID, res.TotalFareCents,
		res.LockExpiry, res.Status,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ByLockID retrieves a reservation by its lock id.
//
// Returns:
//   - error: repository.ErrNotFound if no reservation carries the lock id.
func (r *ReservationRepo) ByLockID(ctx context.Context, lockID string) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.ByLockID"

	res, err := scanReservation(r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE lock_id = $1`,
		lockID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

// ByID retrieves a reservation by its primary key.
func (r *ReservationRepo) ByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.ByID"

	res, err := scanReservation(r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

// ConfirmLocked transitions a LOCKED, unexpired reservation to CONFIRMED and
// records its seats in booked_seats, whose (journey_id, seat_id) uniqueness is
// the lock-store-independent double-sale guard. The conditional UPDATE is
// what makes Confirm safe against a concurrent expiry sweep.
//
// Returns:
//   - error: repository.ErrNotFound if the reservation does not exist.
//   - error: repository.ErrLockExpired if lock_expiry already passed; the row
//     is flipped to EXPIRED before returning.
//   - error: repository.ErrInvalidState if the reservation is not LOCKED.
//   - error: repository.ErrConflict if a seat was confirmed by someone else.
func (r *ReservationRepo) ConfirmLocked(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.ReservationRepo.ConfirmLocked"

	err := runTx(ctx, r.pool, func(ctx context.Context, tx DB) error {
		return confirmLockedTx(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func confirmLockedTx(ctx context.Context, db DB, id uuid.UUID) error {
	var journeyID uuid.UUID
	var seatIDs []uuid.UUID

	err := db.QueryRow(ctx,
		`UPDATE reservations
        	SET status = 'CONFIRMED'
      	 WHERE id = $1 AND status = 'LOCKED' AND lock_expiry > now()
      	 RETURNING journey_id, seat_ids`,
		id,
	).Scan(&journeyID, &seatIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return diagnoseConfirmFailure(ctx, db, id)
		}
		return translateDBErr(err)
	}

	batch := &pgx.Batch{}
	for _, sid := range seatIDs {
		batch.Queue(
			`INSERT INTO booked_seats(journey_id, seat_id, reservation_id)
         	 VALUES ($1, $2, $3)`,
			journeyID, sid, id,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return translateDBErr(err)
	}

	return nil
}

// diagnoseConfirmFailure explains why the conditional confirm matched no row.
func diagnoseConfirmFailure(ctx context.Context, db DB, id uuid.UUID) error {
	var status domain.ReservationStatus
	var expiry time.Time

	err := db.QueryRow(ctx,
		`SELECT status, lock_expiry FROM reservations WHERE id = $1`,
		id,
	).Scan(&status, &expiry)
	if err != nil {
		return translateDBErr(err)
	}

	if status == domain.ReservationLocked {
		// Expired but not yet swept; fail closed and mark the row.
		_, _ = db.Exec(ctx,
			`UPDATE reservations SET status = 'EXPIRED'
          	 WHERE id = $1 AND status = 'LOCKED' AND lock_expiry <= now()`,
			id,
		)
		return repository.ErrLockExpired
	}

	return repository.ErrInvalidState
}

// MarkReleased transitions a LOCKED reservation to RELEASED.
//
// Returns:
//   - error: repository.ErrNotFound if the reservation does not exist.
//   - error: repository.ErrInvalidState if it is not LOCKED.
func (r *ReservationRepo) MarkReleased(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.ReservationRepo.MarkReleased"

	tag, err := r.pool.Exec(ctx,
		`UPDATE reservations SET status = 'RELEASED'
      	 WHERE id = $1 AND status = 'LOCKED'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM reservations WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		if !exists {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrInvalidState)
	}

	return nil
}

// MarkExpiredIfDue flips a LOCKED reservation whose expiry passed to EXPIRED.
// It reports whether this call performed the transition, which makes the
// expiry sweep idempotent per row and safe to run concurrently with itself.
func (r *ReservationRepo) MarkExpiredIfDue(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "postgres.ReservationRepo.MarkExpiredIfDue"

	tag, err := r.pool.Exec(ctx,
		`UPDATE reservations SET status = 'EXPIRED'
      	 WHERE id = $1 AND status = 'LOCKED' AND lock_expiry <= now()`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected() > 0, nil
}

// Cancel transitions a LOCKED or CONFIRMED reservation to CANCELLED. For a
// CONFIRMED reservation the booked_seats rows are removed so the seats sell
// again. The reservation as it stood before cancellation is returned so the
// caller can clean up lock-store entries for a previously LOCKED hold.
//
// Returns:
//   - error: repository.ErrNotFound if the reservation does not exist.
//   - error: repository.ErrInvalidState if it is already terminal.
func (r *ReservationRepo) Cancel(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.Cancel"

	var prior *domain.Reservation

	err := runTx(ctx, r.pool, func(ctx context.Context, db DB) error {
		res, err := scanReservation(db.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`,
			id,
		))
		if err != nil {
			return translateDBErr(err)
		}

		if res.Status != domain.ReservationLocked && res.Status != domain.ReservationConfirmed {
			return repository.ErrInvalidState
		}

		if res.Status == domain.ReservationConfirmed {
			if _, err := db.Exec(ctx,
				`DELETE FROM booked_seats WHERE reservation_id = $1`, id,
			); err != nil {
				return translateDBErr(err)
			}
		}

		if _, err := db.Exec(ctx,
			`UPDATE reservations SET status = 'CANCELLED' WHERE id = $1`, id,
		); err != nil {
			return translateDBErr(err)
		}

		prior = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return prior, nil
}

// ExtendExpiry pushes the expiry of a LOCKED, unexpired reservation forward.
//
// Returns:
//   - error: repository.ErrNotFound if the reservation does not exist.
//   - error: repository.ErrLockExpired if the hold already lapsed.
//   - error: repository.ErrInvalidState if it is not LOCKED.
func (r *ReservationRepo) ExtendExpiry(ctx context.Context, id uuid.UUID, newExpiry time.Time) error {
	const op = "postgres.ReservationRepo.ExtendExpiry"

	tag, err := r.pool.Exec(ctx,
		`UPDATE reservations SET lock_expiry = $2
      	 WHERE id = $1 AND status = 'LOCKED' AND lock_expiry > now()`,
		id, newExpiry,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		var status domain.ReservationStatus
		if err := r.pool.QueryRow(ctx,
			`SELECT status FROM reservations WHERE id = $1`, id,
		).Scan(&status); err != nil {
			return fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		if status == domain.ReservationLocked {
			return fmt.Errorf("%s:%w", op, repository.ErrLockExpired)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrInvalidState)
	}

	return nil
}

// ListExpiredLocked returns LOCKED reservations whose expiry has passed, for
// the sweep to reconcile.
func (r *ReservationRepo) ListExpiredLocked(ctx context.Context, limit int) ([]domain.Reservation, error) {
	const op = "postgres.ReservationRepo.ListExpiredLocked"

	rows, err := r.pool.Query(ctx,
		`SELECT `+reservationColumns+`
       	 FROM reservations
      	 WHERE status = 'LOCKED' AND lock_expiry <= now()
      	 ORDER BY lock_expiry
      	 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// ActiveLocksByUser lists a user's live holds, newest first.
func (r *ReservationRepo) ActiveLocksByUser(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error) {
	const op = "postgres.ReservationRepo.ActiveLocksByUser"

	rows, err := r.pool.Query(ctx,
		`SELECT `+reservationColumns+`
       	 FROM reservations
      	 WHERE user_id = $1 AND status = 'LOCKED' AND lock_expiry > now()
      	 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// BookedSeats returns the seats of a journey held by confirmed reservations,
// optionally narrowed to a requested subset.
func (r *ReservationRepo) BookedSeats(
	ctx context.Context,
	journeyID uuid.UUID,
	seatIDs []uuid.UUID,
) ([]uuid.UUID, error) {
	const op = "postgres.ReservationRepo.BookedSeats"

	query := `SELECT seat_id FROM booked_seats WHERE journey_id = $1`
	args := []any{journeyID}
	if len(seatIDs) > 0 {
		query += ` AND seat_id = ANY($2)`
		args = append(args, seatIDs)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var sid uuid.UUID
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}
