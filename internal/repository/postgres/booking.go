package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/kirinyoku/railgo/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
}

const bookingColumns = `id, user_id, journey_id, reservation_id, lock_id,
	payment_id, payment_status, total_amount_cents, status, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.UserID, &b.JourneyID, &b.ReservationID, &b.LockID,
		&b.PaymentID, &b.PaymentStatus, &b.TotalAmountCents,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create persists a new booking in PAYMENT_PENDING state.
//
// Returns:
//   - error: repository.ErrConflict if a booking already exists for the
//     reservation or the payment id.
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	_, err := r.pool.Exec(ctx,
		`INSERT INTO bookings
	     	(id, user_id, journey_id, reservation_id, lock_id, payment_id,
	      	 payment_status, total_amount_cents, status)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.UserID, b.JourneyID, b.ReservationID, b.LockID, b.PaymentID,
		b.PaymentStatus, b.TotalAmountCents, b.Status,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// ByID retrieves a booking by its primary key.
//
// Returns:
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) ByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.ByID"

	b, err := scanBooking(r.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// ByPaymentID retrieves the booking tied to an upstream payment id.
func (r *BookingRepo) ByPaymentID(ctx context.Context, paymentID string) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.ByPaymentID"

	b, err := scanBooking(r.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE payment_id = $1`,
		paymentID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// Transition moves a booking from one of the allowed source states to the
// target state. The conditional UPDATE makes concurrent confirms and cancels
// race-safe: exactly one caller observes the transition.
//
// Returns:
//   - error: repository.ErrNotFound if the booking does not exist.
//   - error: repository.ErrInvalidState if the booking is not in an allowed
//     source state.
func (r *BookingRepo) Transition(
	ctx context.Context,
	id uuid.UUID,
	from []domain.BookingStatus,
	to domain.BookingStatus,
) error {
	const op = "postgres.BookingRepo.Transition"

	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET status = $3, updated_at = now()
      	 WHERE id = $1 AND status = ANY($2)`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, id,
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

// SetPaymentStatus records the latest state reported by the payment service.
func (r *BookingRepo) SetPaymentStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.PaymentStatus,
) error {
	const op = "postgres.BookingRepo.SetPaymentStatus"

	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET payment_status = $2, updated_at = now()
      	 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ListByUser returns a page of the user's bookings, newest first, with the
// total count for pagination. An empty status keeps all states.
func (r *BookingRepo) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	status domain.BookingStatus,
	limit, offset int,
) ([]domain.Booking, int, error) {
	const op = "postgres.BookingRepo.ListByUser"

	query := `SELECT ` + bookingColumns + `, count(*) OVER()
       	 FROM bookings
      	 WHERE user_id = $1`
	args := []any{userID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var (
		out   []domain.Booking
		total int
	)
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.JourneyID, &b.ReservationID, &b.LockID,
			&b.PaymentID, &b.PaymentStatus, &b.TotalAmountCents,
			&b.Status, &b.CreatedAt, &b.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, total, nil
}
