package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/railgo/internal/domain"
)

// JourneyRepo is a read-only view over the journey catalog. Journey and seat
// CRUD belongs to the schedule service; this core only validates seats and
// freezes fares.
type JourneyRepo struct {
	pool *pgxpool.Pool
}

// Get retrieves a journey by its ID.
//
// Returns:
//   - *domain.Journey: the journey when found.
//   - error: repository.ErrNotFound if the journey is not found.
func (r *JourneyRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Journey, error) {
	const op = "postgres.JourneyRepo.Get"

	var j domain.Journey
	err := r.pool.QueryRow(ctx,
		`SELECT id, train_name, train_number, departure_time, arrival_time
       	 FROM journeys WHERE id = $1`,
		id,
	).Scan(&j.ID, &j.TrainName, &j.TrainNumber, &j.DepartureTime, &j.ArrivalTime)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &j, nil
}

// Seats lists every seat of the journey's train with its frozen base fare.
func (r *JourneyRepo) Seats(ctx context.Context, journeyID uuid.UUID) ([]domain.Seat, error) {
	const op = "postgres.JourneyRepo.Seats"

	rows, err := r.pool.Query(ctx,
		`SELECT id, journey_id, coach_code, seat_number, base_fare_cents
       	 FROM journey_seats
      	 WHERE journey_id = $1
      	 ORDER BY coach_code, seat_number`,
		journeyID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.JourneyID, &s.CoachCode, &s.SeatNumber, &s.BaseFareCents); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return seats, nil
}

// SeatsByIDs retrieves the requested seats of a journey. Callers compare the
// returned length against the request to detect seats that do not exist or
// belong to a different train.
func (r *JourneyRepo) SeatsByIDs(
	ctx context.Context,
	journeyID uuid.UUID,
	seatIDs []uuid.UUID,
) ([]domain.Seat, error) {
	const op = "postgres.JourneyRepo.SeatsByIDs"

	rows, err := r.pool.Query(ctx,
		`SELECT id, journey_id, coach_code, seat_number, base_fare_cents
       	 FROM journey_seats
      	 WHERE journey_id = $1 AND id = ANY($2)`,
		journeyID, seatIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.JourneyID, &s.CoachCode, &s.SeatNumber, &s.BaseFareCents); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		seats = append(seats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return seats, nil
}
