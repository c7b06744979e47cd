package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SeatLockStore keeps the fast-path seat holds. Each held seat is one key
// whose value identifies the holder; SET NX with a TTL is what makes a grab
// atomic, and key expiry is what guarantees abandoned holds free themselves.
// The durable reservation row, not this store, is the source of truth.
type SeatLockStore struct {
	rdb *redis.Client
}

func NewSeatLockStore(rdb *redis.Client) *SeatLockStore {
	return &SeatLockStore{rdb: rdb}
}

// Acquire attempts to take a single seat. It reports false, without error,
// when the seat is already held by anyone, including the same user.
func (s *SeatLockStore) Acquire(
	ctx context.Context,
	journeyID, seatID uuid.UUID,
	val domain.LockValue,
	ttl time.Duration,
) (bool, error) {
	const op = "redis.SeatLockStore.Acquire"

	b, err := json.Marshal(val)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	ok, err := s.rdb.SetNX(ctx, KeySeatLock(journeyID, seatID), b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	return ok, nil
}

// Get returns the holder of a seat, or ok=false when the seat is free.
func (s *SeatLockStore) Get(
	ctx context.Context,
	journeyID, seatID uuid.UUID,
) (domain.LockValue, bool, error) {
	const op = "redis.SeatLockStore.Get"

	var val domain.LockValue

	raw, err := s.rdb.Get(ctx, KeySeatLock(journeyID, seatID)).Result()
	if err == redis.Nil {
		return val, false, nil
	}
	if err != nil {
		return val, false, fmt.Errorf("%s:%w", op, err)
	}

	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return val, false, fmt.Errorf("%s:%w", op, err)
	}

	return val, true, nil
}

// Release frees a single seat. Releasing a free seat is a no-op.
func (s *SeatLockStore) Release(ctx context.Context, journeyID, seatID uuid.UUID) error {
	const op = "redis.SeatLockStore.Release"

	if err := s.rdb.Del(ctx, KeySeatLock(journeyID, seatID)).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// ReleaseAll frees every given seat of a journey in one round trip.
func (s *SeatLockStore) ReleaseAll(
	ctx context.Context,
	journeyID uuid.UUID,
	seatIDs []uuid.UUID,
) error {
	const op = "redis.SeatLockStore.ReleaseAll"

	if len(seatIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(seatIDs))
	for _, sid := range seatIDs {
		keys = append(keys, KeySeatLock(journeyID, sid))
	}

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Extend resets a held seat's TTL. It reports false when the key no longer
// exists, so callers can recreate it from the durable record.
func (s *SeatLockStore) Extend(
	ctx context.Context,
	journeyID, seatID uuid.UUID,
	ttl time.Duration,
) (bool, error) {
	const op = "redis.SeatLockStore.Extend"

	ok, err := s.rdb.Expire(ctx, KeySeatLock(journeyID, seatID), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	return ok, nil
}

// Recreate writes a lock key unconditionally. Used to restore entries that
// Redis dropped while the durable reservation is still live.
func (s *SeatLockStore) Recreate(
	ctx context.Context,
	journeyID, seatID uuid.UUID,
	val domain.LockValue,
	ttl time.Duration,
) error {
	const op = "redis.SeatLockStore.Recreate"

	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.rdb.Set(ctx, KeySeatLock(journeyID, seatID), b, ttl).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// HeldSeats returns, among the given seats, the ones currently locked and by
// whom. One MGET covers the whole journey's seat map.
func (s *SeatLockStore) HeldSeats(
	ctx context.Context,
	journeyID uuid.UUID,
	seatIDs []uuid.UUID,
) (map[uuid.UUID]domain.LockValue, error) {
	const op = "redis.SeatLockStore.HeldSeats"

	if len(seatIDs) == 0 {
		return map[uuid.UUID]domain.LockValue{}, nil
	}

	keys := make([]string, 0, len(seatIDs))
	for _, sid := range seatIDs {
		keys = append(keys, KeySeatLock(journeyID, sid))
	}

	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	held := make(map[uuid.UUID]domain.LockValue, len(seatIDs))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var val domain.LockValue
		if err := json.Unmarshal([]byte(str), &val); err != nil {
			continue
		}
		held[seatIDs[i]] = val
	}

	return held, nil
}
