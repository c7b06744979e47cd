package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLockValue(t *testing.T) (domain.LockValue, []byte) {
	t.Helper()
	val := domain.LockValue{
		UserID:   uuid.MustParse("5f0c2f39-7a1e-4f3b-9a6a-0d1f7a2b3c4d"),
		LockID:   "lock_1756700000000_5f0c2f39",
		TsUnixMs: 1756700000000,
	}
	raw, err := json.Marshal(val)
	require.NoError(t, err)
	return val, raw
}

func TestSeatLockStore_AcquireWinsFreeSeat(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID, seatID := uuid.New(), uuid.New()
	val, raw := testLockValue(t)

	mock.ExpectSetNX(KeySeatLock(journeyID, seatID), raw, 10*time.Minute).SetVal(true)

	ok, err := store.Acquire(context.Background(), journeyID, seatID, val, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_AcquireLosesHeldSeat(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID, seatID := uuid.New(), uuid.New()
	val, raw := testLockValue(t)

	mock.ExpectSetNX(KeySeatLock(journeyID, seatID), raw, 10*time.Minute).SetVal(false)

	ok, err := store.Acquire(context.Background(), journeyID, seatID, val, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_GetDecodesHolder(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID, seatID := uuid.New(), uuid.New()
	want, raw := testLockValue(t)

	mock.ExpectGet(KeySeatLock(journeyID, seatID)).SetVal(string(raw))

	got, ok, err := store.Get(context.Background(), journeyID, seatID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_GetFreeSeat(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID, seatID := uuid.New(), uuid.New()

	mock.ExpectGet(KeySeatLock(journeyID, seatID)).RedisNil()

	_, ok, err := store.Get(context.Background(), journeyID, seatID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_ReleaseAllDeletesInOneCall(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID := uuid.New()
	seatIDs := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectDel(
		KeySeatLock(journeyID, seatIDs[0]),
		KeySeatLock(journeyID, seatIDs[1]),
	).SetVal(2)

	err := store.ReleaseAll(context.Background(), journeyID, seatIDs)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_ReleaseAllEmptyIsNoop(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	err := store.ReleaseAll(context.Background(), uuid.New(), nil)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_ExtendReportsLostKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID, seatID := uuid.New(), uuid.New()

	mock.ExpectExpire(KeySeatLock(journeyID, seatID), 10*time.Minute).SetVal(false)

	ok, err := store.Extend(context.Background(), journeyID, seatID, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatLockStore_HeldSeatsSkipsFreeAndGarbage(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewSeatLockStore(rdb)

	journeyID := uuid.New()
	seatIDs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	want, raw := testLockValue(t)

	mock.ExpectMGet(
		KeySeatLock(journeyID, seatIDs[0]),
		KeySeatLock(journeyID, seatIDs[1]),
		KeySeatLock(journeyID, seatIDs[2]),
	).SetVal([]interface{}{string(raw), nil, "not json"})

	held, err := store.HeldSeats(context.Background(), journeyID, seatIDs)
	require.NoError(t, err)

	require.Len(t, held, 1)
	assert.Equal(t, want, held[seatIDs[0]])

	require.NoError(t, mock.ExpectationsWereMet())
}
