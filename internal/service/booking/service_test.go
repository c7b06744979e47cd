package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/railgo/internal/client"
	"github.com/kirinyoku/railgo/internal/domain"
	"github.com/kirinyoku/railgo/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*domain.Booking
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[uuid.UUID]*domain.Booking)}
}

func (f *fakeStore) Create(_ context.Context, b *domain.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *b
	f.byID[b.ID] = &cp
	return nil
}

func (f *fakeStore) ByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ByPaymentID(_ context.Context, paymentID string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.byID {
		if b.PaymentID == paymentID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) Transition(_ context.Context, id uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, s := range from {
		if b.Status == s {
			b.Status = to
			return nil
		}
	}
	return repository.ErrInvalidState
}

func (f *fakeStore) SetPaymentStatus(_ context.Context, id uuid.UUID, status domain.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.PaymentStatus = status
	return nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID uuid.UUID, status domain.BookingStatus, limit, offset int) ([]domain.Booking, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Booking
	for _, b := range f.byID {
		if b.UserID != userID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, *b)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

type fakeSeats struct {
	mu sync.Mutex

	acquireErr error
	confirmErr error
	cancelErr  error

	reservationID uuid.UUID
	lockID        string
	fareCents     int64

	released  []string
	confirmed []string
	cancelled []uuid.UUID
}

func newFakeSeats() *fakeSeats {
	return &fakeSeats{
		reservationID: uuid.New(),
		lockID:        "lock_1756700000000_ab12cd34",
		fareCents:     100_000,
	}
}

func (f *fakeSeats) AcquireSeats(_ context.Context, _ client.AcquireSeatsRequest) (*client.AcquireSeatsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &client.AcquireSeatsResult{
		LockID:         f.lockID,
		ReservationID:  f.reservationID,
		ExpiresAt:      time.Now().Add(10 * time.Minute),
		TotalFareCents: f.fareCents,
	}, nil
}

func (f *fakeSeats) Release(_ context.Context, lockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, lockID)
	return nil
}

func (f *fakeSeats) ConfirmReservation(_ context.Context, lockID string) (*client.ConfirmReservationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.confirmed = append(f.confirmed, lockID)
	return &client.ConfirmReservationResult{ReservationID: f.reservationID}, nil
}

func (f *fakeSeats) CancelReservation(_ context.Context, reservationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, reservationID)
	return nil
}

type fakePayments struct {
	mu sync.Mutex

	initiateErr error
	confirmErr  error
	refundErr   error

	initiated []client.InitiatePaymentRequest
	confirmed []string
	refunded  map[string]int64
	voided    []string
}

func newFakePayments() *fakePayments {
	return &fakePayments{refunded: make(map[string]int64)}
}

func (f *fakePayments) Initiate(_ context.Context, req client.InitiatePaymentRequest) (*client.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	f.initiated = append(f.initiated, req)
	return &client.PaymentResult{
		PaymentID: "pay_" + uuid.NewString()[:8],
		Status:    domain.PaymentPending,
	}, nil
}

func (f *fakePayments) Confirm(_ context.Context, paymentID, _ string) (*client.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.confirmed = append(f.confirmed, paymentID)
	return &client.PaymentResult{PaymentID: paymentID, Status: domain.PaymentCompleted}, nil
}

func (f *fakePayments) Refund(_ context.Context, paymentID string, amountCents int64) (*client.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunded[paymentID] = amountCents
	return &client.PaymentResult{PaymentID: paymentID, Status: domain.PaymentCancelled}, nil
}

func (f *fakePayments) Cancel(_ context.Context, paymentID string) (*client.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voided = append(f.voided, paymentID)
	return &client.PaymentResult{PaymentID: paymentID, Status: domain.PaymentCancelled}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	confirmed []domain.BookingConfirmedEvent
	cancelled []domain.BookingCancelledEvent
}

func (f *fakeBus) PublishBookingConfirmed(_ context.Context, ev domain.BookingConfirmedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, ev)
	return nil
}

func (f *fakeBus) PublishBookingCancelled(_ context.Context, ev domain.BookingCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ev)
	return nil
}

type fakeCatalog struct {
	journey domain.Journey
	seats   []domain.Seat
}

func (f *fakeCatalog) Get(_ context.Context, id uuid.UUID) (*domain.Journey, error) {
	if id != f.journey.ID {
		return nil, repository.ErrNotFound
	}
	cp := f.journey
	return &cp, nil
}

func (f *fakeCatalog) SeatsByIDs(_ context.Context, _ uuid.UUID, seatIDs []uuid.UUID) ([]domain.Seat, error) {
	var out []domain.Seat
	for _, seat := range f.seats {
		for _, sid := range seatIDs {
			if seat.ID == sid {
				out = append(out, seat)
			}
		}
	}
	return out, nil
}

type fakeReservations struct {
	res *domain.Reservation
}

func (f *fakeReservations) ByID(_ context.Context, id uuid.UUID) (*domain.Reservation, error) {
	if f.res == nil || f.res.ID != id {
		return nil, repository.ErrNotFound
	}
	cp := *f.res
	return &cp, nil
}

// --- fixture ---

type fixture struct {
	svc      *Service
	store    *fakeStore
	seats    *fakeSeats
	payments *fakePayments
	bus      *fakeBus
	user     uuid.UUID
	journey  uuid.UUID
	seatIDs  []uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	journeyID := uuid.New()
	seatIDs := []uuid.UUID{uuid.New(), uuid.New()}

	store := newFakeStore()
	seats := newFakeSeats()
	payments := newFakePayments()
	bus := &fakeBus{}
	catalog := &fakeCatalog{
		journey: domain.Journey{ID: journeyID, TrainName: "Night Express", TrainNumber: "NE-7"},
		seats: []domain.Seat{
			{ID: seatIDs[0], JourneyID: journeyID, CoachCode: "S1", SeatNumber: "12"},
			{ID: seatIDs[1], JourneyID: journeyID, CoachCode: "S1", SeatNumber: "13"},
		},
	}
	reservations := &fakeReservations{res: &domain.Reservation{
		ID:        seats.reservationID,
		LockID:    seats.lockID,
		JourneyID: journeyID,
		SeatIDs:   seatIDs,
		Status:    domain.ReservationLocked,
	}}

	svc := New(store, seats, payments, bus, catalog, reservations,
		slog.New(slog.DiscardHandler))

	return &fixture{
		svc:      svc,
		store:    store,
		seats:    seats,
		payments: payments,
		bus:      bus,
		user:     uuid.New(),
		journey:  journeyID,
		seatIDs:  seatIDs,
	}
}

func (f *fixture) create(t *testing.T) *domain.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        f.user,
		JourneyID:     f.journey,
		SeatIDs:       f.seatIDs,
		FromStationID: uuid.New(),
		ToStationID:   uuid.New(),
	})
	require.NoError(t, err)
	return b
}

// --- tests ---

func TestCreate_HappyPath(t *testing.T) {
	f := newFixture(t)

	b := f.create(t)

	assert.Equal(t, domain.BookingPaymentPending, b.Status)
	assert.Equal(t, f.seats.reservationID, b.ReservationID)
	assert.Equal(t, f.seats.lockID, b.LockID)
	assert.Equal(t, int64(100_000), b.TotalAmountCents)
	assert.NotEmpty(t, b.PaymentID)

	// Payment was initiated for the frozen fare, not a client-sent amount,
	// and the request names the reservation so a later PaymentFailed event
	// can be traced back to the hold.
	require.Len(t, f.payments.initiated, 1)
	assert.Equal(t, int64(100_000), f.payments.initiated[0].AmountCents)
	assert.Equal(t, b.ReservationID, f.payments.initiated[0].ReservationID)
	assert.Equal(t, b.ID, f.payments.initiated[0].BookingID)

	got, err := f.store.ByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPaymentPending, got.Status)
}

func TestCreate_SeatConflictPropagates(t *testing.T) {
	f := newFixture(t)
	f.seats.acquireErr = &client.SeatsConflictError{LockedSeats: f.seatIDs[:1]}

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:    f.user,
		JourneyID: f.journey,
		SeatIDs:   f.seatIDs,
	})

	var conflict *client.SeatsConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, f.seatIDs[:1], conflict.LockedSeats)

	// No payment was attempted and nothing persisted.
	assert.Empty(t, f.payments.initiated)
	assert.Empty(t, f.store.byID)
}

func TestCreate_PaymentInitiationFailureReleasesSeats(t *testing.T) {
	f := newFixture(t)
	f.payments.initiateErr = client.ErrUnavailable

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:    f.user,
		JourneyID: f.journey,
		SeatIDs:   f.seatIDs,
	})

	assert.ErrorIs(t, err, ErrUpstream)
	// The hold was compensated.
	assert.Equal(t, []string{f.seats.lockID}, f.seats.released)
	assert.Empty(t, f.store.byID)
}

func TestCreate_PaymentRejectionIsNotRetriedAndCompensates(t *testing.T) {
	f := newFixture(t)
	f.payments.initiateErr = client.ErrBadRequest

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:    f.user,
		JourneyID: f.journey,
		SeatIDs:   f.seatIDs,
	})

	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, []string{f.seats.lockID}, f.seats.released)
}

func TestCreate_PersistFailureKeepsSeatsHeld(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:    f.user,
		JourneyID: f.journey,
		SeatIDs:   f.seatIDs,
	})

	require.Error(t, err)
	// The payment is in flight; the hold must stay for the async path.
	assert.Empty(t, f.seats.released)
}

func TestConfirm_HappyPathPublishesEnrichedEvent(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	confirmed, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	require.NoError(t, err)

	assert.Equal(t, domain.BookingConfirmed, confirmed.Status)
	assert.Equal(t, domain.PaymentCompleted, confirmed.PaymentStatus)
	assert.Equal(t, []string{b.PaymentID}, f.payments.confirmed)
	assert.Equal(t, []string{b.LockID}, f.seats.confirmed)

	require.Len(t, f.bus.confirmed, 1)
	ev := f.bus.confirmed[0]
	assert.Equal(t, b.ID, ev.BookingID)
	assert.Equal(t, int64(100_000), ev.TotalAmountCents)
	assert.Len(t, ev.Seats, 2)
	assert.Equal(t, "NE-7", ev.Journey.TrainNumber)
}

func TestConfirm_TwiceRejected(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	_, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), b.ID, "txn_1")
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestConfirm_CancelledRejected(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	_, err := f.svc.Cancel(context.Background(), b.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), b.ID, "txn_1")
	assert.ErrorIs(t, err, ErrCannotConfirmCancelled)
}

func TestConfirm_ExpiredHoldRefundsAndCancels(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	f.seats.confirmErr = client.ErrExpired

	_, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	assert.ErrorIs(t, err, ErrReservationExpired)

	// Captured money went back and the booking closed.
	assert.Equal(t, b.TotalAmountCents, f.payments.refunded[b.PaymentID])
	got, err := f.store.ByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)

	require.Len(t, f.bus.cancelled, 1)
	assert.Equal(t, b.TotalAmountCents, f.bus.cancelled[0].RefundAmountCents)
}

func TestConfirm_UnknownBooking(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirm(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_AfterConfirmRefundsFullAmount(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	_, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), b.ID, "")
	require.NoError(t, err)

	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	assert.Equal(t, b.TotalAmountCents, f.payments.refunded[b.PaymentID])
	assert.Contains(t, f.seats.cancelled, b.ReservationID)

	require.Len(t, f.bus.cancelled, 1)
	assert.Equal(t, b.TotalAmountCents, f.bus.cancelled[0].RefundAmountCents)
}

func TestCancel_PendingVoidsPaymentWithoutRefund(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	cancelled, err := f.svc.Cancel(context.Background(), b.ID, "")
	require.NoError(t, err)

	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	assert.Empty(t, f.payments.refunded)
	assert.Equal(t, []string{b.PaymentID}, f.payments.voided)

	require.Len(t, f.bus.cancelled, 1)
	assert.Zero(t, f.bus.cancelled[0].RefundAmountCents)
}

func TestCancel_TwiceRejected(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	_, err := f.svc.Cancel(context.Background(), b.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), b.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestCancel_RefundFailureKeepsBookingAlive(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	_, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	require.NoError(t, err)

	f.payments.refundErr = client.ErrUnavailable

	_, err = f.svc.Cancel(context.Background(), b.ID, "")
	assert.ErrorIs(t, err, ErrUpstream)

	got, err := f.store.ByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
}

func TestHandlePaymentFailed_Compensates(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	ev := domain.PaymentFailedEvent{
		PaymentID:     b.PaymentID,
		ReservationID: b.ReservationID,
		BookingID:     b.ID,
		Reason:        "card declined",
	}
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), ev))

	got, err := f.store.ByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
	assert.Contains(t, f.seats.cancelled, b.ReservationID)

	require.Len(t, f.bus.cancelled, 1)
	assert.Zero(t, f.bus.cancelled[0].RefundAmountCents)
}

func TestHandlePaymentFailed_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	ev := domain.PaymentFailedEvent{
		PaymentID:     b.PaymentID,
		ReservationID: b.ReservationID,
		BookingID:     b.ID,
		Reason:        "card declined",
	}
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), ev))
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), ev))

	// Only the first delivery did work.
	assert.Len(t, f.seats.cancelled, 1)
	assert.Len(t, f.bus.cancelled, 1)
}

func TestHandlePaymentFailed_LooksUpByPaymentID(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)

	ev := domain.PaymentFailedEvent{
		PaymentID: b.PaymentID,
		Reason:    "card declined",
	}
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), ev))

	got, err := f.store.ByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
}

func TestHandlePaymentFailed_ConfirmedBookingUntouched(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	_, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	require.NoError(t, err)

	ev := domain.PaymentFailedEvent{
		PaymentID: b.PaymentID,
		BookingID: b.ID,
		Reason:    "late failure",
	}
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), ev))

	got, err := f.store.ByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
	assert.Empty(t, f.seats.cancelled)
}

func TestHandlePaymentFailed_OrphanReservationReleased(t *testing.T) {
	f := newFixture(t)
	orphanReservation := uuid.New()

	ev := domain.PaymentFailedEvent{
		PaymentID:     "pay_unknown",
		ReservationID: orphanReservation,
		Reason:        "card declined",
	}
	require.NoError(t, f.svc.HandlePaymentFailed(context.Background(), ev))

	assert.Equal(t, []uuid.UUID{orphanReservation}, f.seats.cancelled)
	assert.Empty(t, f.bus.cancelled)
}

func TestListByUser_FiltersAndCounts(t *testing.T) {
	f := newFixture(t)
	b := f.create(t)
	_, err := f.svc.Confirm(context.Background(), b.ID, "txn_1")
	require.NoError(t, err)

	items, total, err := f.svc.ListByUser(
		context.Background(), f.user, domain.BookingConfirmed, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)

	items, total, err = f.svc.ListByUser(
		context.Background(), f.user, domain.BookingCancelled, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}
