package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
)

// --- fakes shared by the service tests ---

type fakeReservationRepo struct {
	mu      sync.Mutex
	created []*domain.Reservation
	failed  map[string]string

	createFn          func(ctx context.Context, r *domain.Reservation) error
	getByIDFn         func(ctx context.Context, id string) (*domain.Reservation, error)
	getByPaymentRefFn func(ctx context.Context, ref string) (*domain.Reservation, error)
	cancelPendingFn   func(ctx context.Context, id string) error
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{failed: make(map[string]string)}
}

func (f *fakeReservationRepo) Create(ctx context.Context, r *domain.Reservation) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, r)
	return nil
}

func (f *fakeReservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.created {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrReservationNotFound
}

func (f *fakeReservationRepo) GetByPaymentRef(ctx context.Context, ref string) (*domain.Reservation, error) {
	if f.getByPaymentRefFn != nil {
		return f.getByPaymentRefFn(ctx, ref)
	}
	return nil, nil
}

func (f *fakeReservationRepo) ListConfirmedForTopic(ctx context.Context, facilityID, date string) ([]*domain.Reservation, error) {
	return nil, nil
}

func (f *fakeReservationRepo) ListExpiredPending(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	return nil, nil
}

func (f *fakeReservationRepo) ListPendingDeadlines(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	return nil, nil
}

func (f *fakeReservationRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (f *fakeReservationRepo) MarkFailed(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

func (f *fakeReservationRepo) CancelPending(ctx context.Context, id string) error {
	if f.cancelPendingFn != nil {
		return f.cancelPendingFn(ctx, id)
	}
	return nil
}

type fakeSlotStore struct {
	tryCommitFn func(ctx context.Context, c *domain.CommitCandidate) (*domain.CommitResult, error)
}

func (f *fakeSlotStore) TryCommit(ctx context.Context, c *domain.CommitCandidate) (*domain.CommitResult, error) {
	return f.tryCommitFn(ctx, c)
}

type fakeFacilityRepo struct {
	facility *domain.Facility
}

func (f *fakeFacilityRepo) GetByID(ctx context.Context, id string) (*domain.Facility, error) {
	if f.facility == nil || f.facility.ID != id {
		return nil, domain.ErrFacilityNotFound
	}
	return f.facility, nil
}

func (f *fakeFacilityRepo) List(ctx context.Context) ([]*domain.Facility, error) {
	if f.facility == nil {
		return nil, nil
	}
	return []*domain.Facility{f.facility}, nil
}

type fakeBlockRepo struct{}

func (f *fakeBlockRepo) CreateBlockedSlot(ctx context.Context, b *domain.BlockedSlot) error { return nil }
func (f *fakeBlockRepo) DeleteBlockedSlot(ctx context.Context, id string) (*domain.BlockedSlot, error) {
	return nil, domain.ErrBlockNotFound
}
func (f *fakeBlockRepo) ListBlockedSlots(ctx context.Context, facilityID, date string) ([]*domain.BlockedSlot, error) {
	return nil, nil
}
func (f *fakeBlockRepo) CreateBlockedDate(ctx context.Context, b *domain.BlockedDate) error { return nil }
func (f *fakeBlockRepo) DeleteBlockedDate(ctx context.Context, date string) (*domain.BlockedDate, error) {
	return nil, domain.ErrBlockNotFound
}
func (f *fakeBlockRepo) IsDateBlocked(ctx context.Context, date string) (bool, error) {
	return false, nil
}

type fakePaymentContextRepo struct {
	mu      sync.Mutex
	records map[string]*repository.PaymentContext
	deleted []string
}

func newFakePaymentContextRepo() *fakePaymentContextRepo {
	return &fakePaymentContextRepo{records: make(map[string]*repository.PaymentContext)}
}

func (f *fakePaymentContextRepo) Save(ctx context.Context, orderID string, pc *repository.PaymentContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[orderID] = pc
	return nil
}

func (f *fakePaymentContextRepo) Get(ctx context.Context, orderID string) (*repository.PaymentContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[orderID], nil
}

func (f *fakePaymentContextRepo) Delete(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, orderID)
	f.deleted = append(f.deleted, orderID)
	return nil
}

type fakeChangePublisher struct {
	mu      sync.Mutex
	changes []*domain.StoreChange
}

func (f *fakeChangePublisher) Publish(ctx context.Context, change *domain.StoreChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change)
	return nil
}

func (f *fakeChangePublisher) published() []*domain.StoreChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.StoreChange, len(f.changes))
	copy(out, f.changes)
	return out
}

type fakeOpsPublisher struct {
	mu     sync.Mutex
	events []*OpsEvent
}

func (f *fakeOpsPublisher) Publish(ctx context.Context, event *OpsEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeReconciliationRepo struct {
	mu      sync.Mutex
	entries []*domain.ReconciliationEntry
}

func (f *fakeReconciliationRepo) Record(ctx context.Context, entry *domain.ReconciliationEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ExternalPaymentRef == entry.ExternalPaymentRef {
			return nil
		}
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeReconciliationRepo) List(ctx context.Context, limit, offset int) ([]*domain.ReconciliationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, nil
}

// memSlotStore enforces real single-winner semantics so concurrency tests
// exercise the coordinator against an honest store. Conflict checks run in
// the same order as the transactional store: date block, slot block,
// confirmed overlap.
type memSlotStore struct {
	mu           sync.Mutex
	byRef        map[string]*domain.Reservation
	booked       []domain.TimeRange
	blockedSlots []domain.TimeRange
	blockedDates map[string]bool
}

func newMemSlotStore() *memSlotStore {
	return &memSlotStore{
		byRef:        make(map[string]*domain.Reservation),
		blockedDates: make(map[string]bool),
	}
}

func (s *memSlotStore) blockSlot(tr domain.TimeRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedSlots = append(s.blockedSlots, tr)
}

func (s *memSlotStore) blockDate(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedDates[date] = true
}

func (s *memSlotStore) TryCommit(ctx context.Context, c *domain.CommitCandidate) (*domain.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byRef[c.ExternalPaymentRef]; ok {
		return &domain.CommitResult{Outcome: domain.CommitOutcomeAlreadyCommitted, Reservation: existing}, nil
	}
	if s.blockedDates[c.Date] {
		return &domain.CommitResult{Outcome: domain.CommitOutcomeConflict, Reason: domain.ConflictDateBlocked}, nil
	}
	if domain.AnyIntersects(c.Slots, s.blockedSlots) {
		return &domain.CommitResult{Outcome: domain.CommitOutcomeConflict, Reason: domain.ConflictSlotBlocked}, nil
	}
	if domain.AnyIntersects(c.Slots, s.booked) {
		return &domain.CommitResult{Outcome: domain.CommitOutcomeConflict, Reason: domain.ConflictSlotAlreadyBooked}, nil
	}

	res := &domain.Reservation{
		ID:                 uuid.New().String(),
		FacilityID:         c.FacilityID,
		Date:               c.Date,
		Slots:              c.Slots,
		Amount:             c.Amount,
		Customer:           c.Customer,
		Status:             domain.ReservationStatusConfirmed,
		ExternalPaymentRef: c.ExternalPaymentRef,
	}
	s.booked = append(s.booked, c.Slots...)
	s.byRef[c.ExternalPaymentRef] = res
	return &domain.CommitResult{Outcome: domain.CommitOutcomeCommitted, Reservation: res}, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked []*domain.Reservation
}

func (f *fakeTracker) Track(res *domain.Reservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, res)
}

// --- helpers ---

func testMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New()
	require.NoError(t, err)
	return m
}

func cricketFacility() *domain.Facility {
	return &domain.Facility{
		ID:          "cricket",
		Name:        "Cricket Turf",
		SlotMinutes: 60,
		BasePrice:   800,
		OpenTime:    "17:00",
		CloseTime:   "21:00",
		Active:      true,
	}
}

func newTestCoordinator(t *testing.T, store repository.SlotStore) (ReservationCoordinator, *fakeReservationRepo, *fakeChangePublisher, *fakeOpsPublisher) {
	t.Helper()
	reservations := newFakeReservationRepo()
	feed := &fakeChangePublisher{}
	ops := &fakeOpsPublisher{}
	coord := NewReservationCoordinator(
		reservations,
		store,
		&fakeFacilityRepo{facility: cricketFacility()},
		&fakeBlockRepo{},
		newFakePaymentContextRepo(),
		feed,
		ops,
		testMetrics(t),
		10*time.Minute,
	)
	return coord, reservations, feed, ops
}

// --- tests ---

func TestInitiate_CreatesPendingHold(t *testing.T) {
	coord, reservations, _, _ := newTestCoordinator(t, newMemSlotStore())
	tracker := &fakeTracker{}
	coord.SetDeadlineTracker(tracker)

	res, err := coord.Initiate(context.Background(), &InitiateInput{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Slots:      []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		Customer:   domain.Customer{Name: "Asha", Phone: "9800000001"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ReservationStatusPending, res.Status)
	assert.Equal(t, 800.0, res.Amount)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *res.ExpiresAt, time.Minute)

	require.Len(t, reservations.created, 1)
	require.Len(t, tracker.tracked, 1)
	assert.Equal(t, res.ID, tracker.tracked[0].ID)
}

func TestInitiate_RejectsOffGridSlot(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t, newMemSlotStore())

	_, err := coord.Initiate(context.Background(), &InitiateInput{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Slots:      []domain.TimeRange{{Start: "18:30", End: "19:30"}},
		Customer:   domain.Customer{Name: "Asha", Phone: "9800000001"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

func TestInitiate_RejectsMissingCustomer(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t, newMemSlotStore())

	_, err := coord.Initiate(context.Background(), &InitiateInput{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Slots:      []domain.TimeRange{{Start: "18:00", End: "19:00"}},
	})
	assert.ErrorIs(t, err, domain.ErrMissingCustomer)
}

func TestCommit_PublishesChangeOnSuccess(t *testing.T) {
	coord, _, feed, ops := newTestCoordinator(t, newMemSlotStore())

	result, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID:         "cricket",
		Date:               "2025-01-10",
		Slots:              []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		Amount:             800,
		Customer:           domain.Customer{Name: "Asha", Phone: "9800000001"},
		ExternalPaymentRef: "pay_1",
	})
	require.NoError(t, err)
	assert.True(t, result.Committed())

	changes := feed.published()
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeReservationConfirmed, changes[0].Kind)
	assert.Equal(t, "cricket", changes[0].FacilityID)
	assert.Equal(t, "2025-01-10", changes[0].Date)

	require.Len(t, ops.events, 1)
	assert.Equal(t, OpsReservationConfirmed, ops.events[0].Type)
}

func TestCommit_ConflictDoesNotPublish(t *testing.T) {
	store := &fakeSlotStore{
		tryCommitFn: func(ctx context.Context, c *domain.CommitCandidate) (*domain.CommitResult, error) {
			return &domain.CommitResult{Outcome: domain.CommitOutcomeConflict, Reason: domain.ConflictSlotBlocked}, nil
		},
	}
	coord, _, feed, _ := newTestCoordinator(t, store)

	result, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID:         "cricket",
		Date:               "2025-01-10",
		Slots:              []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		ExternalPaymentRef: "pay_1",
	})
	require.NoError(t, err)
	assert.True(t, result.Conflicted())
	assert.Equal(t, domain.ConflictSlotBlocked, result.Reason)
	assert.Empty(t, feed.published())
}

func TestCommit_RetriesTransactionAbort(t *testing.T) {
	attempts := 0
	store := &fakeSlotStore{
		tryCommitFn: func(ctx context.Context, c *domain.CommitCandidate) (*domain.CommitResult, error) {
			attempts++
			if attempts < 3 {
				return nil, domain.ErrTransactionAbort
			}
			return &domain.CommitResult{
				Outcome:     domain.CommitOutcomeCommitted,
				Reservation: &domain.Reservation{ID: "r1", FacilityID: c.FacilityID, Date: c.Date, Slots: c.Slots},
			}, nil
		},
	}
	coord, _, _, _ := newTestCoordinator(t, store)

	result, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID:         "cricket",
		Date:               "2025-01-10",
		Slots:              []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		ExternalPaymentRef: "pay_1",
	})
	require.NoError(t, err)
	assert.True(t, result.Committed())
	assert.Equal(t, 3, attempts)
}

func TestCommit_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	storeErr := errors.New("connection refused")
	store := &fakeSlotStore{
		tryCommitFn: func(ctx context.Context, c *domain.CommitCandidate) (*domain.CommitResult, error) {
			attempts++
			return nil, storeErr
		},
	}
	coord, _, _, _ := newTestCoordinator(t, store)

	_, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Slots:      []domain.TimeRange{{Start: "18:00", End: "19:00"}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCommit_SingleWinnerUnderContention(t *testing.T) {
	coord, _, feed, _ := newTestCoordinator(t, newMemSlotStore())

	const workers = 32
	slot := []domain.TimeRange{{Start: "18:00", End: "19:00"}}

	var wg sync.WaitGroup
	results := make([]*domain.CommitResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := coord.Commit(context.Background(), &domain.CommitCandidate{
				FacilityID:         "cricket",
				Date:               "2025-01-10",
				Slots:              slot,
				Amount:             800,
				Customer:           domain.Customer{Name: "Asha", Phone: "9800000001"},
				ExternalPaymentRef: uuid.New().String(),
			})
			if err == nil {
				results[i] = r
			}
		}(i)
	}
	wg.Wait()

	committed, conflicted := 0, 0
	for _, r := range results {
		require.NotNil(t, r)
		switch r.Outcome {
		case domain.CommitOutcomeCommitted:
			committed++
		case domain.CommitOutcomeConflict:
			conflicted++
			assert.Equal(t, domain.ConflictSlotAlreadyBooked, r.Reason)
		}
	}

	assert.Equal(t, 1, committed, "exactly one commit must win")
	assert.Equal(t, workers-1, conflicted)
	assert.Len(t, feed.published(), 1, "only the winner broadcasts")
}

func TestCommit_SamePaymentRefIsIdempotent(t *testing.T) {
	coord, _, feed, _ := newTestCoordinator(t, newMemSlotStore())

	candidate := &domain.CommitCandidate{
		FacilityID:         "cricket",
		Date:               "2025-01-10",
		Slots:              []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		Amount:             800,
		Customer:           domain.Customer{Name: "Asha", Phone: "9800000001"},
		ExternalPaymentRef: "pay_dup",
	}

	first, err := coord.Commit(context.Background(), candidate)
	require.NoError(t, err)
	assert.True(t, first.Committed())

	second, err := coord.Commit(context.Background(), candidate)
	require.NoError(t, err)
	assert.Equal(t, domain.CommitOutcomeAlreadyCommitted, second.Outcome)
	assert.Equal(t, first.Reservation.ID, second.Reservation.ID)

	assert.Len(t, feed.published(), 1, "redelivery must not broadcast again")
}

func TestCommit_BlockedSlotWinsOverEmptySlot(t *testing.T) {
	store := newMemSlotStore()
	store.blockSlot(domain.TimeRange{Start: "19:00", End: "20:00"})
	coord, _, feed, _ := newTestCoordinator(t, store)

	// No reservation occupies the slot; the block alone must reject
	result, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID:         "cricket",
		Date:               "2025-01-10",
		Slots:              []domain.TimeRange{{Start: "19:00", End: "20:00"}},
		Amount:             800,
		Customer:           domain.Customer{Name: "Asha", Phone: "9800000001"},
		ExternalPaymentRef: "pay_blocked",
	})
	require.NoError(t, err)
	assert.True(t, result.Conflicted())
	assert.Equal(t, domain.ConflictSlotBlocked, result.Reason)
	assert.Empty(t, feed.published())
}

func TestCommit_BlockedDateRejectsEverySlot(t *testing.T) {
	store := newMemSlotStore()
	store.blockDate("2025-01-10")
	coord, _, _, _ := newTestCoordinator(t, store)

	result, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID:         "cricket",
		Date:               "2025-01-10",
		Slots:              []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		Amount:             800,
		Customer:           domain.Customer{Name: "Asha", Phone: "9800000001"},
		ExternalPaymentRef: "pay_date_blocked",
	})
	require.NoError(t, err)
	assert.True(t, result.Conflicted())
	assert.Equal(t, domain.ConflictDateBlocked, result.Reason)
}

func TestCommit_CricketScenario(t *testing.T) {
	store := newMemSlotStore()
	coord, _, _, _ := newTestCoordinator(t, store)

	slot := []domain.TimeRange{{Start: "18:00", End: "19:00"}}
	customerA := domain.Customer{Name: "Asha", Phone: "9800000001"}
	customerB := domain.Customer{Name: "Bina", Phone: "9800000002"}

	// Client A wins the free slot
	a, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID: "cricket", Date: "2025-01-10", Slots: slot,
		Amount: 800, Customer: customerA, ExternalPaymentRef: "payA",
	})
	require.NoError(t, err)
	assert.True(t, a.Committed())

	// Client B attempts the same slot
	b, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID: "cricket", Date: "2025-01-10", Slots: slot,
		Amount: 800, Customer: customerB, ExternalPaymentRef: "payB",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictSlotAlreadyBooked, b.Reason)

	// The provider replays A's confirmation
	replay, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID: "cricket", Date: "2025-01-10", Slots: slot,
		Amount: 800, Customer: customerA, ExternalPaymentRef: "payA",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CommitOutcomeAlreadyCommitted, replay.Outcome)
	assert.Equal(t, a.Reservation.ID, replay.Reservation.ID)

	// An admin blocks the next hour; committing it must fail even though
	// no reservation holds it
	store.blockSlot(domain.TimeRange{Start: "19:00", End: "20:00"})
	blocked, err := coord.Commit(context.Background(), &domain.CommitCandidate{
		FacilityID: "cricket", Date: "2025-01-10",
		Slots:  []domain.TimeRange{{Start: "19:00", End: "20:00"}},
		Amount: 800, Customer: customerB, ExternalPaymentRef: "payC",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConflictSlotBlocked, blocked.Reason)
}

func TestCancel_PublishesCancellation(t *testing.T) {
	coord, _, feed, _ := newTestCoordinator(t, newMemSlotStore())

	res, err := coord.Initiate(context.Background(), &InitiateInput{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Slots:      []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		Customer:   domain.Customer{Name: "Asha", Phone: "9800000001"},
	})
	require.NoError(t, err)

	cancelled, err := coord.Cancel(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCancelled, cancelled.Status)

	changes := feed.published()
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeReservationCancelled, changes[0].Kind)
}

func TestCancel_AlreadyConfirmed(t *testing.T) {
	coord, reservations, _, _ := newTestCoordinator(t, newMemSlotStore())
	reservations.getByIDFn = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{ID: id, Status: domain.ReservationStatusConfirmed}, nil
	}
	reservations.cancelPendingFn = func(ctx context.Context, id string) error {
		return domain.ErrAlreadyConfirmed
	}

	_, err := coord.Cancel(context.Background(), "r1")
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
}
