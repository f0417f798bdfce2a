package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
)

type stubSubscription struct {
	changes chan *domain.StoreChange

	mu     sync.Mutex
	closed bool
}

func (s *stubSubscription) Changes() <-chan *domain.StoreChange { return s.changes }

func (s *stubSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.changes)
	}
	return nil
}

func (s *stubSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubListener struct {
	mu    sync.Mutex
	subs  map[string]*stubSubscription
	calls int
}

func newStubListener() *stubListener {
	return &stubListener{subs: make(map[string]*stubSubscription)}
}

func (l *stubListener) Listen(ctx context.Context, topic domain.Topic) (repository.ChangeSubscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	sub := &stubSubscription{changes: make(chan *domain.StoreChange, 8)}
	l.subs[topic.String()] = sub
	return sub, nil
}

func (l *stubListener) listenCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *stubListener) subscription(topic domain.Topic) *stubSubscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs[topic.String()]
}

// stubAvailability returns a configurable snapshot per call
type stubAvailability struct {
	mu   sync.Mutex
	snap *domain.AvailabilitySnapshot
}

func (s *stubAvailability) Snapshot(ctx context.Context, topic domain.Topic) (*domain.AvailabilitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Copy so callers cannot mutate shared state
	out := &domain.AvailabilitySnapshot{
		FacilityID:  s.snap.FacilityID,
		Date:        s.snap.Date,
		Slots:       append([]domain.SlotState(nil), s.snap.Slots...),
		GeneratedAt: time.Now(),
	}
	return out, nil
}

func (s *stubAvailability) ListFacilities(ctx context.Context) ([]*domain.Facility, error) {
	return nil, nil
}

func (s *stubAvailability) setSlotStatus(i int, status domain.SlotStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Slots[i].Status = status
}

type recordingSubscriber struct {
	id string

	mu        sync.Mutex
	snapshots []*domain.AvailabilitySnapshot
	changes   []*domain.StoreChange
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) NotifySnapshot(topic domain.Topic, snap *domain.AvailabilitySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
}

func (r *recordingSubscriber) NotifyChange(topic domain.Topic, change *domain.StoreChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingSubscriber) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots), len(r.changes)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func baseSnapshot() *domain.AvailabilitySnapshot {
	return &domain.AvailabilitySnapshot{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Slots: []domain.SlotState{
			{Range: domain.TimeRange{Start: "18:00", End: "19:00"}, Status: domain.SlotStatusAvailable, Price: 800},
			{Range: domain.TimeRange{Start: "19:00", End: "20:00"}, Status: domain.SlotStatusAvailable, Price: 800},
		},
	}
}

func newTestBroker(t *testing.T) (*SubscriptionBroker, *stubListener, *stubAvailability) {
	t.Helper()
	m, err := metrics.New()
	require.NoError(t, err)

	listener := newStubListener()
	availability := &stubAvailability{snap: baseSnapshot()}
	b := NewSubscriptionBroker(listener, availability, m, time.Millisecond)
	b.Start(context.Background())
	t.Cleanup(b.Stop)
	return b, listener, availability
}

func confirmedChange() *domain.StoreChange {
	return &domain.StoreChange{
		Kind:          domain.ChangeReservationConfirmed,
		FacilityID:    "cricket",
		Date:          "2025-01-10",
		Slots:         []domain.TimeRange{{Start: "18:00", End: "19:00"}},
		ReservationID: "r1",
		At:            time.Now(),
	}
}

func TestSubscribe_ReturnsSnapshotAndStartsListenerOnce(t *testing.T) {
	b, listener, _ := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	snap, err := b.Subscribe(context.Background(), &recordingSubscriber{id: "c1"}, topic)
	require.NoError(t, err)
	assert.Equal(t, "cricket", snap.FacilityID)
	assert.Len(t, snap.Slots, 2)
	assert.Equal(t, 1, listener.listenCalls())

	_, err = b.Subscribe(context.Background(), &recordingSubscriber{id: "c2"}, topic)
	require.NoError(t, err)
	assert.Equal(t, 1, listener.listenCalls(), "second subscriber must reuse the listener")
}

func TestChange_FansOutToSubscribers(t *testing.T) {
	b, listener, availability := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	sub := &recordingSubscriber{id: "c1"}
	_, err := b.Subscribe(context.Background(), sub, topic)
	require.NoError(t, err)

	availability.setSlotStatus(0, domain.SlotStatusBooked)
	listener.subscription(topic).changes <- confirmedChange()

	waitFor(t, func() bool {
		snaps, changes := sub.counts()
		return snaps >= 1 && changes >= 1
	}, "subscriber did not receive the broadcast")

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, domain.ChangeReservationConfirmed, sub.changes[0].Kind)
	assert.Equal(t, domain.SlotStatusBooked, sub.snapshots[0].Slots[0].Status)
}

func TestChange_SuppressesUnchangedSnapshot(t *testing.T) {
	b, listener, _ := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	sub := &recordingSubscriber{id: "c1"}
	_, err := b.Subscribe(context.Background(), sub, topic)
	require.NoError(t, err)

	// The store state did not change, only the feed fired
	listener.subscription(topic).changes <- confirmedChange()

	waitFor(t, func() bool {
		_, changes := sub.counts()
		return changes >= 1
	}, "subscriber did not receive the change event")

	time.Sleep(50 * time.Millisecond)
	snaps, _ := sub.counts()
	assert.Zero(t, snaps, "identical snapshot must be suppressed")
}

func TestRateLimit_ConvergesOnFinalState(t *testing.T) {
	b, listener, availability := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	sub := &recordingSubscriber{id: "c1"}
	_, err := b.Subscribe(context.Background(), sub, topic)
	require.NoError(t, err)

	feed := listener.subscription(topic).changes
	availability.setSlotStatus(0, domain.SlotStatusBooked)
	feed <- confirmedChange()
	availability.setSlotStatus(1, domain.SlotStatusBooked)
	feed <- confirmedChange()

	waitFor(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		for _, s := range sub.snapshots {
			if s.Slots[0].Status == domain.SlotStatusBooked && s.Slots[1].Status == domain.SlotStatusBooked {
				return true
			}
		}
		return false
	}, "subscribers must converge on the final snapshot")
}

func TestUnsubscribe_LastSubscriberStopsListener(t *testing.T) {
	b, listener, _ := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	s1 := &recordingSubscriber{id: "c1"}
	s2 := &recordingSubscriber{id: "c2"}
	_, err := b.Subscribe(context.Background(), s1, topic)
	require.NoError(t, err)
	_, err = b.Subscribe(context.Background(), s2, topic)
	require.NoError(t, err)

	sub := listener.subscription(topic)

	b.Unsubscribe(s1, topic)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, sub.isClosed(), "listener must survive while a subscriber remains")

	b.Unsubscribe(s2, topic)
	waitFor(t, sub.isClosed, "listener must stop with the last subscriber")
}

func TestSubscribe_UnsubscribeChurnKeepsListenerLive(t *testing.T) {
	b, listener, _ := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	// A leaving while B arrives must never leave B attached to a
	// torn-down topic: whichever order the two interleave in, the
	// topic's newest feed subscription has to stay open.
	for i := 0; i < 2000; i++ {
		a := &recordingSubscriber{id: "churn_a"}
		bSub := &recordingSubscriber{id: "churn_b"}

		_, err := b.Subscribe(context.Background(), a, topic)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Unsubscribe(a, topic)
		}()
		go func() {
			defer wg.Done()
			_, subErr := b.Subscribe(context.Background(), bSub, topic)
			require.NoError(t, subErr)
		}()
		wg.Wait()

		if listener.subscription(topic).isClosed() {
			t.Fatalf("iteration %d: subscriber attached to a topic with no live listener", i)
		}

		b.UnsubscribeAll(bSub)
	}
}

func TestUnsubscribeAll_RemovesFromEveryTopic(t *testing.T) {
	b, listener, _ := newTestBroker(t)
	t1 := domain.NewTopic("cricket", "2025-01-10")
	t2 := domain.NewTopic("cricket", "2025-01-11")

	sub := &recordingSubscriber{id: "c1"}
	_, err := b.Subscribe(context.Background(), sub, t1)
	require.NoError(t, err)
	_, err = b.Subscribe(context.Background(), sub, t2)
	require.NoError(t, err)

	b.UnsubscribeAll(sub)

	waitFor(t, listener.subscription(t1).isClosed, "first topic listener must stop")
	waitFor(t, listener.subscription(t2).isClosed, "second topic listener must stop")
}

func TestRefresh_ReturnsFreshSnapshot(t *testing.T) {
	b, _, availability := newTestBroker(t)
	topic := domain.NewTopic("cricket", "2025-01-10")

	availability.setSlotStatus(0, domain.SlotStatusBlocked)
	snap, err := b.Refresh(context.Background(), topic)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotStatusBlocked, snap.Slots[0].Status)
}
