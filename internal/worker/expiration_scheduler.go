package worker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"go.uber.org/zap"
)

// deadlineEntry is one tracked pending hold in the timer queue
type deadlineEntry struct {
	reservationID string
	facilityID    string
	date          string
	slots         []domain.TimeRange
	deadline      time.Time
}

// deadlineHeap is a min-heap ordered by deadline
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(*deadlineEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// SchedulerStats tracks expiration scheduler statistics
type SchedulerStats struct {
	SweepCount    int64
	ExpiredTotal  int64
	TrackedCount  int
	LastSweepAt   time.Time
	LastSweepSize int
}

// ExpirationScheduler expires pending holds whose payment window lapsed.
// An in-memory timer queue fires near-immediate expirations; a periodic
// sweep against the store is the source of truth and catches anything the
// timers miss, including holds created before a restart.
type ExpirationScheduler struct {
	reservations repository.ReservationRepository
	feed         repository.ChangePublisher
	ops          service.EventPublisher
	metrics      *metrics.Metrics
	interval     time.Duration
	batchSize    int
	log          *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	queue   deadlineHeap
	wake    chan struct{}
	stats   SchedulerStats
}

// NewExpirationScheduler creates a new ExpirationScheduler
func NewExpirationScheduler(
	reservations repository.ReservationRepository,
	feed repository.ChangePublisher,
	ops service.EventPublisher,
	m *metrics.Metrics,
	interval time.Duration,
	batchSize int,
) *ExpirationScheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirationScheduler{
		reservations: reservations,
		feed:         feed,
		ops:          ops,
		metrics:      m,
		interval:     interval,
		batchSize:    batchSize,
		wake:         make(chan struct{}, 1),
		log:          logger.Get().With(zap.String("component", "expiration_scheduler")),
	}
}

// Start rebuilds the timer queue from the store and launches the run loop
func (s *ExpirationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.rebuild(ctx); err != nil {
		// The sweep recovers anything the rebuild missed
		s.log.Warn("failed to rebuild deadline queue", zap.Error(err))
	}

	s.wg.Add(1)
	go s.run()

	s.log.Info("expiration scheduler started",
		zap.Duration("sweep_interval", s.interval),
		zap.Int("batch_size", s.batchSize),
	)
	return nil
}

// Stop signals the run loop to exit and waits for it
func (s *ExpirationScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("expiration scheduler stopped")
}

// Track registers a pending hold's deadline with the timer queue
func (s *ExpirationScheduler) Track(res *domain.Reservation) {
	if res.ExpiresAt == nil || !res.IsPending() {
		return
	}

	s.mu.Lock()
	heap.Push(&s.queue, &deadlineEntry{
		reservationID: res.ID,
		facilityID:    res.FacilityID,
		date:          res.Date,
		slots:         res.Slots,
		deadline:      *res.ExpiresAt,
	})
	s.stats.TrackedCount = s.queue.Len()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the scheduler statistics
func (s *ExpirationScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *ExpirationScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			// A new deadline may be earlier than the armed timer
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.nextWait())
		case <-timer.C:
			s.fireDue()
			timer.Reset(s.nextWait())
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// nextWait returns the duration until the earliest tracked deadline,
// capped at the sweep interval
func (s *ExpirationScheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return s.interval
	}
	wait := time.Until(s.queue[0].deadline)
	if wait < 0 {
		wait = 0
	}
	if wait > s.interval {
		wait = s.interval
	}
	return wait
}

// fireDue expires every tracked hold whose deadline passed
func (s *ExpirationScheduler) fireDue() {
	now := time.Now()
	ctx := context.Background()

	for {
		s.mu.Lock()
		if s.queue.Len() == 0 || s.queue[0].deadline.After(now) {
			s.stats.TrackedCount = s.queue.Len()
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.queue).(*deadlineEntry)
		s.stats.TrackedCount = s.queue.Len()
		s.mu.Unlock()

		s.expire(ctx, entry.reservationID, entry.facilityID, entry.date, entry.slots)
	}
}

// Sweep is the authoritative pass: it reads lapsed pending holds straight
// from the store and expires them. Exported so an out-of-process worker
// can drive it on its own cadence.
func (s *ExpirationScheduler) Sweep(ctx context.Context) {
	start := time.Now()

	expired, err := s.reservations.ListExpiredPending(ctx, s.batchSize)
	if err != nil {
		s.log.Error("expiration sweep query failed", zap.Error(err))
		return
	}

	for _, res := range expired {
		s.expire(ctx, res.ID, res.FacilityID, res.Date, res.Slots)
	}

	s.mu.Lock()
	s.stats.SweepCount++
	s.stats.LastSweepAt = start
	s.stats.LastSweepSize = len(expired)
	s.mu.Unlock()

	s.metrics.SweepDuration.Record(ctx, time.Since(start).Seconds())

	if len(expired) > 0 {
		s.log.Info("expiration sweep completed",
			zap.Int("expired", len(expired)),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// expire transitions one hold. MarkExpired reports false when the hold was
// confirmed, cancelled, or already expired in the meantime; that is a
// silent no-op so a timer and a sweep can race safely.
func (s *ExpirationScheduler) expire(ctx context.Context, id, facilityID, date string, slots []domain.TimeRange) {
	ok, err := s.reservations.MarkExpired(ctx, id)
	if err != nil {
		s.log.Error("failed to expire reservation",
			zap.String("reservation_id", id),
			zap.Error(err),
		)
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	s.stats.ExpiredTotal++
	s.mu.Unlock()
	s.metrics.Expirations.Inc(ctx)

	now := time.Now().UTC()
	if err := s.feed.Publish(ctx, &domain.StoreChange{
		Kind:          domain.ChangeReservationExpired,
		FacilityID:    facilityID,
		Date:          date,
		Slots:         slots,
		ReservationID: id,
		At:            now,
	}); err != nil {
		s.log.Warn("failed to publish expiration change",
			zap.String("reservation_id", id),
			zap.Error(err),
		)
	}

	s.ops.Publish(ctx, &service.OpsEvent{
		Type:          service.OpsReservationExpired,
		ReservationID: id,
		FacilityID:    facilityID,
		Date:          date,
		Slots:         slots,
	})

	s.log.Info("reservation expired",
		zap.String("reservation_id", id),
		zap.String("facility_id", facilityID),
		zap.String("date", date),
	)
}

// rebuild loads pending deadlines from the store into the timer queue
func (s *ExpirationScheduler) rebuild(ctx context.Context) error {
	pending, err := s.reservations.ListPendingDeadlines(ctx, s.batchSize*10)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.queue = s.queue[:0]
	for _, res := range pending {
		if res.ExpiresAt == nil {
			continue
		}
		s.queue = append(s.queue, &deadlineEntry{
			reservationID: res.ID,
			facilityID:    res.FacilityID,
			date:          res.Date,
			slots:         res.Slots,
			deadline:      *res.ExpiresAt,
		})
	}
	heap.Init(&s.queue)
	s.stats.TrackedCount = s.queue.Len()
	s.mu.Unlock()

	if len(pending) > 0 {
		s.log.Info("rebuilt deadline queue", zap.Int("tracked", len(pending)))
	}
	return nil
}
