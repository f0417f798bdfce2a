package broker

import (
	"context"
	"sync"
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/internal/service"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Subscriber receives topic notifications. Implementations must not block;
// the gateway client buffers and drops on overflow.
type Subscriber interface {
	ID() string
	// NotifySnapshot delivers a full slot grid snapshot for the topic
	NotifySnapshot(topic domain.Topic, snap *domain.AvailabilitySnapshot)
	// NotifyChange delivers one store mutation event for the topic
	NotifyChange(topic domain.Topic, change *domain.StoreChange)
}

// topicState is the live state of one subscribed topic
type topicState struct {
	topic  domain.Topic
	cancel context.CancelFunc

	mu           sync.Mutex
	subscribers  map[string]Subscriber
	limiter      *rate.Limiter
	lastSnapshot *domain.AvailabilitySnapshot
	flushArmed   bool
}

// SubscriptionBroker fans store changes out to topic subscribers. A topic
// is one (facility, date) pair; its change feed listener starts with the
// first subscriber and stops with the last. Snapshot broadcasts are
// suppressed when nothing visible changed and rate limited per topic with
// a trailing flush so the final state always goes out.
type SubscriptionBroker struct {
	listener     repository.ChangeListener
	availability service.AvailabilityService
	metrics      *metrics.Metrics
	minInterval  time.Duration
	log          *logger.Logger

	mu      sync.Mutex
	baseCtx context.Context
	stop    context.CancelFunc
	topics  map[string]*topicState
}

// NewSubscriptionBroker creates a new SubscriptionBroker
func NewSubscriptionBroker(
	listener repository.ChangeListener,
	availability service.AvailabilityService,
	m *metrics.Metrics,
	minInterval time.Duration,
) *SubscriptionBroker {
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}
	return &SubscriptionBroker{
		listener:     listener,
		availability: availability,
		metrics:      m,
		minInterval:  minInterval,
		topics:       make(map[string]*topicState),
		log:          logger.Get().With(zap.String("component", "broker")),
	}
}

// Start sets the base context for topic listeners
func (b *SubscriptionBroker) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseCtx, b.stop = context.WithCancel(ctx)
}

// Stop cancels every topic listener
func (b *SubscriptionBroker) Stop() {
	b.mu.Lock()
	if b.stop != nil {
		b.stop()
	}
	b.topics = make(map[string]*topicState)
	b.mu.Unlock()
}

// Subscribe adds the subscriber to a topic and returns the current
// snapshot for immediate delivery. The first subscriber on a topic starts
// its change feed listener.
func (b *SubscriptionBroker) Subscribe(ctx context.Context, sub Subscriber, topic domain.Topic) (*domain.AvailabilitySnapshot, error) {
	snap, err := b.availability.Snapshot(ctx, topic)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	ts, ok := b.topics[topic.String()]
	if !ok {
		listenCtx, cancel := context.WithCancel(b.baseCtx)
		sub2, err := b.listener.Listen(listenCtx, topic)
		if err != nil {
			cancel()
			b.mu.Unlock()
			return nil, err
		}

		ts = &topicState{
			topic:       topic,
			cancel:      cancel,
			subscribers: make(map[string]Subscriber),
			limiter:     rate.NewLimiter(rate.Every(b.minInterval), 1),
		}
		b.topics[topic.String()] = ts
		b.metrics.ActiveTopics.Add(ctx, 1)

		go b.consume(listenCtx, ts, sub2)

		b.log.Info("topic listener started", zap.String("topic", topic.String()))
	}

	// Membership must be recorded before b.mu is released. Otherwise a
	// concurrent Unsubscribe of the topic's last subscriber tears the
	// topic down and this subscriber is stranded on a dead listener.
	ts.mu.Lock()
	ts.subscribers[sub.ID()] = sub
	if ts.lastSnapshot == nil {
		ts.lastSnapshot = snap
	}
	ts.mu.Unlock()
	b.mu.Unlock()

	return snap, nil
}

// Unsubscribe removes the subscriber from a topic. The last subscriber
// leaving stops the topic's listener.
func (b *SubscriptionBroker) Unsubscribe(sub Subscriber, topic domain.Topic) {
	b.mu.Lock()
	ts, ok := b.topics[topic.String()]
	if !ok {
		b.mu.Unlock()
		return
	}

	ts.mu.Lock()
	delete(ts.subscribers, sub.ID())
	empty := len(ts.subscribers) == 0
	ts.mu.Unlock()

	if empty {
		delete(b.topics, topic.String())
		ts.cancel()
		b.metrics.ActiveTopics.Add(context.Background(), -1)
		b.log.Info("topic listener stopped", zap.String("topic", ts.topic.String()))
	}
	b.mu.Unlock()
}

// UnsubscribeAll removes the subscriber from every topic it is on. Called
// when a gateway connection closes.
func (b *SubscriptionBroker) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	var emptied []*topicState
	for key, ts := range b.topics {
		ts.mu.Lock()
		if _, ok := ts.subscribers[sub.ID()]; ok {
			delete(ts.subscribers, sub.ID())
			if len(ts.subscribers) == 0 {
				delete(b.topics, key)
				emptied = append(emptied, ts)
			}
		}
		ts.mu.Unlock()
	}
	b.mu.Unlock()

	for _, ts := range emptied {
		ts.cancel()
		b.metrics.ActiveTopics.Add(context.Background(), -1)
		b.log.Info("topic listener stopped", zap.String("topic", ts.topic.String()))
	}
}

// Refresh returns a fresh authoritative snapshot for one topic
func (b *SubscriptionBroker) Refresh(ctx context.Context, topic domain.Topic) (*domain.AvailabilitySnapshot, error) {
	return b.availability.Snapshot(ctx, topic)
}

// consume drains one topic's change feed until the topic is torn down
func (b *SubscriptionBroker) consume(ctx context.Context, ts *topicState, sub repository.ChangeSubscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.Changes():
			if !ok {
				return
			}
			b.dispatch(ctx, ts, change)
		}
	}
}

// dispatch forwards the typed change immediately, then broadcasts a fresh
// snapshot subject to suppression and the per-topic rate limit
func (b *SubscriptionBroker) dispatch(ctx context.Context, ts *topicState, change *domain.StoreChange) {
	ts.mu.Lock()
	subs := make([]Subscriber, 0, len(ts.subscribers))
	for _, s := range ts.subscribers {
		subs = append(subs, s)
	}
	ts.mu.Unlock()

	for _, s := range subs {
		s.NotifyChange(ts.topic, change)
	}
	b.metrics.BroadcastsSent.Add(ctx, int64(len(subs)))

	b.broadcastSnapshot(ctx, ts, false)
}

// broadcastSnapshot sends the current snapshot to all topic subscribers.
// Identical consecutive snapshots are suppressed. When the rate limit is
// hot a single trailing flush is armed so subscribers converge on the
// final state.
func (b *SubscriptionBroker) broadcastSnapshot(ctx context.Context, ts *topicState, isFlush bool) {
	snap, err := b.availability.Snapshot(ctx, ts.topic)
	if err != nil {
		b.log.Warn("failed to build broadcast snapshot",
			zap.String("topic", ts.topic.String()),
			zap.Error(err),
		)
		return
	}

	ts.mu.Lock()
	if isFlush {
		ts.flushArmed = false
	}

	if ts.lastSnapshot != nil && ts.lastSnapshot.Equal(snap) {
		ts.mu.Unlock()
		return
	}

	if !ts.limiter.Allow() {
		if !ts.flushArmed {
			ts.flushArmed = true
			time.AfterFunc(b.minInterval, func() {
				b.broadcastSnapshot(context.Background(), ts, true)
			})
		}
		ts.mu.Unlock()
		return
	}

	ts.lastSnapshot = snap
	subs := make([]Subscriber, 0, len(ts.subscribers))
	for _, s := range ts.subscribers {
		subs = append(subs, s)
	}
	ts.mu.Unlock()

	for _, s := range subs {
		s.NotifySnapshot(ts.topic, snap)
	}
	b.metrics.BroadcastsSent.Add(ctx, int64(len(subs)))
}
