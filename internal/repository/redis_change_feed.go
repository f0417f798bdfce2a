package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/redis"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// RedisChangeFeed publishes and consumes slot store mutations over Redis
// pub/sub, one channel per (facility, date) topic. It implements both
// ChangePublisher and ChangeListener.
type RedisChangeFeed struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisChangeFeed creates a new RedisChangeFeed
func NewRedisChangeFeed(client *redis.Client) *RedisChangeFeed {
	return &RedisChangeFeed{
		client: client,
		log:    logger.Get().With(zap.String("component", "change_feed")),
	}
}

// Publish emits a store change onto its topic channel
func (f *RedisChangeFeed) Publish(ctx context.Context, change *domain.StoreChange) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.change_feed.publish")
	defer span.End()

	topic := change.Topic()
	span.SetAttributes(
		attribute.String("topic", topic.String()),
		attribute.String("kind", string(change.Kind)),
	)

	data, err := json.Marshal(change)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal store change: %w", err)
	}

	if err := f.client.Publish(ctx, topic.Channel(), data).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to publish store change: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Listen opens a subscription on one topic's channel. The returned
// subscription delivers decoded changes until Close is called or the
// context is cancelled.
func (f *RedisChangeFeed) Listen(ctx context.Context, topic domain.Topic) (ChangeSubscription, error) {
	pubsub := f.client.Subscribe(ctx, topic.Channel())

	// Confirm the subscription is live before handing it out
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic.Channel(), err)
	}

	sub := &redisChangeSubscription{
		pubsub:  pubsub,
		changes: make(chan *domain.StoreChange, 64),
	}

	go sub.run(ctx, f.log, topic)

	return sub, nil
}

type redisChangeSubscription struct {
	pubsub  *goredis.PubSub
	changes chan *domain.StoreChange

	closeOnce sync.Once
	closeErr  error
}

func (s *redisChangeSubscription) run(ctx context.Context, log *logger.Logger, topic domain.Topic) {
	defer close(s.changes)

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			change := &domain.StoreChange{}
			if err := json.Unmarshal([]byte(msg.Payload), change); err != nil {
				log.Warn("dropping undecodable change feed message",
					zap.String("topic", topic.String()),
					zap.Error(err),
				)
				continue
			}

			select {
			case s.changes <- change:
			case <-ctx.Done():
				s.Close()
				return
			}
		}
	}
}

// Changes delivers decoded store changes. The channel is closed after Close.
func (s *redisChangeSubscription) Changes() <-chan *domain.StoreChange {
	return s.changes
}

// Close tears down the underlying pub/sub subscription. Safe to call more
// than once.
func (s *redisChangeSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}

// Ensure RedisChangeFeed implements both feed interfaces
var (
	_ ChangePublisher    = (*RedisChangeFeed)(nil)
	_ ChangeListener     = (*RedisChangeFeed)(nil)
	_ ChangeSubscription = (*redisChangeSubscription)(nil)
)
