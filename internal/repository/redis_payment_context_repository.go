package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/turfgrid/turfgrid/pkg/redis"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const paymentContextKeyPrefix = "payment_ctx:"

// RedisPaymentContextRepository stores payment side-records in Redis with a
// TTL matching the pending reservation hold. After the hold lapses the
// webhook falls back to payload metadata or the reconciliation log.
type RedisPaymentContextRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPaymentContextRepository creates a new RedisPaymentContextRepository
func NewRedisPaymentContextRepository(client *redis.Client, ttl time.Duration) *RedisPaymentContextRepository {
	return &RedisPaymentContextRepository{client: client, ttl: ttl}
}

func paymentContextKey(orderID string) string {
	return paymentContextKeyPrefix + orderID
}

// Save writes the side-record keyed by the provider's order id
func (r *RedisPaymentContextRepository) Save(ctx context.Context, orderID string, pc *PaymentContext) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.payment_context.save")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	data, err := json.Marshal(pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal payment context: %w", err)
	}

	if err := r.client.Set(ctx, paymentContextKey(orderID), data, r.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save payment context: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Get retrieves the side-record. Returns (nil, nil) when absent or expired.
func (r *RedisPaymentContextRepository) Get(ctx context.Context, orderID string) (*PaymentContext, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.payment_context.get")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	data, err := r.client.Get(ctx, paymentContextKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			span.SetStatus(codes.Ok, "not found")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get payment context: %w", err)
	}

	pc := &PaymentContext{}
	if err := json.Unmarshal(data, pc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to unmarshal payment context: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return pc, nil
}

// Delete removes the side-record once the confirmation is applied
func (r *RedisPaymentContextRepository) Delete(ctx context.Context, orderID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.payment_context.delete")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	if err := r.client.Del(ctx, paymentContextKey(orderID)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete payment context: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure RedisPaymentContextRepository implements PaymentContextRepository
var _ PaymentContextRepository = (*RedisPaymentContextRepository)(nil)
