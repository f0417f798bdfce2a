package service

import (
	"context"
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/pkg/kafka"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"go.uber.org/zap"
)

// Ops event types emitted on the reservation event stream
const (
	OpsReservationConfirmed   = "reservation.confirmed"
	OpsReservationExpired     = "reservation.expired"
	OpsReservationCancelled   = "reservation.cancelled"
	OpsReconciliationRequired = "reservation.reconciliation_required"
)

// OpsEvent is one record on the reservation event stream
type OpsEvent struct {
	Type               string             `json:"type"`
	ReservationID      string             `json:"reservation_id,omitempty"`
	FacilityID         string             `json:"facility_id,omitempty"`
	Date               string             `json:"date,omitempty"`
	Slots              []domain.TimeRange `json:"slots,omitempty"`
	Amount             float64            `json:"amount,omitempty"`
	ExternalPaymentRef string             `json:"external_payment_ref,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// EventPublisher emits ops events for downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event *OpsEvent)
}

// KafkaEventPublisher publishes ops events to a Kafka topic. Publishing is
// best effort; a broker outage must never fail the reservation path.
type KafkaEventPublisher struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger
}

// NewKafkaEventPublisher creates a new KafkaEventPublisher
func NewKafkaEventPublisher(producer *kafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
		topic:    topic,
		log:      logger.Get().With(zap.String("component", "ops_publisher")),
	}
}

// Publish sends the event, keyed by facility for per-facility ordering
func (p *KafkaEventPublisher) Publish(ctx context.Context, event *OpsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := p.producer.ProduceJSON(ctx, p.topic, event.FacilityID, event, nil); err != nil {
		p.log.Warn("failed to publish ops event",
			zap.String("type", event.Type),
			zap.String("reservation_id", event.ReservationID),
			zap.Error(err),
		)
	}
}

// NoOpEventPublisher discards events. Used when Kafka is disabled.
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new NoOpEventPublisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish discards the event
func (p *NoOpEventPublisher) Publish(ctx context.Context, event *OpsEvent) {}

var (
	_ EventPublisher = (*KafkaEventPublisher)(nil)
	_ EventPublisher = (*NoOpEventPublisher)(nil)
)
