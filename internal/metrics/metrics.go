package metrics

import (
	"context"

	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metrics holds the instrument set for the reservation engine
type Metrics struct {
	CommitAttempts    *telemetry.Counter
	CommitOutcomes    *telemetry.Counter
	CommitRetries     *telemetry.Counter
	WebhooksReceived  *telemetry.Counter
	WebhooksRejected  *telemetry.Counter
	Reconciliations   *telemetry.Counter
	Expirations       *telemetry.Counter
	SweepDuration     *telemetry.Histogram
	BroadcastsSent    *telemetry.Counter
	BroadcastsDropped *telemetry.Counter
	ActiveConnections *telemetry.UpDownCounter
	ActiveTopics      *telemetry.UpDownCounter
}

// New creates the instrument set
func New() (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.CommitAttempts, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_commit_attempts_total",
		Description: "Atomic commit attempts against the slot store",
	}); err != nil {
		return nil, err
	}

	if m.CommitOutcomes, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_commit_outcomes_total",
		Description: "Commit results by outcome and conflict reason",
	}); err != nil {
		return nil, err
	}

	if m.CommitRetries, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_commit_retries_total",
		Description: "Commit attempts retried after store contention",
	}); err != nil {
		return nil, err
	}

	if m.WebhooksReceived, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "webhook_events_received_total",
		Description: "Payment provider webhook deliveries received",
	}); err != nil {
		return nil, err
	}

	if m.WebhooksRejected, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "webhook_events_rejected_total",
		Description: "Webhook deliveries rejected before processing",
	}); err != nil {
		return nil, err
	}

	if m.Reconciliations, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reconciliation_entries_total",
		Description: "Payments captured without a successful slot commit",
	}); err != nil {
		return nil, err
	}

	if m.Expirations, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "reservation_expirations_total",
		Description: "Pending reservations expired",
	}); err != nil {
		return nil, err
	}

	if m.SweepDuration, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "expiration_sweep_duration_seconds",
		Description: "Duration of expiration sweep passes",
		Unit:        "s",
	}); err != nil {
		return nil, err
	}

	if m.BroadcastsSent, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "broadcast_messages_sent_total",
		Description: "Messages delivered to gateway connections",
	}); err != nil {
		return nil, err
	}

	if m.BroadcastsDropped, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "broadcast_messages_dropped_total",
		Description: "Messages dropped on slow gateway connections",
	}); err != nil {
		return nil, err
	}

	if m.ActiveConnections, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "gateway_active_connections",
		Description: "Open gateway connections",
	}); err != nil {
		return nil, err
	}

	if m.ActiveTopics, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "broker_active_topics",
		Description: "Topics with at least one subscriber",
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCommitOutcome records a commit outcome with its conflict reason
func (m *Metrics) RecordCommitOutcome(ctx context.Context, outcome, reason string) {
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.CommitOutcomes.Inc(ctx, attrs...)
}
