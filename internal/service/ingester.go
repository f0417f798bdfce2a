package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// WebhookMetadata is the booking context a provider payload may carry
type WebhookMetadata struct {
	ReservationID string
	FacilityID    string
	Date          string
	Slots         []domain.TimeRange
	Customer      domain.Customer
}

// WebhookEvent is a decoded payment-captured notification
type WebhookEvent struct {
	OrderID    string
	PaymentRef string
	Amount     float64
	Metadata   *WebhookMetadata
}

// ConfirmationIngester verifies and applies payment provider webhooks.
// Processing is idempotent per payment ref; redelivery converges on the
// same outcome.
type ConfirmationIngester interface {
	// VerifySignature authenticates a delivery. The signature is
	// HMAC-SHA256 over "<timestamp>.<raw body>", hex encoded.
	VerifySignature(timestamp, signature string, body []byte) error
	Ingest(ctx context.Context, event *WebhookEvent) (*domain.CommitResult, error)
}

type confirmationIngester struct {
	coordinator    ReservationCoordinator
	reservations   repository.ReservationRepository
	paymentCtx     repository.PaymentContextRepository
	reconciliation repository.ReconciliationRepository
	ops            EventPublisher
	metrics        *metrics.Metrics
	secret         []byte
	maxClockSkew   time.Duration
	log            *logger.Logger
}

// NewConfirmationIngester creates a new ConfirmationIngester
func NewConfirmationIngester(
	coordinator ReservationCoordinator,
	reservations repository.ReservationRepository,
	paymentCtx repository.PaymentContextRepository,
	reconciliation repository.ReconciliationRepository,
	ops EventPublisher,
	m *metrics.Metrics,
	secret string,
	maxClockSkew time.Duration,
) ConfirmationIngester {
	return &confirmationIngester{
		coordinator:    coordinator,
		reservations:   reservations,
		paymentCtx:     paymentCtx,
		reconciliation: reconciliation,
		ops:            ops,
		metrics:        m,
		secret:         []byte(secret),
		maxClockSkew:   maxClockSkew,
		log:            logger.Get().With(zap.String("component", "ingester")),
	}
}

// VerifySignature authenticates a webhook delivery
func (i *confirmationIngester) VerifySignature(timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return domain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > i.maxClockSkew {
		return domain.ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Ingest applies a verified payment-captured event. The money is already
// captured when this runs, so a commit that cannot land is recorded on the
// reconciliation log instead of being dropped.
func (i *confirmationIngester) Ingest(ctx context.Context, event *WebhookEvent) (*domain.CommitResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ingester.ingest")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", event.OrderID),
		attribute.String("payment_ref", event.PaymentRef),
	)
	i.metrics.WebhooksReceived.Inc(ctx)

	if event.PaymentRef == "" {
		i.metrics.WebhooksRejected.Inc(ctx)
		span.SetStatus(codes.Error, "missing payment ref")
		return nil, domain.ErrMissingPaymentRef
	}

	// Fast path for redelivery: a reservation already carrying this ref
	// means the confirmation was applied
	existing, err := i.reservations.GetByPaymentRef(ctx, event.PaymentRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if existing != nil && existing.IsConfirmed() {
		span.SetAttributes(attribute.String("outcome", "already_committed"))
		span.SetStatus(codes.Ok, "")
		return &domain.CommitResult{
			Outcome:     domain.CommitOutcomeAlreadyCommitted,
			Reservation: existing,
		}, nil
	}

	meta, err := i.resolveMetadata(ctx, event)
	if err != nil {
		i.metrics.WebhooksRejected.Inc(ctx)
		i.recordReconciliation(ctx, event, nil, "missing booking metadata")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	candidate := &domain.CommitCandidate{
		FacilityID:           meta.FacilityID,
		Date:                 meta.Date,
		Slots:                meta.Slots,
		Amount:               event.Amount,
		Customer:             meta.Customer,
		ExternalPaymentRef:   event.PaymentRef,
		PendingReservationID: meta.ReservationID,
	}

	result, err := i.coordinator.Commit(ctx, candidate)
	if err != nil {
		// Retries exhausted or a store fault. Surface the error so the
		// provider redelivers, and leave a reconciliation trail in case
		// it does not.
		i.recordReconciliation(ctx, event, meta, fmt.Sprintf("commit failed: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if result.Conflicted() {
		i.recordReconciliation(ctx, event, meta, "commit conflict: "+string(result.Reason))

		if meta.ReservationID != "" {
			if err := i.reservations.MarkFailed(ctx, meta.ReservationID, string(result.Reason)); err != nil {
				i.log.Warn("failed to mark reservation as failed",
					zap.String("reservation_id", meta.ReservationID),
					zap.Error(err),
				)
			}
		}

		i.log.Warn("payment captured but commit conflicted",
			zap.String("payment_ref", event.PaymentRef),
			zap.String("reason", string(result.Reason)),
		)
	} else if event.OrderID != "" {
		if err := i.paymentCtx.Delete(ctx, event.OrderID); err != nil {
			i.log.Debug("failed to delete payment side-record",
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// resolveMetadata prefers payload metadata, then the side-record saved at
// initiation
func (i *confirmationIngester) resolveMetadata(ctx context.Context, event *WebhookEvent) (*WebhookMetadata, error) {
	if event.Metadata != nil && event.Metadata.FacilityID != "" && event.Metadata.Date != "" && len(event.Metadata.Slots) > 0 {
		return event.Metadata, nil
	}

	if event.OrderID != "" {
		pc, err := i.paymentCtx.Get(ctx, event.OrderID)
		if err != nil {
			return nil, err
		}
		if pc != nil {
			return &WebhookMetadata{
				ReservationID: pc.ReservationID,
				FacilityID:    pc.FacilityID,
				Date:          pc.Date,
				Slots:         pc.Slots,
				Customer:      pc.Customer,
			}, nil
		}
	}

	return nil, domain.ErrMissingBookingData
}

func (i *confirmationIngester) recordReconciliation(ctx context.Context, event *WebhookEvent, meta *WebhookMetadata, reason string) {
	entry := &domain.ReconciliationEntry{
		ID:                 uuid.New().String(),
		ExternalPaymentRef: event.PaymentRef,
		Amount:             event.Amount,
		Reason:             reason,
		CreatedAt:          time.Now().UTC(),
	}
	if meta != nil {
		entry.FacilityID = meta.FacilityID
		entry.Date = meta.Date
	}

	if err := i.reconciliation.Record(ctx, entry); err != nil {
		i.log.Error("failed to record reconciliation entry",
			zap.String("payment_ref", event.PaymentRef),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	i.metrics.Reconciliations.Inc(ctx)
	i.ops.Publish(ctx, &OpsEvent{
		Type:               OpsReconciliationRequired,
		ExternalPaymentRef: event.PaymentRef,
		Amount:             event.Amount,
		Reason:             reason,
		FacilityID:         entry.FacilityID,
		Date:               entry.Date,
	})
}

var _ ConfirmationIngester = (*confirmationIngester)(nil)
