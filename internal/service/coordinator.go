package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/metrics"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/retry"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// InitiateInput is the request to start a reservation and hold it pending
// payment
type InitiateInput struct {
	FacilityID string
	Date       string
	Slots      []domain.TimeRange
	Customer   domain.Customer
	// OrderID is the payment provider's order id. When set, a side-record
	// is stored so the provider's webhook can be resolved even if its
	// payload carries no booking metadata.
	OrderID string
}

// DeadlineTracker registers pending holds with the expiration timer queue
type DeadlineTracker interface {
	Track(res *domain.Reservation)
}

// ReservationCoordinator owns the reservation lifecycle: initiation,
// atomic confirmation against the slot store, and cancellation.
type ReservationCoordinator interface {
	Initiate(ctx context.Context, in *InitiateInput) (*domain.Reservation, error)
	// Commit drives the atomic check-and-commit, retrying transient store
	// contention with backoff. Conflicts are returned as typed results.
	Commit(ctx context.Context, candidate *domain.CommitCandidate) (*domain.CommitResult, error)
	Cancel(ctx context.Context, id string) (*domain.Reservation, error)
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	// SetDeadlineTracker hooks the expiration timer queue in. Optional;
	// the sweep alone is sufficient for correctness.
	SetDeadlineTracker(t DeadlineTracker)
}

type reservationCoordinator struct {
	reservations repository.ReservationRepository
	slotStore    repository.SlotStore
	facilities   repository.FacilityRepository
	blocks       repository.BlockRepository
	paymentCtx   repository.PaymentContextRepository
	feed         repository.ChangePublisher
	ops          EventPublisher
	metrics      *metrics.Metrics
	retrier      *retry.Retrier
	pendingTTL   time.Duration
	tracker      DeadlineTracker
	log          *logger.Logger
}

// NewReservationCoordinator creates a new ReservationCoordinator
func NewReservationCoordinator(
	reservations repository.ReservationRepository,
	slotStore repository.SlotStore,
	facilities repository.FacilityRepository,
	blocks repository.BlockRepository,
	paymentCtx repository.PaymentContextRepository,
	feed repository.ChangePublisher,
	ops EventPublisher,
	m *metrics.Metrics,
	pendingTTL time.Duration,
) ReservationCoordinator {
	return &reservationCoordinator{
		reservations: reservations,
		slotStore:    slotStore,
		facilities:   facilities,
		blocks:       blocks,
		paymentCtx:   paymentCtx,
		feed:         feed,
		ops:          ops,
		metrics:      m,
		retrier: retry.New(&retry.Config{
			MaxRetries:      3,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			Multiplier:      2.0,
			JitterFactor:    0.2,
		}),
		pendingTTL: pendingTTL,
		log:        logger.Get().With(zap.String("component", "coordinator")),
	}
}

// Initiate validates the request and creates a pending reservation with an
// expiration deadline. A pending hold reserves nothing; only the commit
// claims slots.
func (c *reservationCoordinator) Initiate(ctx context.Context, in *InitiateInput) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.coordinator.initiate")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", in.FacilityID),
		attribute.String("date", in.Date),
		attribute.Int("slot_count", len(in.Slots)),
	)

	facility, err := c.facilities.GetByID(ctx, in.FacilityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !facility.Active {
		span.SetStatus(codes.Error, "facility inactive")
		return nil, domain.ErrFacilityInactive
	}

	if err := validateInitiation(facility, in); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(c.pendingTTL)
	res := &domain.Reservation{
		ID:         uuid.New().String(),
		FacilityID: in.FacilityID,
		Date:       in.Date,
		Slots:      in.Slots,
		Amount:     facility.BasePrice * float64(len(in.Slots)),
		Customer:   in.Customer,
		Status:     domain.ReservationStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &expiresAt,
	}

	if err := c.reservations.Create(ctx, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if c.tracker != nil {
		c.tracker.Track(res)
	}

	if in.OrderID != "" {
		pc := &repository.PaymentContext{
			ReservationID: res.ID,
			FacilityID:    res.FacilityID,
			Date:          res.Date,
			Slots:         res.Slots,
			Amount:        res.Amount,
			Customer:      res.Customer,
		}
		if err := c.paymentCtx.Save(ctx, in.OrderID, pc); err != nil {
			// The webhook can still resolve from payload metadata
			c.log.Warn("failed to save payment side-record",
				zap.String("order_id", in.OrderID),
				zap.String("reservation_id", res.ID),
				zap.Error(err),
			)
		}
	}

	c.log.Info("reservation initiated",
		zap.String("reservation_id", res.ID),
		zap.String("facility_id", res.FacilityID),
		zap.String("date", res.Date),
		zap.Time("expires_at", expiresAt),
	)

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// Commit retries the atomic commit on transient contention. Contention
// resolves quickly: either the retry succeeds, or the idempotency check
// reports AlreadyCommitted, or the re-read surfaces a conflict.
func (c *reservationCoordinator) Commit(ctx context.Context, candidate *domain.CommitCandidate) (*domain.CommitResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.coordinator.commit")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", candidate.FacilityID),
		attribute.String("date", candidate.Date),
	)

	var result *domain.CommitResult
	attempt := 0
	outcome := c.retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		c.metrics.CommitAttempts.Inc(ctx)
		if attempt > 1 {
			c.metrics.CommitRetries.Inc(ctx)
		}

		r, err := c.slotStore.TryCommit(ctx, candidate)
		if err != nil {
			if errors.Is(err, domain.ErrTransactionAbort) {
				return err
			}
			return retry.Permanent(err)
		}
		result = r
		return nil
	})

	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		return nil, outcome.Err
	}

	c.metrics.RecordCommitOutcome(ctx, string(result.Outcome), string(result.Reason))
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))

	if result.Committed() {
		res := result.Reservation
		c.publishChange(ctx, &domain.StoreChange{
			Kind:          domain.ChangeReservationConfirmed,
			FacilityID:    res.FacilityID,
			Date:          res.Date,
			Slots:         res.Slots,
			ReservationID: res.ID,
			At:            time.Now().UTC(),
		})
		c.ops.Publish(ctx, &OpsEvent{
			Type:               OpsReservationConfirmed,
			ReservationID:      res.ID,
			FacilityID:         res.FacilityID,
			Date:               res.Date,
			Slots:              res.Slots,
			Amount:             res.Amount,
			ExternalPaymentRef: res.ExternalPaymentRef,
		})

		c.log.Info("reservation confirmed",
			zap.String("reservation_id", res.ID),
			zap.String("facility_id", res.FacilityID),
			zap.String("date", res.Date),
			zap.Int("attempts", attempt),
		)
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Cancel transitions a pending reservation to cancelled
func (c *reservationCoordinator) Cancel(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.coordinator.cancel")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	res, err := c.reservations.GetByID(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := c.reservations.CancelPending(ctx, id); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Status = domain.ReservationStatusCancelled
	c.publishChange(ctx, &domain.StoreChange{
		Kind:          domain.ChangeReservationCancelled,
		FacilityID:    res.FacilityID,
		Date:          res.Date,
		Slots:         res.Slots,
		ReservationID: res.ID,
		At:            time.Now().UTC(),
	})
	c.ops.Publish(ctx, &OpsEvent{
		Type:          OpsReservationCancelled,
		ReservationID: res.ID,
		FacilityID:    res.FacilityID,
		Date:          res.Date,
	})

	c.log.Info("reservation cancelled", zap.String("reservation_id", id))

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// GetReservation retrieves a reservation by id
func (c *reservationCoordinator) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return c.reservations.GetByID(ctx, id)
}

// SetDeadlineTracker hooks the expiration timer queue in
func (c *reservationCoordinator) SetDeadlineTracker(t DeadlineTracker) {
	c.tracker = t
}

func (c *reservationCoordinator) publishChange(ctx context.Context, change *domain.StoreChange) {
	if err := c.feed.Publish(ctx, change); err != nil {
		// Subscribers fall back to their next snapshot refresh
		c.log.Warn("failed to publish store change",
			zap.String("kind", string(change.Kind)),
			zap.String("topic", change.Topic().String()),
			zap.Error(err),
		)
	}
}

// validateInitiation checks the request against facility reference data
func validateInitiation(facility *domain.Facility, in *InitiateInput) error {
	if err := domain.ValidateDate(in.Date); err != nil {
		return err
	}
	if len(in.Slots) == 0 {
		return domain.ErrEmptySlotSet
	}
	if in.Customer.Name == "" || in.Customer.Phone == "" {
		return domain.ErrMissingCustomer
	}

	grid, err := facility.SlotGrid()
	if err != nil {
		return err
	}
	for _, slot := range in.Slots {
		if err := slot.Validate(); err != nil {
			return err
		}
		onGrid := false
		for _, g := range grid {
			if g == slot {
				onGrid = true
				break
			}
		}
		if !onGrid {
			return domain.ErrInvalidTimeRange
		}
	}
	return nil
}
