package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/pkg/logger"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// BlockService manages administrative blocks and announces them on the
// change feed so subscribed clients see them immediately
type BlockService interface {
	BlockSlot(ctx context.Context, facilityID, date string, r domain.TimeRange, reason string) (*domain.BlockedSlot, error)
	UnblockSlot(ctx context.Context, id string) (*domain.BlockedSlot, error)
	ListBlockedSlots(ctx context.Context, facilityID, date string) ([]*domain.BlockedSlot, error)
	BlockDate(ctx context.Context, date, reason string) (*domain.BlockedDate, error)
	UnblockDate(ctx context.Context, date string) (*domain.BlockedDate, error)
}

type blockService struct {
	blocks     repository.BlockRepository
	facilities repository.FacilityRepository
	feed       repository.ChangePublisher
	log        *logger.Logger
}

// NewBlockService creates a new BlockService
func NewBlockService(
	blocks repository.BlockRepository,
	facilities repository.FacilityRepository,
	feed repository.ChangePublisher,
) BlockService {
	return &blockService{
		blocks:     blocks,
		facilities: facilities,
		feed:       feed,
		log:        logger.Get().With(zap.String("component", "blocks")),
	}
}

// BlockSlot creates a slot block. Existing confirmed reservations keep
// their slots; the block only stops new commits.
func (s *blockService) BlockSlot(ctx context.Context, facilityID, date string, r domain.TimeRange, reason string) (*domain.BlockedSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.blocks.block_slot")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", facilityID),
		attribute.String("date", date),
		attribute.String("range", r.String()),
	)

	if err := domain.ValidateDate(date); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := r.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, err := s.facilities.GetByID(ctx, facilityID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	block := &domain.BlockedSlot{
		ID:         uuid.New().String(),
		FacilityID: facilityID,
		Date:       date,
		Range:      r,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.blocks.CreateBlockedSlot(ctx, block); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.publishChange(ctx, &domain.StoreChange{
		Kind:       domain.ChangeSlotBlocked,
		FacilityID: facilityID,
		Date:       date,
		Slots:      []domain.TimeRange{r},
		Reason:     reason,
		At:         time.Now().UTC(),
	})

	s.log.Info("slot blocked",
		zap.String("facility_id", facilityID),
		zap.String("date", date),
		zap.String("range", r.String()),
		zap.String("reason", reason),
	)

	span.SetStatus(codes.Ok, "")
	return block, nil
}

// UnblockSlot removes a slot block
func (s *blockService) UnblockSlot(ctx context.Context, id string) (*domain.BlockedSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.blocks.unblock_slot")
	defer span.End()

	span.SetAttributes(attribute.String("block_id", id))

	block, err := s.blocks.DeleteBlockedSlot(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.publishChange(ctx, &domain.StoreChange{
		Kind:       domain.ChangeSlotUnblocked,
		FacilityID: block.FacilityID,
		Date:       block.Date,
		Slots:      []domain.TimeRange{block.Range},
		At:         time.Now().UTC(),
	})

	span.SetStatus(codes.Ok, "")
	return block, nil
}

// ListBlockedSlots retrieves slot blocks for a facility and date
func (s *blockService) ListBlockedSlots(ctx context.Context, facilityID, date string) ([]*domain.BlockedSlot, error) {
	return s.blocks.ListBlockedSlots(ctx, facilityID, date)
}

// BlockDate creates a facility-wide date block. Announced on every active
// facility's topic for the date.
func (s *blockService) BlockDate(ctx context.Context, date, reason string) (*domain.BlockedDate, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.blocks.block_date")
	defer span.End()

	span.SetAttributes(attribute.String("date", date))

	if err := domain.ValidateDate(date); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	block := &domain.BlockedDate{
		ID:        uuid.New().String(),
		Date:      date,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.blocks.CreateBlockedDate(ctx, block); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.announceDateChange(ctx, domain.ChangeDateBlocked, date, reason)

	s.log.Info("date blocked", zap.String("date", date), zap.String("reason", reason))

	span.SetStatus(codes.Ok, "")
	return block, nil
}

// UnblockDate removes a facility-wide date block
func (s *blockService) UnblockDate(ctx context.Context, date string) (*domain.BlockedDate, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.blocks.unblock_date")
	defer span.End()

	span.SetAttributes(attribute.String("date", date))

	block, err := s.blocks.DeleteBlockedDate(ctx, date)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.announceDateChange(ctx, domain.ChangeDateUnblocked, date, block.Reason)

	span.SetStatus(codes.Ok, "")
	return block, nil
}

func (s *blockService) announceDateChange(ctx context.Context, kind domain.ChangeKind, date, reason string) {
	facilities, err := s.facilities.List(ctx)
	if err != nil {
		s.log.Warn("failed to list facilities for date block announcement",
			zap.String("date", date),
			zap.Error(err),
		)
		return
	}

	now := time.Now().UTC()
	for _, f := range facilities {
		s.publishChange(ctx, &domain.StoreChange{
			Kind:       kind,
			FacilityID: f.ID,
			Date:       date,
			Reason:     reason,
			At:         now,
		})
	}
}

func (s *blockService) publishChange(ctx context.Context, change *domain.StoreChange) {
	if err := s.feed.Publish(ctx, change); err != nil {
		s.log.Warn("failed to publish store change",
			zap.String("kind", string(change.Kind)),
			zap.String("topic", change.Topic().String()),
			zap.Error(err),
		)
	}
}

var _ BlockService = (*blockService)(nil)
