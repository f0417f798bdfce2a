package service

import (
	"context"

	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/repository"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AvailabilityService builds authoritative slot snapshots from the store
type AvailabilityService interface {
	Snapshot(ctx context.Context, topic domain.Topic) (*domain.AvailabilitySnapshot, error)
	ListFacilities(ctx context.Context) ([]*domain.Facility, error)
}

type availabilityService struct {
	facilities   repository.FacilityRepository
	reservations repository.ReservationRepository
	blocks       repository.BlockRepository
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(
	facilities repository.FacilityRepository,
	reservations repository.ReservationRepository,
	blocks repository.BlockRepository,
) AvailabilityService {
	return &availabilityService{
		facilities:   facilities,
		reservations: reservations,
		blocks:       blocks,
	}
}

// Snapshot reads the facility's full slot grid state for one date
func (s *availabilityService) Snapshot(ctx context.Context, topic domain.Topic) (*domain.AvailabilitySnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.snapshot")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", topic.FacilityID),
		attribute.String("date", topic.Date),
	)

	if err := domain.ValidateDate(topic.Date); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	facility, err := s.facilities.GetByID(ctx, topic.FacilityID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	confirmed, err := s.reservations.ListConfirmedForTopic(ctx, topic.FacilityID, topic.Date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	blocked, err := s.blocks.ListBlockedSlots(ctx, topic.FacilityID, topic.Date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	dateBlocked, err := s.blocks.IsDateBlocked(ctx, topic.Date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snapshot, err := domain.BuildSnapshot(facility, topic.Date, confirmed, blocked, dateBlocked)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return snapshot, nil
}

// ListFacilities retrieves all facilities
func (s *availabilityService) ListFacilities(ctx context.Context) ([]*domain.Facility, error) {
	return s.facilities.List(ctx)
}

var _ AvailabilityService = (*availabilityService)(nil)
