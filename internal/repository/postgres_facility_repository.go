package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresFacilityRepository implements FacilityRepository using pgxpool
type PostgresFacilityRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresFacilityRepository creates a new PostgresFacilityRepository
func NewPostgresFacilityRepository(pool *pgxpool.Pool) *PostgresFacilityRepository {
	return &PostgresFacilityRepository{pool: pool}
}

const facilityColumns = `id, name, slot_minutes, base_price, open_time, close_time, active, created_at`

// GetByID retrieves a facility by its ID
func (r *PostgresFacilityRepository) GetByID(ctx context.Context, id string) (*domain.Facility, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.facility.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("facility_id", id))

	query := `SELECT ` + facilityColumns + ` FROM facilities WHERE id = $1`

	f := &domain.Facility{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.SlotMinutes, &f.BasePrice,
		&f.OpenTime, &f.CloseTime, &f.Active, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrFacilityNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return f, nil
}

// List retrieves all facilities
func (r *PostgresFacilityRepository) List(ctx context.Context) ([]*domain.Facility, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.facility.list")
	defer span.End()

	query := `SELECT ` + facilityColumns + ` FROM facilities ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	defer rows.Close()

	var facilities []*domain.Facility
	for rows.Next() {
		f := &domain.Facility{}
		if err := rows.Scan(
			&f.ID, &f.Name, &f.SlotMinutes, &f.BasePrice,
			&f.OpenTime, &f.CloseTime, &f.Active, &f.CreatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		facilities = append(facilities, f)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating facilities: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return facilities, nil
}

// Ensure PostgresFacilityRepository implements FacilityRepository
var _ FacilityRepository = (*PostgresFacilityRepository)(nil)
