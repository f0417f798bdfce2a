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

// PostgresBlockRepository implements BlockRepository using pgxpool
type PostgresBlockRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBlockRepository creates a new PostgresBlockRepository
func NewPostgresBlockRepository(pool *pgxpool.Pool) *PostgresBlockRepository {
	return &PostgresBlockRepository{pool: pool}
}

// CreateBlockedSlot inserts an administrative slot block
func (r *PostgresBlockRepository) CreateBlockedSlot(ctx context.Context, b *domain.BlockedSlot) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.block.create_blocked_slot")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", b.FacilityID),
		attribute.String("date", b.Date),
		attribute.String("range", b.Range.String()),
	)

	query := `
		INSERT INTO blocked_slots (id, facility_id, date, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		b.ID, b.FacilityID, b.Date, b.Range.Start, b.Range.End, b.Reason, b.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create blocked slot: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteBlockedSlot removes a slot block and returns the removed record
func (r *PostgresBlockRepository) DeleteBlockedSlot(ctx context.Context, id string) (*domain.BlockedSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.block.delete_blocked_slot")
	defer span.End()

	span.SetAttributes(attribute.String("block_id", id))

	query := `
		DELETE FROM blocked_slots WHERE id = $1
		RETURNING id, facility_id, date, start_time, end_time, reason, created_at
	`

	b := &domain.BlockedSlot{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.FacilityID, &b.Date, &b.Range.Start, &b.Range.End, &b.Reason, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBlockNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to delete blocked slot: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return b, nil
}

// ListBlockedSlots retrieves all slot blocks for a facility and date
func (r *PostgresBlockRepository) ListBlockedSlots(ctx context.Context, facilityID, date string) ([]*domain.BlockedSlot, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.block.list_blocked_slots")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", facilityID),
		attribute.String("date", date),
	)

	query := `
		SELECT id, facility_id, date, start_time, end_time, reason, created_at
		FROM blocked_slots
		WHERE facility_id = $1 AND date = $2
		ORDER BY start_time
	`

	rows, err := r.pool.Query(ctx, query, facilityID, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list blocked slots: %w", err)
	}
	defer rows.Close()

	var blocks []*domain.BlockedSlot
	for rows.Next() {
		b := &domain.BlockedSlot{}
		if err := rows.Scan(&b.ID, &b.FacilityID, &b.Date, &b.Range.Start, &b.Range.End, &b.Reason, &b.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan blocked slot: %w", err)
		}
		blocks = append(blocks, b)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating blocked slots: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return blocks, nil
}

// CreateBlockedDate inserts a facility-wide date block
func (r *PostgresBlockRepository) CreateBlockedDate(ctx context.Context, b *domain.BlockedDate) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.block.create_blocked_date")
	defer span.End()

	span.SetAttributes(attribute.String("date", b.Date))

	query := `
		INSERT INTO blocked_dates (id, date, reason, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, b.ID, b.Date, b.Reason, b.CreatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create blocked date: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteBlockedDate removes a date block and returns the removed record
func (r *PostgresBlockRepository) DeleteBlockedDate(ctx context.Context, date string) (*domain.BlockedDate, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.block.delete_blocked_date")
	defer span.End()

	span.SetAttributes(attribute.String("date", date))

	query := `
		DELETE FROM blocked_dates WHERE date = $1
		RETURNING id, date, reason, created_at
	`

	b := &domain.BlockedDate{}
	err := r.pool.QueryRow(ctx, query, date).Scan(&b.ID, &b.Date, &b.Reason, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBlockNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to delete blocked date: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return b, nil
}

// IsDateBlocked reports whether the date carries a facility-wide block
func (r *PostgresBlockRepository) IsDateBlocked(ctx context.Context, date string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.block.is_date_blocked")
	defer span.End()

	span.SetAttributes(attribute.String("date", date))

	var blocked bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM blocked_dates WHERE date = $1)", date,
	).Scan(&blocked)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to check blocked date: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return blocked, nil
}

// Ensure PostgresBlockRepository implements BlockRepository
var _ BlockRepository = (*PostgresBlockRepository)(nil)
