package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresReconciliationRepository implements ReconciliationRepository
type PostgresReconciliationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReconciliationRepository creates a new PostgresReconciliationRepository
func NewPostgresReconciliationRepository(pool *pgxpool.Pool) *PostgresReconciliationRepository {
	return &PostgresReconciliationRepository{pool: pool}
}

// Record stores a payment-captured-but-commit-failed entry for manual
// follow-up. Idempotent per external payment ref so webhook retries do
// not produce duplicate rows.
func (r *PostgresReconciliationRepository) Record(ctx context.Context, entry *domain.ReconciliationEntry) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reconciliation.record")
	defer span.End()

	span.SetAttributes(
		attribute.String("external_payment_ref", entry.ExternalPaymentRef),
		attribute.String("reason", entry.Reason),
	)

	query := `
		INSERT INTO reconciliation_log (id, external_payment_ref, amount, reason, facility_id, date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_payment_ref) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.ExternalPaymentRef,
		entry.Amount,
		entry.Reason,
		nullString(entry.FacilityID),
		nullString(entry.Date),
		entry.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to record reconciliation entry: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// List retrieves reconciliation entries, newest first
func (r *PostgresReconciliationRepository) List(ctx context.Context, limit, offset int) ([]*domain.ReconciliationEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reconciliation.list")
	defer span.End()

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := `
		SELECT id, external_payment_ref, amount, reason, facility_id, date, created_at
		FROM reconciliation_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list reconciliation entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ReconciliationEntry
	for rows.Next() {
		e := &domain.ReconciliationEntry{}
		var facilityID, date *string
		if err := rows.Scan(&e.ID, &e.ExternalPaymentRef, &e.Amount, &e.Reason, &facilityID, &date, &e.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan reconciliation entry: %w", err)
		}
		if facilityID != nil {
			e.FacilityID = *facilityID
		}
		if date != nil {
			e.Date = *date
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating reconciliation entries: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return entries, nil
}

// Ensure PostgresReconciliationRepository implements ReconciliationRepository
var _ ReconciliationRepository = (*PostgresReconciliationRepository)(nil)
