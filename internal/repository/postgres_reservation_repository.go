package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresReservationRepository implements ReservationRepository using pgxpool
type PostgresReservationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresReservationRepository creates a new PostgresReservationRepository
func NewPostgresReservationRepository(pool *pgxpool.Pool) *PostgresReservationRepository {
	return &PostgresReservationRepository{pool: pool}
}

const reservationColumns = `
	id, facility_id, date, slots, amount,
	customer_name, customer_phone, customer_email,
	status, external_payment_ref, created_at, updated_at, expires_at
`

// Create inserts a new reservation record
func (r *PostgresReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", res.ID),
		attribute.String("facility_id", res.FacilityID),
		attribute.String("date", res.Date),
	)

	slots, err := json.Marshal(res.Slots)
	if err != nil {
		return fmt.Errorf("failed to marshal slots: %w", err)
	}

	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.pool.Exec(ctx, query,
		res.ID,
		res.FacilityID,
		res.Date,
		slots,
		res.Amount,
		res.Customer.Name,
		res.Customer.Phone,
		nullString(res.Customer.Email),
		res.Status.String(),
		nullString(res.ExternalPaymentRef),
		res.CreatedAt,
		res.UpdatedAt,
		res.ExpiresAt,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a reservation by its ID
func (r *PostgresReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrReservationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// GetByPaymentRef retrieves a reservation by its external payment reference.
// Returns (nil, nil) when no reservation carries the ref.
func (r *PostgresReservationRepository) GetByPaymentRef(ctx context.Context, ref string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_payment_ref")
	defer span.End()

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE external_payment_ref = $1`

	res, err := scanReservation(r.pool.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "not found")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get reservation by payment ref: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// ListConfirmedForTopic retrieves all confirmed reservations for a facility and date
func (r *PostgresReservationRepository) ListConfirmedForTopic(ctx context.Context, facilityID, date string) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_confirmed")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", facilityID),
		attribute.String("date", date),
	)

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE facility_id = $1 AND date = $2 AND status = 'confirmed'
		ORDER BY created_at
	`

	return r.queryReservations(ctx, query, facilityID, date)
}

// ListExpiredPending retrieves pending reservations whose TTL has elapsed
func (r *PostgresReservationRepository) ListExpiredPending(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_expired_pending")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'pending'
			AND expires_at IS NOT NULL
			AND expires_at < $1
		LIMIT $2
	`

	return r.queryReservations(ctx, query, time.Now(), limit)
}

// ListPendingDeadlines retrieves pending reservations ordered by deadline
func (r *PostgresReservationRepository) ListPendingDeadlines(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_pending_deadlines")
	defer span.End()

	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'pending' AND expires_at IS NOT NULL
		ORDER BY expires_at
		LIMIT $1
	`

	return r.queryReservations(ctx, query, limit)
}

// MarkExpired transitions a pending reservation to expired. Returns false
// when the reservation was concurrently confirmed, cancelled, or already
// expired, which callers treat as a no-op.
func (r *PostgresReservationRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.mark_expired")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `
		UPDATE reservations SET
			status = 'expired',
			updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to mark reservation as expired: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return result.RowsAffected() > 0, nil
}

// MarkFailed transitions a pending reservation to failed after a lost commit
func (r *PostgresReservationRepository) MarkFailed(ctx context.Context, id, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.mark_failed")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("reason", reason),
	)

	query := `
		UPDATE reservations SET
			status = 'failed',
			status_reason = $2,
			updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`

	if _, err := r.pool.Exec(ctx, query, id, reason, time.Now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark reservation as failed: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CancelPending transitions a pending reservation to cancelled
func (r *PostgresReservationRepository) CancelPending(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.cancel_pending")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `
		UPDATE reservations SET
			status = 'cancelled',
			updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to cancel reservation: %w", err)
	}

	if result.RowsAffected() == 0 {
		var status string
		err := r.pool.QueryRow(ctx, "SELECT status FROM reservations WHERE id = $1", id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				span.SetStatus(codes.Error, "not found")
				return domain.ErrReservationNotFound
			}
			span.RecordError(err)
			return fmt.Errorf("failed to check reservation status: %w", err)
		}
		if status == "confirmed" {
			span.SetStatus(codes.Error, "already confirmed")
			return domain.ErrAlreadyConfirmed
		}
		span.SetStatus(codes.Error, "not pending")
		return domain.ErrNotPending
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *PostgresReservationRepository) queryReservations(ctx context.Context, query string, args ...interface{}) ([]*domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}

	return reservations, nil
}

// scanReservation scans a row into a Reservation struct
func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var (
		slots      []byte
		status     string
		email      *string
		paymentRef *string
		expiresAt  *time.Time
	)

	err := row.Scan(
		&res.ID,
		&res.FacilityID,
		&res.Date,
		&slots,
		&res.Amount,
		&res.Customer.Name,
		&res.Customer.Phone,
		&email,
		&status,
		&paymentRef,
		&res.CreatedAt,
		&res.UpdatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(slots, &res.Slots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slots: %w", err)
	}

	res.Status = domain.ReservationStatus(status)
	if email != nil {
		res.Customer.Email = *email
	}
	if paymentRef != nil {
		res.ExternalPaymentRef = *paymentRef
	}
	res.ExpiresAt = expiresAt

	return res, nil
}

// nullString converts an empty string to a nil pointer
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure PostgresReservationRepository implements ReservationRepository
var _ ReservationRepository = (*PostgresReservationRepository)(nil)
