package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgreSQL SQLSTATE codes treated as transient contention
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// PostgresSlotStore executes the atomic check-and-commit transaction.
// One call is one serializable transaction attempt; contention is mapped
// to domain.ErrTransactionAbort for the coordinator's bounded retry.
type PostgresSlotStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSlotStore creates a new PostgresSlotStore
func NewPostgresSlotStore(pool *pgxpool.Pool) *PostgresSlotStore {
	return &PostgresSlotStore{pool: pool}
}

// TryCommit re-reads slot state for the candidate's (facility, date) scope
// and writes a confirmed reservation, all inside a single serializable
// transaction. Conflicts come back as typed results, never as errors.
func (s *PostgresSlotStore) TryCommit(ctx context.Context, candidate *domain.CommitCandidate) (*domain.CommitResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.slot_store.try_commit")
	defer span.End()

	span.SetAttributes(
		attribute.String("facility_id", candidate.FacilityID),
		attribute.String("date", candidate.Date),
		attribute.Int("slot_count", len(candidate.Slots)),
	)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := s.commitInTx(ctx, tx, candidate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, mapTxError(err)
	}

	// Conflicts abort the transaction without writing
	if result.Outcome != domain.CommitOutcomeCommitted {
		span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
		span.SetStatus(codes.Ok, "")
		return result, nil
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, mapTxError(err)
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *PostgresSlotStore) commitInTx(ctx context.Context, tx pgx.Tx, candidate *domain.CommitCandidate) (*domain.CommitResult, error) {
	// Idempotency: a reservation already tagged with this payment ref means
	// this confirmation was applied before
	if candidate.ExternalPaymentRef != "" {
		existing, err := s.findByPaymentRef(ctx, tx, candidate.ExternalPaymentRef)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &domain.CommitResult{
				Outcome:     domain.CommitOutcomeAlreadyCommitted,
				Reservation: existing,
			}, nil
		}
	}

	// Check the whole date first, then slot-level blocks, then contention
	// with confirmed reservations
	var dateBlocked bool
	err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM blocked_dates WHERE date = $1)",
		candidate.Date,
	).Scan(&dateBlocked)
	if err != nil {
		return nil, fmt.Errorf("failed to check blocked dates: %w", err)
	}
	if dateBlocked {
		return &domain.CommitResult{
			Outcome: domain.CommitOutcomeConflict,
			Reason:  domain.ConflictDateBlocked,
		}, nil
	}

	blockedRanges, err := s.listBlockedRanges(ctx, tx, candidate.FacilityID, candidate.Date)
	if err != nil {
		return nil, err
	}
	if domain.AnyIntersects(candidate.Slots, blockedRanges) {
		return &domain.CommitResult{
			Outcome: domain.CommitOutcomeConflict,
			Reason:  domain.ConflictSlotBlocked,
		}, nil
	}

	bookedRanges, err := s.listConfirmedRanges(ctx, tx, candidate.FacilityID, candidate.Date)
	if err != nil {
		return nil, err
	}
	if domain.AnyIntersects(candidate.Slots, bookedRanges) {
		return &domain.CommitResult{
			Outcome: domain.CommitOutcomeConflict,
			Reason:  domain.ConflictSlotAlreadyBooked,
		}, nil
	}

	// All checks passed; write the confirmed reservation
	now := time.Now().UTC()

	if candidate.PendingReservationID != "" {
		promoted, err := s.promotePending(ctx, tx, candidate, now)
		if err != nil {
			return nil, err
		}
		if promoted != nil {
			return &domain.CommitResult{
				Outcome:     domain.CommitOutcomeCommitted,
				Reservation: promoted,
			}, nil
		}
		// Pending row was swept or cancelled while payment completed;
		// the money is real, so fall through and write a fresh
		// confirmed reservation
	}

	created, err := s.insertConfirmed(ctx, tx, candidate, now)
	if err != nil {
		return nil, err
	}

	return &domain.CommitResult{
		Outcome:     domain.CommitOutcomeCommitted,
		Reservation: created,
	}, nil
}

func (s *PostgresSlotStore) findByPaymentRef(ctx context.Context, tx pgx.Tx, ref string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE external_payment_ref = $1 AND status = 'confirmed'`

	res, err := scanReservation(tx.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check payment ref: %w", err)
	}
	return res, nil
}

func (s *PostgresSlotStore) listBlockedRanges(ctx context.Context, tx pgx.Tx, facilityID, date string) ([]domain.TimeRange, error) {
	rows, err := tx.Query(ctx,
		"SELECT start_time, end_time FROM blocked_slots WHERE facility_id = $1 AND date = $2",
		facilityID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked slots: %w", err)
	}
	defer rows.Close()

	var ranges []domain.TimeRange
	for rows.Next() {
		var tr domain.TimeRange
		if err := rows.Scan(&tr.Start, &tr.End); err != nil {
			return nil, fmt.Errorf("failed to scan blocked slot: %w", err)
		}
		ranges = append(ranges, tr)
	}
	return ranges, rows.Err()
}

func (s *PostgresSlotStore) listConfirmedRanges(ctx context.Context, tx pgx.Tx, facilityID, date string) ([]domain.TimeRange, error) {
	rows, err := tx.Query(ctx,
		"SELECT slots FROM reservations WHERE facility_id = $1 AND date = $2 AND status = 'confirmed'",
		facilityID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmed reservations: %w", err)
	}
	defer rows.Close()

	var ranges []domain.TimeRange
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan reservation slots: %w", err)
		}
		var slots []domain.TimeRange
		if err := json.Unmarshal(raw, &slots); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reservation slots: %w", err)
		}
		ranges = append(ranges, slots...)
	}
	return ranges, rows.Err()
}

// promotePending transitions an initiated pending reservation to confirmed.
// Returns nil when the row is no longer pending.
func (s *PostgresSlotStore) promotePending(ctx context.Context, tx pgx.Tx, candidate *domain.CommitCandidate, now time.Time) (*domain.Reservation, error) {
	query := `
		UPDATE reservations SET
			status = 'confirmed',
			external_payment_ref = $2,
			expires_at = NULL,
			updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`

	result, err := tx.Exec(ctx, query, candidate.PendingReservationID, nullString(candidate.ExternalPaymentRef), now)
	if err != nil {
		return nil, fmt.Errorf("failed to promote pending reservation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, nil
	}

	res, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`,
		candidate.PendingReservationID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to read promoted reservation: %w", err)
	}
	return res, nil
}

func (s *PostgresSlotStore) insertConfirmed(ctx context.Context, tx pgx.Tx, candidate *domain.CommitCandidate, now time.Time) (*domain.Reservation, error) {
	res := &domain.Reservation{
		ID:                 uuid.New().String(),
		FacilityID:         candidate.FacilityID,
		Date:               candidate.Date,
		Slots:              candidate.Slots,
		Amount:             candidate.Amount,
		Customer:           candidate.Customer,
		Status:             domain.ReservationStatusConfirmed,
		ExternalPaymentRef: candidate.ExternalPaymentRef,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	slots, err := json.Marshal(res.Slots)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal slots: %w", err)
	}

	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.Exec(ctx, query,
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
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert confirmed reservation: %w", err)
	}

	return res, nil
}

// mapTxError converts transient store contention into ErrTransactionAbort.
// A unique violation on the payment ref means a concurrent transaction won
// the idempotency race; the retry will observe it as AlreadyCommitted.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrTransactionAbort, pgErr.Code)
		}
	}
	return err
}

// Ensure PostgresSlotStore implements SlotStore
var _ SlotStore = (*PostgresSlotStore)(nil)
