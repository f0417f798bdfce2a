package repository

import (
	"context"

	"github.com/turfgrid/turfgrid/internal/domain"
)

// ReservationRepository provides access to reservation records in the slot store
type ReservationRepository interface {
	Create(ctx context.Context, r *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	// GetByPaymentRef returns (nil, nil) when no reservation carries the ref
	GetByPaymentRef(ctx context.Context, ref string) (*domain.Reservation, error)
	ListConfirmedForTopic(ctx context.Context, facilityID, date string) ([]*domain.Reservation, error)
	// ListExpiredPending returns pending reservations whose TTL has elapsed
	ListExpiredPending(ctx context.Context, limit int) ([]*domain.Reservation, error)
	// ListPendingDeadlines returns pending reservations with a deadline,
	// soonest first, for rebuilding the in-memory timer queue on restart
	ListPendingDeadlines(ctx context.Context, limit int) ([]*domain.Reservation, error)
	// MarkExpired transitions pending → expired; returns false if the
	// reservation was no longer pending
	MarkExpired(ctx context.Context, id string) (bool, error)
	// MarkFailed transitions pending → failed after a lost commit
	MarkFailed(ctx context.Context, id, reason string) error
	// CancelPending transitions pending → cancelled
	CancelPending(ctx context.Context, id string) error
}

// SlotStore executes the atomic check-and-commit against the slot store.
// A single call is one transaction attempt; contention surfaces as
// domain.ErrTransactionAbort and is retried by the coordinator.
type SlotStore interface {
	TryCommit(ctx context.Context, candidate *domain.CommitCandidate) (*domain.CommitResult, error)
}

// BlockRepository provides access to administrative block records
type BlockRepository interface {
	CreateBlockedSlot(ctx context.Context, b *domain.BlockedSlot) error
	DeleteBlockedSlot(ctx context.Context, id string) (*domain.BlockedSlot, error)
	ListBlockedSlots(ctx context.Context, facilityID, date string) ([]*domain.BlockedSlot, error)
	CreateBlockedDate(ctx context.Context, b *domain.BlockedDate) error
	DeleteBlockedDate(ctx context.Context, date string) (*domain.BlockedDate, error)
	IsDateBlocked(ctx context.Context, date string) (bool, error)
}

// FacilityRepository provides access to facility reference data
type FacilityRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Facility, error)
	List(ctx context.Context) ([]*domain.Facility, error)
}

// ReconciliationRepository records payment-captured-but-commit-failed cases
type ReconciliationRepository interface {
	// Record is idempotent per external payment ref
	Record(ctx context.Context, entry *domain.ReconciliationEntry) error
	List(ctx context.Context, limit, offset int) ([]*domain.ReconciliationEntry, error)
}

// PaymentContextRepository stores the temporary side-record created when a
// client initiates payment, keyed by the provider's order id, so a webhook
// payload lacking metadata can still be resolved
type PaymentContextRepository interface {
	Save(ctx context.Context, orderID string, pc *PaymentContext) error
	// Get returns (nil, nil) when the side-record is absent or expired
	Get(ctx context.Context, orderID string) (*PaymentContext, error)
	Delete(ctx context.Context, orderID string) error
}

// PaymentContext is the side-record payload
type PaymentContext struct {
	ReservationID string             `json:"reservation_id"`
	FacilityID    string             `json:"facility_id"`
	Date          string             `json:"date"`
	Slots         []domain.TimeRange `json:"slots"`
	Amount        float64            `json:"amount"`
	Customer      domain.Customer    `json:"customer"`
}

// ChangePublisher emits slot store mutations onto the per-topic change feed
type ChangePublisher interface {
	Publish(ctx context.Context, change *domain.StoreChange) error
}

// ChangeSubscription is a cancellable handle on one topic's change feed
type ChangeSubscription interface {
	// Changes delivers decoded store changes until Close
	Changes() <-chan *domain.StoreChange
	Close() error
}

// ChangeListener opens per-topic change feed subscriptions
type ChangeListener interface {
	Listen(ctx context.Context, topic domain.Topic) (ChangeSubscription, error)
}
