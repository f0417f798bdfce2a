package domain

import (
	"time"
)

// ReservationStatus represents the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusExpired   ReservationStatus = "expired"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusFailed    ReservationStatus = "failed"
)

// String returns the status as a string
func (s ReservationStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value
func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusConfirmed,
		ReservationStatusExpired, ReservationStatusCancelled,
		ReservationStatusFailed:
		return true
	}
	return false
}

// Customer holds the owning customer's contact info
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Reservation is a request to hold one or more slots of a facility on a
// date. The slot set is immutable after creation; amendments are
// cancel-and-recreate.
type Reservation struct {
	ID                 string            `json:"id"` // external-visible booking id
	FacilityID         string            `json:"facility_id"`
	Date               string            `json:"date"`
	Slots              []TimeRange       `json:"slots"`
	Amount             float64           `json:"amount"`
	Customer           Customer          `json:"customer"`
	Status             ReservationStatus `json:"status"`
	ExternalPaymentRef string            `json:"external_payment_ref,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`

	// ExpiresAt is meaningful only while Status is pending
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IsPending returns true if the reservation is awaiting confirmation
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationStatusPending
}

// IsConfirmed returns true if the reservation holds its slots
func (r *Reservation) IsConfirmed() bool {
	return r.Status == ReservationStatusConfirmed
}

// IsExpiredAt reports whether a pending reservation's TTL has elapsed.
// TTL is irrelevant once the reservation left the pending state.
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	if r.Status != ReservationStatusPending || r.ExpiresAt == nil {
		return false
	}
	return now.After(*r.ExpiresAt)
}

// Covers reports whether the reservation's slot set intersects the given range
func (r *Reservation) Covers(tr TimeRange) bool {
	for _, slot := range r.Slots {
		if slot.Intersects(tr) {
			return true
		}
	}
	return false
}
