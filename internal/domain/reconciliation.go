package domain

import "time"

// ReconciliationEntry records a payment that was captured while the slot
// commit failed. These are surfaced to operators for manual refund and
// must never be silently dropped.
type ReconciliationEntry struct {
	ID                 string    `json:"id"`
	ExternalPaymentRef string    `json:"external_payment_ref"`
	Amount             float64   `json:"amount"`
	Reason             string    `json:"reason"`
	FacilityID         string    `json:"facility_id,omitempty"`
	Date               string    `json:"date,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
