package dto

import (
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
)

// BlockSlotRequest creates an administrative slot block
type BlockSlotRequest struct {
	FacilityID string `json:"facility_id" binding:"required"`
	Date       string `json:"date" binding:"required"`
	Slot       string `json:"slot" binding:"required"`
	Reason     string `json:"reason"`
}

// BlockDateRequest creates a facility-wide date block
type BlockDateRequest struct {
	Date   string `json:"date" binding:"required"`
	Reason string `json:"reason"`
}

// BlockedSlotResponse is the wire form of a slot block
type BlockedSlotResponse struct {
	ID         string    `json:"id"`
	FacilityID string    `json:"facility_id"`
	Date       string    `json:"date"`
	Slot       string    `json:"slot"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewBlockedSlotResponse converts a domain block to its wire form
func NewBlockedSlotResponse(b *domain.BlockedSlot) *BlockedSlotResponse {
	return &BlockedSlotResponse{
		ID:         b.ID,
		FacilityID: b.FacilityID,
		Date:       b.Date,
		Slot:       b.Range.String(),
		Reason:     b.Reason,
		CreatedAt:  b.CreatedAt,
	}
}

// BlockedDateResponse is the wire form of a date block
type BlockedDateResponse struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBlockedDateResponse converts a domain date block to its wire form
func NewBlockedDateResponse(b *domain.BlockedDate) *BlockedDateResponse {
	return &BlockedDateResponse{
		ID:        b.ID,
		Date:      b.Date,
		Reason:    b.Reason,
		CreatedAt: b.CreatedAt,
	}
}

// ReconciliationEntryResponse is the wire form of a reconciliation entry
type ReconciliationEntryResponse struct {
	ID                 string    `json:"id"`
	ExternalPaymentRef string    `json:"external_payment_ref"`
	Amount             float64   `json:"amount"`
	Reason             string    `json:"reason"`
	FacilityID         string    `json:"facility_id,omitempty"`
	Date               string    `json:"date,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewReconciliationEntryResponse converts a domain entry to its wire form
func NewReconciliationEntryResponse(e *domain.ReconciliationEntry) *ReconciliationEntryResponse {
	return &ReconciliationEntryResponse{
		ID:                 e.ID,
		ExternalPaymentRef: e.ExternalPaymentRef,
		Amount:             e.Amount,
		Reason:             e.Reason,
		FacilityID:         e.FacilityID,
		Date:               e.Date,
		CreatedAt:          e.CreatedAt,
	}
}
