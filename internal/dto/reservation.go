package dto

import (
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
)

// CustomerPayload identifies the booking customer
type CustomerPayload struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
	Email string `json:"email"`
}

// InitiateReservationRequest starts a reservation hold pending payment
type InitiateReservationRequest struct {
	FacilityID string          `json:"facility_id" binding:"required"`
	Date       string          `json:"date" binding:"required"`
	Slots      []string        `json:"slots" binding:"required,min=1"`
	Customer   CustomerPayload `json:"customer" binding:"required"`
	OrderID    string          `json:"order_id"`
}

// ParseSlots converts the wire slot strings to time ranges
func (r *InitiateReservationRequest) ParseSlots() ([]domain.TimeRange, error) {
	slots := make([]domain.TimeRange, 0, len(r.Slots))
	for _, s := range r.Slots {
		tr, err := domain.ParseTimeRange(s)
		if err != nil {
			return nil, err
		}
		slots = append(slots, tr)
	}
	return slots, nil
}

// CommitReservationRequest asks for an atomic check-and-commit
type CommitReservationRequest struct {
	FacilityID           string          `json:"facility_id" binding:"required"`
	Date                 string          `json:"date" binding:"required"`
	Slots                []string        `json:"slots" binding:"required,min=1"`
	Amount               float64         `json:"amount"`
	Customer             CustomerPayload `json:"customer" binding:"required"`
	ExternalPaymentRef   string          `json:"external_payment_ref" binding:"required"`
	PendingReservationID string          `json:"pending_reservation_id"`
}

// ToCandidate converts the request to a commit candidate
func (r *CommitReservationRequest) ToCandidate() (*domain.CommitCandidate, error) {
	slots := make([]domain.TimeRange, 0, len(r.Slots))
	for _, s := range r.Slots {
		tr, err := domain.ParseTimeRange(s)
		if err != nil {
			return nil, err
		}
		slots = append(slots, tr)
	}
	return &domain.CommitCandidate{
		FacilityID: r.FacilityID,
		Date:       r.Date,
		Slots:      slots,
		Amount:     r.Amount,
		Customer: domain.Customer{
			Name:  r.Customer.Name,
			Phone: r.Customer.Phone,
			Email: r.Customer.Email,
		},
		ExternalPaymentRef:   r.ExternalPaymentRef,
		PendingReservationID: r.PendingReservationID,
	}, nil
}

// CommitResponse reports a commit outcome
type CommitResponse struct {
	Outcome       string `json:"outcome"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ReservationResponse is the wire form of a reservation
type ReservationResponse struct {
	ID                 string          `json:"id"`
	FacilityID         string          `json:"facility_id"`
	Date               string          `json:"date"`
	Slots              []string        `json:"slots"`
	Amount             float64         `json:"amount"`
	Customer           CustomerPayload `json:"customer"`
	Status             string          `json:"status"`
	ExternalPaymentRef string          `json:"external_payment_ref,omitempty"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// NewReservationResponse converts a domain reservation to its wire form
func NewReservationResponse(res *domain.Reservation) *ReservationResponse {
	slots := make([]string, 0, len(res.Slots))
	for _, s := range res.Slots {
		slots = append(slots, s.String())
	}
	return &ReservationResponse{
		ID:         res.ID,
		FacilityID: res.FacilityID,
		Date:       res.Date,
		Slots:      slots,
		Amount:     res.Amount,
		Customer: CustomerPayload{
			Name:  res.Customer.Name,
			Phone: res.Customer.Phone,
			Email: res.Customer.Email,
		},
		Status:             res.Status.String(),
		ExternalPaymentRef: res.ExternalPaymentRef,
		ExpiresAt:          res.ExpiresAt,
		CreatedAt:          res.CreatedAt,
	}
}
