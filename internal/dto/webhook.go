package dto

import (
	"github.com/turfgrid/turfgrid/internal/domain"
	"github.com/turfgrid/turfgrid/internal/service"
)

// WebhookMetadataPayload is the optional booking context in a provider
// payload
type WebhookMetadataPayload struct {
	ReservationID string          `json:"reservation_id"`
	FacilityID    string          `json:"facility_id"`
	Date          string          `json:"date"`
	Slots         []string        `json:"slots"`
	Customer      CustomerPayload `json:"customer"`
}

// WebhookRequest is a payment provider notification body
type WebhookRequest struct {
	Event      string                  `json:"event" binding:"required"`
	OrderID    string                  `json:"order_id"`
	PaymentRef string                  `json:"payment_ref"`
	Amount     float64                 `json:"amount"`
	Metadata   *WebhookMetadataPayload `json:"metadata"`
}

// ToEvent converts the request to the ingester's event form
func (r *WebhookRequest) ToEvent() (*service.WebhookEvent, error) {
	event := &service.WebhookEvent{
		OrderID:    r.OrderID,
		PaymentRef: r.PaymentRef,
		Amount:     r.Amount,
	}

	if r.Metadata != nil {
		slots := make([]domain.TimeRange, 0, len(r.Metadata.Slots))
		for _, s := range r.Metadata.Slots {
			tr, err := domain.ParseTimeRange(s)
			if err != nil {
				return nil, err
			}
			slots = append(slots, tr)
		}
		event.Metadata = &service.WebhookMetadata{
			ReservationID: r.Metadata.ReservationID,
			FacilityID:    r.Metadata.FacilityID,
			Date:          r.Metadata.Date,
			Slots:         slots,
			Customer: domain.Customer{
				Name:  r.Metadata.Customer.Name,
				Phone: r.Metadata.Customer.Phone,
				Email: r.Metadata.Customer.Email,
			},
		}
	}

	return event, nil
}

// WebhookResponse acknowledges a processed delivery
type WebhookResponse struct {
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}
