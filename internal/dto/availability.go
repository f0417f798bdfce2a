package dto

import (
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
)

// SlotStateResponse is one slot in an availability snapshot
type SlotStateResponse struct {
	Range  string  `json:"range"`
	Status string  `json:"status"`
	Price  float64 `json:"price"`
}

// AvailabilityResponse is the wire form of an availability snapshot
type AvailabilityResponse struct {
	FacilityID  string              `json:"facility_id"`
	Date        string              `json:"date"`
	Slots       []SlotStateResponse `json:"slots"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// NewAvailabilityResponse converts a domain snapshot to its wire form
func NewAvailabilityResponse(snap *domain.AvailabilitySnapshot) *AvailabilityResponse {
	slots := make([]SlotStateResponse, 0, len(snap.Slots))
	for _, s := range snap.Slots {
		slots = append(slots, SlotStateResponse{
			Range:  s.Range.String(),
			Status: string(s.Status),
			Price:  s.Price,
		})
	}
	return &AvailabilityResponse{
		FacilityID:  snap.FacilityID,
		Date:        snap.Date,
		Slots:       slots,
		GeneratedAt: snap.GeneratedAt,
	}
}

// FacilityResponse is the wire form of a facility
type FacilityResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SlotMinutes int     `json:"slot_minutes"`
	BasePrice   float64 `json:"base_price"`
	OpenTime    string  `json:"open_time"`
	CloseTime   string  `json:"close_time"`
	Active      bool    `json:"active"`
}

// NewFacilityResponse converts a domain facility to its wire form
func NewFacilityResponse(f *domain.Facility) *FacilityResponse {
	return &FacilityResponse{
		ID:          f.ID,
		Name:        f.Name,
		SlotMinutes: f.SlotMinutes,
		BasePrice:   f.BasePrice,
		OpenTime:    f.OpenTime,
		CloseTime:   f.CloseTime,
		Active:      f.Active,
	}
}
