package domain

import "time"

// BlockedSlot is an administrative override keeping a slot unavailable,
// independent of any reservation
type BlockedSlot struct {
	ID         string    `json:"id"`
	FacilityID string    `json:"facility_id"`
	Date       string    `json:"date"`
	Range      TimeRange `json:"range"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// BlockedDate blocks an entire date across all facilities
type BlockedDate struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
