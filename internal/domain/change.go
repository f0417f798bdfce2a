package domain

import "time"

// ChangeKind classifies a slot store mutation on the change feed
type ChangeKind string

const (
	ChangeReservationConfirmed ChangeKind = "reservation_confirmed"
	ChangeReservationExpired   ChangeKind = "reservation_expired"
	ChangeReservationCancelled ChangeKind = "reservation_cancelled"
	ChangeSlotBlocked          ChangeKind = "slot_blocked"
	ChangeSlotUnblocked        ChangeKind = "slot_unblocked"
	ChangeDateBlocked          ChangeKind = "date_blocked"
	ChangeDateUnblocked        ChangeKind = "date_unblocked"
)

// StoreChange is one mutation notification on the per-topic change feed
type StoreChange struct {
	Kind          ChangeKind  `json:"kind"`
	FacilityID    string      `json:"facility_id"`
	Date          string      `json:"date"`
	Slots         []TimeRange `json:"slots,omitempty"`
	ReservationID string      `json:"reservation_id,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	At            time.Time   `json:"at"`
}

// Topic returns the broadcast topic this change belongs to
func (c *StoreChange) Topic() Topic {
	return Topic{FacilityID: c.FacilityID, Date: c.Date}
}
