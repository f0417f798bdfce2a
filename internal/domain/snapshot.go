package domain

import "time"

// SlotStatus is the client-visible availability state of a single slot
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusBlocked   SlotStatus = "blocked"
)

// SlotState is one slot's entry in an availability snapshot
type SlotState struct {
	Range  TimeRange  `json:"range"`
	Status SlotStatus `json:"status"`
	Price  float64    `json:"price"`
}

// AvailabilitySnapshot is the full slot-state view for one topic, derived
// from confirmed reservations and active blocks. Pending reservations do
// not appear: they occupy nothing until committed.
type AvailabilitySnapshot struct {
	FacilityID  string      `json:"facility_id"`
	Date        string      `json:"date"`
	Slots       []SlotState `json:"slots"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Equal reports whether two snapshots carry the same slot states.
// GeneratedAt is ignored: identical state means the broadcast can be
// suppressed.
func (s *AvailabilitySnapshot) Equal(other *AvailabilitySnapshot) bool {
	if other == nil {
		return false
	}
	if s.FacilityID != other.FacilityID || s.Date != other.Date {
		return false
	}
	if len(s.Slots) != len(other.Slots) {
		return false
	}
	for i := range s.Slots {
		if s.Slots[i] != other.Slots[i] {
			return false
		}
	}
	return true
}

// BuildSnapshot derives the slot-state view from the facility's slot grid,
// the confirmed reservations, and the active blocks for the topic
func BuildSnapshot(facility *Facility, date string, confirmed []*Reservation, blockedSlots []*BlockedSlot, dateBlocked bool) (*AvailabilitySnapshot, error) {
	grid, err := facility.SlotGrid()
	if err != nil {
		return nil, err
	}

	snap := &AvailabilitySnapshot{
		FacilityID:  facility.ID,
		Date:        date,
		Slots:       make([]SlotState, 0, len(grid)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, tr := range grid {
		state := SlotState{Range: tr, Status: SlotStatusAvailable, Price: facility.BasePrice}

		if dateBlocked {
			state.Status = SlotStatusBlocked
			snap.Slots = append(snap.Slots, state)
			continue
		}

		for _, b := range blockedSlots {
			if b.Range.Intersects(tr) {
				state.Status = SlotStatusBlocked
				break
			}
		}

		if state.Status == SlotStatusAvailable {
			for _, r := range confirmed {
				if r.Covers(tr) {
					state.Status = SlotStatusBooked
					break
				}
			}
		}

		snap.Slots = append(snap.Slots, state)
	}

	return snap, nil
}
