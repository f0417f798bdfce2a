package domain

import (
	"fmt"
	"time"
)

// Facility is immutable reference data describing a reservable resource
type Facility struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SlotMinutes int       `json:"slot_minutes"` // slot granularity, e.g. 30 or 60
	BasePrice   float64   `json:"base_price"`   // price per slot
	OpenTime    string    `json:"open_time"`    // "HH:MM"
	CloseTime   string    `json:"close_time"`   // "HH:MM"
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// SlotGrid derives the full set of reservable time ranges for one day
func (f *Facility) SlotGrid() ([]TimeRange, error) {
	if f.SlotMinutes <= 0 {
		return nil, fmt.Errorf("facility %s has invalid slot granularity %d", f.ID, f.SlotMinutes)
	}

	open, err := parseMinutes(f.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("facility %s has invalid open time %q", f.ID, f.OpenTime)
	}
	close, err := parseMinutes(f.CloseTime)
	if err != nil {
		return nil, fmt.Errorf("facility %s has invalid close time %q", f.ID, f.CloseTime)
	}
	if close <= open {
		return nil, fmt.Errorf("facility %s closes before it opens", f.ID)
	}

	var grid []TimeRange
	for start := open; start+f.SlotMinutes <= close; start += f.SlotMinutes {
		grid = append(grid, TimeRange{
			Start: formatMinutes(start),
			End:   formatMinutes(start + f.SlotMinutes),
		})
	}
	return grid, nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
