package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for slot dates
const DateLayout = "2006-01-02"

// TimeRange is a half-open [Start, End) interval within a single day,
// expressed as "HH:MM" wall-clock strings
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseTimeRange parses a "HH:MM-HH:MM" string into a TimeRange
func ParseTimeRange(s string) (TimeRange, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}

	tr := TimeRange{Start: strings.TrimSpace(parts[0]), End: strings.TrimSpace(parts[1])}
	if err := tr.Validate(); err != nil {
		return TimeRange{}, err
	}
	return tr, nil
}

// Validate checks that both endpoints parse and the range is non-empty
func (tr TimeRange) Validate() error {
	start, err := parseMinutes(tr.Start)
	if err != nil {
		return fmt.Errorf("%w: start %q", ErrInvalidTimeRange, tr.Start)
	}
	end, err := parseMinutes(tr.End)
	if err != nil {
		return fmt.Errorf("%w: end %q", ErrInvalidTimeRange, tr.End)
	}
	if end <= start {
		return fmt.Errorf("%w: %s not before %s", ErrInvalidTimeRange, tr.Start, tr.End)
	}
	return nil
}

// String returns the canonical "HH:MM-HH:MM" form
func (tr TimeRange) String() string {
	return tr.Start + "-" + tr.End
}

// Intersects reports whether two ranges overlap.
// Invalid ranges never intersect anything.
func (tr TimeRange) Intersects(other TimeRange) bool {
	aStart, err1 := parseMinutes(tr.Start)
	aEnd, err2 := parseMinutes(tr.End)
	bStart, err3 := parseMinutes(other.Start)
	bEnd, err4 := parseMinutes(other.End)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}

// Minutes returns the duration of the range in minutes
func (tr TimeRange) Minutes() int {
	start, err1 := parseMinutes(tr.Start)
	end, err2 := parseMinutes(tr.End)
	if err1 != nil || err2 != nil {
		return 0
	}
	return end - start
}

func parseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// SortTimeRanges sorts ranges by start time in place
func SortTimeRanges(ranges []TimeRange) {
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})
}

// AnyIntersects reports whether any range in a intersects any range in b
func AnyIntersects(a, b []TimeRange) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Intersects(y) {
				return true
			}
		}
	}
	return false
}

// ValidateDate checks a date string against the storage layout
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

// SlotKey identifies the smallest reservable unit. It is derived,
// never stored.
type SlotKey struct {
	Date       string    `json:"date"`
	FacilityID string    `json:"facility_id"`
	Range      TimeRange `json:"range"`
}

// String returns a stable identifier for the slot
func (k SlotKey) String() string {
	return k.FacilityID + ":" + k.Date + ":" + k.Range.String()
}
