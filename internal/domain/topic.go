package domain

import (
	"fmt"
	"strings"
)

// Topic is the granularity of a broadcast subscription: one per
// (facility, date) pair
type Topic struct {
	FacilityID string `json:"facility_id"`
	Date       string `json:"date"`
}

// NewTopic builds a topic for a facility and date
func NewTopic(facilityID, date string) Topic {
	return Topic{FacilityID: facilityID, Date: date}
}

// String returns the canonical "facilityID:date" form
func (t Topic) String() string {
	return t.FacilityID + ":" + t.Date
}

// Channel returns the change-feed channel name for this topic
func (t Topic) Channel() string {
	return "slots:" + t.String()
}

// ParseTopic parses the canonical "facilityID:date" form
func ParseTopic(s string) (Topic, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return Topic{}, fmt.Errorf("invalid topic %q", s)
	}
	t := Topic{FacilityID: s[:idx], Date: s[idx+1:]}
	if err := ValidateDate(t.Date); err != nil {
		return Topic{}, fmt.Errorf("invalid topic %q: %w", s, err)
	}
	return t, nil
}
