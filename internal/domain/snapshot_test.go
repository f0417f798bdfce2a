package domain

import (
	"testing"
	"time"
)

func testFacility() *Facility {
	return &Facility{
		ID:          "cricket",
		Name:        "Cricket Turf",
		SlotMinutes: 60,
		BasePrice:   800,
		OpenTime:    "17:00",
		CloseTime:   "21:00",
		Active:      true,
	}
}

func TestFacilitySlotGrid(t *testing.T) {
	grid, err := testFacility().SlotGrid()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grid) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(grid))
	}
	if grid[0].String() != "17:00-18:00" || grid[3].String() != "20:00-21:00" {
		t.Errorf("unexpected grid boundaries: %s .. %s", grid[0], grid[3])
	}
}

func TestBuildSnapshot_StatusPrecedence(t *testing.T) {
	facility := testFacility()
	confirmed := []*Reservation{{
		ID:         "r1",
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Status:     ReservationStatusConfirmed,
		Slots:      []TimeRange{{Start: "18:00", End: "19:00"}},
	}}
	blocked := []*BlockedSlot{{
		FacilityID: "cricket",
		Date:       "2025-01-10",
		Range:      TimeRange{Start: "19:00", End: "20:00"},
		Reason:     "maintenance",
	}}

	snap, err := BuildSnapshot(facility, "2025-01-10", confirmed, blocked, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []SlotStatus{SlotStatusAvailable, SlotStatusBooked, SlotStatusBlocked, SlotStatusAvailable}
	for i, s := range snap.Slots {
		if s.Status != want[i] {
			t.Errorf("slot %s: got %s, want %s", s.Range, s.Status, want[i])
		}
	}
}

func TestBuildSnapshot_DateBlocked(t *testing.T) {
	snap, err := BuildSnapshot(testFacility(), "2025-01-10", nil, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range snap.Slots {
		if s.Status != SlotStatusBlocked {
			t.Errorf("slot %s: got %s, want blocked", s.Range, s.Status)
		}
	}
}

func TestSnapshotEqual_IgnoresGeneratedAt(t *testing.T) {
	a, _ := BuildSnapshot(testFacility(), "2025-01-10", nil, nil, false)
	b, _ := BuildSnapshot(testFacility(), "2025-01-10", nil, nil, false)
	b.GeneratedAt = b.GeneratedAt.Add(time.Hour)

	if !a.Equal(b) {
		t.Error("snapshots with identical slot states should be equal")
	}

	b.Slots[0].Status = SlotStatusBooked
	if a.Equal(b) {
		t.Error("snapshots with different slot states should not be equal")
	}
}

func TestReservationIsExpiredAt(t *testing.T) {
	now := time.Now()
	deadline := now.Add(-time.Minute)
	r := &Reservation{Status: ReservationStatusPending, ExpiresAt: &deadline}

	if !r.IsExpiredAt(now) {
		t.Error("pending reservation past deadline should be expired")
	}

	r.Status = ReservationStatusConfirmed
	if r.IsExpiredAt(now) {
		t.Error("TTL must be irrelevant once confirmed")
	}
}

func TestParseTopic(t *testing.T) {
	topic, err := ParseTopic("cricket:2025-01-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topic.FacilityID != "cricket" || topic.Date != "2025-01-10" {
		t.Errorf("unexpected topic: %+v", topic)
	}
	if topic.Channel() != "slots:cricket:2025-01-10" {
		t.Errorf("unexpected channel: %s", topic.Channel())
	}

	if _, err := ParseTopic("nodate"); err == nil {
		t.Error("expected error for malformed topic")
	}
}
