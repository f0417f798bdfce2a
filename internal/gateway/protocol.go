package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/turfgrid/turfgrid/internal/domain"
)

// MessageType identifies a frame on the duplex connection. The set is
// closed; unknown inbound types are rejected with a system_message.
type MessageType string

// Client to server
const (
	TypeAuth             MessageType = "auth"
	TypeSubscribeSlots   MessageType = "subscribe_slots"
	TypeUnsubscribeSlots MessageType = "unsubscribe_slots"
	TypeRefreshSlots     MessageType = "refresh_slots"
	TypePing             MessageType = "ping"
)

// Server to client
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypePong                  MessageType = "pong"
	TypeSlotUpdate            MessageType = "slot_update"
	TypeSlotBlocked           MessageType = "slot_blocked"
	TypeSlotFreed             MessageType = "slot_freed"
	TypeBookingConfirmed      MessageType = "booking_confirmed"
	TypeBookingExpired        MessageType = "booking_expired"
	TypeSystemMessage         MessageType = "system_message"
)

// inboundTypes is the closed set of types a client may send
var inboundTypes = map[MessageType]bool{
	TypeAuth:             true,
	TypeSubscribeSlots:   true,
	TypeUnsubscribeSlots: true,
	TypeRefreshSlots:     true,
	TypePing:             true,
}

// Frame is the wire envelope for every message in both directions
type Frame struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewFrame builds an outbound frame with the current timestamp
func NewFrame(t MessageType, data interface{}) (*Frame, error) {
	frame := &Frame{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		frame.Data = raw
	}
	return frame, nil
}

// DecodeFrame parses an inbound frame and enforces the closed type set
func DecodeFrame(raw []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if !inboundTypes[frame.Type] {
		return nil, fmt.Errorf("unknown message type %q", frame.Type)
	}
	return frame, nil
}

// AuthPayload carries the bearer token on the first frame
type AuthPayload struct {
	Token string `json:"token"`
}

// TopicPayload addresses one (facility, date) topic
type TopicPayload struct {
	FacilityID string `json:"facility_id"`
	Date       string `json:"date"`
}

// Topic converts the payload to a broadcast topic
func (p *TopicPayload) Topic() (domain.Topic, error) {
	if p.FacilityID == "" {
		return domain.Topic{}, fmt.Errorf("facility_id is required")
	}
	if err := domain.ValidateDate(p.Date); err != nil {
		return domain.Topic{}, err
	}
	return domain.NewTopic(p.FacilityID, p.Date), nil
}

// ConnectionEstablishedPayload greets an authenticated connection
type ConnectionEstablishedPayload struct {
	ConnectionID      string `json:"connection_id"`
	HeartbeatInterval int    `json:"heartbeat_interval_seconds"`
}

// SlotStatePayload is one slot in a snapshot broadcast
type SlotStatePayload struct {
	Range  string  `json:"range"`
	Status string  `json:"status"`
	Price  float64 `json:"price"`
}

// SlotUpdatePayload is a full snapshot broadcast for one topic
type SlotUpdatePayload struct {
	FacilityID  string             `json:"facility_id"`
	Date        string             `json:"date"`
	Slots       []SlotStatePayload `json:"slots"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ChangePayload is a targeted event broadcast for one store mutation
type ChangePayload struct {
	FacilityID    string   `json:"facility_id"`
	Date          string   `json:"date"`
	Slots         []string `json:"slots,omitempty"`
	ReservationID string   `json:"reservation_id,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// SystemMessagePayload carries operator and error notices
type SystemMessagePayload struct {
	Level   string `json:"level"` // info, warning, error
	Message string `json:"message"`
}

// snapshotPayload converts a domain snapshot to its wire form
func snapshotPayload(snap *domain.AvailabilitySnapshot) *SlotUpdatePayload {
	p := &SlotUpdatePayload{
		FacilityID:  snap.FacilityID,
		Date:        snap.Date,
		Slots:       make([]SlotStatePayload, 0, len(snap.Slots)),
		GeneratedAt: snap.GeneratedAt,
	}
	for _, s := range snap.Slots {
		p.Slots = append(p.Slots, SlotStatePayload{
			Range:  s.Range.String(),
			Status: string(s.Status),
			Price:  s.Price,
		})
	}
	return p
}

// changeMessageType maps a store change to its outbound message type
func changeMessageType(kind domain.ChangeKind) (MessageType, bool) {
	switch kind {
	case domain.ChangeReservationConfirmed:
		return TypeBookingConfirmed, true
	case domain.ChangeReservationExpired:
		return TypeBookingExpired, true
	case domain.ChangeReservationCancelled, domain.ChangeSlotUnblocked, domain.ChangeDateUnblocked:
		return TypeSlotFreed, true
	case domain.ChangeSlotBlocked, domain.ChangeDateBlocked:
		return TypeSlotBlocked, true
	default:
		return "", false
	}
}

// changePayload converts a store change to its wire form
func changePayload(change *domain.StoreChange) *ChangePayload {
	p := &ChangePayload{
		FacilityID:    change.FacilityID,
		Date:          change.Date,
		ReservationID: change.ReservationID,
		Reason:        change.Reason,
	}
	for _, s := range change.Slots {
		p.Slots = append(p.Slots, s.String())
	}
	return p
}
