// Package protocol defines the JSON messages exchanged over the realtime
// channel. Every frame is an Envelope; replies echo the request's ID.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client to server.
const (
	EventLock   = "lock"
	EventUnlock = "unlock"
	EventJoin   = "join"
	EventLeave  = "leave"
)

// Server to requester.
const (
	EventLockSuccess   = "lock:success"
	EventLockError     = "lock:error"
	EventUnlockSuccess = "unlock:success"
	EventUnlockError   = "unlock:error"
	EventJoinSuccess   = "join:success"
	EventLeaveSuccess  = "leave:success"
	EventLockedSlots   = "locked:slots"
	EventError         = "error"
)

// Server to room.
const (
	EventSlotLocked    = "slot:locked"
	EventSlotUnlocked  = "slot:unlocked"
	EventSlotBooked    = "slot:booked"
	EventSlotConfirmed = "slot:confirmed" // accepted from older servers, never sent
	EventSlotCancelled = "slot:cancelled"
)

// Rejection reasons carried in ErrorPayload.Message.
const (
	ReasonAlreadyLocked  = "already_locked"
	ReasonAlreadyBooked  = "already_booked"
	ReasonRateLimited    = "rate_limited"
	ReasonInvalidRequest = "invalid_request"
	ReasonInternal       = "internal_error"
)

type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a wire frame. data may be nil.
func Encode(id, event string, data any) ([]byte, error) {
	env := Envelope{ID: id, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func (e Envelope) Decode(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// Event is a server broadcast before it is framed.
type Event struct {
	Name string
	Data any
}

type SlotRequest struct {
	ResourceID string `json:"resourceId"`
	Date       string `json:"date"`
	TimeSlot   string `json:"timeSlot"`
}

// RoomRequest joins or leaves a room. An empty Date addresses the
// resource-wide room.
type RoomRequest struct {
	ResourceID string `json:"resourceId"`
	Date       string `json:"date,omitempty"`
}

type LockSuccess struct {
	ResourceID string    `json:"resourceId"`
	Date       string    `json:"date"`
	TimeSlot   string    `json:"timeSlot"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type UnlockSuccess struct {
	ResourceID string `json:"resourceId"`
	Date       string `json:"date"`
	TimeSlot   string `json:"timeSlot"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type SlotLocked struct {
	ResourceID string    `json:"resourceId"`
	Date       string    `json:"date"`
	TimeSlot   string    `json:"timeSlot"`
	LockedBy   string    `json:"lockedBy"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type SlotUnlocked struct {
	ResourceID string `json:"resourceId"`
	Date       string `json:"date"`
	TimeSlot   string `json:"timeSlot"`
}

// SlotsChanged is the payload of slot:booked and slot:cancelled.
type SlotsChanged struct {
	ResourceID string   `json:"resourceId"`
	Date       string   `json:"date"`
	TimeSlots  []string `json:"timeSlots"`
}

type LockedSlot struct {
	TimeSlot  string    `json:"timeSlot"`
	LockedBy  string    `json:"lockedBy,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	State     string    `json:"state"`
}

type LockedSlots struct {
	ResourceID  string       `json:"resourceId"`
	Date        string       `json:"date"`
	LockedSlots []LockedSlot `json:"lockedSlots"`
}
