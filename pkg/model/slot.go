package model

import (
	"fmt"
	"time"
)

type SlotState string

const (
	SlotLocked SlotState = "locked"
	SlotBooked SlotState = "booked"
)

// RoomKey scopes broadcasts and serialization: one room per resource and date.
type RoomKey struct {
	ResourceID string `json:"resourceId" bson:"resource_id"`
	Date       string `json:"date" bson:"date"`
}

func (r RoomKey) Slot(timeSlot string) SlotKey {
	return SlotKey{ResourceID: r.ResourceID, Date: r.Date, TimeSlot: timeSlot}
}

func (r RoomKey) String() string {
	return r.ResourceID + "/" + r.Date
}

// SlotKey identifies a single lockable slot. It is comparable and is used
// directly as a map key.
type SlotKey struct {
	ResourceID string `json:"resourceId" bson:"resource_id"`
	Date       string `json:"date" bson:"date"`
	TimeSlot   string `json:"timeSlot" bson:"time_slot"`
}

func (k SlotKey) Room() RoomKey {
	return RoomKey{ResourceID: k.ResourceID, Date: k.Date}
}

// String is for logs only. Never parse it back.
func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ResourceID, k.Date, k.TimeSlot)
}

type SlotLock struct {
	Key        SlotKey   `json:"key" bson:"_id"`
	LockedBy   string    `json:"lockedBy" bson:"locked_by"`
	ExpiresAt  time.Time `json:"expiresAt" bson:"expires_at"`
	State      SlotState `json:"state" bson:"state"`
	BookingRef string    `json:"bookingRef,omitempty" bson:"booking_ref,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}

// Expired reports whether a held lock has outlived its hold. Booked slots
// never expire.
func (l *SlotLock) Expired(now time.Time) bool {
	return l.State == SlotLocked && !l.ExpiresAt.After(now)
}
