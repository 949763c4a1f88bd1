package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2025-03-10", false},
		{"2024-02-29", false},
		{"2025-02-29", true},
		{"2025-3-10", true},
		{"10/03/2025", true},
		{"2025-03-10T00:00:00Z", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDate(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDate) {
					t.Errorf("ParseDate(%q) error = %v, want ErrInvalidDate", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) unexpected error: %v", tt.input, err)
			}
			if got := d.Format(time.DateOnly); got != tt.input {
				t.Errorf("round trip = %q, want %q", got, tt.input)
			}
		})
	}
}

func TestParseTimeSlot(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		granularity time.Duration
		wantErr     bool
	}{
		{"hour slot", "18:00-19:00", time.Hour, false},
		{"half hour slot", "18:30-19:00", 30 * time.Minute, false},
		{"ends at midnight", "23:00-24:00", time.Hour, false},
		{"misaligned", "18:15-19:15", time.Hour, true},
		{"too long", "18:00-20:00", time.Hour, true},
		{"half hour on hourly court", "18:00-18:30", time.Hour, true},
		{"reversed", "19:00-18:00", time.Hour, true},
		{"starts at 24", "24:00-24:00", time.Hour, true},
		{"past midnight", "23:30-24:30", 60 * time.Minute, true},
		{"bad hour", "25:00-26:00", time.Hour, true},
		{"no padding", "9:00-10:00", time.Hour, true},
		{"separator", "18:00_19:00", time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseTimeSlot(tt.input, tt.granularity)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimeSlot) {
					t.Errorf("ParseTimeSlot(%q) error = %v, want ErrInvalidTimeSlot", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeSlot(%q) unexpected error: %v", tt.input, err)
			}
			if ts.String() != tt.input {
				t.Errorf("String() = %q, want %q", ts.String(), tt.input)
			}
		})
	}
}

func TestSlotKey_CompositeIdentity(t *testing.T) {
	// Underscores in ids must not make two distinct keys collide.
	a := SlotKey{ResourceID: "court_1", Date: "2025-03-10", TimeSlot: "18:00-19:00"}
	b := SlotKey{ResourceID: "court", Date: "1_2025-03-10", TimeSlot: "18:00-19:00"}

	seen := map[SlotKey]bool{a: true}
	if seen[b] {
		t.Fatal("distinct keys collided")
	}
	if a.Room() != (RoomKey{ResourceID: "court_1", Date: "2025-03-10"}) {
		t.Errorf("Room() = %+v", a.Room())
	}
	if a.Room().Slot(a.TimeSlot) != a {
		t.Errorf("Room().Slot() did not round trip")
	}
}

func TestSlotLock_Expired(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	held := &SlotLock{State: SlotLocked, ExpiresAt: now}
	if !held.Expired(now) {
		t.Error("lock expiring exactly now should be expired")
	}
	held.ExpiresAt = now.Add(time.Second)
	if held.Expired(now) {
		t.Error("lock with time left should not be expired")
	}
	booked := &SlotLock{State: SlotBooked, ExpiresAt: now.Add(-time.Hour)}
	if booked.Expired(now) {
		t.Error("booked slots never expire")
	}
}
