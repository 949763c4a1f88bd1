package reservation

import (
	"slices"
	"time"

	"courtslots/pkg/model"
)

// Session is the selection a user is building for one resource and date.
// Selected keeps click order and holds no duplicates.
type Session struct {
	Room         model.RoomKey
	Selected     []model.SlotKey
	HoldDeadline time.Time
}

func newSession(room model.RoomKey) *Session {
	return &Session{Room: room}
}

func (s *Session) has(timeSlot string) bool {
	return slices.Contains(s.Selected, s.Room.Slot(timeSlot))
}

func (s *Session) add(timeSlot string) bool {
	if s.has(timeSlot) {
		return false
	}
	s.Selected = append(s.Selected, s.Room.Slot(timeSlot))
	return true
}

func (s *Session) remove(timeSlot string) bool {
	key := s.Room.Slot(timeSlot)
	i := slices.Index(s.Selected, key)
	if i < 0 {
		return false
	}
	s.Selected = slices.Delete(s.Selected, i, i+1)
	if len(s.Selected) == 0 {
		s.HoldDeadline = time.Time{}
	}
	return true
}

// clear empties the selection and returns what it held.
func (s *Session) clear() []model.SlotKey {
	out := s.Selected
	s.Selected = nil
	s.HoldDeadline = time.Time{}
	return out
}

func (s *Session) timeSlots() []string {
	out := make([]string, len(s.Selected))
	for i, k := range s.Selected {
		out[i] = k.TimeSlot
	}
	return out
}

func (s *Session) clone() Session {
	return Session{
		Room:         s.Room,
		Selected:     slices.Clone(s.Selected),
		HoldDeadline: s.HoldDeadline,
	}
}
