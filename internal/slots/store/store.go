// Package store holds the live slot table. Slots are partitioned by room
// (resource and date); every partition has its own mutex so that rooms are
// processed in parallel while operations inside one room are serialized.
package store

import (
	"sort"
	"sync"

	"courtslots/pkg/model"
)

type Store struct {
	mu    sync.Mutex
	parts map[model.RoomKey]*Partition
}

// Partition is only reachable inside Update/View, with its mutex held.
type Partition struct {
	mu    sync.Mutex
	refs  int
	slots map[model.SlotKey]model.SlotLock
}

func New() *Store {
	return &Store{parts: make(map[model.RoomKey]*Partition)}
}

// Update runs fn with exclusive access to the room's partition.
func (s *Store) Update(room model.RoomKey, fn func(p *Partition) error) error {
	p := s.acquire(room)
	defer s.release(room, p)
	return fn(p)
}

// View is Update for callers that only read.
func (s *Store) View(room model.RoomKey, fn func(p *Partition)) {
	p := s.acquire(room)
	defer s.release(room, p)
	fn(p)
}

// Rooms lists rooms that currently hold at least one slot, in a stable order.
func (s *Store) Rooms() []model.RoomKey {
	s.mu.Lock()
	rooms := make([]model.RoomKey, 0, len(s.parts))
	for room := range s.parts {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].ResourceID != rooms[j].ResourceID {
			return rooms[i].ResourceID < rooms[j].ResourceID
		}
		return rooms[i].Date < rooms[j].Date
	})
	return rooms
}

func (s *Store) acquire(room model.RoomKey) *Partition {
	s.mu.Lock()
	p, ok := s.parts[room]
	if !ok {
		p = &Partition{slots: make(map[model.SlotKey]model.SlotLock)}
		s.parts[room] = p
	}
	p.refs++
	s.mu.Unlock()

	p.mu.Lock()
	return p
}

// release drops an empty partition once nobody holds or waits for it, so a
// later acquire never lands on a detached partition. With refs at zero no
// other goroutine can touch p.slots, so reading it under s.mu is safe.
func (s *Store) release(room model.RoomKey, p *Partition) {
	p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	p.refs--
	if p.refs == 0 && len(p.slots) == 0 {
		delete(s.parts, room)
	}
}

func (p *Partition) Get(key model.SlotKey) (model.SlotLock, bool) {
	l, ok := p.slots[key]
	return l, ok
}

func (p *Partition) Put(l model.SlotLock) {
	p.slots[l.Key] = l
}

func (p *Partition) Delete(key model.SlotKey) {
	delete(p.slots, key)
}

func (p *Partition) Len() int {
	return len(p.slots)
}

// All returns the partition's slots ordered by time slot.
func (p *Partition) All() []model.SlotLock {
	out := make([]model.SlotLock, 0, len(p.slots))
	for _, l := range p.slots {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.TimeSlot < out[j].Key.TimeSlot
	})
	return out
}
