// Package manager implements the slot state machine:
//
//	available -> locked -> booked
//	locked -> available (unlock, expiry, disconnect)
//	booked -> available (release after an external cancellation)
//
// All operations on one room run under that room's partition lock, and the
// matching broadcast is emitted before the lock is released, so every viewer
// sees changes in the order they were applied.
package manager

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	slotserrors "courtslots/internal/slots/errors"
	"courtslots/internal/slots/store"
	"courtslots/pkg/config"
	"courtslots/pkg/metrics"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"
)

// BookedRepository persists booked slots so they survive a restart. Held
// locks are never persisted.
type BookedRepository interface {
	SaveBooked(ctx context.Context, locks []model.SlotLock) error
	DeleteBooked(ctx context.Context, keys []model.SlotKey) error
	FindBooked(ctx context.Context) ([]model.SlotLock, error)
}

// Broadcaster delivers an event to every subscriber of a room. It is called
// with the room's partition lock held and must not block.
type Broadcaster interface {
	Broadcast(room model.RoomKey, ev protocol.Event)
}

// Fanout sends every event to each of its broadcasters in order.
type Fanout []Broadcaster

func (f Fanout) Broadcast(room model.RoomKey, ev protocol.Event) {
	for _, b := range f {
		b.Broadcast(room, ev)
	}
}

type Manager struct {
	cfg         *config.Config
	store       *store.Store
	repo        BookedRepository
	broadcaster Broadcaster
	now         func() time.Time
	hold        time.Duration
}

type Option func(*Manager)

// WithClock replaces time.Now. Tests use it to move time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithHoldDuration(d time.Duration) Option {
	return func(m *Manager) { m.hold = d }
}

// New builds a manager. repo may be nil, in which case booked slots live in
// memory only.
func New(cfg *config.Config, st *store.Store, repo BookedRepository, broadcaster Broadcaster, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		store:       st,
		repo:        repo,
		broadcaster: broadcaster,
		now:         time.Now,
		hold:        cfg.HoldDuration,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.hold <= 0 {
		m.hold = config.DefaultHoldDuration
	}
	if m.broadcaster == nil {
		m.broadcaster = Fanout(nil)
	}
	return m
}

func (m *Manager) HoldDuration() time.Duration {
	return m.hold
}

// Lock grants userID an exclusive hold on key. Locking a slot the user
// already holds extends the hold.
func (m *Manager) Lock(ctx context.Context, key model.SlotKey, userID string) (*model.SlotLock, error) {
	if userID == "" {
		return nil, slotserrors.ErrMissingUser
	}

	var granted model.SlotLock
	err := m.store.Update(key.Room(), func(p *store.Partition) error {
		now := m.now()

		existing, ok := p.Get(key)
		if ok && existing.Expired(now) {
			m.expire(p, existing, "lazy")
			ok = false
		}

		if ok {
			switch {
			case existing.State == model.SlotBooked:
				metrics.RecordSlotOp("lock", "already_booked")
				return fmt.Errorf("%w: %s", slotserrors.ErrAlreadyBooked, key.TimeSlot)
			case existing.LockedBy != userID:
				metrics.RecordSlotOp("lock", "already_locked")
				return fmt.Errorf("%w: %s", slotserrors.ErrAlreadyLocked, key.TimeSlot)
			}
			existing.ExpiresAt = now.Add(m.hold)
			granted = existing
			p.Put(granted)
			metrics.RecordSlotOp("lock", "refreshed")
		} else {
			granted = model.SlotLock{
				Key:       key,
				LockedBy:  userID,
				ExpiresAt: now.Add(m.hold),
				State:     model.SlotLocked,
				CreatedAt: now,
			}
			p.Put(granted)
			metrics.RecordSlotOp("lock", "granted")
			metrics.AddActiveHolds(1)
		}

		m.broadcaster.Broadcast(key.Room(), protocol.Event{
			Name: protocol.EventSlotLocked,
			Data: protocol.SlotLocked{
				ResourceID: key.ResourceID,
				Date:       key.Date,
				TimeSlot:   key.TimeSlot,
				LockedBy:   userID,
				ExpiresAt:  granted.ExpiresAt,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.cfg.Log.Debug("Slot locked",
		"slot", key.String(),
		"user_id", userID,
		"expires_at", granted.ExpiresAt,
	)
	return &granted, nil
}

// Unlock drops userID's hold on key. Missing locks, locks owned by someone
// else and booked slots are silently ignored: the caller may be racing an
// expiry, so unlocking is never an error.
func (m *Manager) Unlock(ctx context.Context, key model.SlotKey, userID string) error {
	if userID == "" {
		return slotserrors.ErrMissingUser
	}

	return m.store.Update(key.Room(), func(p *store.Partition) error {
		existing, ok := p.Get(key)
		if !ok || existing.State != model.SlotLocked || existing.LockedBy != userID {
			metrics.RecordSlotOp("unlock", "noop")
			return nil
		}
		m.remove(p, existing)
		metrics.RecordSlotOp("unlock", "released")
		return nil
	})
}

// Confirm turns the listed holds into bookings, all or nothing. It is
// called after the booking service has durably recorded bookingRef.
//
// A slot counts as missing when it has no record, or when holder is set and
// the slot is held by someone else. Any missing slot fails the whole call
// with ErrHoldExpired and changes nothing. A hold that has expired but not
// yet been swept is still confirmable. Slots that are already booked are
// skipped.
func (m *Manager) Confirm(ctx context.Context, room model.RoomKey, timeSlots []string, bookingRef, holder string) error {
	timeSlots = dedupe(timeSlots)

	err := m.store.Update(room, func(p *store.Partition) error {
		var (
			missing []string
			flip    []model.SlotLock
		)
		for _, ts := range timeSlots {
			existing, ok := p.Get(room.Slot(ts))
			switch {
			case ok && existing.State == model.SlotBooked:
				continue
			case !ok, holder != "" && existing.LockedBy != holder:
				missing = append(missing, ts)
			default:
				flip = append(flip, existing)
			}
		}

		if len(missing) > 0 {
			metrics.RecordSlotOp("confirm", "hold_expired")
			return fmt.Errorf("%w: %s", slotserrors.ErrHoldExpired, strings.Join(missing, ", "))
		}
		if len(flip) == 0 {
			metrics.RecordSlotOp("confirm", "noop")
			return nil
		}

		booked := make([]model.SlotLock, len(flip))
		for i, l := range flip {
			l.State = model.SlotBooked
			l.BookingRef = bookingRef
			l.ExpiresAt = time.Time{}
			booked[i] = l
		}

		if m.repo != nil {
			if err := m.repo.SaveBooked(ctx, booked); err != nil {
				metrics.RecordSlotOp("confirm", "persist_failed")
				return fmt.Errorf("persist booked slots: %w", err)
			}
		}

		confirmed := make([]string, len(booked))
		for i, l := range booked {
			p.Put(l)
			confirmed[i] = l.Key.TimeSlot
		}
		metrics.RecordSlotOp("confirm", "booked")
		metrics.AddActiveHolds(-len(booked))

		m.broadcaster.Broadcast(room, protocol.Event{
			Name: protocol.EventSlotBooked,
			Data: protocol.SlotsChanged{ResourceID: room.ResourceID, Date: room.Date, TimeSlots: confirmed},
		})
		return nil
	})
	if err != nil {
		return err
	}

	m.cfg.Log.Info("Slots confirmed",
		"room", room.String(),
		"time_slots", timeSlots,
		"booking_ref", bookingRef,
	)
	return nil
}

// Release makes booked slots available again after a cancellation. Slots
// that are not booked are ignored. When bookingRef is set, slots booked
// under another reference are ignored too, so a replayed cancellation
// cannot free a later booking of the same slot.
func (m *Manager) Release(ctx context.Context, room model.RoomKey, timeSlots []string, bookingRef string) error {
	timeSlots = dedupe(timeSlots)

	var released []string
	err := m.store.Update(room, func(p *store.Partition) error {
		var keys []model.SlotKey
		for _, ts := range timeSlots {
			existing, ok := p.Get(room.Slot(ts))
			if !ok || existing.State != model.SlotBooked {
				continue
			}
			if bookingRef != "" && existing.BookingRef != bookingRef {
				metrics.RecordSlotOp("release", "other_booking")
				continue
			}
			keys = append(keys, existing.Key)
		}
		if len(keys) == 0 {
			metrics.RecordSlotOp("release", "noop")
			return nil
		}

		if m.repo != nil {
			if err := m.repo.DeleteBooked(ctx, keys); err != nil {
				metrics.RecordSlotOp("release", "persist_failed")
				return fmt.Errorf("delete booked slots: %w", err)
			}
		}

		for _, k := range keys {
			p.Delete(k)
			released = append(released, k.TimeSlot)
		}
		metrics.RecordSlotOp("release", "released")

		m.broadcaster.Broadcast(room, protocol.Event{
			Name: protocol.EventSlotCancelled,
			Data: protocol.SlotsChanged{ResourceID: room.ResourceID, Date: room.Date, TimeSlots: released},
		})
		return nil
	})
	if err != nil {
		return err
	}

	if len(released) > 0 {
		m.cfg.Log.Info("Booked slots released", "room", room.String(), "time_slots", released)
	}
	return nil
}

// Sweep removes every hold whose deadline is at or before now and returns
// how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	expired := 0
	for _, room := range m.store.Rooms() {
		_ = m.store.Update(room, func(p *store.Partition) error {
			for _, l := range p.All() {
				if l.Expired(now) {
					m.expire(p, l, "sweep")
					expired++
				}
			}
			return nil
		})
	}
	return expired
}

// Run sweeps on every tick of the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.cfg.Log.Info("Expiry sweeper started", "interval", interval, "hold_duration", m.hold)
	for {
		select {
		case <-ctx.Done():
			m.cfg.Log.Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				m.cfg.Log.Info("Expired holds swept", "count", n)
			}
		}
	}
}

// Snapshot returns what a viewer joining room needs to render: live holds
// of other users plus every booked slot. The requester's own holds are
// tracked client side and left out.
func (m *Manager) Snapshot(room model.RoomKey, requesterID string) []model.SlotLock {
	var out []model.SlotLock
	m.SnapshotFunc(room, requesterID, func(locks []model.SlotLock) {
		out = locks
	})
	return out
}

// SnapshotFunc passes the snapshot to fn while the room is still locked.
// A subscriber registered and sent the snapshot inside fn cannot receive a
// broadcast that the snapshot already reflects, nor miss one it does not.
func (m *Manager) SnapshotFunc(room model.RoomKey, requesterID string, fn func([]model.SlotLock)) {
	now := m.now()
	m.store.View(room, func(p *store.Partition) {
		var out []model.SlotLock
		for _, l := range p.All() {
			switch {
			case l.State == model.SlotBooked:
				out = append(out, l)
			case l.Expired(now), l.LockedBy == requesterID:
			default:
				out = append(out, l)
			}
		}
		fn(out)
	})
}

// Disconnect releases every hold userID has, in every room, as if each
// had been unlocked. It returns the number of holds released.
func (m *Manager) Disconnect(ctx context.Context, userID string) int {
	if userID == "" {
		return 0
	}

	released := 0
	for _, room := range m.store.Rooms() {
		_ = m.store.Update(room, func(p *store.Partition) error {
			for _, l := range p.All() {
				if l.State == model.SlotLocked && l.LockedBy == userID {
					m.remove(p, l)
					released++
				}
			}
			return nil
		})
	}

	if released > 0 {
		metrics.RecordSlotOp("disconnect", "released")
		m.cfg.Log.Info("Released holds of disconnected user", "user_id", userID, "count", released)
	}
	return released
}

// HeldBy checks that userID still has a live hold on every listed slot.
// Unlike Confirm it treats an expired hold as lost.
func (m *Manager) HeldBy(room model.RoomKey, timeSlots []string, userID string) error {
	now := m.now()

	var (
		missing []string
		booked  []string
	)
	m.store.View(room, func(p *store.Partition) {
		for _, ts := range dedupe(timeSlots) {
			l, ok := p.Get(room.Slot(ts))
			switch {
			case ok && l.State == model.SlotBooked:
				booked = append(booked, ts)
			case !ok, l.LockedBy != userID, l.Expired(now):
				missing = append(missing, ts)
			}
		}
	})

	if len(booked) > 0 {
		return fmt.Errorf("%w: %s", slotserrors.ErrAlreadyBooked, strings.Join(booked, ", "))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", slotserrors.ErrHoldExpired, strings.Join(missing, ", "))
	}
	return nil
}

// Restore loads persisted bookings into the store. Call it once before
// serving traffic.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}

	booked, err := m.repo.FindBooked(ctx)
	if err != nil {
		return 0, fmt.Errorf("load booked slots: %w", err)
	}

	for _, l := range booked {
		l.State = model.SlotBooked
		_ = m.store.Update(l.Key.Room(), func(p *store.Partition) error {
			p.Put(l)
			return nil
		})
	}

	m.cfg.Log.Info("Booked slots restored", "count", len(booked))
	return len(booked), nil
}

// remove deletes a live hold and tells the room.
func (m *Manager) remove(p *store.Partition, l model.SlotLock) {
	p.Delete(l.Key)
	metrics.AddActiveHolds(-1)
	m.broadcaster.Broadcast(l.Key.Room(), protocol.Event{
		Name: protocol.EventSlotUnlocked,
		Data: protocol.SlotUnlocked{
			ResourceID: l.Key.ResourceID,
			Date:       l.Key.Date,
			TimeSlot:   l.Key.TimeSlot,
		},
	})
}

func (m *Manager) expire(p *store.Partition, l model.SlotLock, how string) {
	m.remove(p, l)
	metrics.RecordSlotOp("expire", how)
	m.cfg.Log.Debug("Hold expired", "slot", l.Key.String(), "user_id", l.LockedBy, "via", how)
}

func dedupe(timeSlots []string) []string {
	out := make([]string, 0, len(timeSlots))
	for _, ts := range timeSlots {
		if !slices.Contains(out, ts) {
			out = append(out, ts)
		}
	}
	return out
}
