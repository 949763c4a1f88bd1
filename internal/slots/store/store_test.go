package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"courtslots/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var room = model.RoomKey{ResourceID: "court-1", Date: "2025-03-10"}

func TestStore_PutGetDelete(t *testing.T) {
	s := New()
	key := room.Slot("18:00-19:00")

	require.NoError(t, s.Update(room, func(p *Partition) error {
		p.Put(model.SlotLock{Key: key, LockedBy: "alice", State: model.SlotLocked})
		return nil
	}))

	s.View(room, func(p *Partition) {
		got, ok := p.Get(key)
		require.True(t, ok)
		assert.Equal(t, "alice", got.LockedBy)
	})
	assert.Equal(t, []model.RoomKey{room}, s.Rooms())

	require.NoError(t, s.Update(room, func(p *Partition) error {
		p.Delete(key)
		return nil
	}))
	assert.Empty(t, s.Rooms(), "empty partitions are dropped")
}

func TestStore_UpdatePropagatesError(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	err := s.Update(room, func(p *Partition) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Rooms())
}

func TestStore_AllSortedByTimeSlot(t *testing.T) {
	s := New()
	_ = s.Update(room, func(p *Partition) error {
		for _, ts := range []string{"20:00-21:00", "08:00-09:00", "18:00-19:00"} {
			p.Put(model.SlotLock{Key: room.Slot(ts), State: model.SlotBooked})
		}
		return nil
	})

	var got []string
	s.View(room, func(p *Partition) {
		for _, l := range p.All() {
			got = append(got, l.Key.TimeSlot)
		}
	})
	assert.Equal(t, []string{"08:00-09:00", "18:00-19:00", "20:00-21:00"}, got)
}

// Concurrent check-then-act on one key must grant exactly once.
func TestStore_SerializesCheckThenAct(t *testing.T) {
	s := New()
	key := room.Slot("18:00-19:00")

	const workers = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update(room, func(p *Partition) error {
				if _, taken := p.Get(key); taken {
					return nil
				}
				time.Sleep(time.Microsecond)
				p.Put(model.SlotLock{Key: key, State: model.SlotLocked})
				mu.Lock()
				granted++
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, granted)
}

func TestStore_RoomsAreIndependent(t *testing.T) {
	s := New()
	other := model.RoomKey{ResourceID: "court-1", Date: "2025-03-11"}

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(room, func(p *Partition) error {
			close(entered)
			<-done
			return nil
		})
	}()
	<-entered

	finished := make(chan struct{})
	go func() {
		s.View(other, func(p *Partition) {})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("a busy room blocked another room")
	}
	close(done)
}
