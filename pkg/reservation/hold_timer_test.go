package reservation

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldTimer_Fires(t *testing.T) {
	timer := NewHoldTimer()
	fired := make(chan uint64, 1)

	gen := timer.Start(20*time.Millisecond, func(g uint64) { fired <- g })
	assert.True(t, timer.Active(gen))
	assert.Greater(t, timer.Remaining(), time.Duration(0))

	select {
	case g := <-fired:
		assert.Equal(t, gen, g)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestHoldTimer_CancelPreventsCallback(t *testing.T) {
	timer := NewHoldTimer()
	var calls atomic.Int32

	gen := timer.Start(20*time.Millisecond, func(uint64) { calls.Add(1) })
	assert.True(t, timer.Cancel())
	assert.False(t, timer.Active(gen))
	assert.False(t, timer.Cancel(), "second cancel finds nothing armed")

	_, armed := timer.Deadline()
	assert.False(t, armed)
	assert.Zero(t, timer.Remaining())

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestHoldTimer_RestartReplacesDeadline(t *testing.T) {
	timer := NewHoldTimer()
	fired := make(chan uint64, 2)

	first := timer.Start(20*time.Millisecond, func(g uint64) { fired <- g })
	second := timer.Start(time.Hour, func(g uint64) { fired <- g })
	assert.NotEqual(t, first, second)
	assert.False(t, timer.Active(first))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, fired)

	deadline, armed := timer.Deadline()
	require.True(t, armed)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Second)
	timer.Cancel()
}

func TestHoldTimer_PastDeadlineFiresImmediately(t *testing.T) {
	timer := NewHoldTimer()
	fired := make(chan struct{})

	timer.StartAt(time.Now().Add(-time.Second), func(uint64) { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("past deadline did not fire")
	}
}
