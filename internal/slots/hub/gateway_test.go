package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courtslots/internal/slots/manager"
	"courtslots/internal/slots/store"
	"courtslots/internal/slots/validator"
	"courtslots/pkg/config"
	"courtslots/pkg/logger"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoom = model.RoomKey{ResourceID: "C1", Date: "2025-03-10"}

func testConfig() *config.Config {
	return &config.Config{
		HoldDuration:     5 * time.Minute,
		SweepInterval:    time.Second,
		SlotGranularity:  time.Hour,
		WSSendQueueSize:  32,
		WSPingInterval:   time.Second,
		WSPongWait:       5 * time.Second,
		WSWriteWait:      time.Second,
		WSMaxMessageSize: 4096,
		LockRateLimit:    100,
		LockRateBurst:    100,
		Log:              logger.Discard(),
	}
}

type harness struct {
	server  *httptest.Server
	hub     *Hub
	manager *manager.Manager
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := NewHub(cfg)
	m := manager.New(cfg, store.New(), nil, h)
	v := validator.NewSlotValidator(cfg.Log, cfg.GranularityFor)
	g := NewGateway(cfg, h, m, v)

	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	t.Cleanup(srv.Close)
	return &harness{server: srv, hub: h, manager: m}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (h *harness) dial(t *testing.T, user string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	header := http.Header{}
	header.Set("X-User-ID", user)

	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(id, event string, data any) {
	c.t.Helper()
	frame, err := protocol.Encode(id, event, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, frame))
}

// next reads frames until one with the given event arrives.
func (c *client) next(event string) protocol.Envelope {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.ws.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", event)
		var env protocol.Envelope
		require.NoError(c.t, json.Unmarshal(data, &env))
		if env.Event == event {
			return env
		}
	}
}

func (c *client) join(room model.RoomKey) protocol.LockedSlots {
	c.send("join-1", protocol.EventJoin, protocol.RoomRequest{ResourceID: room.ResourceID, Date: room.Date})
	env := c.next(protocol.EventLockedSlots)
	assert.Equal(c.t, "join-1", env.ID)
	var snap protocol.LockedSlots
	require.NoError(c.t, env.Decode(&snap))
	return snap
}

func slotReq(ts string) protocol.SlotRequest {
	return protocol.SlotRequest{ResourceID: testRoom.ResourceID, Date: testRoom.Date, TimeSlot: ts}
}

func TestGateway_RequiresUser(t *testing.T) {
	h := newHarness(t, testConfig())
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_LockContentionAndBroadcast(t *testing.T) {
	h := newHarness(t, testConfig())
	a := h.dial(t, "A")
	b := h.dial(t, "B")

	a.join(testRoom)
	b.join(testRoom)

	a.send("r1", protocol.EventLock, slotReq("18:00-19:00"))
	ok := a.next(protocol.EventLockSuccess)
	assert.Equal(t, "r1", ok.ID)

	var locked protocol.SlotLocked
	require.NoError(t, b.next(protocol.EventSlotLocked).Decode(&locked))
	assert.Equal(t, "A", locked.LockedBy)
	assert.Equal(t, "18:00-19:00", locked.TimeSlot)

	b.send("r2", protocol.EventLock, slotReq("18:00-19:00"))
	rejected := b.next(protocol.EventLockError)
	assert.Equal(t, "r2", rejected.ID)
	var payload protocol.ErrorPayload
	require.NoError(t, rejected.Decode(&payload))
	assert.Equal(t, protocol.ReasonAlreadyLocked, payload.Message)
}

func TestGateway_SnapshotOnJoin(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.manager.Lock(ctx, testRoom.Slot("08:00-09:00"), "A")
	require.NoError(t, err)
	_, err = h.manager.Lock(ctx, testRoom.Slot("09:00-10:00"), "B")
	require.NoError(t, err)

	c := h.dial(t, "C")
	snap := c.join(testRoom)
	require.Len(t, snap.LockedSlots, 2)
	assert.Equal(t, "A", snap.LockedSlots[0].LockedBy)
	assert.Equal(t, "B", snap.LockedSlots[1].LockedBy)
}

func TestGateway_InvalidSlotRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	a := h.dial(t, "A")

	a.send("r1", protocol.EventLock, slotReq("18:30-19:30"))
	env := a.next(protocol.EventLockError)
	var payload protocol.ErrorPayload
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, protocol.ReasonInvalidRequest, payload.Message)
}

func TestGateway_UnlockIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	a := h.dial(t, "A")

	a.send("r1", protocol.EventUnlock, slotReq("18:00-19:00"))
	assert.Equal(t, "r1", a.next(protocol.EventUnlockSuccess).ID)
	a.send("r2", protocol.EventUnlock, slotReq("18:00-19:00"))
	assert.Equal(t, "r2", a.next(protocol.EventUnlockSuccess).ID)
}

func TestGateway_RateLimitsLocks(t *testing.T) {
	cfg := testConfig()
	cfg.LockRateLimit = 0.001
	cfg.LockRateBurst = 1
	h := newHarness(t, cfg)
	a := h.dial(t, "A")

	a.send("r1", protocol.EventLock, slotReq("18:00-19:00"))
	a.next(protocol.EventLockSuccess)

	a.send("r2", protocol.EventLock, slotReq("19:00-20:00"))
	var payload protocol.ErrorPayload
	require.NoError(t, a.next(protocol.EventLockError).Decode(&payload))
	assert.Equal(t, protocol.ReasonRateLimited, payload.Message)
}

func TestGateway_LastDisconnectReleasesHolds(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	tab1 := h.dial(t, "A")
	tab2 := h.dial(t, "A")
	watcher := h.dial(t, "W")
	watcher.join(testRoom)

	tab1.send("r1", protocol.EventLock, slotReq("18:00-19:00"))
	tab1.next(protocol.EventLockSuccess)
	watcher.next(protocol.EventSlotLocked)

	require.NoError(t, tab1.ws.Close())
	require.Eventually(t, func() bool { return h.hub.UserConnections("A") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, h.manager.Snapshot(testRoom, "W"), 1, "another tab is still open")

	require.NoError(t, tab2.ws.Close())
	var unlocked protocol.SlotUnlocked
	require.NoError(t, watcher.next(protocol.EventSlotUnlocked).Decode(&unlocked))
	assert.Equal(t, "18:00-19:00", unlocked.TimeSlot)

	_, err := h.manager.Lock(ctx, testRoom.Slot("18:00-19:00"), "W")
	assert.NoError(t, err)
}

// pausingManager blocks Disconnect until resume is closed.
type pausingManager struct {
	*manager.Manager
	entered chan string
	resume  chan struct{}
}

func (p *pausingManager) Disconnect(ctx context.Context, userID string) int {
	select {
	case p.entered <- userID:
	default:
	}
	<-p.resume
	return p.Manager.Disconnect(ctx, userID)
}

func TestGateway_ReconnectDuringDisconnectKeepsNewHold(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	pm := &pausingManager{
		Manager: h.manager,
		entered: make(chan string, 1),
		resume:  make(chan struct{}),
	}
	g := NewGateway(cfg, h.hub, pm, validator.NewSlotValidator(cfg.Log, cfg.GranularityFor))
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	t.Cleanup(srv.Close)
	h.server = srv

	old := h.dial(t, "A")
	old.send("r1", protocol.EventLock, slotReq("18:00-19:00"))
	old.next(protocol.EventLockSuccess)
	require.NoError(t, old.ws.Close())

	select {
	case user := <-pm.entered:
		assert.Equal(t, "A", user)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect was not reached")
	}

	fresh := h.dial(t, "A")
	fresh.send("r2", protocol.EventLock, slotReq("19:00-20:00"))
	assert.Never(t, func() bool { return h.hub.UserConnections("A") > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"reconnect must wait for the previous teardown")

	close(pm.resume)
	assert.Equal(t, "r2", fresh.next(protocol.EventLockSuccess).ID)

	snap := h.manager.Snapshot(testRoom, "W")
	require.Len(t, snap, 1)
	assert.Equal(t, "19:00-20:00", snap[0].Key.TimeSlot)
	assert.Equal(t, "A", snap[0].LockedBy)
	assert.Equal(t, 1, h.hub.UserConnections("A"))
}

func TestUserGate_SerializesPerUser(t *testing.T) {
	var gate userGate

	unlockA := gate.lock("A")
	unlockB := gate.lock("B")
	unlockB()

	acquired := make(chan struct{})
	go func() {
		unlock := gate.lock("A")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock for the same user did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}

	require.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		return len(gate.users) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestGateway_ResourceRoomSeesAllDates(t *testing.T) {
	h := newHarness(t, testConfig())
	watcher := h.dial(t, "W")
	watcher.send("j1", protocol.EventJoin, protocol.RoomRequest{ResourceID: "C1"})
	assert.Equal(t, "j1", watcher.next(protocol.EventJoinSuccess).ID)

	_, err := h.manager.Lock(context.Background(), model.SlotKey{ResourceID: "C1", Date: "2025-03-12", TimeSlot: "10:00-11:00"}, "A")
	require.NoError(t, err)

	var locked protocol.SlotLocked
	require.NoError(t, watcher.next(protocol.EventSlotLocked).Decode(&locked))
	assert.Equal(t, "2025-03-12", locked.Date)
}

func TestGateway_UnknownEvent(t *testing.T) {
	h := newHarness(t, testConfig())
	a := h.dial(t, "A")
	a.send("x", "teleport", map[string]string{})
	assert.Equal(t, "x", a.next(protocol.EventError).ID)
}
