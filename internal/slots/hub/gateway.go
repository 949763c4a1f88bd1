package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	slotserrors "courtslots/internal/slots/errors"
	"courtslots/internal/slots/validator"
	"courtslots/pkg/config"
	httputil "courtslots/pkg/http"
	"courtslots/pkg/metrics"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// SlotManager is the part of the lock manager the gateway drives.
type SlotManager interface {
	Lock(ctx context.Context, key model.SlotKey, userID string) (*model.SlotLock, error)
	Unlock(ctx context.Context, key model.SlotKey, userID string) error
	SnapshotFunc(room model.RoomKey, requesterID string, fn func([]model.SlotLock))
	Disconnect(ctx context.Context, userID string) int
}

// Gateway upgrades HTTP requests to websocket connections and turns client
// frames into lock manager calls.
type Gateway struct {
	cfg       *config.Config
	hub       *Hub
	manager   SlotManager
	validator *validator.SlotValidator
	upgrader  websocket.Upgrader
	users     userGate
}

func NewGateway(cfg *config.Config, hub *Hub, manager SlotManager, v *validator.SlotValidator) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		hub:       hub,
		manager:   manager,
		validator: v,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// checkOrigin allows every origin when none are configured. Requests
// without an Origin header come from non-browser clients.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.WSAllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(g.cfg.WSAllowedOrigins, origin)
}

func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.UserID(r)
	if err != nil {
		_ = httputil.WriteError(w, err)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.cfg.Log.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	c := NewConn(ws, userID, g.cfg.WSSendQueueSize)
	unlock := g.users.lock(userID)
	g.hub.Register(c)
	unlock()
	metrics.ConnectionOpened()
	g.cfg.Log.Info("Realtime client connected", "conn_id", c.ID, "user_id", userID)

	go c.writePump(g.cfg.WSPingInterval, g.cfg.WSWriteWait)
	g.readPump(c)

	c.Close()

	// A reconnect of the same user waits here until the holds of the
	// previous connection are gone, so Disconnect never sees its locks.
	unlock = g.users.lock(userID)
	last := g.hub.Unregister(c)
	released := 0
	if last {
		released = g.manager.Disconnect(context.Background(), userID)
	}
	unlock()
	metrics.ConnectionClosed()
	g.cfg.Log.Info("Realtime client disconnected",
		"conn_id", c.ID,
		"user_id", userID,
		"last_connection", last,
		"released_holds", released,
	)
}

// userGate is a mutex per user ID. Entries are dropped once no goroutine
// holds or waits for them.
type userGate struct {
	mu    sync.Mutex
	users map[string]*userEntry
}

type userEntry struct {
	mu   sync.Mutex
	refs int
}

func (u *userGate) lock(userID string) (unlock func()) {
	u.mu.Lock()
	if u.users == nil {
		u.users = make(map[string]*userEntry)
	}
	e, ok := u.users[userID]
	if !ok {
		e = &userEntry{}
		u.users[userID] = e
	}
	e.refs++
	u.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		u.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(u.users, userID)
		}
		u.mu.Unlock()
	}
}

func (g *Gateway) readPump(c *Conn) {
	c.ws.SetReadLimit(int64(g.cfg.WSMaxMessageSize))
	_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.WSPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.cfg.WSPongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(g.cfg.LockRateLimit), g.cfg.LockRateBurst)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.cfg.Log.Debug("Websocket read failed", "conn_id", c.ID, "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply("", protocol.EventError, protocol.ErrorPayload{
				Message: protocol.ReasonInvalidRequest,
				Detail:  "malformed frame",
			})
			continue
		}
		g.dispatch(c, env, limiter)
	}
}

func (g *Gateway) dispatch(c *Conn, env protocol.Envelope, limiter *rate.Limiter) {
	ctx := context.Background()

	switch env.Event {
	case protocol.EventLock:
		g.handleLock(ctx, c, env, limiter)
	case protocol.EventUnlock:
		g.handleUnlock(ctx, c, env)
	case protocol.EventJoin:
		g.handleJoin(c, env)
	case protocol.EventLeave:
		g.handleLeave(c, env)
	default:
		c.reply(env.ID, protocol.EventError, protocol.ErrorPayload{
			Message: protocol.ReasonInvalidRequest,
			Detail:  "unknown event " + env.Event,
		})
	}
}

func (g *Gateway) handleLock(ctx context.Context, c *Conn, env protocol.Envelope, limiter *rate.Limiter) {
	if !limiter.Allow() {
		c.reply(env.ID, protocol.EventLockError, protocol.ErrorPayload{Message: protocol.ReasonRateLimited})
		return
	}

	key, ok := g.decodeSlot(c, env, protocol.EventLockError)
	if !ok {
		return
	}

	lock, err := g.manager.Lock(ctx, key, c.UserID)
	if err != nil {
		c.reply(env.ID, protocol.EventLockError, lockErrorPayload(err))
		if !errors.Is(err, slotserrors.ErrAlreadyLocked) && !errors.Is(err, slotserrors.ErrAlreadyBooked) {
			g.cfg.Log.Error("Lock failed", "slot", key.String(), "user_id", c.UserID, "error", err)
		}
		return
	}

	c.reply(env.ID, protocol.EventLockSuccess, protocol.LockSuccess{
		ResourceID: key.ResourceID,
		Date:       key.Date,
		TimeSlot:   key.TimeSlot,
		ExpiresAt:  lock.ExpiresAt,
	})
}

func (g *Gateway) handleUnlock(ctx context.Context, c *Conn, env protocol.Envelope) {
	key, ok := g.decodeSlot(c, env, protocol.EventUnlockError)
	if !ok {
		return
	}

	if err := g.manager.Unlock(ctx, key, c.UserID); err != nil {
		c.reply(env.ID, protocol.EventUnlockError, protocol.ErrorPayload{
			Message: protocol.ReasonInternal,
			Detail:  err.Error(),
		})
		return
	}
	c.reply(env.ID, protocol.EventUnlockSuccess, protocol.UnlockSuccess{
		ResourceID: key.ResourceID,
		Date:       key.Date,
		TimeSlot:   key.TimeSlot,
	})
}

// handleJoin subscribes the connection. For a dated room the reply is the
// locked:slots snapshot, registered and queued under the room lock so no
// broadcast can overtake it.
func (g *Gateway) handleJoin(c *Conn, env protocol.Envelope) {
	room, ok := g.decodeRoom(c, env)
	if !ok {
		return
	}

	if room.Date == "" {
		g.hub.Join(c, room)
		c.reply(env.ID, protocol.EventJoinSuccess, protocol.RoomRequest{ResourceID: room.ResourceID})
		return
	}

	g.manager.SnapshotFunc(room, c.UserID, func(locks []model.SlotLock) {
		g.hub.Join(c, room)
		c.reply(env.ID, protocol.EventLockedSlots, SnapshotPayload(room, locks))
	})
}

func (g *Gateway) handleLeave(c *Conn, env protocol.Envelope) {
	room, ok := g.decodeRoom(c, env)
	if !ok {
		return
	}
	g.hub.Leave(c, room)
	c.reply(env.ID, protocol.EventLeaveSuccess, protocol.RoomRequest{ResourceID: room.ResourceID, Date: room.Date})
}

func (g *Gateway) decodeSlot(c *Conn, env protocol.Envelope, errEvent string) (model.SlotKey, bool) {
	var req protocol.SlotRequest
	if err := env.Decode(&req); err != nil {
		c.reply(env.ID, errEvent, protocol.ErrorPayload{Message: protocol.ReasonInvalidRequest, Detail: err.Error()})
		return model.SlotKey{}, false
	}

	key := model.SlotKey{ResourceID: req.ResourceID, Date: req.Date, TimeSlot: req.TimeSlot}
	if err := g.validator.ValidateSlotKey(key); err != nil {
		c.reply(env.ID, errEvent, protocol.ErrorPayload{Message: protocol.ReasonInvalidRequest, Detail: err.Error()})
		return model.SlotKey{}, false
	}
	return key, true
}

func (g *Gateway) decodeRoom(c *Conn, env protocol.Envelope) (model.RoomKey, bool) {
	var req protocol.RoomRequest
	if err := env.Decode(&req); err != nil {
		c.reply(env.ID, protocol.EventError, protocol.ErrorPayload{Message: protocol.ReasonInvalidRequest, Detail: err.Error()})
		return model.RoomKey{}, false
	}

	room := model.RoomKey{ResourceID: req.ResourceID, Date: req.Date}
	if err := g.validator.ValidateRoom(room, true); err != nil {
		c.reply(env.ID, protocol.EventError, protocol.ErrorPayload{Message: protocol.ReasonInvalidRequest, Detail: err.Error()})
		return model.RoomKey{}, false
	}
	return room, true
}

func lockErrorPayload(err error) protocol.ErrorPayload {
	switch {
	case errors.Is(err, slotserrors.ErrAlreadyLocked):
		return protocol.ErrorPayload{Message: protocol.ReasonAlreadyLocked}
	case errors.Is(err, slotserrors.ErrAlreadyBooked):
		return protocol.ErrorPayload{Message: protocol.ReasonAlreadyBooked}
	default:
		return protocol.ErrorPayload{Message: protocol.ReasonInternal}
	}
}

// SnapshotPayload renders a manager snapshot as a locked:slots message.
func SnapshotPayload(room model.RoomKey, locks []model.SlotLock) protocol.LockedSlots {
	out := protocol.LockedSlots{
		ResourceID:  room.ResourceID,
		Date:        room.Date,
		LockedSlots: make([]protocol.LockedSlot, 0, len(locks)),
	}
	for _, l := range locks {
		slot := protocol.LockedSlot{
			TimeSlot: l.Key.TimeSlot,
			State:    string(l.State),
		}
		if l.State == model.SlotLocked {
			slot.LockedBy = l.LockedBy
			slot.ExpiresAt = l.ExpiresAt
		}
		out.LockedSlots = append(out.LockedSlots, slot)
	}
	return out
}
