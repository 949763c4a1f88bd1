// Package hub is the server side of the realtime channel: it tracks open
// websocket connections and the rooms they subscribe to, and fans lock
// manager events out to them.
package hub

import (
	"sync"

	"courtslots/pkg/config"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"
)

// Hub is safe for concurrent use. Broadcast never blocks: a connection
// whose send queue is full is closed instead.
type Hub struct {
	cfg *config.Config

	mu    sync.RWMutex
	conns map[*Conn]struct{}
	users map[string]int
	// A RoomKey with an empty Date is the resource-wide room.
	rooms map[model.RoomKey]map[*Conn]struct{}
}

func NewHub(cfg *config.Config) *Hub {
	return &Hub{
		cfg:   cfg,
		conns: make(map[*Conn]struct{}),
		users: make(map[string]int),
		rooms: make(map[model.RoomKey]map[*Conn]struct{}),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		return
	}
	h.conns[c] = struct{}{}
	h.users[c.UserID]++
}

// Unregister removes c from the hub and every room it joined. It reports
// whether c was the user's last open connection.
func (h *Hub) Unregister(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	delete(h.conns, c)

	for room := range c.rooms {
		h.removeLocked(c, room)
	}

	h.users[c.UserID]--
	if h.users[c.UserID] > 0 {
		return false
	}
	delete(h.users, c.UserID)
	return true
}

// Join subscribes c to room. Joining twice is harmless.
func (h *Hub) Join(c *Conn, room model.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Conn, room model.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, room)
}

func (h *Hub) removeLocked(c *Conn, room model.RoomKey) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast delivers ev to the room and to the resource-wide room of the
// same resource. The frame is encoded once.
func (h *Hub) Broadcast(room model.RoomKey, ev protocol.Event) {
	frame, err := protocol.Encode("", ev.Name, ev.Data)
	if err != nil {
		h.cfg.Log.Error("Failed to encode broadcast", "event", ev.Name, "room", room.String(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		c.enqueue(frame)
	}
	if room.Date == "" {
		return
	}
	for c := range h.rooms[model.RoomKey{ResourceID: room.ResourceID}] {
		if _, both := c.rooms[room]; !both {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

func (h *Hub) Members(room model.RoomKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close asks every connection to shut down. Hijacked connections are not
// tracked by http.Server.Shutdown, so the application calls this on exit.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.Close()
	}
}
