package hub

import (
	"sync"
	"time"

	"courtslots/pkg/metrics"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is one websocket client. Only the write pump writes to ws.
type Conn struct {
	ID     string
	UserID string

	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// guarded by Hub.mu
	rooms map[model.RoomKey]struct{}
}

func NewConn(ws *websocket.Conn, userID string, queueSize int) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		rooms:  make(map[model.RoomKey]struct{}),
	}
}

// Close stops the write pump, which in turn closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		metrics.SlowConsumerDropped()
		c.Close()
		return false
	}
}

func (c *Conn) reply(id, event string, data any) bool {
	frame, err := protocol.Encode(id, event, data)
	if err != nil {
		return false
	}
	return c.enqueue(frame)
}

func (c *Conn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}
