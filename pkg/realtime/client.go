// Package realtime is the client end of the slot locking websocket. Requests
// are correlated with replies by ID; room broadcasts are delivered in wire
// order on Events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"courtslots/pkg/logger"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultEventBuffer      = 256
	writeWait               = 5 * time.Second
)

var ErrClosed = errors.New("realtime connection closed")

// Message is an inbound frame stamped with its position on the wire.
// Sequence numbers only grow, so a snapshot reply can be ordered against
// the broadcasts around it.
type Message struct {
	Seq uint64
	protocol.Envelope
}

// Snapshot is the locked:slots reply to a dated join.
type Snapshot struct {
	Seq uint64
	protocol.LockedSlots
}

type Options struct {
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	EventBuffer      int
	Header           http.Header
	Log              *logger.Logger
}

func (o *Options) withDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.Log == nil {
		o.Log = logger.Discard()
	}
}

type Client struct {
	conn   *websocket.Conn
	opts   Options
	log    *logger.Logger
	userID string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Message

	events chan Message
	seq    atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to a slots websocket endpoint such as ws://host/ws as
// userID.
func Dial(ctx context.Context, endpoint, userID string, opts Options) (*Client, error) {
	opts.withDefaults()

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse realtime endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-User-ID", userID)

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		log:     opts.Log.With("component", "realtime", "user_id", userID),
		userID:  userID,
		pending: make(map[string]chan Message),
		events:  make(chan Message, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) UserID() string { return c.userID }

// Events delivers room broadcasts. It is closed when the connection ends.
// A consumer that falls EventBuffer frames behind loses the connection and
// must reconnect and reconcile.
func (c *Client) Events() <-chan Message { return c.events }

func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(ErrClosed)
			} else {
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		msg := Message{Seq: c.seq.Add(1), Envelope: env}

		if env.ID != "" {
			// Replies nobody waits for any more are dropped.
			c.resolve(msg)
			continue
		}

		select {
		case c.events <- msg:
		default:
			c.log.Warn("Event buffer full, dropping connection", "buffer", c.opts.EventBuffer)
			c.shutdown(fmt.Errorf("%w: event buffer overflow", ErrClosed))
			return
		}
	}
}

func (c *Client) resolve(msg Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

// Request sends event and waits for the reply carrying the same ID.
func (c *Client) Request(ctx context.Context, event string, data any) (Message, error) {
	id := uuid.NewString()
	frame, err := protocol.Encode(id, event, data)
	if err != nil {
		return Message{}, err
	}

	reply := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-timer.C:
		return Message{}, fmt.Errorf("%s: no reply within %s", event, c.opts.RequestTimeout)
	case <-c.done:
		return Message{}, c.Err()
	}
}

func (c *Client) write(frame []byte) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
		return c.Err()
	}
	return nil
}

func (c *Client) Lock(ctx context.Context, key model.SlotKey) (protocol.LockSuccess, error) {
	msg, err := c.Request(ctx, protocol.EventLock, slotRequest(key))
	if err != nil {
		return protocol.LockSuccess{}, err
	}

	var out protocol.LockSuccess
	if err := expect(msg, protocol.EventLockSuccess, &out); err != nil {
		return protocol.LockSuccess{}, err
	}
	return out, nil
}

func (c *Client) Unlock(ctx context.Context, key model.SlotKey) error {
	msg, err := c.Request(ctx, protocol.EventUnlock, slotRequest(key))
	if err != nil {
		return err
	}
	return expect(msg, protocol.EventUnlockSuccess, nil)
}

// Join subscribes to room. For a dated room the returned snapshot lists the
// holds of other users and every booked slot.
func (c *Client) Join(ctx context.Context, room model.RoomKey) (Snapshot, error) {
	msg, err := c.Request(ctx, protocol.EventJoin, protocol.RoomRequest{ResourceID: room.ResourceID, Date: room.Date})
	if err != nil {
		return Snapshot{}, err
	}

	if room.Date == "" {
		if err := expect(msg, protocol.EventJoinSuccess, nil); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Seq: msg.Seq, LockedSlots: protocol.LockedSlots{ResourceID: room.ResourceID}}, nil
	}

	var slots protocol.LockedSlots
	if err := expect(msg, protocol.EventLockedSlots, &slots); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Seq: msg.Seq, LockedSlots: slots}, nil
}

func (c *Client) Leave(ctx context.Context, room model.RoomKey) error {
	msg, err := c.Request(ctx, protocol.EventLeave, protocol.RoomRequest{ResourceID: room.ResourceID, Date: room.Date})
	if err != nil {
		return err
	}
	return expect(msg, protocol.EventLeaveSuccess, nil)
}

func slotRequest(key model.SlotKey) protocol.SlotRequest {
	return protocol.SlotRequest{ResourceID: key.ResourceID, Date: key.Date, TimeSlot: key.TimeSlot}
}

// expect decodes a successful reply into target, or turns an error reply
// into a *RequestError.
func expect(msg Message, event string, target any) error {
	if msg.Event != event {
		var payload protocol.ErrorPayload
		_ = json.Unmarshal(msg.Data, &payload)
		return &RequestError{Event: msg.Event, Reason: payload.Message, Detail: payload.Detail}
	}
	if target == nil {
		return nil
	}
	return msg.Decode(target)
}
