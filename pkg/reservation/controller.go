// Package reservation drives one user's slot selection on the client side:
// it locks and unlocks through the realtime channel, keeps the room view
// current, enforces the client hold timeout and submits the booking.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	apperrors "courtslots/pkg/errors"
	"courtslots/pkg/logger"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"
	"courtslots/pkg/realtime"
)

const (
	noticeBuffer   = 16
	cleanupTimeout = 5 * time.Second
)

var (
	ErrNoSession       = errors.New("no resource and date selected")
	ErrNothingSelected = errors.New("no slots selected")
	ErrClosed          = errors.New("reservation controller closed")
)

// Channel is the realtime connection. *realtime.Client satisfies it.
type Channel interface {
	Lock(ctx context.Context, key model.SlotKey) (protocol.LockSuccess, error)
	Unlock(ctx context.Context, key model.SlotKey) error
	Join(ctx context.Context, room model.RoomKey) (realtime.Snapshot, error)
	Leave(ctx context.Context, room model.RoomKey) error
}

// Booker submits held slots. *client.SlotsClient satisfies it.
type Booker interface {
	Book(ctx context.Context, req *model.BookingRequest) (*model.BookingResult, error)
}

type SlotState string

const (
	SlotMine   SlotState = "mine"
	SlotLocked SlotState = "locked"
	SlotBooked SlotState = "booked"
)

// SlotView is one unavailable slot as the user should see it. Slots not
// listed are available.
type SlotView struct {
	TimeSlot  string
	State     SlotState
	LockedBy  string
	ExpiresAt time.Time
}

type View struct {
	Room         model.RoomKey
	Slots        []SlotView
	Selected     []string
	HoldDeadline time.Time
}

type NoticeKind string

const (
	NoticeHoldExpired NoticeKind = "hold_expired"
	NoticeSlotsLost   NoticeKind = "slots_lost"
)

// Notice is something the user has to be told about.
type Notice struct {
	Kind      NoticeKind
	Room      model.RoomKey
	TimeSlots []string
}

type Controller struct {
	// opMu serializes user operations, which make network calls. mu guards
	// state and is never held across a call.
	opMu sync.Mutex
	mu   sync.Mutex

	ch     Channel
	booker Booker
	userID string
	hold   time.Duration
	log    *logger.Logger

	session    *Session
	view       map[string]SlotView
	seeded     bool
	viewSeq    uint64
	backlog    []realtime.Message
	submitting bool
	closed     bool

	timer   *HoldTimer
	notices chan Notice
}

func NewController(ch Channel, booker Booker, userID string, hold time.Duration, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Discard()
	}
	return &Controller{
		ch:      ch,
		booker:  booker,
		userID:  userID,
		hold:    hold,
		log:     log.With("component", "reservation", "user_id", userID),
		view:    make(map[string]SlotView),
		timer:   NewHoldTimer(),
		notices: make(chan Notice, noticeBuffer),
	}
}

// Notices is closed by Close.
func (c *Controller) Notices() <-chan Notice { return c.notices }

// Session returns a copy of the current selection.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return c.session.clone(), true
}

// Open switches to room. The selection held for the previous room is
// unlocked and that room is left before the new one is joined.
func (c *Controller) Open(ctx context.Context, room model.RoomKey) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.session
	if prev != nil && prev.Room == room {
		c.mu.Unlock()
		return nil
	}
	var released []model.SlotKey
	if prev != nil {
		c.timer.Cancel()
		released = prev.clear()
	}
	c.session = newSession(room)
	c.resetViewLocked()
	c.mu.Unlock()

	if prev != nil {
		c.unlockAll(ctx, released)
		if err := c.ch.Leave(ctx, prev.Room); err != nil {
			c.log.Warn("Failed to leave room", "room", prev.Room.String(), "error", err)
		}
	}

	snap, err := c.ch.Join(ctx, room)
	if err != nil {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.seedLocked(snap)
	c.mu.Unlock()
	return nil
}

func (c *Controller) Toggle(ctx context.Context, timeSlot string) error {
	c.mu.Lock()
	selected := c.session != nil && c.session.has(timeSlot)
	c.mu.Unlock()

	if selected {
		return c.Deselect(ctx, timeSlot)
	}
	return c.Select(ctx, timeSlot)
}

// Select locks timeSlot and adds it to the selection. The first selection
// starts the hold timer. When the lock is refused the selection is left as
// it was and the refusal is returned.
func (c *Controller) Select(ctx context.Context, timeSlot string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.session.has(timeSlot) {
		c.mu.Unlock()
		return nil
	}
	key := c.session.Room.Slot(timeSlot)
	c.mu.Unlock()

	if _, err := c.ch.Lock(ctx, key); err != nil {
		var reqErr *realtime.RequestError
		if !errors.As(err, &reqErr) {
			// The server may have granted a lock whose reply we never saw.
			c.unlockAll(ctx, []model.SlotKey{key})
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Room != key.Room() {
		return ErrNoSession
	}
	c.session.add(timeSlot)
	if len(c.session.Selected) == 1 {
		c.timer.Start(c.hold, c.onHoldExpired)
		c.session.HoldDeadline, _ = c.timer.Deadline()
	}
	return nil
}

// Deselect drops timeSlot from the selection and unlocks it. Unlocking is
// idempotent on the server, so the selection shrinks even if the call fails.
func (c *Controller) Deselect(ctx context.Context, timeSlot string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	key := c.session.Room.Slot(timeSlot)
	if !c.session.remove(timeSlot) {
		c.mu.Unlock()
		return nil
	}
	if len(c.session.Selected) == 0 {
		c.timer.Cancel()
	}
	c.mu.Unlock()

	return c.ch.Unlock(ctx, key)
}

// onHoldExpired clears the selection, unlocks every slot and tells the
// user. The server expires the holds on its own as well.
func (c *Controller) onHoldExpired(gen uint64) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.timer.Active(gen) || c.session == nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer.Cancel()
	room := c.session.Room
	expired := c.session.clear()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	c.unlockAll(ctx, expired)

	c.log.Info("Hold expired, selection released", "room", room.String(), "slots", len(expired))
	c.notify(Notice{Kind: NoticeHoldExpired, Room: room, TimeSlots: timeSlotsOf(expired)})
}

// Submit books the selected slots. The hold timer is stopped first so it
// cannot fire mid-request. On success the selection is cleared and the
// slots turn booked when the server broadcasts it. On failure the locks are
// kept and the timer is re-armed for the original deadline, unless the
// server reports the holds are gone.
func (c *Controller) Submit(ctx context.Context, contact model.ContactInfo, pricing model.Pricing) (*model.BookingResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if len(c.session.Selected) == 0 {
		c.mu.Unlock()
		return nil, ErrNothingSelected
	}
	deadline, _ := c.timer.Deadline()
	c.timer.Cancel()
	c.submitting = true
	room := c.session.Room
	req := &model.BookingRequest{
		ResourceID:  room.ResourceID,
		Date:        room.Date,
		TimeSlots:   c.session.timeSlots(),
		ContactInfo: contact,
		Pricing:     pricing,
	}
	c.mu.Unlock()

	result, err := c.booker.Book(ctx, req)

	c.mu.Lock()
	c.submitting = false
	if c.session == nil || c.session.Room != room {
		c.mu.Unlock()
		return result, err
	}

	if err == nil {
		c.session.clear()
		c.mu.Unlock()
		c.log.Info("Booking submitted", "room", room.String(), "booking_id", result.BookingID)
		return result, nil
	}

	if holdsGone(err) {
		lost := c.session.clear()
		c.mu.Unlock()
		c.unlockAll(context.WithoutCancel(ctx), lost)
		c.notify(Notice{Kind: NoticeSlotsLost, Room: room, TimeSlots: timeSlotsOf(lost)})
		return nil, err
	}

	if len(c.session.Selected) > 0 {
		c.timer.StartAt(deadline, c.onHoldExpired)
		c.session.HoldDeadline = deadline
	}
	c.mu.Unlock()
	return nil, err
}

// Reconcile restores the session after the realtime connection came back.
// ch replaces the channel when it is not nil. The room is joined again,
// selections taken by others in the meantime are dropped and the rest are
// locked again.
func (c *Controller) Reconcile(ctx context.Context, ch Channel) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if ch != nil {
		c.ch = ch
	}
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		if errors.Is(err, ErrNoSession) {
			return nil
		}
		return err
	}
	room := c.session.Room
	c.resetViewLocked()
	c.mu.Unlock()

	snap, err := c.ch.Join(ctx, room)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.seedLocked(snap)
	var keep []model.SlotKey
	var lost []string
	for _, key := range c.session.Selected {
		if v, taken := c.view[key.TimeSlot]; taken && (v.State == SlotBooked || v.LockedBy != c.userID) {
			lost = append(lost, key.TimeSlot)
			continue
		}
		keep = append(keep, key)
	}
	c.mu.Unlock()

	for _, key := range keep {
		if _, err := c.ch.Lock(ctx, key); err != nil {
			c.log.Info("Could not restore hold", "slot", key.String(), "error", err)
			lost = append(lost, key.TimeSlot)
		}
	}

	if len(lost) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.session != nil && c.session.Room == room {
		for _, ts := range lost {
			c.session.remove(ts)
		}
		if len(c.session.Selected) == 0 {
			c.timer.Cancel()
		}
	}
	c.mu.Unlock()
	c.notify(Notice{Kind: NoticeSlotsLost, Room: room, TimeSlots: lost})
	return nil
}

// HandleEvent applies a room broadcast to the view. Events that predate the
// current snapshot are ignored; events arriving before it are replayed once
// it lands.
func (c *Controller) HandleEvent(msg realtime.Message) {
	c.mu.Lock()
	lost := c.handleEventLocked(msg)
	var room model.RoomKey
	if c.session != nil {
		room = c.session.Room
	}
	c.mu.Unlock()

	if len(lost) > 0 {
		c.notify(Notice{Kind: NoticeSlotsLost, Room: room, TimeSlots: lost})
	}
}

// Run feeds HandleEvent from events until it is closed or ctx is done.
func (c *Controller) Run(ctx context.Context, events <-chan realtime.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(msg)
		}
	}
}

func (c *Controller) handleEventLocked(msg realtime.Message) []string {
	if c.session == nil || c.closed {
		return nil
	}
	var scope protocol.RoomRequest
	if err := json.Unmarshal(msg.Data, &scope); err != nil {
		return nil
	}
	if scope.ResourceID != c.session.Room.ResourceID || scope.Date != c.session.Room.Date {
		return nil
	}
	if !c.seeded {
		c.backlog = append(c.backlog, msg)
		return nil
	}
	if msg.Seq <= c.viewSeq {
		return nil
	}
	return c.applyLocked(msg)
}

// applyLocked updates the view and returns selected slots the user just
// lost to the server.
func (c *Controller) applyLocked(msg realtime.Message) []string {
	var lost []string
	drop := func(ts string) {
		if c.session.remove(ts) && !c.submitting {
			lost = append(lost, ts)
		}
	}

	switch msg.Event {
	case protocol.EventSlotLocked:
		var ev protocol.SlotLocked
		if msg.Decode(&ev) != nil {
			return nil
		}
		state := SlotLocked
		if ev.LockedBy == c.userID && c.session.has(ev.TimeSlot) {
			state = SlotMine
		} else {
			drop(ev.TimeSlot)
		}
		c.view[ev.TimeSlot] = SlotView{TimeSlot: ev.TimeSlot, State: state, LockedBy: ev.LockedBy, ExpiresAt: ev.ExpiresAt}

	case protocol.EventSlotUnlocked:
		var ev protocol.SlotUnlocked
		if msg.Decode(&ev) != nil {
			return nil
		}
		delete(c.view, ev.TimeSlot)
		drop(ev.TimeSlot)

	case protocol.EventSlotBooked, protocol.EventSlotConfirmed:
		var ev protocol.SlotsChanged
		if msg.Decode(&ev) != nil {
			return nil
		}
		for _, ts := range ev.TimeSlots {
			c.view[ts] = SlotView{TimeSlot: ts, State: SlotBooked}
			drop(ts)
		}

	case protocol.EventSlotCancelled:
		var ev protocol.SlotsChanged
		if msg.Decode(&ev) != nil {
			return nil
		}
		for _, ts := range ev.TimeSlots {
			delete(c.view, ts)
		}
	}

	if len(c.session.Selected) == 0 {
		c.timer.Cancel()
	}
	return lost
}

// View is what the user should currently see for the open room.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return View{}
	}
	out := View{
		Room:         c.session.Room,
		Selected:     c.session.timeSlots(),
		HoldDeadline: c.session.HoldDeadline,
	}
	for _, v := range c.view {
		if c.session.has(v.TimeSlot) {
			v.State = SlotMine
		}
		out.Slots = append(out.Slots, v)
	}
	for _, key := range c.session.Selected {
		if _, ok := c.view[key.TimeSlot]; !ok {
			out.Slots = append(out.Slots, SlotView{TimeSlot: key.TimeSlot, State: SlotMine, LockedBy: c.userID})
		}
	}
	slices.SortFunc(out.Slots, func(a, b SlotView) int {
		switch {
		case a.TimeSlot < b.TimeSlot:
			return -1
		case a.TimeSlot > b.TimeSlot:
			return 1
		}
		return 0
	})
	return out
}

// Close releases the selection, leaves the room and closes Notices.
func (c *Controller) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.timer.Cancel()
	session := c.session
	c.session = nil
	var held []model.SlotKey
	if session != nil {
		held = session.clear()
	}
	close(c.notices)
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	c.unlockAll(ctx, held)
	return c.ch.Leave(ctx, session.Room)
}

func (c *Controller) usableLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.session == nil {
		return ErrNoSession
	}
	return nil
}

func (c *Controller) resetViewLocked() {
	c.view = make(map[string]SlotView)
	c.seeded = false
	c.viewSeq = 0
	c.backlog = nil
}

func (c *Controller) seedLocked(snap realtime.Snapshot) {
	for _, s := range snap.LockedSlots.LockedSlots {
		v := SlotView{TimeSlot: s.TimeSlot, LockedBy: s.LockedBy, ExpiresAt: s.ExpiresAt, State: SlotLocked}
		if s.State == string(model.SlotBooked) {
			v.State = SlotBooked
		}
		c.view[s.TimeSlot] = v
	}
	c.seeded = true
	c.viewSeq = snap.Seq

	backlog := c.backlog
	c.backlog = nil
	for _, msg := range backlog {
		if msg.Seq > c.viewSeq {
			c.applyLocked(msg)
		}
	}
}

func (c *Controller) unlockAll(ctx context.Context, keys []model.SlotKey) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, key := range keys {
		if err := c.ch.Unlock(ctx, key); err != nil {
			c.log.Warn("Failed to unlock slot", "slot", key.String(), "error", err)
		}
	}
}

func (c *Controller) notify(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.notices <- n:
	default:
		c.log.Warn("Notice dropped, nobody is reading", "kind", n.Kind)
	}
}

// holdsGone reports server answers after which keeping the selection makes
// no sense.
func holdsGone(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeHoldExpired) ||
		apperrors.HasCode(err, apperrors.CodeAlreadyBooked)
}

func timeSlotsOf(keys []model.SlotKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.TimeSlot
	}
	return out
}
