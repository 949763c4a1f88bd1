package events

import (
	"context"
	"encoding/json"
	"time"

	"courtslots/pkg/kafka"
	"courtslots/pkg/logger"
	"courtslots/pkg/metrics"
	"courtslots/pkg/model"
	"courtslots/pkg/protocol"
)

const (
	SchemaVersion = "1"
	flushTimeout  = 5 * time.Second
)

// MessagePublisher is satisfied by *kafka.Producer.
type MessagePublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// SlotEvent is the Kafka record for every room broadcast.
type SlotEvent struct {
	Event      string          `json:"event"`
	ResourceID string          `json:"resourceId"`
	Date       string          `json:"date"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Publisher mirrors lock manager broadcasts to Kafka. Broadcast only
// enqueues; Run does the writing. When the queue is full the event is
// dropped, since subscribers can always resync from a snapshot.
type Publisher struct {
	producer MessagePublisher
	queue    chan kafka.Message
	source   string
	log      *logger.Logger
	now      func() time.Time
}

func NewPublisher(producer MessagePublisher, queueSize int, source string, log *logger.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		queue:    make(chan kafka.Message, queueSize),
		source:   source,
		log:      log,
		now:      time.Now,
	}
}

func (p *Publisher) Broadcast(room model.RoomKey, ev protocol.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		p.log.Error("Failed to encode slot event", "event", ev.Name, "room", room.String(), "error", err)
		return
	}

	now := p.now()
	msg, err := kafka.NewMessage().
		WithKey(room.String()).
		WithValue(SlotEvent{
			Event:      ev.Name,
			ResourceID: room.ResourceID,
			Date:       room.Date,
			Data:       data,
			OccurredAt: now.UTC(),
		}).
		WithTimestamp(now).
		WithEventType(ev.Name).
		WithSchemaVersion(SchemaVersion).
		WithSource(p.source).
		BuildE()
	if err != nil {
		p.log.Error("Failed to build slot event", "event", ev.Name, "room", room.String(), "error", err)
		return
	}

	select {
	case p.queue <- msg:
	default:
		metrics.KafkaEventDropped()
		p.log.Warn("Slot event queue full, dropping event", "event", ev.Name, "room", room.String())
	}
}

// Run publishes queued events until ctx is done, then flushes what is left
// with a bounded timeout.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-p.queue:
			p.publish(ctx, msg)
		case <-ctx.Done():
			p.flush()
			return nil
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for {
		select {
		case msg := <-p.queue:
			p.publish(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg kafka.Message) {
	if err := p.producer.Publish(ctx, msg); err != nil {
		p.log.Error("Failed to publish slot event",
			"key", msg.Key,
			"event_type", msg.GetEventType(),
			"error", err,
		)
	}
}

// Pending reports how many events wait in the queue.
func (p *Publisher) Pending() int {
	return len(p.queue)
}
