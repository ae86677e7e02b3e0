package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"audiod/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "audiod:events"

// EventType represents the type of event
type EventType string

const (
	EventStreamStatus EventType = "stream.status"
)

// Event is one status change mirrored to redis.
type Event struct {
	Type       EventType           `json:"type"`
	InstanceID string              `json:"instance_id"`
	Timestamp  time.Time           `json:"timestamp"`
	Kind       string              `json:"kind"`
	StreamType domain.StreamID     `json:"stream_type"`
	Reason     string              `json:"reason"`
	Data       domain.StreamStatus `json:"data"`
}

// RedisPubSub is the part of a redis client used by EventBus.
type RedisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// EventBus mirrors status notifications to a redis channel. It implements
// ports.NotificationSink: Notify only queues, and Run publishes. When the
// queue is full notifications are dropped and counted.
type EventBus struct {
	client     RedisPubSub
	channel    string
	instanceID string
	queue      chan *Event
	dropped    atomic.Uint64
	overflow   atomic.Bool
	logger     *zap.SugaredLogger
}

// NewEventBus creates a new event bus
func NewEventBus(
	client RedisPubSub,
	channel string,
	instanceID string,
	buffer int,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		queue:      make(chan *Event, buffer),
		logger:     logger,
	}
}

func (eb *EventBus) Notify(_ context.Context, n domain.StatusNotification) {
	event := &Event{
		Type:       EventStreamStatus,
		Timestamp:  time.Now().UTC(),
		Kind:       n.Kind.String(),
		StreamType: n.Stream.Stream,
		Reason:     string(n.Reason),
		Data:       n.Stream,
	}

	// One warning per overflow episode; the episode ends on the next
	// successful enqueue.
	select {
	case eb.queue <- event:
		if eb.overflow.Swap(false) {
			eb.logger.Infow("status mirror queue drained", "channel", eb.channel, "dropped_total", eb.dropped.Load())
		}
	default:
		total := eb.dropped.Add(1)
		if !eb.overflow.Swap(true) {
			eb.logger.Warnw("status mirror queue full, dropping events", "channel", eb.channel, "dropped_total", total)
		}
	}
}

// Dropped reports how many notifications were discarded on a full queue.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Run publishes queued events until ctx is cancelled.
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.queue:
			if err := eb.Publish(ctx, event); err != nil {
				eb.logger.Warnw("failed to mirror status event",
					"stream_type", event.StreamType,
					"error", err,
				)
			}
		}
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"stream_type", event.StreamType,
		"reason", event.Reason,
	)

	return nil
}

// Subscribe calls handler for every event published by other instances
// until ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", eb.channel)
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event without type")
	}
	return &event, nil
}
