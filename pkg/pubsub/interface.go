package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one unit of cross-instance broadcast traffic. Payload carries
// the fully-formed wire event as JSON; Origin identifies the publishing
// instance so subscribers can skip events they already delivered locally.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps an already-marshaled wire payload for publication,
// stamping the origin and publication time.
func NewEvent(eventType, origin string, payload json.RawMessage) *Event {
	return &Event{
		Type:      eventType,
		Payload:   payload,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

// Publisher publishes events to the backplane.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the backplane.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// Bridge combines Publisher and Subscriber interfaces.
type Bridge interface {
	Publisher
	Subscriber
	Close() error
}
