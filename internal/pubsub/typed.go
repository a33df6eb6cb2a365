package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nfrund/duochat/internal/topicmgr"
)

// Event[T] binds a catalogued topic to its payload type.
type Event[T any] struct {
	topic topicmgr.Topic
}

// NewEvent creates a typed event and registers its topic with the default
// catalogue. It panics on an invalid or conflicting topic, so events are
// declared at package level.
func NewEvent[T any](topic topicmgr.Topic) Event[T] {
	topicmgr.Default().MustRegister(topic)
	return Event[T]{topic: topic}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topic.Name()
}

// Topic returns the catalogue entry.
func (e Event[T]) Topic() topicmgr.Topic {
	return e.topic
}

// Publish sends a typed event. userID is copied into the message envelope.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event.Name(), err)
	}
	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		UserID:  userID,
		Payload: data,
	})
}

// Decode unmarshals msg into the event's payload type.
func Decode[T any](event Event[T], msg Message) (T, error) {
	var payload T
	if msg.Topic != "" && msg.Topic != event.Name() {
		return payload, fmt.Errorf("message topic %q does not match event %q", msg.Topic, event.Name())
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode %s payload: %w", event.Name(), err)
	}
	return payload, nil
}

// Subscribe registers a typed handler for event.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, userID string, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		payload, err := Decode(event, msg)
		if err != nil {
			return err
		}
		return handler(ctx, msg.UserID, payload)
	})
}
