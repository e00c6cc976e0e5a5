// Package pubsub provides an in-process topic publish/subscribe bus.
//
// Topics are dot-separated strings such as "cursor.inject.success". Subscribers
// register either an exact topic or a pattern whose final segment is "*", which
// matches one or more trailing segments ("cursor.*" matches "cursor.inject.success").
// A bare "*" matches every topic.
package pubsub

import (
	"time"
)

// Event is a published message with a typed payload.
// Events are passed by value and must not be mutated after Publish.
type Event[T any] struct {
	Topic         string
	SourceID      string
	CorrelationID string
	Payload       T
	Timestamp     time.Time
}

// Handler receives events for a subscription.
type Handler[T any] func(Event[T])

// Subscription identifies a registered handler. The zero value is not a valid
// subscription and unsubscribing it is a no-op.
type Subscription struct {
	id      uint64
	pattern string
}

// Pattern returns the topic pattern the subscription was registered with.
func (s Subscription) Pattern() string {
	return s.pattern
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(event Event[T])
}

// Subscriber registers and removes topic handlers.
type Subscriber[T any] interface {
	Subscribe(pattern string, handler Handler[T]) (Subscription, error)
	Unsubscribe(sub Subscription)
}
