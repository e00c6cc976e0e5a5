// Package events defines the topics and typed payloads published on the
// coordination bus.
//
// Payloads form a closed sum type: every variant implements Payload through an
// unexported marker method, so subscribers switch on the concrete type instead
// of reading ad hoc map keys.
package events

import (
	"time"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/metrics"
	"github.com/zjrosen/conductor/internal/pubsub"
)

// Event is a bus event carrying a typed payload.
type Event = pubsub.Event[Payload]

// Bus is the coordination event bus.
type Bus = pubsub.Bus[Payload]

// NewBus creates the coordination bus. Handler panics and dropped deliveries
// are logged and, when m is non-nil, counted.
func NewBus(bufferSize int, m *metrics.Metrics) *Bus {
	return pubsub.NewBus[Payload](
		pubsub.WithBufferSize(bufferSize),
		pubsub.WithPanicHandler(func(pattern, topic string, recovered any, stack []byte) {
			log.Error(log.CatBus, "handler panicked",
				"pattern", pattern,
				"topic", topic,
				"panic", recovered,
				"stack", string(stack),
			)
			m.BusPanic()
		}),
		pubsub.WithDropHandler(func(pattern, topic string) {
			log.Warn(log.CatBus, "mailbox full, event dropped", "pattern", pattern, "topic", topic)
			m.BusDrop()
		}),
	)
}

// New builds an event for topic with the agent as source.
func New(topic, correlationID string, payload Payload) Event {
	return Event{
		Topic:         topic,
		SourceID:      payload.Agent(),
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
}
