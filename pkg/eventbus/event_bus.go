// Package eventbus carries execution requests from the API to the workers.
package eventbus

import (
	"context"

	"github.com/troneras/workflow-orchestrator/pkg/events"
)

// Event is any message with a registered events.EventType.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends events. The key orders events of one execution on
// partitioned transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches received events to the handler of their type.
// Handlers must be registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event. A returned error
// nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
