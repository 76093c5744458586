package runtime

import (
	"sync"
	"time"
)

// EventType represents the type of runtime event.
type EventType string

const (
	EventTurnStart      EventType = "turn_start"
	EventModelRequest   EventType = "model_request"
	EventModelResponse  EventType = "model_response"
	EventToolCallStart  EventType = "tool_call_start"
	EventToolCallEnd    EventType = "tool_call_end"
	EventMemoryIngested EventType = "memory_ingested"
	EventTurnComplete   EventType = "turn_complete"
	EventTurnError      EventType = "turn_error"
)

// Event represents a runtime event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Owner     string
	Data      map[string]any
}

// EventHandler is a function that handles events. Handlers run on the
// publishing goroutine and must not block.
type EventHandler func(Event)

// EventBus manages event publication and subscription.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers. A nil bus drops it.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	specific := append([]EventHandler(nil), eb.handlers[event.Type]...)
	all := append([]EventHandler(nil), eb.allHandlers...)
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range specific {
		handler(event)
	}
	for _, handler := range all {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, owner string, data map[string]any) {
	eb.Publish(Event{
		Type:  eventType,
		Owner: owner,
		Data:  data,
	})
}
