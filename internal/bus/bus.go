// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for the companion
const (
	// Companion state events
	EventTypeStateChanged     EventType = "companion.state_changed"
	EventTypeTurnAppended     EventType = "companion.turn_appended"
	EventTypeStatusChanged    EventType = "companion.status_changed"
	EventTypeAffectionChanged EventType = "companion.affection_changed"
	EventTypeCharacterChanged EventType = "companion.character_changed"
	EventTypeHistoryReset     EventType = "companion.history_reset"

	// Speech output events
	EventTypeSpeechAudio   EventType = "speech.audio"
	EventTypeSpeechStopped EventType = "speech.stopped"

	// Action events
	EventTypeActionNavigate EventType = "action.navigate"
	EventTypeActionExecuted EventType = "action.executed"

	// Recognition events
	EventTypeRecognitionStart EventType = "voice.recognition_start"
	EventTypeRecognitionStop  EventType = "voice.recognition_stop"

	// Config events
	EventTypeConfigReloaded EventType = "config.reloaded"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// SubscribeAll adds a handler that receives every event
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	handlers = append(handlers, b.handlers[t]...)
	handlers = append(handlers, b.all...)
	return handlers
}

// Publish delivers an event to all subscribed handlers on the caller's
// goroutine, in subscription order. Events published from one goroutine
// are observed in publish order. Handlers must not block.
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		handler(event)
	}
}

// PublishAsync sends an event to each handler in its own goroutine
func (b *EventBus) PublishAsync(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.all = nil
}
