package kstock

import "sync"

// EventType event name
type EventType string

const (
	EventPrice        EventType = "price_update"     // price delta applied
	EventOrderbook    EventType = "orderbook_update" // orderbook replaced
	EventPortfolio    EventType = "portfolio"        // holdings or account changed
	EventConversation EventType = "conversation"     // agent event applied
	EventConnection   EventType = "connection"       // channel status changed
	EventError        EventType = "error"            // channel read error
)

// EventHandler event handler function
type EventHandler func(data interface{})

// EventEmitter callback-based event fan-out for UI layers that prefer
// push over polling the accessors.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]EventHandler
	nextID   int
}

// NewEventEmitter creates a new emitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventType]map[int]EventHandler),
	}
}

// On registers handler and returns an id for Off.
func (e *EventEmitter) On(event EventType, handler EventHandler) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]EventHandler)
	}
	e.nextID++
	e.handlers[event][e.nextID] = handler
	return e.nextID
}

// Off removes the handler registered under id.
func (e *EventEmitter) Off(event EventType, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers[event], id)
}

// Once registers a handler that removes itself after one delivery.
func (e *EventEmitter) Once(event EventType, handler EventHandler) int {
	var id int
	var once sync.Once
	id = e.On(event, func(data interface{}) {
		once.Do(func() {
			handler(data)
			e.Off(event, id)
		})
	})
	return id
}

// Emit delivers asynchronously, one goroutine per handler.
func (e *EventEmitter) Emit(event EventType, data interface{}) {
	for _, handler := range e.snapshot(event) {
		go handler(data)
	}
}

// EmitSync delivers synchronously in registration-independent order.
// The push channels use this so events observe arrival order.
func (e *EventEmitter) EmitSync(event EventType, data interface{}) {
	for _, handler := range e.snapshot(event) {
		handler(data)
	}
}

func (e *EventEmitter) snapshot(event EventType) []EventHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	handlers := make([]EventHandler, 0, len(e.handlers[event]))
	for _, h := range e.handlers[event] {
		handlers = append(handlers, h)
	}
	return handlers
}

// RemoveAllListeners drops every handler for event.
func (e *EventEmitter) RemoveAllListeners(event EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// ListenerCount returns the number of handlers for event.
func (e *EventEmitter) ListenerCount(event EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[event])
}
