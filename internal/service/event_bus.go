// internal/service/event_bus.go
package service

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marantz-avr/pkg/avr"
)

// Bus event types
const (
	EventTypeState      = "state"
	EventTypeRaw        = "raw"
	EventTypeConnection = "connection"
)

// BusEvent is what the bridge fans out to websocket clients and MQTT
type BusEvent struct {
	Type      string     `json:"type"`
	Event     *avr.Event `json:"event,omitempty"`
	Connected bool       `json:"connected"`
	Address   string     `json:"address,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string]*busSubscriber
	events      chan BusEvent
	closed      bool
	mutex       sync.RWMutex
	logger      *zap.Logger
}

type busSubscriber struct {
	ch    chan BusEvent
	types []string
}

// NewEventBus creates a new event bus; call Start to begin distribution
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[string]*busSubscriber),
		events:      make(chan BusEvent, 1000),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until Close
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	for id, sub := range eb.subscribers {
		close(sub.ch)
		delete(eb.subscribers, id)
	}
	eb.mutex.Unlock()
}

// Publish publishes an event without blocking the caller
func (eb *EventBus) Publish(event BusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// Subscribe subscribes to the given event types, or to all of them
func (eb *EventBus) Subscribe(types ...string) (string, <-chan BusEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := uuid.New().String()
	sub := &busSubscriber{ch: make(chan BusEvent, 100), types: types}
	if eb.closed {
		close(sub.ch)
		return id, sub.ch
	}
	eb.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel
func (eb *EventBus) Unsubscribe(id string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if sub, ok := eb.subscribers[id]; ok {
		close(sub.ch)
		delete(eb.subscribers, id)
	}
}

// Close stops the bus; Start returns after closing every subscriber
func (eb *EventBus) Close() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.events)
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event BusEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for id, sub := range eb.subscribers {
		if len(sub.types) > 0 && !slices.Contains(sub.types, event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eb.logger.Warn("Subscriber is slow, dropping event",
				zap.String("subscriber_id", id),
				zap.String("event_type", event.Type),
			)
		}
	}
}
