// internal/state/synchronizer.go
package state

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marantz-avr/pkg/avr"
)

// DefaultSubscriberBuffer is the notification backlog kept per subscriber
const DefaultSubscriberBuffer = 256

// Synchronizer folds decoded events into one device state and notifies
// subscribers. Apply must be called from a single goroutine (the session
// pump) so that events are processed in wire order; reads and subscriptions
// are safe from any goroutine.
type Synchronizer struct {
	mutex       sync.RWMutex
	values      map[avr.StatusKind]avr.Event
	subscribers map[uuid.UUID]*Subscription
	raw         map[uuid.UUID]*Subscription
	buffer      int
	closed      bool
	logger      *zap.Logger
}

// Subscription is a lazy stream of events delivered on C
type Subscription struct {
	ID uuid.UUID
	C  <-chan avr.Event

	ch      chan avr.Event
	owner   *Synchronizer
	raw     bool
	dropped int64
	once    sync.Once
}

// NewSynchronizer creates a synchronizer with an empty state
func NewSynchronizer(buffer int, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Synchronizer{
		values:      make(map[avr.StatusKind]avr.Event),
		subscribers: make(map[uuid.UUID]*Subscription),
		raw:         make(map[uuid.UUID]*Subscription),
		buffer:      buffer,
		logger:      logger.With(zap.String("component", "state")),
	}
}

// Apply records a known status event (last write wins) and notifies every
// subscriber, even when the value did not change. Opaque events only go to
// raw subscribers.
func (s *Synchronizer) Apply(event avr.Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}

	if event.IsOpaque() {
		s.logger.Debug("Opaque line", zap.String("raw", event.Raw))
		s.distribute(s.raw, event)
		return
	}

	s.values[event.Kind] = event
	s.distribute(s.subscribers, event)
}

// Snapshot returns a copy of the current state
func (s *Synchronizer) Snapshot() avr.Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return avr.NewSnapshot(s.values)
}

// Subscribe registers for state change notifications. Every applied event
// is offered to the subscription without blocking the pump: when its
// backlog of buffer events is full the notification is dropped and counted
// in Subscription.Dropped.
func (s *Synchronizer) Subscribe() *Subscription {
	return s.subscribe(false)
}

// SubscribeRaw registers for opaque events, for diagnostic consumers. It
// drops on a full backlog the same way Subscribe does.
func (s *Synchronizer) SubscribeRaw() *Subscription {
	return s.subscribe(true)
}

// Close ends every subscription. Further events are ignored.
func (s *Synchronizer) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for _, set := range []map[uuid.UUID]*Subscription{s.subscribers, s.raw} {
		for id, sub := range set {
			sub.once.Do(func() { close(sub.ch) })
			delete(set, id)
		}
	}
}

// Dropped returns the number of notifications lost because the
// subscriber's backlog was full
func (sub *Subscription) Dropped() int64 {
	sub.owner.mutex.RLock()
	defer sub.owner.mutex.RUnlock()
	return sub.dropped
}

// Close unsubscribes and closes C
func (sub *Subscription) Close() {
	s := sub.owner
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if sub.raw {
		delete(s.raw, sub.ID)
	} else {
		delete(s.subscribers, sub.ID)
	}
	sub.once.Do(func() { close(sub.ch) })
}

func (s *Synchronizer) subscribe(raw bool) *Subscription {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ch := make(chan avr.Event, s.buffer)
	sub := &Subscription{
		ID:    uuid.New(),
		C:     ch,
		ch:    ch,
		owner: s,
		raw:   raw,
	}

	if s.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}

	if raw {
		s.raw[sub.ID] = sub
	} else {
		s.subscribers[sub.ID] = sub
	}
	s.logger.Debug("Subscriber added",
		zap.String("subscription_id", sub.ID.String()),
		zap.Bool("raw", raw),
	)
	return sub
}

// distribute delivers without blocking the pump; a full backlog drops
func (s *Synchronizer) distribute(set map[uuid.UUID]*Subscription, event avr.Event) {
	for _, sub := range set {
		select {
		case sub.ch <- event:
		default:
			sub.dropped++
			s.logger.Warn("Subscriber backlog full, dropping notification",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("kind", string(event.Kind)),
			)
		}
	}
}
