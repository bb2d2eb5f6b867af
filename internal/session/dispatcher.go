// internal/session/dispatcher.go
package session

import (
	"sync"

	"marantz-avr/pkg/avr"
)

// waiter is one in-flight command waiting for its reply kind
type waiter struct {
	kind  avr.StatusKind
	reply chan avr.Event
}

// dispatcher correlates replies with in-flight commands. The protocol has
// no request ids, so the first event of a command's reply kind completes
// the oldest waiter for that kind. An unsolicited push of the same kind
// that arrives first is taken as the reply.
type dispatcher struct {
	mutex   sync.Mutex
	pending map[avr.StatusKind][]*waiter
}

func newDispatcher() *dispatcher {
	return &dispatcher{pending: make(map[avr.StatusKind][]*waiter)}
}

// register enqueues a waiter. It must happen before the command is sent so
// that a fast reply cannot be missed.
func (d *dispatcher) register(kind avr.StatusKind) *waiter {
	w := &waiter{kind: kind, reply: make(chan avr.Event, 1)}

	d.mutex.Lock()
	d.pending[kind] = append(d.pending[kind], w)
	d.mutex.Unlock()

	return w
}

// release drops a waiter that gave up (timeout, cancellation, send error).
// A reply that arrives later is no longer attributed to it.
func (d *dispatcher) release(w *waiter) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	queue := d.pending[w.kind]
	for i, candidate := range queue {
		if candidate == w {
			queue = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(d.pending, w.kind)
	} else {
		d.pending[w.kind] = queue
	}
}

// resolve hands an event to the oldest waiter of its kind
func (d *dispatcher) resolve(event avr.Event) bool {
	if event.IsOpaque() {
		return false
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	queue := d.pending[event.Kind]
	if len(queue) == 0 {
		return false
	}

	w := queue[0]
	if len(queue) == 1 {
		delete(d.pending, event.Kind)
	} else {
		d.pending[event.Kind] = queue[1:]
	}

	// reply is buffered and each waiter is dequeued exactly once
	w.reply <- event
	return true
}

// inFlight returns the number of waiting commands
func (d *dispatcher) inFlight() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	n := 0
	for _, queue := range d.pending {
		n += len(queue)
	}
	return n
}

// clear forgets every waiter; callers are woken by the session's done channel
func (d *dispatcher) clear() {
	d.mutex.Lock()
	d.pending = make(map[avr.StatusKind][]*waiter)
	d.mutex.Unlock()
}
