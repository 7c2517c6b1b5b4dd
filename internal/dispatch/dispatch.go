// Package dispatch fans out typed protocol events to registered listeners.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/mvaleev/reelchat/internal/protocol"
)

// Handler consumes one inbound event. Handlers run synchronously on the
// connection's read goroutine and must not block past a bounded amount of
// work; anything slow belongs on a separate goroutine scheduled by the
// handler itself.
type Handler func(protocol.Event)

// ListenerID identifies a registered listener so it can be removed later.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

// Dispatcher delivers events for one connection in arrival order. All
// listeners registered for a kind are invoked in registration order; a
// panicking listener is recovered and logged so it cannot suppress delivery
// to the others or crash the read loop.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[protocol.EventKind][]listener
	logger    *slog.Logger
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		listeners: make(map[protocol.EventKind][]listener),
		logger:    logger,
	}
}

// AddListener registers a handler for an event kind and returns its id.
func (d *Dispatcher) AddListener(kind protocol.EventKind, fn Handler) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.listeners[kind] = append(d.listeners[kind], listener{id: d.nextID, fn: fn})
	return d.nextID
}

// RemoveListener unregisters a previously added handler. Unknown ids are
// ignored.
func (d *Dispatcher) RemoveListener(kind protocol.EventKind, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.listeners[kind]
	for i, l := range regs {
		if l.id == id {
			d.listeners[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers one event to every listener registered for its kind.
// Delivery is synchronous: Dispatch returns only after all handlers ran,
// which preserves arrival order for a single-reader connection.
func (d *Dispatcher) Dispatch(evt protocol.Event) {
	d.mu.RLock()
	regs := make([]listener, len(d.listeners[evt.Kind]))
	copy(regs, d.listeners[evt.Kind])
	d.mu.RUnlock()

	for _, l := range regs {
		d.invoke(l, evt)
	}
}

func (d *Dispatcher) invoke(l listener, evt protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked", "kind", evt.Kind, "panic", r)
		}
	}()
	l.fn(evt)
}
