// Package events implements ordered listener fan-out. Callbacks for an event
// run in registration order, and a panicking callback never prevents the
// remaining callbacks from running.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives the event payload. Payload types are defined by whoever
// emits the event.
type Handler func(data any)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	event string
	id    uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// Emitter fans events out to registered handlers.
type Emitter struct {
	log    *zap.Logger
	mu     sync.Mutex
	nextID uint64
	lists  map[string][]entry
}

// NewEmitter builds an emitter. A nil logger is replaced with a no-op.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{
		log:   log,
		lists: make(map[string][]entry),
	}
}

// On registers a handler for an event. Handlers run in registration order.
func (e *Emitter) On(event string, handler Handler) Subscription {
	if handler == nil {
		return Subscription{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.lists[event] = append(e.lists[event], entry{id: e.nextID, handler: handler})
	return Subscription{event: event, id: e.nextID}
}

// Off removes a previously registered handler. Unknown subscriptions are
// ignored.
func (e *Emitter) Off(sub Subscription) {
	if sub.id == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.lists[sub.event]
	for i, ent := range list {
		if ent.id == sub.id {
			e.lists[sub.event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit invokes every handler registered for the event, in order. A panic in
// one handler is recovered and logged; later handlers still run.
func (e *Emitter) Emit(event string, data any) {
	e.mu.Lock()
	list := e.lists[event]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	e.mu.Unlock()

	for _, ent := range snapshot {
		e.invoke(event, ent.handler, data)
	}
}

func (e *Emitter) invoke(event string, handler Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	handler(data)
}
