package bus

import (
	"sync"
)

// Kind identifies one event type on the bus. The protocol package declares
// the concrete kinds; the bus itself is agnostic to them.
type Kind uint8

// Event is anything that can travel on the bus. Implementations are small
// value types; once published an event has no owner.
type Event interface {
	// EventKind reports which Kind the event dispatches under.
	EventKind() Kind
}

// Verdict is a handler's decision about further delivery of an event.
type Verdict int

const (
	// Bubble lets later subscribers observe the event as well.
	// Almost every handler in this system bubbles: applying a change
	// locally, relaying it onward, and collecting it into a session are
	// independent listeners that must all see the same event.
	Bubble Verdict = iota

	// Consumed stops delivery; subscribers after this one never see the
	// event.
	Consumed
)

// HandlerFunc processes one event and decides whether it keeps bubbling.
type HandlerFunc func(Event) Verdict

// Bus is a typed publish/subscribe dispatcher with synchronous delivery.
//
// Delivery semantics:
//   - Publish delivers to subscribers of the event's kind, in subscription
//     order, in the calling goroutine, before Publish returns.
//   - A Consumed verdict stops delivery to later subscribers.
//   - Events published from inside a handler are dispatched after the
//     current delivery completes (no reordering relative to other events
//     raised from the same handler chain).
//
// Subscription order is fixed at startup: every component subscribes while
// the node is being wired, before any Publish. The subscriber table is the
// static event-kind → handler-list mapping; nothing registers at runtime.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]HandlerFunc

	// dispatch serializes deliveries so that a Publish from inside a
	// handler queues behind the in-flight delivery instead of nesting.
	dispatch sync.Mutex
	queue    []Event
	busy     bool
}

// New creates an empty bus. Subscribe the full handler table before the
// first Publish.
func New() *Bus {
	return &Bus{handlers: make(map[Kind][]HandlerFunc)}
}

// Subscribe appends h to the handler list for kind.
// Handlers run in subscription order on every matching Publish.
func (b *Bus) Subscribe(kind Kind, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers ev to all subscribers of its kind and returns once every
// handler has run (or one of them consumed the event).
//
// Publishing from inside a handler is allowed: the nested event is queued
// and dispatched after the current event finishes delivering, preserving
// raise order.
func (b *Bus) Publish(ev Event) {
	b.dispatch.Lock()
	b.queue = append(b.queue, ev)
	if b.busy {
		// A delivery higher up the stack will drain the queue.
		b.dispatch.Unlock()
		return
	}
	b.busy = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.dispatch.Unlock()

		b.deliver(next)

		b.dispatch.Lock()
	}
	b.busy = false
	b.dispatch.Unlock()
}

// deliver runs the handler chain for one event.
func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	chain := b.handlers[ev.EventKind()]
	b.mu.RUnlock()

	for _, h := range chain {
		if h(ev) == Consumed {
			return
		}
	}
}
