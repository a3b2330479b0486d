// Package eventbus is the in-process fan-out described in spec §4.8: an
// in-process pub/sub where subscribers register a callback plus a
// subscription class, and every matching event is delivered best-effort —
// delivery never blocks a state transition, and a callback that returns an
// error is dropped.
//
// Grounded on arkeep-io-arkeep's internal/websocket.Hub, generalized from
// "one hub per websocket connection" to "one bus shared by every producer
// and consumer in the orchestrator", with the websocket transport itself
// moved out to internal/wschannel as just one more subscriber.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Class is the subscription category an event belongs to (spec §4.8).
type Class string

const (
	ClassMetrics    Class = "metrics"
	ClassRecordings Class = "recordings"
	ClassScaling    Class = "scaling"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Class   Class
	Type    string
	Payload any
}

// Handler receives an event. Returning an error causes the bus to
// unsubscribe it. Handlers must
// not block — the bus calls them synchronously within Publish, so a slow or
// blocking handler would stall every other subscriber; a handler that needs
// to do blocking work should dispatch to its own buffered channel/goroutine
// immediately and return (see wschannel.Client for the pattern).
type Handler func(Event) error

type subscription struct {
	id      uint64
	class   Class
	handler Handler
}

// Bus is the event bus. The zero value is not usable — use New.
type Bus struct {
	mu        sync.Mutex
	subs      []subscription
	nextID    uint64
	logger    *zap.Logger
}

// New creates an empty Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("eventbus")}
}

// Subscription is an opaque handle returned by Subscribe, used to
// unsubscribe explicitly (in addition to automatic removal on error).
type Subscription struct {
	id uint64
}

// Subscribe registers handler for events of the given class.
func (b *Bus) Subscribe(class Class, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, class: class, handler: handler})
	return Subscription{id: id}
}

// Unsubscribe removes a subscription by handle. Safe to call more than once.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == sub.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber of ev.Class. A handler that
// returns an error is logged and unsubscribed. Publish does not block on
// I/O itself — it is the handler's job to be non-blocking (spec §4.8,
// "Delivery is best-effort and does not block state transitions").
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.class == ev.Class {
			matched = append(matched, s)
		}
	}
	b.mu.Unlock()

	var dead []uint64
	for _, s := range matched {
		if err := s.handler(ev); err != nil {
			b.logger.Warn("event subscriber removed after error",
				zap.String("class", string(ev.Class)),
				zap.String("type", ev.Type),
				zap.Error(err),
			)
			dead = append(dead, s.id)
		}
	}
	if len(dead) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range dead {
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}
