// Package changefeed fans document-store change events out to in-process
// subscribers.
package changefeed

import (
	"sync"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// MatchFunc decides whether a subscriber is interested in an event.
// Resync events bypass the filter.
type MatchFunc func(model.ChangeEvent) bool

// MatchAll accepts every event.
func MatchAll(model.ChangeEvent) bool { return true }

// Hub is a non-blocking publish/subscribe point for change events.
// A slow subscriber never blocks Publish: when its buffer is full the event
// is dropped and the subscriber is signalled to resync instead.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*Subscriber]struct{}
	bufSize  int
	onActive func(active bool)

	// hookMu serializes onActive calls; active is the last reported state.
	hookMu sync.Mutex
	active bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// WithActivityHook registers a callback invoked with true when the first
// subscriber registers and with false when the last one leaves. The
// callback runs outside the hub lock, calls are serialized and always
// reflect the current state, so racing subscribe/unsubscribe pairs cannot
// leave it reporting the wrong one.
func WithActivityHook(fn func(active bool)) Option {
	return func(h *Hub) {
		h.onActive = fn
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:    make(map[*Subscriber]struct{}),
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscriber receives the events accepted by its match function.
type Subscriber struct {
	hub    *Hub
	match  MatchFunc
	events chan model.ChangeEvent
	resync chan struct{}
	once   sync.Once
}

// Subscribe registers a new subscriber. A nil match accepts everything.
func (h *Hub) Subscribe(match MatchFunc) *Subscriber {
	if match == nil {
		match = MatchAll
	}

	s := &Subscriber{
		hub:    h,
		match:  match,
		events: make(chan model.ChangeEvent, h.bufSize),
		resync: make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	first := len(h.subs) == 1
	h.mu.Unlock()

	if first {
		h.notifyActivity()
	}

	return s
}

// Publish delivers event to every interested subscriber.
func (h *Hub) Publish(event model.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		if event.Op != model.OpResync && !s.match(event) {
			continue
		}

		select {
		case s.events <- event:
		default:
			s.signalResync()
		}
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	_, existed := h.subs[s]
	delete(h.subs, s)
	last := existed && len(h.subs) == 0
	h.mu.Unlock()

	if last {
		h.notifyActivity()
	}
}

func (h *Hub) notifyActivity() {
	if h.onActive == nil {
		return
	}

	h.hookMu.Lock()
	defer h.hookMu.Unlock()

	active := h.Len() > 0
	if active == h.active {
		return
	}
	h.active = active
	h.onActive(active)
}

// Events returns the channel of matching events. It is never closed; use
// Unsubscribe to stop delivery.
func (s *Subscriber) Events() <-chan model.ChangeEvent {
	return s.events
}

// Resync is signalled when events were dropped because the buffer was full.
func (s *Subscriber) Resync() <-chan struct{} {
	return s.resync
}

// Unsubscribe removes the subscriber from its hub. Safe to call many times.
func (s *Subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

func (s *Subscriber) signalResync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}
