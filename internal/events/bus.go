package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Bus fans events out to subscribers with per-subscription filtering.
// All methods are safe for concurrent use. Publish is non-blocking: a
// subscriber whose buffer is full misses the event; nobody else does.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Publish delivers the event to every matching subscriber. The event's
// timestamp is stamped here if unset. Returns an error only when the bus
// is closed.
func (b *Bus) Publish(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe registers a subscription with optional filtering. bufferSize
// of zero uses the default. The returned cancel function must be called to
// release the subscription; it closes the channel.
func (b *Bus) Subscribe(filter Filter, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	sub := &subscription{
		ch:     make(chan Event, bufferSize),
		filter: filter,
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Close shuts the bus down; subsequent Publish calls fail and all
// subscriber channels are closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
