// Package events carries typed session-lifecycle notifications between the
// registry and its consumers (control plane, logging). Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the voice pipeline.
package events

import (
	"sync"
	"time"
)

// Kind enumerates the lifecycle event variants.
type Kind int

const (
	SessionStarted Kind = iota
	SessionEnded
	ConnectionError
)

func (k Kind) String() string {
	switch k {
	case SessionStarted:
		return "session_started"
	case SessionEnded:
		return "session_ended"
	case ConnectionError:
		return "connection_error"
	}
	return "unknown"
}

// Event is one lifecycle notification.
type Event struct {
	Kind      Kind
	SessionID string
	SpeakerID string
	RoomID    string
	ChannelID string
	Err       error
	At        time.Time
}

// Bus is a small fan-out registry of event subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and a cancel func that must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to all current subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
