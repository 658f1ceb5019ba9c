// Package events fans lifecycle notifications out to connected clients.
package events

import (
	"sync"
	"time"
)

// Event is a single lifecycle notification pushed to subscribers.
type Event struct {
	Type      string                 `json:"type"`
	State     string                 `json:"state,omitempty"`
	Percent   float64                `json:"percent,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	TypeStateChanged    = "state_changed"
	TypeProgress        = "progress"
	TypeUpdateAvailable = "update_available"
	TypeUpdateApplied   = "update_applied"
	TypeRollback        = "rollback"
	TypeError           = "error"
)

// Bus broadcasts events to all subscribers. Slow subscribers drop events
// rather than block the publisher; every event carries current state, so a
// dropped frame is recovered by the next one.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.subs {
		if c == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
