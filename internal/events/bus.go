package events

import (
	"sync"
)

// Bus is the in-process pub/sub fabric. Channel sends are non-blocking:
// a full subscriber drops events rather than stalling the publisher.
type Bus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]chan Event)}
}

// Subscribe registers a buffered channel for a target. Target "all"
// receives every event.
func (b *Bus) Subscribe(target string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subscribers[target] = append(b.subscribers[target], ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(target string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.subscribers[target]
	if !exists {
		return
	}

	for i, sub := range subs {
		if sub == ch {
			close(sub)
			b.subscribers[target] = append(subs[:i], subs[i+1:]...)
			if len(b.subscribers[target]) == 0 {
				delete(b.subscribers, target)
			}
			return
		}
	}
}

// Publish delivers an event to its target's subscribers plus the "all"
// audience. A target of "all" broadcasts to everyone.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var targets []chan Event
	if event.Target == "all" || event.Target == "" {
		for _, subs := range b.subscribers {
			targets = append(targets, subs...)
		}
	} else {
		targets = append(targets, b.subscribers[event.Target]...)
		targets = append(targets, b.subscribers["all"]...)
	}

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			// Subscriber is full; drop rather than block the publisher.
		}
	}
}

// Log implements Sink so the bus can sit behind gate/guardrail audits.
func (b *Bus) Log(event Event) {
	b.Publish(event)
}
