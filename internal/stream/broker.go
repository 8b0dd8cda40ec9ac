// Package stream fans gateway events out to dashboard listeners (SSE,
// websocket) keyed by restaurant.
package stream

import (
	"sync"
)

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

type EventBroker interface {
	Subscribe(restaurantID string) chan Event
	Unsubscribe(restaurantID string, ch chan Event)
	Publish(restaurantID string, evt Event)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // restaurantID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(restaurantID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[restaurantID] == nil { b.subs[restaurantID] = map[chan Event]struct{}{} }
	b.subs[restaurantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(restaurantID string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[restaurantID]; m != nil {
		delete(m, ch)
		if len(m) == 0 { delete(b.subs, restaurantID) }
	}
	b.mu.Unlock()
	close(ch)
}

// Publish drops the event for slow listeners rather than blocking the
// ingestion path.
func (b *Broker) Publish(restaurantID string, evt Event) {
	b.mu.Lock()
	m := b.subs[restaurantID]
	for ch := range m {
		select { case ch <- evt: default: }
	}
	b.mu.Unlock()
}
