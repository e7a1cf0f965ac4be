package api

import (
	"sync"
)

// RouteEvent is one fan-out message on a route's event stream: a detected
// deviation, a committed reoptimization, or a telemetry heartbeat.
type RouteEvent struct {
	Type string
	Data map[string]any
}

// Broker is the in-process EventBroker. Slow subscribers drop events
// rather than block the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan RouteEvent]struct{} // routeId -> subscribers
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan RouteEvent]struct{}{}}
}

func (b *Broker) Subscribe(routeID string) chan RouteEvent {
	ch := make(chan RouteEvent, 8)
	b.mu.Lock()
	if b.subs[routeID] == nil {
		b.subs[routeID] = map[chan RouteEvent]struct{}{}
	}
	b.subs[routeID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(routeID string, ch chan RouteEvent) {
	b.mu.Lock()
	if m := b.subs[routeID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, routeID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(routeID string, evt RouteEvent) {
	b.mu.Lock()
	for ch := range b.subs[routeID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
