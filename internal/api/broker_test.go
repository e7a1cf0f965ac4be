package api

import (
	"testing"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("route-1")
	c := b.Subscribe("route-1")
	other := b.Subscribe("route-2")

	b.Publish("route-1", RouteEvent{Type: "route.deviation"})

	for _, ch := range []chan RouteEvent{a, c} {
		select {
		case evt := <-ch:
			if evt.Type != "route.deviation" {
				t.Fatalf("event type = %q", evt.Type)
			}
		default:
			t.Fatal("subscriber missed published event")
		}
	}
	select {
	case evt := <-other:
		t.Fatalf("route-2 subscriber got route-1 event: %+v", evt)
	default:
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("route-1")
	b.Unsubscribe("route-1", ch)

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// publishing after unsubscribe must not panic on the closed channel
	b.Publish("route-1", RouteEvent{Type: "route.reoptimized"})
}

func TestBrokerSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("route-1")
	for i := 0; i < cap(ch)+5; i++ {
		b.Publish("route-1", RouteEvent{Type: "telemetry"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered = %d, want full buffer %d with overflow dropped", len(ch), cap(ch))
	}
}
