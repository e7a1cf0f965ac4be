// Package cache holds the in-process TTL store for rider telemetry. It
// exists to keep frequent GPS pings (one per rider every ~30 s) off the
// durable store's hot path; the durable write stays fire-and-forget.
package cache

import (
	"sync"
	"time"

	"saferoute/internal/model"
)

// DefaultTTL bounds how long a cached position is trusted.
const DefaultTTL = 300 * time.Second

type entry struct {
	rec     model.RiderTelemetry
	written time.Time
}

// LocationCache is a dual-indexed TTL store: the by-rider and by-delivery
// indexes point at one logical record and are always updated together
// under a single critical section.
type LocationCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	byRider    map[string]*entry
	byDelivery map[string]*entry
	now        func() time.Time
}

func NewLocationCache(ttl time.Duration) *LocationCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocationCache{
		ttl:        ttl,
		byRider:    map[string]*entry{},
		byDelivery: map[string]*entry{},
		now:        time.Now,
	}
}

// Set stores a telemetry record under both indexes atomically. An empty
// delivery id only updates the rider index; the previous delivery mapping
// for that rider is dropped so both indexes keep pointing at one record.
func (c *LocationCache) Set(rec model.RiderTelemetry) {
	if rec.RiderID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byRider[rec.RiderID]; ok && prev.rec.DeliveryID != "" && prev.rec.DeliveryID != rec.DeliveryID {
		delete(c.byDelivery, prev.rec.DeliveryID)
	}
	e := &entry{rec: rec, written: c.now()}
	c.byRider[rec.RiderID] = e
	if rec.DeliveryID != "" {
		c.byDelivery[rec.DeliveryID] = e
	}
}

// GetByRider returns the record and its age if unexpired. Expired entries
// are a miss and are deleted lazily.
func (c *LocationCache) GetByRider(riderID string) (model.RiderTelemetry, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(c.byRider, riderID)
}

// GetByDelivery is GetByRider keyed by delivery id.
func (c *LocationCache) GetByDelivery(deliveryID string) (model.RiderTelemetry, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(c.byDelivery, deliveryID)
}

func (c *LocationCache) get(idx map[string]*entry, key string) (model.RiderTelemetry, time.Duration, bool) {
	e, ok := idx[key]
	if !ok {
		return model.RiderTelemetry{}, 0, false
	}
	age := c.now().Sub(e.written)
	if age > c.ttl {
		delete(c.byRider, e.rec.RiderID)
		if e.rec.DeliveryID != "" {
			delete(c.byDelivery, e.rec.DeliveryID)
		}
		return model.RiderTelemetry{}, 0, false
	}
	return e.rec, age, true
}

// Len reports live rider entries (expired ones count until lazily purged).
func (c *LocationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byRider)
}
