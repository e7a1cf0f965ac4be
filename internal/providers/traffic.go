package providers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"saferoute/internal/geo"
	"saferoute/internal/model"
)

// DefaultTrafficTTL bounds how long a fetched traffic tier is reused.
const DefaultTrafficTTL = 120 * time.Second

type trafficEntry struct {
	info    TrafficInfo
	written time.Time
}

// TrafficAggregator tries an ordered list of traffic estimators and caches
// the first usable answer per edge. When every provider fails it degrades
// to a "low" tier over straight-line distance rather than erroring.
type TrafficAggregator struct {
	mu        sync.Mutex
	providers []TrafficEstimator
	ttl       time.Duration
	cache     map[string]trafficEntry
	now       func() time.Time
}

func NewTrafficAggregator(ttl time.Duration, providers ...TrafficEstimator) *TrafficAggregator {
	if ttl <= 0 {
		ttl = DefaultTrafficTTL
	}
	return &TrafficAggregator{
		providers: providers,
		ttl:       ttl,
		cache:     map[string]trafficEntry{},
		now:       time.Now,
	}
}

func edgeKey(a, b model.GeoPoint) string {
	// ~100 m key resolution; close-enough edges share a cache slot
	return fmt.Sprintf("%.3f,%.3f|%.3f,%.3f", a.Lat, a.Lng, b.Lat, b.Lng)
}

// Level resolves the traffic tier for an edge, provider order first, cache
// second, degraded default last.
func (t *TrafficAggregator) Level(ctx context.Context, a, b model.GeoPoint) (TrafficInfo, error) {
	key := edgeKey(a, b)
	t.mu.Lock()
	if e, ok := t.cache[key]; ok && t.now().Sub(e.written) <= t.ttl {
		t.mu.Unlock()
		return e.info, nil
	}
	t.mu.Unlock()

	for i, p := range t.providers {
		info, err := p.Level(ctx, a, b)
		if err != nil {
			log.Printf("traffic: provider %d failed for %s: %v", i, key, err)
			continue
		}
		if info.Level == "" {
			continue
		}
		t.mu.Lock()
		t.cache[key] = trafficEntry{info: info, written: t.now()}
		t.mu.Unlock()
		return info, nil
	}

	d := geo.HaversineM(a, b)
	return TrafficInfo{Level: "low", DistanceM: d, DurationSec: geo.TravelSeconds(d, 0)}, nil
}

// TrafficMultiplier maps a tier to the duration multiplier the pathfinder
// heuristic applies (1.0 light through 2.5 severe).
func TrafficMultiplier(level string) float64 {
	switch level {
	case "none":
		return 1.0
	case "low":
		return 1.2
	case "medium":
		return 1.6
	case "high":
		return 2.5
	default:
		return 1.0
	}
}

// TimeOfDayMultiplier is the heuristic applied when no live traffic data is
// available: 1.8x in peak commute windows, 1.3x extended business hours.
func TimeOfDayMultiplier(hour int) float64 {
	switch {
	case hour == 8 || hour == 17 || hour == 18:
		return 1.8
	case hour >= 7 && hour <= 20:
		return 1.3
	default:
		return 1.0
	}
}
