package providers

import (
	"context"
	"errors"
	"testing"

	"saferoute/internal/model"
)

type fakeTraffic struct {
	info  TrafficInfo
	err   error
	calls int
}

func (f *fakeTraffic) Level(context.Context, model.GeoPoint, model.GeoPoint) (TrafficInfo, error) {
	f.calls++
	return f.info, f.err
}

func TestAggregatorProviderOrder(t *testing.T) {
	bad := &fakeTraffic{err: errors.New("down")}
	good := &fakeTraffic{info: TrafficInfo{Level: "high", DistanceM: 1000, DurationSec: 300}}
	agg := NewTrafficAggregator(0, bad, good)
	info, err := agg.Level(context.Background(), model.GeoPoint{Lat: 11, Lng: 77}, model.GeoPoint{Lat: 11.1, Lng: 77.1})
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if info.Level != "high" {
		t.Fatalf("level = %q, want high", info.Level)
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", bad.calls, good.calls)
	}
}

func TestAggregatorCachesWithinTTL(t *testing.T) {
	p := &fakeTraffic{info: TrafficInfo{Level: "medium"}}
	agg := NewTrafficAggregator(0, p)
	a, b := model.GeoPoint{Lat: 11, Lng: 77}, model.GeoPoint{Lat: 11.2, Lng: 77.2}
	for i := 0; i < 3; i++ {
		if _, err := agg.Level(context.Background(), a, b); err != nil {
			t.Fatalf("Level: %v", err)
		}
	}
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1 (cached)", p.calls)
	}
}

func TestAggregatorDegradesToLow(t *testing.T) {
	agg := NewTrafficAggregator(0, &fakeTraffic{err: errors.New("down")})
	info, err := agg.Level(context.Background(), model.GeoPoint{Lat: 11, Lng: 77}, model.GeoPoint{Lat: 11.01, Lng: 77.01})
	if err != nil {
		t.Fatalf("degraded path errored: %v", err)
	}
	if info.Level != "low" || info.DistanceM <= 0 || info.DurationSec <= 0 {
		t.Fatalf("degraded info = %+v", info)
	}
}

func TestMultipliers(t *testing.T) {
	if TrafficMultiplier("high") != 2.5 || TrafficMultiplier("none") != 1.0 {
		t.Fatal("traffic multiplier tiers wrong")
	}
	if TimeOfDayMultiplier(8) != 1.8 || TimeOfDayMultiplier(17) != 1.8 {
		t.Fatal("peak multiplier wrong")
	}
	if TimeOfDayMultiplier(12) != 1.3 || TimeOfDayMultiplier(3) != 1.0 {
		t.Fatal("off-peak multiplier wrong")
	}
}
