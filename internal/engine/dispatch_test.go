package engine

import (
	"testing"
	"time"

	"saferoute/internal/cache"
	"saferoute/internal/hexindex"
	"saferoute/internal/model"
)

func TestAssignNearestAvailable(t *testing.T) {
	d := &Dispatcher{}
	riders := []model.Rider{
		{ID: "far", Base: model.GeoPoint{Lat: 11.10, Lng: 77.00}, Available: true},
		{ID: "near", Base: model.GeoPoint{Lat: 11.001, Lng: 77.00}, Available: true},
		{ID: "offline", Base: model.GeoPoint{Lat: 11.00, Lng: 77.00}, Available: false},
	}
	items := []model.DeliveryItem{{ID: "p1", Origin: model.GeoPoint{Lat: 11.00, Lng: 77.00}}}
	if n := d.AssignUnassigned(items, riders); n != 1 {
		t.Fatalf("assigned = %d, want 1", n)
	}
	if items[0].RiderID != "near" || !items[0].Assigned {
		t.Fatalf("item assigned to %q, want near", items[0].RiderID)
	}
}

func TestAssignSkipsTakenAndAssigned(t *testing.T) {
	d := &Dispatcher{}
	riders := []model.Rider{
		{ID: "r1", Base: model.GeoPoint{Lat: 11.00, Lng: 77.00}, Available: true},
	}
	items := []model.DeliveryItem{
		{ID: "done", Origin: model.GeoPoint{Lat: 11.00, Lng: 77.00}, Assigned: true, RiderID: "old"},
		{ID: "p1", Origin: model.GeoPoint{Lat: 11.00, Lng: 77.00}},
		{ID: "p2", Origin: model.GeoPoint{Lat: 11.00, Lng: 77.00}},
	}
	if n := d.AssignUnassigned(items, riders); n != 1 {
		t.Fatalf("assigned = %d, want 1 (single rider, one already done)", n)
	}
	if items[0].RiderID != "old" {
		t.Fatal("pre-assigned item was touched")
	}
	if items[1].RiderID != "r1" {
		t.Fatalf("first open item went to %q", items[1].RiderID)
	}
	if items[2].Assigned {
		t.Fatal("second item assigned with no rider left")
	}
}

func TestRiderPositionPrefersCache(t *testing.T) {
	c := cache.NewLocationCache(time.Minute)
	// rider's live position is near the item even though its base is far
	c.Set(model.RiderTelemetry{RiderID: "roamer", Location: model.GeoPoint{Lat: 11.001, Lng: 77.00}, TS: time.Now()})
	d := &Dispatcher{Cache: c}
	riders := []model.Rider{
		{ID: "roamer", Base: model.GeoPoint{Lat: 11.50, Lng: 77.50}, Available: true},
		{ID: "homebody", Base: model.GeoPoint{Lat: 11.01, Lng: 77.00}, Available: true},
	}
	items := []model.DeliveryItem{{ID: "p1", Origin: model.GeoPoint{Lat: 11.00, Lng: 77.00}}}
	d.AssignUnassigned(items, riders)
	if items[0].RiderID != "roamer" {
		t.Fatalf("assigned to %q, want roamer via cached position", items[0].RiderID)
	}
}

func TestNearbyRidersHydratesFromCache(t *testing.T) {
	ix := hexindex.New(0, time.Minute)
	c := cache.NewLocationCache(time.Minute)
	center := model.GeoPoint{Lat: 11.00, Lng: 77.00}
	ix.Update("r1", center)
	ix.Update("r2", model.GeoPoint{Lat: 11.0002, Lng: 77.0002})
	c.Set(model.RiderTelemetry{RiderID: "r1", Location: center, BatteryPct: 80, TS: time.Now()})
	d := &Dispatcher{Cache: c, Hex: ix}

	got := d.NearbyRiders(center, 3)
	if len(got) != 2 {
		t.Fatalf("nearby = %d riders, want 2", len(got))
	}
	byID := map[string]model.RiderTelemetry{}
	for _, rt := range got {
		byID[rt.RiderID] = rt
	}
	if byID["r1"].BatteryPct != 80 {
		t.Fatal("cached telemetry not hydrated for r1")
	}
	if _, ok := byID["r2"]; !ok {
		t.Fatal("r2 missing from ring query")
	}
}
