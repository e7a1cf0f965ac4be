package engine

import (
	"log"

	"saferoute/internal/cache"
	"saferoute/internal/geo"
	"saferoute/internal/hexindex"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
)

// Dispatcher greedily matches unassigned work to the nearest available
// rider: first-come-first-served over the item list, O(items x riders),
// no global optimality claimed.
type Dispatcher struct {
	Cache *cache.LocationCache
	Hex   *hexindex.Index
}

// AssignUnassigned mutates items in place, setting RiderID/Assigned, and
// returns the number of assignments made. A rider's live cached position
// is preferred over its static base.
func (d *Dispatcher) AssignUnassigned(items []model.DeliveryItem, riders []model.Rider) int {
	assigned := 0
	taken := map[string]bool{}
	for i := range items {
		if items[i].Assigned {
			continue
		}
		bestID := ""
		bestDist := 0.0
		for _, r := range riders {
			if !r.Available || taken[r.ID] {
				continue
			}
			pos := d.riderPosition(r)
			dist := geo.HaversineM(pos, items[i].Origin)
			if bestID == "" || dist < bestDist {
				bestID, bestDist = r.ID, dist
			}
		}
		if bestID == "" {
			continue
		}
		items[i].RiderID = bestID
		items[i].Assigned = true
		taken[bestID] = true
		assigned++
		log.Printf("dispatch: item %s -> rider %s (%.0f m)", items[i].ID, bestID, bestDist)
	}
	return assigned
}

func (d *Dispatcher) riderPosition(r model.Rider) model.GeoPoint {
	if d.Cache != nil {
		if rec, _, ok := d.Cache.GetByRider(r.ID); ok {
			metrics.CacheHits.WithLabelValues("rider", "hit").Inc()
			return rec.Location
		}
		metrics.CacheHits.WithLabelValues("rider", "miss").Inc()
	}
	return r.Base
}

// NearbyRiders resolves the riders within k hex rings of a point, with
// their cached positions when available.
func (d *Dispatcher) NearbyRiders(p model.GeoPoint, k int) []model.RiderTelemetry {
	if d.Hex == nil {
		return nil
	}
	ids := d.Hex.Query(p, k)
	out := make([]model.RiderTelemetry, 0, len(ids))
	for _, id := range ids {
		if rec, _, ok := d.Cache.GetByRider(id); ok {
			out = append(out, rec)
			continue
		}
		out = append(out, model.RiderTelemetry{RiderID: id})
	}
	return out
}
