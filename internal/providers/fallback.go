package providers

import (
	"context"
	"time"

	"saferoute/internal/geo"
	"saferoute/internal/model"
)

// Default scores used when a collaborator degrades. The cost model assumes
// a mid-range location; the pathfinder heuristic is more pessimistic.
const (
	DefaultSafetyScore   = 50.0
	DefaultLightingScore = 50.0
)

// StraightLineDirections is the always-available directions fallback:
// great-circle distance at an assumed speed with a two-point geometry.
type StraightLineDirections struct {
	SpeedMps float64
}

func (s StraightLineDirections) leg(origin, dest model.GeoPoint) DirectionsLeg {
	d := geo.HaversineM(origin, dest)
	return DirectionsLeg{
		DistanceM:   d,
		DurationSec: geo.TravelSeconds(d, s.SpeedMps),
		Geometry:    []model.GeoPoint{origin, dest},
	}
}

func (s StraightLineDirections) GetRoute(_ context.Context, origin, dest model.GeoPoint, _ *time.Time) (DirectionsLeg, error) {
	return s.leg(origin, dest), nil
}

func (s StraightLineDirections) GetAlternatives(_ context.Context, origin, dest model.GeoPoint, _ *time.Time) ([]DirectionsLeg, error) {
	return []DirectionsLeg{s.leg(origin, dest)}, nil
}

// StraightDistanceM is the pure-math distance every provider contract
// guarantees regardless of backend health.
func StraightDistanceM(a, b model.GeoPoint) float64 { return geo.HaversineM(a, b) }
