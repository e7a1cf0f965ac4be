package geo

import (
	"fmt"
	"math"

	"saferoute/internal/model"
)

const (
	// EarthRadiusM is the mean earth radius used for great-circle math.
	EarthRadiusM = 6371000.0
	// AssumedSpeedMps is the default urban delivery speed (~30 km/h).
	AssumedSpeedMps = 8.33
)

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// TravelSeconds estimates travel time for a distance at the given speed.
// A non-positive speed falls back to AssumedSpeedMps.
func TravelSeconds(distanceM, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = AssumedSpeedMps
	}
	return distanceM / speedMps
}

// Validate rejects non-finite or out-of-range coordinates.
func Validate(p model.GeoPoint) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return fmt.Errorf("geo: non-finite coordinate (%v, %v)", p.Lat, p.Lng)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("geo: latitude %v out of range [-90, 90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("geo: longitude %v out of range [-180, 180]", p.Lng)
	}
	return nil
}
