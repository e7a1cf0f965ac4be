package model

import "time"

// Core domain types for the route optimization and dispatch engine.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type DeliveryStop struct {
	ID           string      `json:"id"`
	Address      string      `json:"address,omitempty"`
	Location     GeoPoint    `json:"location"`
	Priority     int         `json:"priority,omitempty"`
	TimeWindow   *TimeWindow `json:"timeWindow,omitempty"`
	WeightKg     float64     `json:"weightKg,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
}

// Objectives are the blend weights the cost model and ranker honor.
// Recognized keys: distance, time, fuel, safety, traffic.
type Objectives map[string]float64

type RouteStatus string

const (
	RouteStatusPlanned     RouteStatus = "planned"
	RouteStatusActive      RouteStatus = "active"
	RouteStatusReoptimized RouteStatus = "reoptimized"
	RouteStatusCompleted   RouteStatus = "completed"
)

type Route struct {
	ID              string         `json:"id"`
	Start           GeoPoint       `json:"start"`
	StopOrder       []string       `json:"stopOrder"`
	Stops           []DeliveryStop `json:"stops"`
	Segments        []RouteSegment `json:"segments"`
	DistanceM       float64        `json:"distanceM"`
	DurationSec     float64        `json:"durationSec"`
	FuelL           float64        `json:"fuelL"`
	AvgSafetyScore  float64        `json:"avgSafetyScore"`
	Objectives      Objectives     `json:"objectives,omitempty"`
	Arrivals        []time.Time    `json:"arrivals,omitempty"`
	DepartAt        time.Time      `json:"departAt"`
	Status          RouteStatus    `json:"status"`
	RiderID         string         `json:"riderId,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	ReoptimizedAt   *time.Time     `json:"reoptimizedAt,omitempty"`
	SequencerPolicy string         `json:"sequencerPolicy,omitempty"`
}

type RouteSegment struct {
	FromStopID   string     `json:"fromStopId"`
	ToStopID     string     `json:"toStopId"`
	DistanceM    float64    `json:"distanceM"`
	DurationSec  float64    `json:"durationSec"`
	SafetyScore  float64    `json:"safetyScore"` // 0..100, higher is safer
	FuelL        float64    `json:"fuelL"`
	Geometry     []GeoPoint `json:"geometry,omitempty"`
	Instructions []string   `json:"instructions,omitempty"`
	Weather      string     `json:"weather,omitempty"`
	TrafficLevel string     `json:"trafficLevel,omitempty"`
}

// CostMatrix holds the per-objective component matrices plus the blended
// matrix the sequencer consumes. All matrices are square over
// {start} + stops with a zero diagonal; entries may be asymmetric.
type CostMatrix struct {
	N         int         `json:"n"`
	Distance  [][]float64 `json:"distance"` // km
	Time      [][]float64 `json:"time"`     // seconds at assumed speed
	Fuel      [][]float64 `json:"fuel"`     // liters
	Safety    [][]float64 `json:"safety"`   // penalty, higher is worse
	Traffic   [][]float64 `json:"traffic"`  // penalty
	Blended   [][]float64 `json:"blended"`
	NightMode bool        `json:"nightMode"`
}

type RiderTelemetry struct {
	RiderID    string    `json:"riderId"`
	DeliveryID string    `json:"deliveryId,omitempty"`
	Location   GeoPoint  `json:"location"`
	SpeedMps   float64   `json:"speedMps,omitempty"`
	HeadingDeg float64   `json:"headingDeg,omitempty"`
	BatteryPct float64   `json:"batteryPct,omitempty"`
	TS         time.Time `json:"ts"`
}

// MonitoringRecord is one append-only audit entry per telemetry check
// against a committed route plan.
type MonitoringRecord struct {
	ID            string     `json:"id"`
	RouteID       string     `json:"routeId"`
	RiderID       string     `json:"riderId"`
	Planned       GeoPoint   `json:"planned"`
	Actual        GeoPoint   `json:"actual"`
	DeviationM    float64    `json:"deviationM"`
	TimeDelaySec  float64    `json:"timeDelaySec,omitempty"`
	RequiresReopt bool       `json:"requiresReopt"`
	ReoptimizedAt *time.Time `json:"reoptimizedAt,omitempty"`
	TS            time.Time  `json:"ts"`
}

type CrowdsourcedAlert struct {
	ID              string    `json:"id"`
	RiderID         string    `json:"riderId"`
	ServiceType     string    `json:"serviceType,omitempty"`
	Location        GeoPoint  `json:"location"`
	IsFaster        bool      `json:"isFaster"`
	HasTrafficIssue bool      `json:"hasTrafficIssue"`
	CreatedAt       time.Time `json:"createdAt"`
}

type OptimizeRequest struct {
	Start         GeoPoint       `json:"start"`
	Stops         []DeliveryStop `json:"stops"`
	Objectives    Objectives     `json:"objectives,omitempty"`
	RiderID       string         `json:"riderId,omitempty"`
	VehicleType   string         `json:"vehicleType,omitempty"`
	DepartureTime *time.Time     `json:"departureTime,omitempty"`
	NightMode     *bool          `json:"nightMode,omitempty"` // overrides hour-derived night mode
	Alternatives  bool           `json:"alternatives,omitempty"`
}

// AlternativesResult is returned for single-stop requests when route
// geometry variants are available.
type AlternativesResult struct {
	Primary      Route   `json:"primary"`
	Alternatives []Route `json:"alternatives,omitempty"`
	RLAdvisory   *int    `json:"rlAdvisory,omitempty"` // advisory only, never overrides ranking
}

type ReoptimizeRequest struct {
	CurrentLocation GeoPoint       `json:"currentLocation"`
	NewStops        []DeliveryStop `json:"newStops,omitempty"`
}

type MonitorRequest struct {
	RiderID    string    `json:"riderId"`
	DeliveryID string    `json:"deliveryId,omitempty"`
	Location   GeoPoint  `json:"location"`
	TS         time.Time `json:"ts,omitempty"`
}

// Rider is the static fleet record the dispatcher falls back to when no
// live telemetry is cached.
type Rider struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Base        GeoPoint `json:"base"`
	Available   bool     `json:"available"`
	MaxWeightKg float64  `json:"maxWeightKg,omitempty"`
	MaxStops    int      `json:"maxStops,omitempty"`
	VehicleType string   `json:"vehicleType,omitempty"`
}

// DeliveryItem is an unassigned piece of work for the dispatcher.
type DeliveryItem struct {
	ID       string   `json:"id"`
	Origin   GeoPoint `json:"origin"`
	RiderID  string   `json:"riderId,omitempty"`
	Assigned bool     `json:"assigned"`
}
