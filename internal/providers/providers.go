// Package providers declares the external collaborator contracts the
// engine consumes, plus the deterministic fallbacks used when a
// collaborator is absent or degraded. Every call takes a context so the
// caller controls timeouts; the engine treats each one as a suspension
// point that may fail without aborting the computation.
package providers

import (
	"context"
	"time"

	"saferoute/internal/model"
)

// DirectionsLeg is one routable leg between two points.
type DirectionsLeg struct {
	DistanceM            float64
	DurationSec          float64
	DurationInTrafficSec float64 // 0 when no live traffic data
	Geometry             []model.GeoPoint
	Instructions         []string
}

// DirectionsProvider yields road geometry between two points. GetAlternatives
// may return a single leg when the backend offers no variants.
type DirectionsProvider interface {
	GetRoute(ctx context.Context, origin, dest model.GeoPoint, departAt *time.Time) (DirectionsLeg, error)
	GetAlternatives(ctx context.Context, origin, dest model.GeoPoint, departAt *time.Time) ([]DirectionsLeg, error)
}

// SafetyScore carries the overall score and the lighting sub-score, both
// 0..100 with higher meaning safer.
type SafetyScore struct {
	Overall  float64
	Lighting float64
}

type RouteSafety struct {
	Score    float64
	RiskTier string // low, medium, high
}

type SafetyEstimator interface {
	ScoreLocation(ctx context.Context, p model.GeoPoint, hour int, context_ string) (SafetyScore, error)
	ScoreRoute(ctx context.Context, pts []model.GeoPoint, hour int) (RouteSafety, error)
}

// TimeEstimator is an optional learned duration model.
type TimeEstimator interface {
	PredictMinutes(ctx context.Context, features map[string]float64) (float64, error)
}

type TrafficInfo struct {
	Level       string // none, low, medium, high
	DistanceM   float64
	DurationSec float64
}

type TrafficEstimator interface {
	Level(ctx context.Context, a, b model.GeoPoint) (TrafficInfo, error)
}

type WeatherInfo struct {
	HazardScore float64 // 0..100
	Conditions  []string
}

type WeatherEstimator interface {
	Weather(ctx context.Context, p model.GeoPoint) (WeatherInfo, error)
}

// RLRecommender may pick an advisory candidate index given ranking context.
type RLRecommender interface {
	Recommend(ctx context.Context, rc RecommendContext, candidates int) (int, error)
}

type RecommendContext struct {
	Location model.GeoPoint
	Hour     int
	Traffic  string
	Weather  string
}

// ConstraintSolver orders stop indexes 1..n of a cost matrix (index 0 is
// the start and is implicit). Implementations must honor ctx cancellation.
type ConstraintSolver interface {
	Solve(ctx context.Context, m *model.CostMatrix) ([]int, error)
}

// PersistentStore is the durable side of the engine; possibly eventually
// consistent with the in-process caches. Declared here to keep collaborator
// contracts in one place; implemented by internal/store.
type PersistentStore interface {
	SaveRoute(ctx context.Context, r model.Route) error
	GetRoute(ctx context.Context, id string) (model.Route, error)
	SaveTelemetry(ctx context.Context, t model.RiderTelemetry) error
	LatestTelemetry(ctx context.Context, riderID string) (model.RiderTelemetry, error)
	AppendMonitoringRecord(ctx context.Context, rec model.MonitoringRecord) error
	ListMonitoringRecords(ctx context.Context, routeID string, limit int) ([]model.MonitoringRecord, error)
	SaveAlert(ctx context.Context, a model.CrowdsourcedAlert) error
	RecentAlerts(ctx context.Context, since time.Time) ([]model.CrowdsourcedAlert, error)
}
