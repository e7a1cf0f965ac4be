package engine

import (
	"context"
	"log"
	"time"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

const (
	// DefaultFuelPerKm is the assumed two-wheeler consumption in liters.
	DefaultFuelPerKm = 0.03

	alertRadiusM        = 500.0
	alertMaxAge         = 4 * time.Hour
	alertTrafficPenalty = 15.0
	alertFasterBonus    = 10.0
)

// CostModel builds pairwise edge costs from objective weights plus the
// safety, traffic and crowdsourced signals. Collaborator outages degrade
// to mid-range defaults instead of failing the build.
type CostModel struct {
	Safety    providers.SafetyEstimator
	Traffic   providers.TrafficEstimator
	FuelPerKm float64
	SpeedMps  float64
	Now       func() time.Time
}

// MatrixOptions direct one matrix build.
type MatrixOptions struct {
	Objectives    model.Objectives
	DepartureTime *time.Time
	NightMode     *bool // explicit override; otherwise derived from departure hour
	Alerts        []model.CrowdsourcedAlert
}

// IsNight reports whether an hour falls outside the 06:00-22:00 day window.
func IsNight(hour int) bool { return hour < 6 || hour >= 22 }

func trafficTierPenalty(level string) float64 {
	switch level {
	case "none":
		return 0
	case "low":
		return 5
	case "medium":
		return 20
	case "high":
		return 45
	default:
		return 5
	}
}

// BuildMatrix produces the dense, zero-diagonal cost matrices over
// {start} + stops. Entries are asymmetric: traffic is queried per directed
// edge and night weighting applies to the destination's scores.
func (cm *CostModel) BuildMatrix(ctx context.Context, points []model.GeoPoint, opts MatrixOptions) *model.CostMatrix {
	n := len(points)
	now := time.Now
	if cm.Now != nil {
		now = cm.Now
	}
	depart := now()
	if opts.DepartureTime != nil {
		depart = *opts.DepartureTime
	}
	night := IsNight(depart.Hour())
	if opts.NightMode != nil {
		night = *opts.NightMode
	}
	speed := cm.SpeedMps
	fuelPerKm := cm.FuelPerKm
	if fuelPerKm <= 0 {
		fuelPerKm = DefaultFuelPerKm
	}

	m := &model.CostMatrix{
		N:         n,
		Distance:  square(n),
		Time:      square(n),
		Fuel:      square(n),
		Safety:    square(n),
		Traffic:   square(n),
		Blended:   square(n),
		NightMode: night,
	}

	// One safety lookup per node, not per edge.
	scores := make([]providers.SafetyScore, n)
	for i, p := range points {
		scores[i] = providers.SafetyScore{Overall: providers.DefaultSafetyScore, Lighting: providers.DefaultLightingScore}
		if cm.Safety != nil {
			sc, err := cm.Safety.ScoreLocation(ctx, p, depart.Hour(), "routing")
			if err != nil {
				metrics.CollaboratorFallbacks.WithLabelValues("safety").Inc()
				log.Printf("costmodel: safety score fallback for node %d: %v", i, err)
			} else {
				scores[i] = sc
			}
		}
	}

	alerts := freshAlerts(opts.Alerts, now())

	weights := objectiveWeights(opts.Objectives)
	wSafety := weights["safety"]
	if night {
		wSafety *= 3
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			distM := geo.HaversineM(points[i], points[j])
			distKm := distM / 1000
			timeSec := geo.TravelSeconds(distM, speed)
			m.Distance[i][j] = distKm
			m.Time[i][j] = timeSec
			m.Fuel[i][j] = distKm * fuelPerKm

			safety := 100 - scores[j].Overall
			if night {
				safety += 2 * (100 - scores[j].Lighting)
			}
			m.Safety[i][j] = safety

			traffic := 0.0
			if cm.Traffic != nil {
				info, err := cm.Traffic.Level(ctx, points[i], points[j])
				if err != nil {
					metrics.CollaboratorFallbacks.WithLabelValues("traffic").Inc()
					traffic = trafficTierPenalty("low")
				} else {
					traffic = trafficTierPenalty(info.Level)
				}
			}
			traffic += alertAdjustment(alerts, points[j])
			if traffic < 0 {
				traffic = 0
			}
			m.Traffic[i][j] = traffic

			m.Blended[i][j] = weights["distance"]*distKm +
				weights["time"]*timeSec/60 +
				weights["fuel"]*m.Fuel[i][j] +
				wSafety*safety +
				weights["traffic"]*traffic
		}
	}
	return m
}

func square(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	return out
}

// objectiveWeights defaults to an even distance/time blend when the
// request names no objectives; unknown keys are ignored.
func objectiveWeights(obj model.Objectives) map[string]float64 {
	w := map[string]float64{"distance": 0, "time": 0, "fuel": 0, "safety": 0, "traffic": 0}
	named := false
	for k, v := range obj {
		if _, ok := w[k]; ok && v > 0 {
			w[k] = v
			named = true
		}
	}
	if !named {
		w["distance"] = 1
		w["time"] = 1
	}
	return w
}

func freshAlerts(alerts []model.CrowdsourcedAlert, now time.Time) []model.CrowdsourcedAlert {
	out := alerts[:0:0]
	for _, a := range alerts {
		if now.Sub(a.CreatedAt) <= alertMaxAge {
			out = append(out, a)
		}
	}
	return out
}

func alertAdjustment(alerts []model.CrowdsourcedAlert, p model.GeoPoint) float64 {
	adj := 0.0
	for _, a := range alerts {
		if geo.HaversineM(a.Location, p) > alertRadiusM {
			continue
		}
		if a.HasTrafficIssue {
			adj += alertTrafficPenalty
		}
		if a.IsFaster {
			adj -= alertFasterBonus
		}
	}
	return adj
}
