package engine

import (
	"context"
	"log"
	"sort"
	"time"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

// AlternativeRanker ranks route-geometry variants for single-destination
// requests. The weighted score is inverted so lower is better; an optional
// RL collaborator attaches an advisory pick that never overrides the
// ranking.
type AlternativeRanker struct {
	Directions providers.DirectionsProvider
	Builder    *SegmentBuilder
	RL         providers.RLRecommender // optional
}

type scoredRoute struct {
	route model.Route
	score float64
}

// Rank fetches every available geometry variant for start -> stop, scores
// each via the segment builder, and returns them best-first.
func (ar *AlternativeRanker) Rank(ctx context.Context, start model.GeoPoint, stop model.DeliveryStop, obj model.Objectives, departAt time.Time) (*model.AlternativesResult, error) {
	legs, err := ar.fetchVariants(ctx, start, stop.Location, departAt)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredRoute, 0, len(legs))
	for _, leg := range legs {
		seg := ar.Builder.segmentFromLeg(ctx, leg, stop, departAt)
		r := model.Route{
			Start:     start,
			StopOrder: []string{stop.ID},
			Stops:     []model.DeliveryStop{stop},
			Segments:  []model.RouteSegment{seg},
			DepartAt:  departAt,
			Status:    model.RouteStatusPlanned,
		}
		Summarize(&r)
		r.Arrivals = ProjectArrivals(r.Segments, departAt)
		scored = append(scored, scoredRoute{route: r, score: variantScore(r, obj)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score < scored[j].score })

	out := &model.AlternativesResult{Primary: scored[0].route}
	for _, s := range scored[1:] {
		out.Alternatives = append(out.Alternatives, s.route)
	}

	if ar.RL != nil && len(scored) > 1 {
		rc := providers.RecommendContext{
			Location: start,
			Hour:     departAt.Hour(),
			Traffic:  scored[0].route.Segments[0].TrafficLevel,
			Weather:  scored[0].route.Segments[0].Weather,
		}
		if idx, err := ar.RL.Recommend(ctx, rc, len(scored)); err == nil && idx >= 0 && idx < len(scored) {
			out.RLAdvisory = &idx
		} else if err != nil {
			metrics.CollaboratorFallbacks.WithLabelValues("rl").Inc()
			log.Printf("alternatives: rl recommender unavailable: %v", err)
		}
	}
	return out, nil
}

func (ar *AlternativeRanker) fetchVariants(ctx context.Context, from, to model.GeoPoint, departAt time.Time) ([]providers.DirectionsLeg, error) {
	dep := &departAt
	if departAt.IsZero() {
		dep = nil
	}
	if ar.Directions != nil {
		legs, err := ar.Directions.GetAlternatives(ctx, from, to, dep)
		if err == nil && len(legs) > 0 {
			return legs, nil
		}
		if err != nil {
			metrics.CollaboratorFallbacks.WithLabelValues("directions").Inc()
			log.Printf("alternatives: directions fallback: %v", err)
		}
	}
	return providers.StraightLineDirections{SpeedMps: ar.Builder.SpeedMps}.GetAlternatives(ctx, from, to, dep)
}

// variantScore blends the requested objectives, all inverted so lower is
// better: duration seconds for time, 0.1x distance for distance, and
// 10x(100-safety) for safety.
func variantScore(r model.Route, obj model.Objectives) float64 {
	score := 0.0
	any := false
	if obj["time"] > 0 {
		score += r.DurationSec
		any = true
	}
	if obj["distance"] > 0 {
		score += 0.1 * r.DistanceM
		any = true
	}
	if obj["safety"] > 0 {
		score += 10 * (100 - r.AvgSafetyScore)
		any = true
	}
	if !any {
		score = r.DurationSec
	}
	return score
}

// segmentFromLeg applies the segment builder's scoring to an already
// fetched leg (weather bands, sampled safety, learned-duration blend).
func (b *SegmentBuilder) segmentFromLeg(ctx context.Context, leg providers.DirectionsLeg, stop model.DeliveryStop, departAt time.Time) model.RouteSegment {
	durationSec := leg.DurationSec
	if leg.DurationInTrafficSec > 0 {
		durationSec = leg.DurationInTrafficSec
	}
	if durationSec <= 0 {
		durationSec = geo.TravelSeconds(leg.DistanceM, b.SpeedMps)
	}
	samples := samplePoints(leg.Geometry, maxSamplePoints)
	hazard, weather := b.sampleWeather(ctx, samples)
	durationSec *= weatherMultiplier(hazard)
	safety := b.sampleSafety(ctx, samples, departAt.Hour())
	fuelPerKm := b.FuelPerKm
	if fuelPerKm <= 0 {
		fuelPerKm = DefaultFuelPerKm
	}
	return model.RouteSegment{
		FromStopID:   "start",
		ToStopID:     stop.ID,
		DistanceM:    leg.DistanceM,
		DurationSec:  durationSec,
		SafetyScore:  safety,
		FuelL:        leg.DistanceM / 1000 * fuelPerKm,
		Geometry:     leg.Geometry,
		Instructions: leg.Instructions,
		Weather:      weather,
	}
}
