package engine

import (
	"context"
	"log"
	"math"
	"time"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

const (
	// maxSamplePoints bounds per-segment weather/safety queries: sample
	// evenly-strided geometry points instead of scoring every vertex.
	maxSamplePoints = 15
	// learnedBlendWeight is the share given to the learned duration
	// estimate against the map-derived duration.
	learnedBlendWeight = 0.3
)

// SegmentBuilder turns an ordered stop sequence into concrete route
// segments with per-leg geometry, safety, weather and fuel detail.
type SegmentBuilder struct {
	Directions providers.DirectionsProvider
	Weather    providers.WeatherEstimator
	Safety     providers.SafetyEstimator
	TimeEst    providers.TimeEstimator // optional learned duration model
	Traffic    providers.TrafficEstimator
	FuelPerKm  float64
	SpeedMps   float64
}

// Build produces one segment per consecutive pair of start + ordered stops.
// Every collaborator call may degrade; a segment is always produced.
func (b *SegmentBuilder) Build(ctx context.Context, start model.GeoPoint, stops []model.DeliveryStop, departAt time.Time) []model.RouteSegment {
	segments := make([]model.RouteSegment, 0, len(stops))
	prevID := "start"
	prev := start
	legDepart := departAt
	for _, stop := range stops {
		seg := b.buildSegment(ctx, prevID, prev, stop, legDepart)
		legDepart = legDepart.Add(time.Duration(seg.DurationSec * float64(time.Second)))
		segments = append(segments, seg)
		prevID = stop.ID
		prev = stop.Location
	}
	return segments
}

func (b *SegmentBuilder) buildSegment(ctx context.Context, fromID string, from model.GeoPoint, stop model.DeliveryStop, departAt time.Time) model.RouteSegment {
	leg := b.fetchLeg(ctx, from, stop.Location, departAt)

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

	if b.TimeEst != nil {
		features := map[string]float64{
			"distance_km": leg.DistanceM / 1000,
			"hour":        float64(departAt.Hour()),
			"hazard":      hazard,
		}
		if mins, err := b.TimeEst.PredictMinutes(ctx, features); err == nil && mins > 0 {
			durationSec = (1-learnedBlendWeight)*durationSec + learnedBlendWeight*mins*60
		} else if err != nil {
			metrics.CollaboratorFallbacks.WithLabelValues("time_estimator").Inc()
		}
	}

	fuelPerKm := b.FuelPerKm
	if fuelPerKm <= 0 {
		fuelPerKm = DefaultFuelPerKm
	}

	seg := model.RouteSegment{
		FromStopID:   fromID,
		ToStopID:     stop.ID,
		DistanceM:    leg.DistanceM,
		DurationSec:  durationSec,
		SafetyScore:  safety,
		FuelL:        leg.DistanceM / 1000 * fuelPerKm,
		Geometry:     leg.Geometry,
		Instructions: leg.Instructions,
		Weather:      weather,
	}
	if b.Traffic != nil {
		if info, err := b.Traffic.Level(ctx, from, stop.Location); err == nil {
			seg.TrafficLevel = info.Level
		}
	}
	return seg
}

// fetchLeg prefers the directions collaborator (traffic-aware when a
// departure is known) and falls back to straight-line at assumed speed.
func (b *SegmentBuilder) fetchLeg(ctx context.Context, from, to model.GeoPoint, departAt time.Time) providers.DirectionsLeg {
	if b.Directions != nil {
		dep := &departAt
		if departAt.IsZero() {
			dep = nil
		}
		leg, err := b.Directions.GetRoute(ctx, from, to, dep)
		if err == nil && leg.DistanceM > 0 {
			return leg
		}
		if err != nil {
			metrics.CollaboratorFallbacks.WithLabelValues("directions").Inc()
			log.Printf("segments: directions fallback for %v -> %v: %v", from, to, err)
		}
	}
	leg, _ := providers.StraightLineDirections{SpeedMps: b.SpeedMps}.GetRoute(ctx, from, to, nil)
	return leg
}

// samplePoints picks up to max evenly-strided points, always including the
// last geometry vertex.
func samplePoints(geom []model.GeoPoint, max int) []model.GeoPoint {
	if len(geom) <= max {
		return geom
	}
	out := make([]model.GeoPoint, 0, max)
	step := float64(len(geom)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		out = append(out, geom[int(math.Round(float64(i)*step))])
	}
	return out
}

func (b *SegmentBuilder) sampleWeather(ctx context.Context, pts []model.GeoPoint) (float64, string) {
	if b.Weather == nil || len(pts) == 0 {
		return 0, ""
	}
	worst := 0.0
	summary := "clear"
	degraded := false
	for _, p := range pts {
		info, err := b.Weather.Weather(ctx, p)
		if err != nil {
			degraded = true
			continue
		}
		if info.HazardScore > worst {
			worst = info.HazardScore
			if len(info.Conditions) > 0 {
				summary = info.Conditions[0]
			}
		}
	}
	if degraded {
		metrics.CollaboratorFallbacks.WithLabelValues("weather").Inc()
	}
	return worst, summary
}

func (b *SegmentBuilder) sampleSafety(ctx context.Context, pts []model.GeoPoint, hour int) float64 {
	if b.Safety == nil || len(pts) == 0 {
		return providers.DefaultSafetyScore
	}
	total := 0.0
	count := 0
	for _, p := range pts {
		sc, err := b.Safety.ScoreLocation(ctx, p, hour, "segment")
		if err != nil {
			metrics.CollaboratorFallbacks.WithLabelValues("safety").Inc()
			sc = providers.SafetyScore{Overall: providers.DefaultSafetyScore}
		}
		total += sc.Overall
		count++
	}
	return total / float64(count)
}

// weatherMultiplier maps a hazard score onto a duration multiplier in
// three linear bands, capped at 1.6.
func weatherMultiplier(hazard float64) float64 {
	switch {
	case hazard < 30:
		return 1.0 + 0.1*hazard/30
	case hazard < 60:
		return 1.1 + 0.2*(hazard-30)/30
	default:
		m := 1.3 + 0.3*(hazard-60)/40
		if m > 1.6 {
			m = 1.6
		}
		return m
	}
}

// ProjectArrivals accumulates segment durations from the departure time.
// Purely additive: no slack or service-time modeling.
func ProjectArrivals(segments []model.RouteSegment, departAt time.Time) []time.Time {
	if departAt.IsZero() {
		departAt = time.Now()
	}
	out := make([]time.Time, len(segments))
	t := departAt
	for i, seg := range segments {
		t = t.Add(time.Duration(seg.DurationSec * float64(time.Second)))
		out[i] = t
	}
	return out
}

// Summarize folds per-segment figures into the route aggregates. The
// average safety score is exactly the mean of segment scores.
func Summarize(r *model.Route) {
	var dist, dur, fuel, safety float64
	for _, seg := range r.Segments {
		dist += seg.DistanceM
		dur += seg.DurationSec
		fuel += seg.FuelL
		safety += seg.SafetyScore
	}
	r.DistanceM = dist
	r.DurationSec = dur
	r.FuelL = fuel
	if len(r.Segments) > 0 {
		r.AvgSafetyScore = safety / float64(len(r.Segments))
	}
}
