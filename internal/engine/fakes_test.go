package engine

import (
	"context"
	"time"

	"saferoute/internal/model"
	"saferoute/internal/providers"
)

// Shared collaborator fakes for the engine tests.

type fakeSafety struct {
	score providers.SafetyScore
	err   error
}

func (f fakeSafety) ScoreLocation(context.Context, model.GeoPoint, int, string) (providers.SafetyScore, error) {
	return f.score, f.err
}

func (f fakeSafety) ScoreRoute(context.Context, []model.GeoPoint, int) (providers.RouteSafety, error) {
	return providers.RouteSafety{Score: f.score.Overall, RiskTier: "low"}, f.err
}

type fakeTraffic struct {
	level string
	err   error
}

func (f fakeTraffic) Level(_ context.Context, a, b model.GeoPoint) (providers.TrafficInfo, error) {
	return providers.TrafficInfo{Level: f.level}, f.err
}

type fakeWeather struct {
	hazard float64
	conds  []string
	err    error
}

func (f fakeWeather) Weather(context.Context, model.GeoPoint) (providers.WeatherInfo, error) {
	return providers.WeatherInfo{HazardScore: f.hazard, Conditions: f.conds}, f.err
}

type fakeDirections struct {
	legs  []providers.DirectionsLeg
	err   error
	calls int
}

func (f *fakeDirections) GetRoute(_ context.Context, origin, dest model.GeoPoint, _ *time.Time) (providers.DirectionsLeg, error) {
	f.calls++
	if f.err != nil {
		return providers.DirectionsLeg{}, f.err
	}
	return f.legs[0], nil
}

func (f *fakeDirections) GetAlternatives(_ context.Context, origin, dest model.GeoPoint, _ *time.Time) ([]providers.DirectionsLeg, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.legs, nil
}

type fakeTimeEst struct {
	minutes float64
	err     error
}

func (f fakeTimeEst) PredictMinutes(context.Context, map[string]float64) (float64, error) {
	return f.minutes, f.err
}

type fakeSolver struct {
	order []int
	err   error
	slow  time.Duration
}

func (f fakeSolver) Solve(ctx context.Context, _ *model.CostMatrix) ([]int, error) {
	if f.slow > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.slow):
		}
	}
	return f.order, f.err
}

type fakeRL struct {
	idx int
	err error
}

func (f fakeRL) Recommend(context.Context, providers.RecommendContext, int) (int, error) {
	return f.idx, f.err
}

func tsPtr(t time.Time) *time.Time { return &t }

func boolPtr(b bool) *bool { return &b }
