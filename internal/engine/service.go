package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

// MaxStopsPerRequest bounds a single optimization request.
const MaxStopsPerRequest = 50

var (
	// ErrReoptimizationImpossible rejects a reoptimize with nothing left
	// to plan. A rejected operation, not a crash.
	ErrReoptimizationImpossible = errors.New("engine: no remaining stops to reoptimize")
)

// ValidationError rejects malformed requests synchronously, before any
// computation or collaborator call.
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "engine: invalid request: " + e.Reason }

// Service wires the engine components behind the produced operations:
// optimize, reoptimize, monitor. Collaborator outages degrade individual
// signals; they never abort a whole computation.
type Service struct {
	Cost      *CostModel
	Sequencer *Sequencer
	Builder   *SegmentBuilder
	Ranker    *AlternativeRanker
	Monitor   *Monitor
	Store     providers.PersistentStore
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Optimize turns a stop set into a committed route. Single-stop requests
// asking for alternatives get a ranked AlternativesResult instead.
func (s *Service) Optimize(ctx context.Context, req model.OptimizeRequest, rider *model.Rider) (*model.Route, *model.AlternativesResult, error) {
	if err := validateRequest(req); err != nil {
		metrics.OptimizeRequests.WithLabelValues("rejected").Inc()
		return nil, nil, err
	}
	departAt := s.now()
	if req.DepartureTime != nil {
		departAt = *req.DepartureTime
	}

	if len(req.Stops) == 1 && req.Alternatives && s.Ranker != nil {
		res, err := s.Ranker.Rank(ctx, req.Start, req.Stops[0], req.Objectives, departAt)
		if err != nil {
			metrics.OptimizeRequests.WithLabelValues("error").Inc()
			return nil, nil, err
		}
		s.finishRoute(&res.Primary, req, rider, "alternative-ranker")
		if err := s.persist(ctx, res.Primary); err != nil {
			return nil, nil, err
		}
		metrics.OptimizeRequests.WithLabelValues("alternatives").Inc()
		return nil, res, nil
	}

	route, err := s.plan(ctx, req.Start, req.Stops, req, departAt)
	if err != nil {
		metrics.OptimizeRequests.WithLabelValues("error").Inc()
		return nil, nil, err
	}
	s.finishRoute(route, req, rider, route.SequencerPolicy)
	if err := s.persist(ctx, *route); err != nil {
		return nil, nil, err
	}
	metrics.OptimizeRequests.WithLabelValues("ok").Inc()
	return route, nil, nil
}

// plan runs the sequencing + segment pipeline over start -> stops.
func (s *Service) plan(ctx context.Context, start model.GeoPoint, stops []model.DeliveryStop, req model.OptimizeRequest, departAt time.Time) (*model.Route, error) {
	stops = ClusterByProximity(start, stops)

	points := make([]model.GeoPoint, 0, len(stops)+1)
	points = append(points, start)
	for _, st := range stops {
		points = append(points, st.Location)
	}

	alerts := s.recentAlerts(ctx)
	matrix := s.Cost.BuildMatrix(ctx, points, MatrixOptions{
		Objectives:    req.Objectives,
		DepartureTime: &departAt,
		NightMode:     req.NightMode,
		Alerts:        alerts,
	})

	order, policy, err := s.Sequencer.Sequence(ctx, points, matrix)
	if err != nil {
		return nil, err
	}

	ordered := make([]model.DeliveryStop, len(order))
	stopOrder := make([]string, len(order))
	for i, idx := range order {
		ordered[i] = stops[idx-1]
		stopOrder[i] = stops[idx-1].ID
	}

	segments := s.Builder.Build(ctx, start, ordered, departAt)
	route := &model.Route{
		Start:           start,
		StopOrder:       stopOrder,
		Stops:           ordered,
		Segments:        segments,
		Objectives:      req.Objectives,
		DepartAt:        departAt,
		Status:          model.RouteStatusPlanned,
		SequencerPolicy: policy,
	}
	Summarize(route)
	route.Arrivals = ProjectArrivals(segments, departAt)
	return route, nil
}

func (s *Service) finishRoute(route *model.Route, req model.OptimizeRequest, rider *model.Rider, policy string) {
	now := s.now()
	route.ID = uuid.New().String()
	route.RiderID = req.RiderID
	route.CreatedAt = now
	route.UpdatedAt = now
	route.SequencerPolicy = policy
	route.Warnings = append(route.Warnings, CheckCapacity(rider, route.Stops)...)
}

// Reoptimize recomputes the plan from the current position over the
// remaining (not yet due) stops plus any newly supplied ones, then
// replaces the route's derived fields atomically. Last replace wins: no
// version guard, matching observed production behavior.
func (s *Service) Reoptimize(ctx context.Context, routeID string, req model.ReoptimizeRequest) (*model.Route, error) {
	if s.Store == nil {
		return nil, errors.New("engine: no store configured")
	}
	route, err := s.Store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("engine: reoptimize %s: %w", routeID, err)
	}
	now := s.now()

	remaining := remainingStops(route, now)
	remaining = append(remaining, req.NewStops...)
	if len(remaining) == 0 {
		return nil, ErrReoptimizationImpossible
	}
	if err := geo.Validate(req.CurrentLocation); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	fresh, err := s.plan(ctx, req.CurrentLocation, remaining, model.OptimizeRequest{Objectives: route.Objectives}, now)
	if err != nil {
		return nil, err
	}

	// atomic replace of all derived fields, never partial
	route.Start = req.CurrentLocation
	route.StopOrder = fresh.StopOrder
	route.Stops = fresh.Stops
	route.Segments = fresh.Segments
	route.DistanceM = fresh.DistanceM
	route.DurationSec = fresh.DurationSec
	route.FuelL = fresh.FuelL
	route.AvgSafetyScore = fresh.AvgSafetyScore
	route.Arrivals = fresh.Arrivals
	route.DepartAt = fresh.DepartAt
	route.SequencerPolicy = fresh.SequencerPolicy
	route.Status = model.RouteStatusReoptimized
	route.UpdatedAt = now
	route.ReoptimizedAt = &now

	if err := s.persist(ctx, route); err != nil {
		return nil, err
	}
	metrics.Reoptimizations.Inc()
	return &route, nil
}

// remainingStops keeps stops whose projected arrival is still ahead.
func remainingStops(route model.Route, now time.Time) []model.DeliveryStop {
	out := []model.DeliveryStop{}
	for i, st := range route.Stops {
		if i < len(route.Arrivals) && route.Arrivals[i].Before(now) {
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s *Service) recentAlerts(ctx context.Context) []model.CrowdsourcedAlert {
	if s.Store == nil {
		return nil
	}
	alerts, err := s.Store.RecentAlerts(ctx, s.now().Add(-4*time.Hour))
	if err != nil {
		log.Printf("engine: alert fetch degraded: %v", err)
		return nil
	}
	return alerts
}

func (s *Service) persist(ctx context.Context, r model.Route) error {
	if s.Store == nil {
		return nil
	}
	if err := s.Store.SaveRoute(ctx, r); err != nil {
		return fmt.Errorf("engine: save route %s: %w", r.ID, err)
	}
	return nil
}

func validateRequest(req model.OptimizeRequest) error {
	if len(req.Stops) == 0 {
		return &ValidationError{Reason: "empty stop set"}
	}
	if len(req.Stops) > MaxStopsPerRequest {
		return &ValidationError{Reason: fmt.Sprintf("stop count %d over limit %d", len(req.Stops), MaxStopsPerRequest)}
	}
	if err := geo.Validate(req.Start); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	seen := map[string]bool{}
	for _, st := range req.Stops {
		if st.ID == "" {
			return &ValidationError{Reason: "stop without id"}
		}
		if seen[st.ID] {
			return &ValidationError{Reason: "duplicate stop id " + st.ID}
		}
		seen[st.ID] = true
		if err := geo.Validate(st.Location); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("stop %s: %v", st.ID, err)}
		}
		if st.WeightKg < 0 {
			return &ValidationError{Reason: "stop " + st.ID + " has negative weight"}
		}
	}
	return nil
}
