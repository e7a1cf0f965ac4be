package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

const (
	// SolverBudget bounds the optional constraint solver's wall clock.
	SolverBudget = 5 * time.Second
	// clusterThreshold: larger stop sets are proximity-sorted before
	// sequencing to keep the O(n^2) policies tractable.
	clusterThreshold = 10
)

// Sequencer orders stops via an interchangeable policy chain with graceful
// degradation: constraint solver (when configured), A*-guided greedy, and
// nearest-neighbor as the universal fallback.
type Sequencer struct {
	Solver     providers.ConstraintSolver // optional
	PathFinder *PathFinder                // enables the a-star-guided policy
	Policy     string                     // "nearest-neighbor", "constraint-solver", "a-star-guided"; empty = best available
}

// ErrEmptyStopSet is returned for a matrix with no stops to order.
var ErrEmptyStopSet = errors.New("sequencer: empty stop set")

// Sequence returns a permutation of 1..n-1 (matrix index 0 is the start).
// The returned policy string names the algorithm that actually produced
// the ordering after any fallback.
func (s *Sequencer) Sequence(ctx context.Context, points []model.GeoPoint, m *model.CostMatrix) ([]int, string, error) {
	if m == nil || m.N < 2 {
		return nil, "", ErrEmptyStopSet
	}

	if s.Policy == "constraint-solver" || (s.Policy == "" && s.Solver != nil) {
		if order, err := s.solveWithBudget(ctx, m); err == nil {
			metrics.SequencerPolicy.WithLabelValues("constraint-solver").Inc()
			return order, "constraint-solver", nil
		} else {
			log.Printf("sequencer: constraint solver unavailable, falling back: %v", err)
			metrics.CollaboratorFallbacks.WithLabelValues("solver").Inc()
		}
	}

	if s.Policy == "a-star-guided" && s.PathFinder != nil {
		order := s.aStarGuided(points, m)
		metrics.SequencerPolicy.WithLabelValues("a-star-guided").Inc()
		return order, "a-star-guided", nil
	}

	order := nearestNeighborOrder(m)
	metrics.SequencerPolicy.WithLabelValues("nearest-neighbor").Inc()
	return order, "nearest-neighbor", nil
}

func (s *Sequencer) solveWithBudget(ctx context.Context, m *model.CostMatrix) ([]int, error) {
	if s.Solver == nil {
		return nil, errors.New("no solver configured")
	}
	ctx, cancel := context.WithTimeout(ctx, SolverBudget)
	defer cancel()
	order, err := s.Solver.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	if !validPermutation(order, m.N-1) {
		return nil, errors.New("solver returned invalid permutation")
	}
	return order, nil
}

// nearestNeighborOrder is the greedy O(n^2) universal fallback: from the
// start, repeatedly take the cheapest unvisited stop by blended cost, with
// a deterministic lowest-index tie-break.
func nearestNeighborOrder(m *model.CostMatrix) []int {
	n := m.N
	visited := make([]bool, n)
	visited[0] = true
	order := make([]int, 0, n-1)
	cur := 0
	for len(order) < n-1 {
		best := -1
		for j := 1; j < n; j++ {
			if visited[j] {
				continue
			}
			if best == -1 || m.Blended[cur][j] < m.Blended[cur][best] {
				best = j
			}
		}
		order = append(order, best)
		visited[best] = true
		cur = best
	}
	return order
}

// aStarGuided greedily picks the remaining stop with the lowest pathfinder
// heuristic cost from the current position.
func (s *Sequencer) aStarGuided(points []model.GeoPoint, m *model.CostMatrix) []int {
	n := m.N
	weights := normalizedHeuristicWeights(nil)
	visited := make([]bool, n)
	visited[0] = true
	order := make([]int, 0, n-1)
	cur := 0
	for len(order) < n-1 {
		best := -1
		bestCost := 0.0
		for j := 1; j < n; j++ {
			if visited[j] {
				continue
			}
			req := PathRequest{Start: points[cur], Goal: points[j]}
			c := s.PathFinder.heuristic(req, points[cur], weights, 1.0)
			if best == -1 || c < bestCost {
				best, bestCost = j, c
			}
		}
		order = append(order, best)
		visited[best] = true
		cur = best
	}
	return order
}

// ClusterByProximity sorts stop indexes by distance from the start point.
// A stand-in for true spatial clustering: it keeps large stop sets roughly
// monotone in distance before the sequencing pass.
func ClusterByProximity(start model.GeoPoint, stops []model.DeliveryStop) []model.DeliveryStop {
	if len(stops) <= clusterThreshold {
		return stops
	}
	out := append([]model.DeliveryStop(nil), stops...)
	sort.SliceStable(out, func(i, j int) bool {
		return geo.HaversineM(start, out[i].Location) < geo.HaversineM(start, out[j].Location)
	})
	return out
}

// CheckCapacity evaluates rider limits against a stop set. Violations are
// reported as warnings, never as errors: dispatch proceeds regardless.
func CheckCapacity(rider *model.Rider, stops []model.DeliveryStop) []string {
	if rider == nil {
		return nil
	}
	warnings := []string{}
	total := 0.0
	for _, st := range stops {
		total += st.WeightKg
	}
	if rider.MaxWeightKg > 0 && total > rider.MaxWeightKg {
		warnings = append(warnings, "capacity: total weight exceeds rider limit")
		log.Printf("sequencer: rider %s over weight limit (%.1f > %.1f kg), dispatching anyway", rider.ID, total, rider.MaxWeightKg)
	}
	if rider.MaxStops > 0 && len(stops) > rider.MaxStops {
		warnings = append(warnings, "capacity: stop count exceeds rider limit")
		log.Printf("sequencer: rider %s over stop limit (%d > %d), dispatching anyway", rider.ID, len(stops), rider.MaxStops)
	}
	return warnings
}

func validPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n+1)
	for _, v := range order {
		if v < 1 || v > n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
