package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"saferoute/internal/model"
)

func blendedMatrix(entries [][]float64) *model.CostMatrix {
	return &model.CostMatrix{N: len(entries), Blended: entries}
}

// points 1 and 3 are near the start, 2 is far: identity ordering 1,2,3
// zig-zags while 1,3,2 (or 3,1,2) is clearly cheaper.
var worstCaseMatrix = [][]float64{
	{0, 1, 50, 2},
	{1, 0, 49, 1},
	{50, 49, 0, 48},
	{2, 1, 48, 0},
}

func seqCost(m *model.CostMatrix, order []int) float64 {
	total := 0.0
	cur := 0
	for _, n := range order {
		total += m.Blended[cur][n]
		cur = n
	}
	return total
}

func TestNearestNeighborBeatsIdentityOnWorstCase(t *testing.T) {
	m := blendedMatrix(worstCaseMatrix)
	s := &Sequencer{}
	order, policy, err := s.Sequence(context.Background(), nil, m)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if policy != "nearest-neighbor" {
		t.Fatalf("policy = %q", policy)
	}
	seen := map[int]bool{}
	for _, v := range order {
		if v < 1 || v > 3 || seen[v] {
			t.Fatalf("invalid permutation %v", order)
		}
		seen[v] = true
	}
	if got, id := seqCost(m, order), seqCost(m, []int{1, 2, 3}); got >= id {
		t.Fatalf("greedy cost %v did not beat identity %v", got, id)
	}
}

func TestSolverPolicyUsedWhenHealthy(t *testing.T) {
	m := blendedMatrix(worstCaseMatrix)
	s := &Sequencer{Solver: fakeSolver{order: []int{3, 1, 2}}}
	order, policy, err := s.Sequence(context.Background(), nil, m)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if policy != "constraint-solver" {
		t.Fatalf("policy = %q, want constraint-solver", policy)
	}
	if len(order) != 3 || order[0] != 3 {
		t.Fatalf("order = %v", order)
	}
}

func TestSolverFailureFallsBackToNearestNeighbor(t *testing.T) {
	m := blendedMatrix(worstCaseMatrix)
	s := &Sequencer{Solver: fakeSolver{err: errors.New("solver crashed")}}
	_, policy, err := s.Sequence(context.Background(), nil, m)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if policy != "nearest-neighbor" {
		t.Fatalf("policy = %q, want nearest-neighbor fallback", policy)
	}
}

func TestSolverInvalidPermutationRejected(t *testing.T) {
	m := blendedMatrix(worstCaseMatrix)
	s := &Sequencer{Solver: fakeSolver{order: []int{1, 1, 2}}}
	_, policy, err := s.Sequence(context.Background(), nil, m)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if policy != "nearest-neighbor" {
		t.Fatalf("policy = %q, want fallback on invalid permutation", policy)
	}
}

func TestSolverTimeoutFallsBack(t *testing.T) {
	m := blendedMatrix(worstCaseMatrix)
	s := &Sequencer{Solver: fakeSolver{order: []int{1, 2, 3}, slow: SolverBudget + time.Second}}
	done := make(chan struct{})
	var policy string
	go func() {
		defer close(done)
		_, policy, _ = s.Sequence(context.Background(), nil, m)
	}()
	select {
	case <-done:
	case <-time.After(SolverBudget + 3*time.Second):
		t.Fatal("sequence did not respect solver budget")
	}
	if policy != "nearest-neighbor" {
		t.Fatalf("policy = %q, want nearest-neighbor after timeout", policy)
	}
}

func TestAStarGuidedPolicy(t *testing.T) {
	pts := []model.GeoPoint{
		{Lat: 11.00, Lng: 77.00},
		{Lat: 11.01, Lng: 77.01},
		{Lat: 11.05, Lng: 77.05},
		{Lat: 11.02, Lng: 77.02},
	}
	m := blendedMatrix(worstCaseMatrix)
	s := &Sequencer{PathFinder: NewPathFinder(), Policy: "a-star-guided"}
	order, policy, err := s.Sequence(context.Background(), pts, m)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if policy != "a-star-guided" {
		t.Fatalf("policy = %q", policy)
	}
	// greedy by heuristic proximity: nearest first
	if order[0] != 1 || order[1] != 3 || order[2] != 2 {
		t.Fatalf("order = %v, want [1 3 2]", order)
	}
}

func TestEmptyStopSetRejected(t *testing.T) {
	s := &Sequencer{}
	if _, _, err := s.Sequence(context.Background(), nil, blendedMatrix([][]float64{{0}})); err == nil {
		t.Fatal("expected ErrEmptyStopSet")
	}
}

func TestClusterByProximitySortsLargeSets(t *testing.T) {
	start := model.GeoPoint{Lat: 11.0, Lng: 77.0}
	stops := make([]model.DeliveryStop, 12)
	for i := range stops {
		// descending distance from start
		stops[i] = model.DeliveryStop{ID: string(rune('a' + i)), Location: model.GeoPoint{Lat: 11.0 + float64(12-i)*0.01, Lng: 77.0}}
	}
	out := ClusterByProximity(start, stops)
	if out[0].ID != stops[len(stops)-1].ID {
		t.Fatalf("nearest stop not first: %v", out[0].ID)
	}
	if len(out) != len(stops) {
		t.Fatalf("cluster changed set size")
	}
}

func TestCheckCapacityWarnsButNeverBlocks(t *testing.T) {
	rider := &model.Rider{ID: "r1", MaxWeightKg: 10, MaxStops: 1}
	stops := []model.DeliveryStop{
		{ID: "s1", WeightKg: 8},
		{ID: "s2", WeightKg: 8},
	}
	warnings := CheckCapacity(rider, stops)
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want weight and stop-count", warnings)
	}
	if CheckCapacity(nil, stops) != nil {
		t.Fatal("nil rider should produce no warnings")
	}
}
