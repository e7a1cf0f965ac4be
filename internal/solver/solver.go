// Package solver provides the in-process constraint solver the sequencer
// may delegate to. It anneals over stop permutations with a 2-opt
// neighborhood under a wall-clock budget; the caller's context cancels it
// early and the sequencer falls back to nearest-neighbor on any failure.
package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"saferoute/internal/model"
)

type Annealer struct {
	Seed            int64
	TimeBudget      time.Duration
	IterationsLimit int
	InitialTemp     float64
	Cooling         float64
}

func New() *Annealer {
	return &Annealer{TimeBudget: 2 * time.Second, InitialTemp: 1.0, Cooling: 0.995}
}

// Solve orders matrix indexes 1..n-1 (0 is the start) by blended cost.
func (a *Annealer) Solve(ctx context.Context, m *model.CostMatrix) ([]int, error) {
	if m == nil || m.N < 2 {
		return nil, errors.New("solver: empty cost matrix")
	}
	if m.N == 2 {
		return []int{1}, nil
	}
	seed := a.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	curr := identityOrder(m.N - 1)
	currCost := orderCost(m, curr)
	best := append([]int(nil), curr...)
	bestCost := currCost

	temp := a.InitialTemp
	if temp <= 0 {
		temp = 1.0
	}
	cool := a.Cooling
	if cool <= 0 || cool >= 1 {
		cool = 0.995
	}
	budget := a.TimeBudget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	deadline := time.Now().Add(budget)

	iterations := 0
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			// budget cancelled mid-run; best-so-far is still a valid permutation
			return best, nil
		default:
		}
		iterations++
		if a.IterationsLimit > 0 && iterations >= a.IterationsLimit {
			break
		}
		cand := twoOptNeighbor(curr, rng)
		candCost := orderCost(m, cand)
		delta := candCost - currCost
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr, currCost = cand, candCost
			if currCost < bestCost {
				best = append(best[:0], curr...)
				bestCost = currCost
			}
		}
		temp *= cool
	}
	return best, nil
}

func identityOrder(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// twoOptNeighbor reverses a random sub-segment of the permutation.
func twoOptNeighbor(ord []int, rng *rand.Rand) []int {
	out := append([]int(nil), ord...)
	if len(out) < 2 {
		return out
	}
	i := rng.Intn(len(out) - 1)
	j := i + 1 + rng.Intn(len(out)-i-1)
	for a, b := i, j; a < b; a, b = a+1, b-1 {
		out[a], out[b] = out[b], out[a]
	}
	return out
}

// orderCost walks the blended matrix from the start through the permutation.
func orderCost(m *model.CostMatrix, order []int) float64 {
	total := 0.0
	cur := 0
	for _, next := range order {
		total += m.Blended[cur][next]
		cur = next
	}
	return total
}
