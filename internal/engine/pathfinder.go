package engine

import (
	"container/heap"
	"fmt"
	"math"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

const (
	// DefaultGridResolutionM is the synthetic grid cell size when no road
	// graph is supplied.
	DefaultGridResolutionM = 100.0
	// DefaultMaxIterations caps search effort; exhaustion is a structured
	// failure, not an error.
	DefaultMaxIterations = 10000
	// GoalToleranceM treats any node within this range as the goal.
	GoalToleranceM = 100.0
	// DefaultGridSafetyPenalty is assumed for nodes absent from the
	// supplied safety map.
	DefaultGridSafetyPenalty = 20.0
)

// PathFinder runs multi-objective A* between a single origin/destination
// pair, over a supplied adjacency graph or a synthetic grid.
type PathFinder struct {
	GridResolutionM float64
	MaxIterations   int
}

func NewPathFinder() *PathFinder {
	return &PathFinder{GridResolutionM: DefaultGridResolutionM, MaxIterations: DefaultMaxIterations}
}

// PathRequest describes one search. SafetyMap holds penalty values 0..100
// keyed by coordinate; TrafficLevel is the live tier when known, otherwise
// the Hour drives a time-of-day multiplier.
type PathRequest struct {
	Start, Goal  model.GeoPoint
	Objectives   model.Objectives
	Graph        map[string][]model.GeoPoint
	SafetyMap    map[string]float64
	TrafficLevel string
	Hour         int
}

// PathResult is always returned, success or not; Reason carries the
// exploration diagnostics on failure.
type PathResult struct {
	Success    bool
	Path       []model.GeoPoint
	TotalCost  float64
	DistanceM  float64
	Iterations int
	Expanded   int
	Reason     string
}

// CoordKey quantizes a coordinate to the grid resolution; graph adjacency
// and the safety map are keyed with it.
func (pf *PathFinder) CoordKey(p model.GeoPoint) string {
	res := pf.GridResolutionM
	if res <= 0 {
		res = DefaultGridResolutionM
	}
	step := res / 111320.0
	return fmt.Sprintf("%d:%d", int(math.Round(p.Lat/step)), int(math.Round(p.Lng/step)))
}

type searchNode struct {
	point model.GeoPoint
	f, g  float64
	index int
}

type nodeHeap []*searchNode

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].f < h[j].f }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *nodeHeap) Push(x any)        { n := x.(*searchNode); n.index = len(*h); *h = append(*h, n) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Find runs the search. It never panics or loops forever: the iteration
// cap bounds every run and exhaustion returns Success=false with
// diagnostics.
func (pf *PathFinder) Find(req PathRequest) PathResult {
	weights := normalizedHeuristicWeights(req.Objectives)
	mult := trafficTimeMultiplier(req.TrafficLevel, req.Hour)

	open := &nodeHeap{}
	heap.Init(open)
	start := &searchNode{point: req.Start, g: 0}
	start.f = pf.heuristic(req, req.Start, weights, mult)
	heap.Push(open, start)

	closed := map[string]bool{}
	gScore := map[string]float64{pf.CoordKey(req.Start): 0}
	cameFrom := map[string]model.GeoPoint{}

	iterations := 0
	expanded := 0
	for open.Len() > 0 {
		if iterations >= pf.MaxIterations {
			metrics.PathfinderIterations.Observe(float64(iterations))
			return PathResult{
				Iterations: iterations,
				Expanded:   expanded,
				Reason:     fmt.Sprintf("iteration cap %d reached after expanding %d nodes", pf.MaxIterations, expanded),
			}
		}
		iterations++
		current := heap.Pop(open).(*searchNode)
		key := pf.CoordKey(current.point)
		if closed[key] {
			continue
		}
		closed[key] = true

		if geo.HaversineM(current.point, req.Goal) <= GoalToleranceM {
			path := reconstruct(pf, cameFrom, current.point, req.Start)
			path = append(path, req.Goal)
			metrics.PathfinderIterations.Observe(float64(iterations))
			return PathResult{
				Success:    true,
				Path:       path,
				TotalCost:  current.g,
				DistanceM:  pathDistance(path),
				Iterations: iterations,
				Expanded:   expanded,
			}
		}

		for _, nb := range pf.neighbors(req, current.point) {
			nbKey := pf.CoordKey(nb)
			if closed[nbKey] {
				continue
			}
			g := current.g + pf.edgeCost(req, current.point, nb, weights, mult)
			if prev, ok := gScore[nbKey]; ok && g >= prev {
				continue
			}
			gScore[nbKey] = g
			cameFrom[nbKey] = current.point
			heap.Push(open, &searchNode{point: nb, g: g, f: g + pf.heuristic(req, nb, weights, mult)})
			expanded++
		}
	}
	metrics.PathfinderIterations.Observe(float64(iterations))
	return PathResult{
		Iterations: iterations,
		Expanded:   expanded,
		Reason:     fmt.Sprintf("frontier exhausted after %d iterations, %d nodes expanded", iterations, expanded),
	}
}

// heuristic blends normalized distance, traffic-adjusted time, and the
// safety/traffic penalties; weights always sum to 1.
func (pf *PathFinder) heuristic(req PathRequest, p model.GeoPoint, w map[string]float64, mult float64) float64 {
	distM := geo.HaversineM(p, req.Goal)
	distKm := distM / 1000
	timeMin := geo.TravelSeconds(distM, 0) / 60 * mult
	safety := pf.safetyPenalty(req, p)
	return w["distance"]*distKm + w["time"]*timeMin + w["safety"]*safety/100 + w["traffic"]*(mult-1)
}

func (pf *PathFinder) edgeCost(req PathRequest, from, to model.GeoPoint, w map[string]float64, mult float64) float64 {
	distM := geo.HaversineM(from, to)
	distKm := distM / 1000
	timeMin := geo.TravelSeconds(distM, 0) / 60 * mult
	safety := pf.safetyPenalty(req, to)
	return w["distance"]*distKm + w["time"]*timeMin + w["safety"]*safety/100 + w["traffic"]*(mult-1)*distKm
}

// safetyPenalty does a nearest-neighbor lookup: exact cell first, then the
// 8 surrounding grid cells, then the pessimistic default.
func (pf *PathFinder) safetyPenalty(req PathRequest, p model.GeoPoint) float64 {
	if len(req.SafetyMap) == 0 {
		return DefaultGridSafetyPenalty
	}
	if v, ok := req.SafetyMap[pf.CoordKey(p)]; ok {
		return v
	}
	res := pf.GridResolutionM
	if res <= 0 {
		res = DefaultGridResolutionM
	}
	dLat := res / 111320.0
	dLng := res / (111320.0 * math.Cos(p.Lat*math.Pi/180))
	for _, d := range gridDirs {
		q := model.GeoPoint{Lat: p.Lat + float64(d[0])*dLat, Lng: p.Lng + float64(d[1])*dLng}
		if v, ok := req.SafetyMap[pf.CoordKey(q)]; ok {
			return v
		}
	}
	return DefaultGridSafetyPenalty
}

var gridDirs = [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

// neighbors returns graph adjacency when supplied, else the 8 surrounding
// grid cells at the configured resolution.
func (pf *PathFinder) neighbors(req PathRequest, p model.GeoPoint) []model.GeoPoint {
	if req.Graph != nil {
		return req.Graph[pf.CoordKey(p)]
	}
	res := pf.GridResolutionM
	if res <= 0 {
		res = DefaultGridResolutionM
	}
	dLat := res / 111320.0
	dLng := res / (111320.0 * math.Cos(p.Lat*math.Pi/180))
	out := make([]model.GeoPoint, 0, 8)
	for _, d := range gridDirs {
		q := model.GeoPoint{Lat: p.Lat + float64(d[0])*dLat, Lng: p.Lng + float64(d[1])*dLng}
		if q.Lat < -90 || q.Lat > 90 || q.Lng < -180 || q.Lng > 180 {
			continue
		}
		out = append(out, q)
	}
	return out
}

func trafficTimeMultiplier(level string, hour int) float64 {
	if level != "" {
		return providers.TrafficMultiplier(level)
	}
	return providers.TimeOfDayMultiplier(hour)
}

// normalizedHeuristicWeights maps objectives onto the four heuristic terms
// and re-normalizes them to sum to 1. Fuel tracks distance for pathfinding
// purposes.
func normalizedHeuristicWeights(obj model.Objectives) map[string]float64 {
	w := map[string]float64{"distance": 0, "time": 0, "safety": 0, "traffic": 0}
	for k, v := range obj {
		if v <= 0 {
			continue
		}
		switch k {
		case "fuel":
			w["distance"] += v
		case "distance", "time", "safety", "traffic":
			w[k] += v
		}
	}
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		w["distance"], w["time"] = 0.5, 0.5
		return w
	}
	for k := range w {
		w[k] /= sum
	}
	return w
}

func reconstruct(pf *PathFinder, cameFrom map[string]model.GeoPoint, end, start model.GeoPoint) []model.GeoPoint {
	path := []model.GeoPoint{end}
	cur := end
	startKey := pf.CoordKey(start)
	for i := 0; i < len(cameFrom)+1; i++ {
		key := pf.CoordKey(cur)
		if key == startKey {
			break
		}
		prev, ok := cameFrom[key]
		if !ok {
			break
		}
		path = append(path, prev)
		cur = prev
	}
	// reverse in place
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func pathDistance(path []model.GeoPoint) float64 {
	total := 0.0
	for i := 0; i < len(path)-1; i++ {
		total += geo.HaversineM(path[i], path[i+1])
	}
	return total
}
