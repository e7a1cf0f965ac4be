// Package hexindex provides a fixed-resolution hexagonal spatial index for
// fleet proximity queries. Each rider occupies exactly one cell; a position
// update moves the rider atomically between cells. Ring queries union the
// non-stale riders across all cells within k rings of the query point,
// amortized O(1) versus a full fleet scan.
package hexindex

import (
	"fmt"
	"math"
	"sync"
	"time"

	"saferoute/internal/model"
)

const (
	// DefaultEdgeM matches the production resolution (~174 m hex edge).
	DefaultEdgeM = 174.0
	// DefaultTTL is how long a rider stays visible without a fresh update.
	DefaultTTL = 300 * time.Second
)

type cellKey struct{ Q, R int }

func (k cellKey) String() string { return fmt.Sprintf("%d:%d", k.Q, k.R) }

type Index struct {
	mu    sync.Mutex
	edgeM float64
	ttl   time.Duration
	cells map[cellKey]map[string]time.Time // cell -> riderID -> last seen
	where map[string]cellKey               // riderID -> occupied cell
	now   func() time.Time
}

func New(edgeM float64, ttl time.Duration) *Index {
	if edgeM <= 0 {
		edgeM = DefaultEdgeM
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{
		edgeM: edgeM,
		ttl:   ttl,
		cells: map[cellKey]map[string]time.Time{},
		where: map[string]cellKey{},
		now:   time.Now,
	}
}

// cellFor maps a coordinate onto an axial hex cell. Local equirectangular
// projection: adequate at delivery-city scale, deterministic for a given
// (lat, lng).
func (ix *Index) cellFor(p model.GeoPoint) cellKey {
	latRad := p.Lat * math.Pi / 180
	x := 6371000.0 * (p.Lng * math.Pi / 180) * math.Cos(latRad)
	y := 6371000.0 * latRad
	q := (math.Sqrt(3)/3*x - y/3) / ix.edgeM
	r := (2.0 / 3.0 * y) / ix.edgeM
	return roundAxial(q, r)
}

func roundAxial(q, r float64) cellKey {
	s := -q - r
	rq, rr, rs := math.Round(q), math.Round(r), math.Round(s)
	dq, dr, ds := math.Abs(rq-q), math.Abs(rr-r), math.Abs(rs-s)
	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return cellKey{Q: int(rq), R: int(rr)}
}

// Update moves a rider into the cell for its new position, stamps its last
// seen time, and opportunistically purges stale entries in that cell.
func (ix *Index) Update(riderID string, p model.GeoPoint) string {
	target := ix.cellFor(p)
	now := ix.now()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.where[riderID]; ok && prev != target {
		if m := ix.cells[prev]; m != nil {
			delete(m, riderID)
			if len(m) == 0 {
				delete(ix.cells, prev)
			}
		}
	}
	m := ix.cells[target]
	if m == nil {
		m = map[string]time.Time{}
		ix.cells[target] = m
	}
	m[riderID] = now
	ix.where[riderID] = target
	// purge the target cell while we hold it
	for id, seen := range m {
		if now.Sub(seen) > ix.ttl {
			delete(m, id)
			delete(ix.where, id)
		}
	}
	return target.String()
}

// Remove drops a rider from the index entirely.
func (ix *Index) Remove(riderID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cell, ok := ix.where[riderID]; ok {
		if m := ix.cells[cell]; m != nil {
			delete(m, riderID)
			if len(m) == 0 {
				delete(ix.cells, cell)
			}
		}
		delete(ix.where, riderID)
	}
}

// Query returns the non-stale rider ids within k rings of the point.
func (ix *Index) Query(p model.GeoPoint, k int) []string {
	if k < 0 {
		k = 0
	}
	center := ix.cellFor(p)
	now := ix.now()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := []string{}
	for dq := -k; dq <= k; dq++ {
		lo, hi := max(-k, -dq-k), min(k, -dq+k)
		for dr := lo; dr <= hi; dr++ {
			cell := cellKey{Q: center.Q + dq, R: center.R + dr}
			for id, seen := range ix.cells[cell] {
				if now.Sub(seen) <= ix.ttl {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// Len reports how many riders currently occupy cells (stale included until
// their cell is next touched).
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.where)
}
