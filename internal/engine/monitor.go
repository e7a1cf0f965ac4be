package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"saferoute/internal/geo"
	"saferoute/internal/metrics"
	"saferoute/internal/model"
	"saferoute/internal/providers"
)

const (
	// DeviationThresholdM transitions the monitor to DeviationDetected.
	DeviationThresholdM = 500.0
	// DelayThresholdSec does the same on schedule slip alone.
	DelayThresholdSec = 600.0
)

// Monitor implements the deviation state machine: Nominal on every update
// unless the rider strays past the distance threshold or falls behind the
// planned schedule. Every update is persisted as an audit record
// regardless of outcome.
type Monitor struct {
	Store providers.PersistentStore
	Now   func() time.Time
}

// Check interpolates the planned position for the elapsed time, measures
// deviation and delay, appends the audit record, and reports whether the
// committed plan needs recomputing.
func (mo *Monitor) Check(ctx context.Context, route model.Route, req model.MonitorRequest) (model.MonitoringRecord, error) {
	now := req.TS
	if now.IsZero() {
		if mo.Now != nil {
			now = mo.Now()
		} else {
			now = time.Now()
		}
	}
	departed := route.DepartAt
	if departed.IsZero() {
		departed = route.UpdatedAt
	}
	elapsed := now.Sub(departed).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	planned := PlannedPosition(route, elapsed)
	deviation := geo.HaversineM(planned, req.Location)
	delay := elapsed - route.DurationSec
	if delay < 0 {
		delay = 0
	}

	rec := model.MonitoringRecord{
		ID:            uuid.New().String(),
		RouteID:       route.ID,
		RiderID:       req.RiderID,
		Planned:       planned,
		Actual:        req.Location,
		DeviationM:    deviation,
		TimeDelaySec:  delay,
		RequiresReopt: deviation >= DeviationThresholdM || delay > DelayThresholdSec,
		TS:            now,
	}
	if rec.RequiresReopt {
		metrics.DeviationsDetected.Inc()
	}
	if mo.Store != nil {
		if err := mo.Store.AppendMonitoringRecord(ctx, rec); err != nil {
			return rec, fmt.Errorf("monitor: append audit record: %w", err)
		}
	}
	return rec, nil
}

// PlannedPosition interpolates where the rider should be after elapsed
// seconds: walk the segments by planned duration, then interpolate
// linearly within the active segment. The progress ratio clamps to [0,1].
func PlannedPosition(route model.Route, elapsedSec float64) model.GeoPoint {
	if len(route.Segments) == 0 || route.DurationSec <= 0 {
		return route.Start
	}
	if elapsedSec <= 0 {
		return route.Start
	}
	if elapsedSec >= route.DurationSec {
		last := route.Segments[len(route.Segments)-1]
		return segmentEnd(route, len(route.Segments)-1, last)
	}
	acc := 0.0
	from := route.Start
	for i, seg := range route.Segments {
		if elapsedSec <= acc+seg.DurationSec {
			frac := 0.0
			if seg.DurationSec > 0 {
				frac = (elapsedSec - acc) / seg.DurationSec
			}
			to := segmentEnd(route, i, seg)
			return lerp(from, to, frac)
		}
		acc += seg.DurationSec
		from = segmentEnd(route, i, seg)
	}
	return from
}

func segmentEnd(route model.Route, i int, seg model.RouteSegment) model.GeoPoint {
	if n := len(seg.Geometry); n > 0 {
		return seg.Geometry[n-1]
	}
	if i < len(route.Stops) {
		return route.Stops[i].Location
	}
	return route.Start
}

func lerp(a, b model.GeoPoint, t float64) model.GeoPoint {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return model.GeoPoint{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}
