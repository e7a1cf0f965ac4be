package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"saferoute/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set. Route
// saves replace the whole document under the lock, so concurrent
// reoptimizations can never interleave partial state.
type Memory struct {
	mu       sync.Mutex
	routes   map[string]model.Route
	routeIDs []string
	latest   map[string]model.RiderTelemetry
	history  map[string][]model.RiderTelemetry
	audits   map[string][]model.MonitoringRecord
	alerts   []model.CrowdsourcedAlert
	riders   map[string]model.Rider
	items    map[string]model.DeliveryItem
}

func NewMemory() *Memory {
	return &Memory{
		routes:  map[string]model.Route{},
		latest:  map[string]model.RiderTelemetry{},
		history: map[string][]model.RiderTelemetry{},
		audits:  map[string][]model.MonitoringRecord{},
		riders:  map[string]model.Rider{},
		items:   map[string]model.DeliveryItem{},
	}
}

func (m *Memory) SaveRoute(_ context.Context, r model.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, ok := m.routes[r.ID]; !ok {
		m.routeIDs = append(m.routeIDs, r.ID)
	}
	m.routes[r.ID] = r
	return nil
}

func (m *Memory) GetRoute(_ context.Context, id string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRoutes(_ context.Context, limit int) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.routeIDs) {
		limit = len(m.routeIDs)
	}
	out := make([]model.Route, 0, limit)
	for _, id := range m.routeIDs[:limit] {
		out = append(out, m.routes[id])
	}
	return out, nil
}

// SaveTelemetry supersedes the live record and appends to history.
func (m *Memory) SaveTelemetry(_ context.Context, t model.RiderTelemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[t.RiderID] = t
	m.history[t.RiderID] = append(m.history[t.RiderID], t)
	return nil
}

func (m *Memory) LatestTelemetry(_ context.Context, riderID string) (model.RiderTelemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.latest[riderID]
	if !ok {
		return model.RiderTelemetry{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) AppendMonitoringRecord(_ context.Context, rec model.MonitoringRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	m.audits[rec.RouteID] = append(m.audits[rec.RouteID], rec)
	return nil
}

func (m *Memory) ListMonitoringRecords(_ context.Context, routeID string, limit int) ([]model.MonitoringRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.audits[routeID]
	out := append([]model.MonitoringRecord(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) SaveAlert(_ context.Context, a model.CrowdsourcedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) RecentAlerts(_ context.Context, since time.Time) ([]model.CrowdsourcedAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CrowdsourcedAlert{}
	for _, a := range m.alerts {
		if !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) UpsertRider(_ context.Context, r model.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.ID] = r
	return nil
}

func (m *Memory) ListRiders(_ context.Context, onlyAvailable bool) ([]model.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Rider{}
	for _, r := range m.riders {
		if onlyAvailable && !r.Available {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveDeliveryItem(_ context.Context, item model.DeliveryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	m.items[item.ID] = item
	return nil
}

func (m *Memory) ListUnassignedItems(_ context.Context) ([]model.DeliveryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryItem{}
	for _, it := range m.items {
		if !it.Assigned {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MarkAssigned(_ context.Context, itemID, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.Assigned = true
	it.RiderID = riderID
	m.items[itemID] = it
	return nil
}
