package store

import (
	"context"
	"errors"
	"time"

	"saferoute/internal/model"
)

// Store is the durable persistence interface behind the engine. It may be
// eventually consistent with the in-process location cache; telemetry
// writes from the ingest path are fire-and-forget.
type Store interface {
	// Routes
	SaveRoute(ctx context.Context, r model.Route) error
	GetRoute(ctx context.Context, id string) (model.Route, error)
	ListRoutes(ctx context.Context, limit int) ([]model.Route, error)

	// Telemetry: latest is superseded, history is append-only
	SaveTelemetry(ctx context.Context, t model.RiderTelemetry) error
	LatestTelemetry(ctx context.Context, riderID string) (model.RiderTelemetry, error)

	// Monitoring audit, append-only, ordered by arrival
	AppendMonitoringRecord(ctx context.Context, rec model.MonitoringRecord) error
	ListMonitoringRecords(ctx context.Context, routeID string, limit int) ([]model.MonitoringRecord, error)

	// Crowdsourced alerts
	SaveAlert(ctx context.Context, a model.CrowdsourcedAlert) error
	RecentAlerts(ctx context.Context, since time.Time) ([]model.CrowdsourcedAlert, error)

	// Fleet
	UpsertRider(ctx context.Context, r model.Rider) error
	ListRiders(ctx context.Context, onlyAvailable bool) ([]model.Rider, error)

	// Unassigned work for the dispatcher
	SaveDeliveryItem(ctx context.Context, item model.DeliveryItem) error
	ListUnassignedItems(ctx context.Context) ([]model.DeliveryItem, error)
	MarkAssigned(ctx context.Context, itemID, riderID string) error
}

var ErrNotFound = errors.New("not found")
