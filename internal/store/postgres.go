package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"saferoute/internal/model"
)

// Postgres persists engine state as JSONB documents. A route save replaces
// the whole document in one statement, which is what makes concurrent
// reoptimizations last-writer-wins rather than partially merged.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping reports database connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates the schema (dev helper, idempotent).
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routes (id uuid PRIMARY KEY, doc jsonb NOT NULL, updated_at timestamptz NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS telemetry_latest (rider_id text PRIMARY KEY, doc jsonb NOT NULL, ts timestamptz NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS telemetry_history (id bigserial PRIMARY KEY, rider_id text NOT NULL, doc jsonb NOT NULL, ts timestamptz NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS monitoring_records (id uuid PRIMARY KEY, route_id uuid NOT NULL, doc jsonb NOT NULL, ts timestamptz NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS monitoring_records_route_ts ON monitoring_records (route_id, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (id uuid PRIMARY KEY, doc jsonb NOT NULL, created_at timestamptz NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS riders (id text PRIMARY KEY, doc jsonb NOT NULL, available boolean NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS delivery_items (id text PRIMARY KEY, doc jsonb NOT NULL, assigned boolean NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveRoute(ctx context.Context, r model.Route) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO routes (id, doc, updated_at) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=EXCLUDED.updated_at`,
		r.ID, doc, r.UpdatedAt)
	return err
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (model.Route, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM routes WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	if err != nil {
		return model.Route{}, err
	}
	var r model.Route
	if err := json.Unmarshal(doc, &r); err != nil {
		return model.Route{}, err
	}
	return r, nil
}

func (p *Postgres) ListRoutes(ctx context.Context, limit int) ([]model.Route, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM routes ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Route{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r model.Route
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveTelemetry(ctx context.Context, t model.RiderTelemetry) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO telemetry_latest (rider_id, doc, ts) VALUES ($1,$2,$3)
		 ON CONFLICT (rider_id) DO UPDATE SET doc=EXCLUDED.doc, ts=EXCLUDED.ts`,
		t.RiderID, doc, t.TS); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO telemetry_history (rider_id, doc, ts) VALUES ($1,$2,$3)`,
		t.RiderID, doc, t.TS); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) LatestTelemetry(ctx context.Context, riderID string) (model.RiderTelemetry, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM telemetry_latest WHERE rider_id=$1`, riderID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RiderTelemetry{}, ErrNotFound
	}
	if err != nil {
		return model.RiderTelemetry{}, err
	}
	var t model.RiderTelemetry
	if err := json.Unmarshal(doc, &t); err != nil {
		return model.RiderTelemetry{}, err
	}
	return t, nil
}

func (p *Postgres) AppendMonitoringRecord(ctx context.Context, rec model.MonitoringRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO monitoring_records (id, route_id, doc, ts) VALUES ($1,$2,$3,$4)`,
		rec.ID, rec.RouteID, doc, rec.TS)
	return err
}

func (p *Postgres) ListMonitoringRecords(ctx context.Context, routeID string, limit int) ([]model.MonitoringRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM monitoring_records WHERE route_id=$1 ORDER BY ts ASC LIMIT $2`, routeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.MonitoringRecord{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec model.MonitoringRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveAlert(ctx context.Context, a model.CrowdsourcedAlert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO alerts (id, doc, created_at) VALUES ($1,$2,$3)`, a.ID, doc, a.CreatedAt)
	return err
}

func (p *Postgres) RecentAlerts(ctx context.Context, since time.Time) ([]model.CrowdsourcedAlert, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM alerts WHERE created_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CrowdsourcedAlert{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a model.CrowdsourcedAlert
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertRider(ctx context.Context, r model.Rider) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO riders (id, doc, available) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc, available=EXCLUDED.available`,
		r.ID, doc, r.Available)
	return err
}

func (p *Postgres) ListRiders(ctx context.Context, onlyAvailable bool) ([]model.Rider, error) {
	q := `SELECT doc FROM riders ORDER BY id`
	if onlyAvailable {
		q = `SELECT doc FROM riders WHERE available ORDER BY id`
	}
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Rider{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r model.Rider
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveDeliveryItem(ctx context.Context, item model.DeliveryItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO delivery_items (id, doc, assigned) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc, assigned=EXCLUDED.assigned`,
		item.ID, doc, item.Assigned)
	return err
}

func (p *Postgres) ListUnassignedItems(ctx context.Context) ([]model.DeliveryItem, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM delivery_items WHERE NOT assigned ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryItem{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var it model.DeliveryItem
		if err := json.Unmarshal(doc, &it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkAssigned(ctx context.Context, itemID, riderID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE delivery_items SET assigned=true, doc = doc || jsonb_build_object('assigned', true, 'riderId', $2::text) WHERE id=$1`,
		itemID, riderID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
