package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"saferoute/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:            "8080",
		CacheTTL:        300 * time.Second,
		HexEdgeM:        174,
		FuelPerKm:       0.03,
		SpeedMps:        8.33,
		TelemetryPerMin: 600,
		TelemetryBurst:  100,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func optimizeRoute(t *testing.T, s *Server) string {
	t.Helper()
	body := []byte(`{"start":{"lat":11.00,"lng":77.00},"stops":[` +
		`{"id":"s1","location":{"lat":11.02,"lng":77.00}},` +
		`{"id":"s2","location":{"lat":11.04,"lng":77.00}}]}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Route struct {
			ID string `json:"id"`
		} `json:"route"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode optimize: %v", err)
	}
	if res.Route.ID == "" {
		t.Fatal("optimize returned no route id")
	}
	return res.Route.ID
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestOptimizeAndGetRoute(t *testing.T) {
	s := newTestServer(t)
	id := optimizeRoute(t, s)

	rr := httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/"+id, nil))
	if rr.Code != 200 {
		t.Fatalf("get route: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.RoutesIndexHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes", nil))
	if rr.Code != 200 {
		t.Fatalf("routes index: %d", rr.Code)
	}
	var idx struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &idx); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(idx.Items) != 1 || idx.Items[0].ID != id {
		t.Fatalf("index items = %+v", idx.Items)
	}
}

func TestOptimizeRejectsBadRequest(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader([]byte(`{"start":{"lat":11,"lng":77},"stops":[]}`)))
	req.Header.Set("Content-Type", "application/json")
	s.OptimizeHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty stop set: got %d", rr.Code)
	}
}

func TestMonitorThenReoptimize(t *testing.T) {
	s := newTestServer(t)
	id := optimizeRoute(t, s)

	// report a position far off the planned corridor
	mon := []byte(`{"riderId":"r1","location":{"lat":11.20,"lng":77.20}}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/"+id+"/monitor", bytes.NewReader(mon))
	req.Header.Set("Content-Type", "application/json")
	s.RouteByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("monitor: %d %s", rr.Code, rr.Body.String())
	}
	var rec struct {
		RequiresReopt bool    `json:"requiresReopt"`
		DeviationM    float64 `json:"deviationM"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode monitor: %v", err)
	}
	if !rec.RequiresReopt {
		t.Fatalf("large deviation not flagged: %+v", rec)
	}

	// audit is queryable
	rr = httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/"+id+"/monitoring", nil))
	if rr.Code != 200 {
		t.Fatalf("monitoring list: %d", rr.Code)
	}
	var audit struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(audit.Items) != 1 {
		t.Fatalf("audit items = %d, want 1", len(audit.Items))
	}

	// reoptimize from the reported position
	reopt := []byte(`{"currentLocation":{"lat":11.20,"lng":77.20},"newStops":[{"id":"s3","location":{"lat":11.21,"lng":77.20}}]}`)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/routes/"+id+"/reoptimize", bytes.NewReader(reopt))
	req.Header.Set("Content-Type", "application/json")
	s.RouteByIDHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("reoptimize: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Route struct {
			Status    string   `json:"status"`
			StopOrder []string `json:"stopOrder"`
		} `json:"route"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode reoptimize: %v", err)
	}
	if res.Route.Status != "reoptimized" {
		t.Fatalf("status = %s", res.Route.Status)
	}
	if len(res.Route.StopOrder) != 3 {
		t.Fatalf("stop order = %v, want 3 stops", res.Route.StopOrder)
	}
}

func TestReoptimizeUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/missing/reoptimize",
		bytes.NewReader([]byte(`{"currentLocation":{"lat":11,"lng":77}}`)))
	req.Header.Set("Content-Type", "application/json")
	s.RouteByIDHandler(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d", rr.Code)
	}
}

func TestTelemetryIngestAndLookup(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"riderId":"r9","location":{"lat":11.01,"lng":77.01},"speedMps":6.2}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/telemetry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.TelemetryHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("telemetry post: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.TelemetryByRiderHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/telemetry/r9", nil))
	if rr.Code != 200 {
		t.Fatalf("telemetry get: %d", rr.Code)
	}
	var res struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if res.Source != "cache" {
		t.Fatalf("source = %s, want cache", res.Source)
	}

	// the hex index moved with the cache
	rr = httptest.NewRecorder()
	s.NearbyRidersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/riders/nearby?lat=11.01&lng=77.01&k=1", nil))
	if rr.Code != 200 {
		t.Fatalf("nearby: %d", rr.Code)
	}
	var near struct {
		Items []struct {
			RiderID string `json:"riderId"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &near); err != nil {
		t.Fatalf("decode nearby: %v", err)
	}
	if len(near.Items) != 1 || near.Items[0].RiderID != "r9" {
		t.Fatalf("nearby items = %+v", near.Items)
	}
}

func TestTelemetryRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.TelemetryPerMin = 1
	cfg.TelemetryBurst = 1
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	body := `{"riderId":"rl","location":{"lat":11.0,"lng":77.0}}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/telemetry", bytes.NewReader([]byte(body)))
	s.TelemetryHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first ping: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/telemetry", bytes.NewReader([]byte(body)))
	s.TelemetryHandler(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second ping: got %d, want 429", rr.Code)
	}
}

func TestDispatchAssign(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/riders",
		bytes.NewReader([]byte(`{"id":"rd1","base":{"lat":11.00,"lng":77.00},"available":true}`)))
	req.Header.Set("Content-Type", "application/json")
	s.RidersHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("rider create: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/items",
		bytes.NewReader([]byte(`{"id":"it1","origin":{"lat":11.001,"lng":77.00}}`)))
	req.Header.Set("Content-Type", "application/json")
	s.ItemsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("item create: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.DispatchHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/dispatch/assign", nil))
	if rr.Code != 200 {
		t.Fatalf("assign: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Assigned int `json:"assigned"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode assign: %v", err)
	}
	if res.Assigned != 1 {
		t.Fatalf("assigned = %d, want 1", res.Assigned)
	}

	rr = httptest.NewRecorder()
	s.ItemsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/items", nil))
	var left struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &left); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(left.Items) != 0 {
		t.Fatalf("unassigned left = %d, want 0", len(left.Items))
	}
}

func TestAlertsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts",
		bytes.NewReader([]byte(`{"riderId":"r1","location":{"lat":11.01,"lng":77.01},"hasTrafficIssue":true}`)))
	req.Header.Set("Content-Type", "application/json")
	s.AlertsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("alert create: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.AlertsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/alerts", nil))
	if rr.Code != 200 {
		t.Fatalf("alert list: %d", rr.Code)
	}
	var res struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("alerts = %d, want 1", len(res.Items))
	}
}

// sseRecorder is a minimal ResponseWriter implementing http.Flusher for
// stream tests.
type sseRecorder struct {
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestRouteEventsSSE(t *testing.T) {
	s := newTestServer(t)
	id := optimizeRoute(t, s)

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/routes/"+id+"/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = sseReq.WithContext(ctx)

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.RouteByIDHandler(rec, sseReq)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(id, RouteEvent{Type: "route.deviation", Data: map[string]any{"routeId": id}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.buf.Bytes(), []byte("event: route.deviation")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.buf.Bytes(), []byte("event: route.deviation")) {
		t.Fatalf("stream missing published event. Body: %s", rec.buf.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}
