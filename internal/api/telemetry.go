package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"saferoute/internal/geo"
	"saferoute/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// ingest applies one telemetry ping: cache and hex index move together,
// the durable write is fire-and-forget.
func (s *Server) ingest(rec model.RiderTelemetry) error {
	if rec.RiderID == "" {
		return errMissingRider
	}
	if err := geo.Validate(rec.Location); err != nil {
		return err
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now()
	}
	s.Cache.Set(rec)
	s.Hex.Update(rec.RiderID, rec.Location)
	go func(rec model.RiderTelemetry) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Store.SaveTelemetry(ctx, rec); err != nil {
			log.Printf("telemetry: durable write dropped for %s: %v", rec.RiderID, err)
		}
	}(rec)
	return nil
}

type missingRiderError struct{}

func (missingRiderError) Error() string { return "telemetry without rider id" }

var errMissingRider = missingRiderError{}

// TelemetryHandler handles POST /v1/telemetry
func (s *Server) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var rec model.RiderTelemetry
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if rec.RiderID != "" && !s.limiterFor(rec.RiderID).Allow() {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "telemetry budget exhausted for rider", r.URL.Path)
		return
	}
	if err := s.ingest(rec); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid telemetry", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// TelemetryByRiderHandler handles GET /v1/telemetry/{riderId}. The cache
// answers first; a miss falls back to the durable latest record.
func (s *Server) TelemetryByRiderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	riderID := strings.TrimPrefix(r.URL.Path, "/v1/telemetry/")
	if riderID == "" || strings.Contains(riderID, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing rider id", r.URL.Path)
		return
	}
	if rec, age, ok := s.Cache.GetByRider(riderID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"telemetry": rec, "ageSec": age.Seconds(), "source": "cache"})
		return
	}
	rec, err := s.Store.LatestTelemetry(r.Context(), riderID)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Telemetry not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"telemetry": rec, "source": "store"})
}

// TelemetryWSHandler handles /ws/telemetry: a stream of rider telemetry
// JSON frames, rate limited per rider.
func (s *Server) TelemetryWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var rec model.RiderTelemetry
		if err := conn.ReadJSON(&rec); err != nil {
			return
		}
		if rec.RiderID != "" && !s.limiterFor(rec.RiderID).Allow() {
			_ = conn.WriteJSON(map[string]string{"error": "rate limited"})
			continue
		}
		if err := s.ingest(rec); err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			continue
		}
		_ = conn.WriteJSON(map[string]bool{"ok": true})
	}
}
