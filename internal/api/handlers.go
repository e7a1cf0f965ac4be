package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"saferoute/internal/buildinfo"
	"saferoute/internal/engine"
	"saferoute/internal/model"
	"saferoute/internal/store"
)

// OptimizeHandler handles POST /v1/optimize. Single-stop requests with
// alternatives=true return a ranked variant set instead of a bare route.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	var rider *model.Rider
	if req.RiderID != "" {
		if riders, err := s.Store.ListRiders(r.Context(), false); err == nil {
			for i := range riders {
				if riders[i].ID == req.RiderID {
					rider = &riders[i]
					break
				}
			}
		}
	}
	route, alts, err := s.Engine.Optimize(r.Context(), req, rider)
	if err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			writeProblem(w, http.StatusBadRequest, "Invalid optimize request", ve.Reason, r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Optimize failed", err.Error(), r.URL.Path)
		return
	}
	if alts != nil {
		writeJSON(w, http.StatusOK, alts)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route": route})
}

// RoutesIndexHandler handles GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListRoutes(r.Context(), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// RouteByIDHandler handles /v1/routes/{id} plus the /monitor, /reoptimize,
// /monitoring and /events/stream subresources.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		route, err := s.Store.GetRoute(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"route": route})
		return
	}

	switch parts[1] {
	case "monitor":
		s.monitorRoute(w, r, id)
	case "reoptimize":
		s.reoptimizeRoute(w, r, id)
	case "monitoring":
		s.listMonitoring(w, r, id)
	case "events":
		if len(parts) > 2 && parts[2] == "stream" {
			s.streamRouteEvents(w, r, id)
			return
		}
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) monitorRoute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.MonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	route, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		return
	}
	rec, err := s.Engine.Monitor.Check(r.Context(), route, req)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Monitor check failed", err.Error(), r.URL.Path)
		return
	}
	if rec.RequiresReopt {
		s.Broker.Publish(id, RouteEvent{Type: "route.deviation", Data: map[string]any{
			"routeId":      id,
			"riderId":      rec.RiderID,
			"deviationM":   rec.DeviationM,
			"timeDelaySec": rec.TimeDelaySec,
		}})
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) reoptimizeRoute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.ReoptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	route, err := s.Engine.Reoptimize(r.Context(), id, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "Route not found", err.Error(), r.URL.Path)
		case errors.Is(err, engine.ErrReoptimizationImpossible):
			writeProblem(w, http.StatusConflict, "Reoptimization impossible", err.Error(), r.URL.Path)
		default:
			var ve *engine.ValidationError
			if errors.As(err, &ve) {
				writeProblem(w, http.StatusBadRequest, "Invalid reoptimize request", ve.Reason, r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Reoptimize failed", err.Error(), r.URL.Path)
		}
		return
	}
	s.Broker.Publish(id, RouteEvent{Type: "route.reoptimized", Data: map[string]any{
		"routeId":   id,
		"stopOrder": route.StopOrder,
		"ts":        route.UpdatedAt.Format(time.RFC3339),
	}})
	writeJSON(w, http.StatusOK, map[string]any{"route": route})
}

func (s *Server) listMonitoring(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	recs, err := s.Store.ListMonitoringRecords(r.Context(), id, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List monitoring failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

func (s *Server) streamRouteEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"routeId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// RidersHandler handles POST/GET /v1/riders
func (s *Server) RidersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var rd model.Rider
		if err := json.NewDecoder(r.Body).Decode(&rd); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if rd.ID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing rider id", "", r.URL.Path)
			return
		}
		if err := s.Store.UpsertRider(r.Context(), rd); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Upsert rider failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, rd)
	case http.MethodGet:
		onlyAvailable := r.URL.Query().Get("available") == "true"
		riders, err := s.Store.ListRiders(r.Context(), onlyAvailable)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List riders failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": riders})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// NearbyRidersHandler handles GET /v1/riders/nearby?lat=&lng=&k=
func (s *Server) NearbyRidersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var lat, lng float64
	k := 1
	if _, err := fmt.Sscanf(r.URL.Query().Get("lat"), "%f", &lat); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid lat", "", r.URL.Path)
		return
	}
	if _, err := fmt.Sscanf(r.URL.Query().Get("lng"), "%f", &lng); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid lng", "", r.URL.Path)
		return
	}
	if v := r.URL.Query().Get("k"); v != "" {
		fmt.Sscanf(v, "%d", &k)
	}
	riders := s.Dispatch.NearbyRiders(model.GeoPoint{Lat: lat, Lng: lng}, k)
	writeJSON(w, http.StatusOK, map[string]any{"items": riders})
}

// ItemsHandler handles POST /v1/items and GET /v1/items (unassigned work)
func (s *Server) ItemsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var item model.DeliveryItem
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if err := s.Store.SaveDeliveryItem(r.Context(), item); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save item failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	case http.MethodGet:
		items, err := s.Store.ListUnassignedItems(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List items failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// DispatchHandler handles POST /v1/dispatch/assign: greedy nearest-rider
// assignment over the stored unassigned items.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := s.Store.ListUnassignedItems(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List items failed", err.Error(), r.URL.Path)
		return
	}
	riders, err := s.Store.ListRiders(r.Context(), true)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List riders failed", err.Error(), r.URL.Path)
		return
	}
	assigned := s.Dispatch.AssignUnassigned(items, riders)
	for _, item := range items {
		if !item.Assigned {
			continue
		}
		if err := s.Store.MarkAssigned(r.Context(), item.ID, item.RiderID); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Mark assigned failed", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned": assigned, "items": items})
}

// AlertsHandler handles POST/GET /v1/alerts (crowdsourced road signals)
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var a model.CrowdsourcedAlert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		if err := s.Store.SaveAlert(r.Context(), a); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save alert failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	case http.MethodGet:
		sinceHours := 4
		if v := r.URL.Query().Get("sinceHours"); v != "" {
			fmt.Sscanf(v, "%d", &sinceHours)
		}
		alerts, err := s.Store.RecentAlerts(r.Context(), time.Now().Add(-time.Duration(sinceHours)*time.Hour))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List alerts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": alerts})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Info()
	info["status"] = "ok"
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
