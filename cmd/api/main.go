package main

import (
	"log"
	"net/http"
	"time"

	"saferoute/internal/api"
	"saferoute/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	srv, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("/v1/optimize", srv.OptimizeHandler)

	// Routes, monitoring, reoptimization, event streams
	mux.HandleFunc("/v1/routes", srv.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", srv.RouteByIDHandler) // includes /monitor, /reoptimize, /monitoring, /events/stream

	// Telemetry
	mux.HandleFunc("/v1/telemetry", srv.TelemetryHandler)
	mux.HandleFunc("/v1/telemetry/", srv.TelemetryByRiderHandler)
	mux.HandleFunc("/ws/telemetry", srv.TelemetryWSHandler)

	// Fleet and dispatch
	mux.HandleFunc("/v1/riders", srv.RidersHandler)
	mux.HandleFunc("/v1/riders/nearby", srv.NearbyRidersHandler)
	mux.HandleFunc("/v1/items", srv.ItemsHandler)
	mux.HandleFunc("/v1/dispatch/assign", srv.DispatchHandler)

	// Crowdsourced alerts
	mux.HandleFunc("/v1/alerts", srv.AlertsHandler)

	// Health and metrics
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", api.MetricsHandler())

	addr := ":" + cfg.Port

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           api.LogMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
