// Package main runs a demo telemetry client: creates a route, then streams
// pings over the websocket ingest endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a route via optimize
	body := []byte(`{"start":{"lat":11.0168,"lng":76.9558},"riderId":"rider-demo","stops":[` +
		`{"id":"s1","location":{"lat":11.0301,"lng":76.9500}},` +
		`{"id":"s2","location":{"lat":11.0405,"lng":76.9612}}]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var optResp struct {
		Route struct {
			ID string `json:"id"`
		} `json:"route"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&optResp); err != nil {
		log.Fatal(err)
	}
	if optResp.Route.ID == "" {
		log.Fatal("no route returned")
	}
	log.Printf("Route ID: %s", optResp.Route.ID)

	// Connect the telemetry websocket
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws/telemetry"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	go func() {
		for {
			var ack map[string]any
			if err := c.ReadJSON(&ack); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %v", ack)
		}
	}()

	// Walk north along the route, one ping per second
	lat := 11.0168
	for i := 0; i < 5; i++ {
		ping := map[string]any{
			"riderId":  "rider-demo",
			"location": map[string]float64{"lat": lat, "lng": 76.9558},
			"speedMps": 7.5,
			"ts":       time.Now().Format(time.RFC3339),
		}
		if err := c.WriteJSON(ping); err != nil {
			log.Fatal(err)
		}
		lat += 0.003
		time.Sleep(time.Second)
	}

	// Report the rider position via monitor
	monBody := []byte(fmt.Sprintf(`{"riderId":"rider-demo","location":{"lat":%f,"lng":76.9558}}`, lat))
	monReq, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/routes/%s/monitor", base, optResp.Route.ID), bytes.NewReader(monBody))
	monReq.Header.Set("Content-Type", "application/json")
	if mresp, err := http.DefaultClient.Do(monReq); err == nil {
		defer func() { _ = mresp.Body.Close() }()
		var rec map[string]any
		_ = json.NewDecoder(mresp.Body).Decode(&rec)
		log.Printf("monitor: %v", rec)
	}
}
