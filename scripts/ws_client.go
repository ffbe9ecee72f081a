// Package main runs a demo WebSocket client for route events: seed a depot,
// orders and a driver, plan a batch, subscribe to the first route, then
// trigger a status change.
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

type wsMessage struct {
	Type    string          `json:"type"`
	RouteID string          `json:"routeId,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

func post(base, path string, body string) *http.Response {
	resp, err := http.Post(base+path, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		log.Fatal(err)
	}
	return resp
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	post(base, "/v1/depots", `{"name":"Main Depot","location":{"lat":40.0,"lon":-75.0}}`).Body.Close()
	post(base, "/v1/drivers", `[{"name":"Demo Driver"}]`).Body.Close()
	post(base, "/v1/orders", `[
		{"location":{"lat":40.01,"lon":-75.0}},
		{"location":{"lat":40.02,"lon":-75.0}},
		{"location":{"lat":40.0,"lon":-74.99}}
	]`).Body.Close()

	resp := post(base, "/v1/plan", "")
	defer func() { _ = resp.Body.Close() }()
	var summary struct {
		BatchID string `json:"batchId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		log.Fatal(err)
	}
	log.Printf("Batch: %s", summary.BatchID)

	routesResp, err := http.Get(base + "/v1/routes")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = routesResp.Body.Close() }()
	var routes struct {
		Routes []struct {
			ID string `json:"id"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(routesResp.Body).Decode(&routes); err != nil {
		log.Fatal(err)
	}
	if len(routes.Routes) == 0 {
		log.Fatal("no routes planned")
	}
	routeID := routes.Routes[0].ID
	log.Printf("Route ID: %s", routeID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/routes/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "subscribe", RouteID: routeID}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Event))
		}
	}()

	// Trigger a route event via a status change
	time.Sleep(500 * time.Millisecond)
	post(base, fmt.Sprintf("/v1/routes/%s/status", routeID), `{"status":"in_transit"}`).Body.Close()

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
