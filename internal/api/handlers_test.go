package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"routeplan/internal/config"
	"routeplan/internal/model"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()
	cfg := config.Config{
		Port: "0",
		Planner: config.Planner{
			MaxRadiusKm:      2,
			MinClusterSize:   3,
			MaxClusterSize:   5,
			Strategy:         "balanced",
			SolverEnabled:    false, // deterministic fallback path
			SolverBudget:     config.Duration(time.Second),
			ParkingMaxWalkKm: 0.6,
			AvgSpeedKmh:      50,
			MaxDetourKm:      3,
		},
		Webhooks: config.Webhooks{MaxAttempts: 3, Interval: config.Duration(time.Second)},
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders", s.OrdersHandler)
	mux.HandleFunc("/v1/orders/", s.OrderByIDHandler)
	mux.HandleFunc("/v1/drivers", s.DriversHandler)
	mux.HandleFunc("/v1/drivers/", s.DriverByIDHandler)
	mux.HandleFunc("/v1/depots", s.DepotsHandler)
	mux.HandleFunc("/v1/parking", s.ParkingHandler)
	mux.HandleFunc("/v1/plan", s.PlanHandler)
	mux.HandleFunc("/v1/plan/", s.PlanByIDHandler)
	mux.HandleFunc("/v1/routes", s.RoutesHandler)
	mux.HandleFunc("/v1/routes/", s.RouteByIDHandler)
	mux.HandleFunc("/v1/drift/check", s.DriftCheckHandler)
	mux.HandleFunc("/v1/drift/", s.DriftByIDHandler)
	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	return s, mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func seedFleet(t *testing.T, mux *http.ServeMux, orderCount int) {
	t.Helper()
	if rec := do(t, mux, http.MethodPost, "/v1/depots", `{"name":"Depot","location":{"lat":40.0,"lon":-75.0}}`); rec.Code != http.StatusCreated {
		t.Fatalf("create depot: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, mux, http.MethodPost, "/v1/drivers", `[{"id":"d1","name":"Ada Park"},{"id":"d2","name":"Ben Ruiz"}]`); rec.Code != http.StatusCreated {
		t.Fatalf("create drivers: %d %s", rec.Code, rec.Body.String())
	}
	orders := "["
	for i := 0; i < orderCount; i++ {
		if i > 0 {
			orders += ","
		}
		orders += fmt.Sprintf(`{"id":"o%02d","location":{"lat":%0.4f,"lon":-75.0}}`, i, 40.0+float64(i)*0.001)
	}
	orders += "]"
	if rec := do(t, mux, http.MethodPost, "/v1/orders", orders); rec.Code != http.StatusCreated {
		t.Fatalf("create orders: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPlanAndRouteLifecycle(t *testing.T) {
	_, mux := newTestServer(t)
	seedFleet(t, mux, 7)

	rec := do(t, mux, http.MethodPost, "/v1/plan", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("plan: %d %s", rec.Code, rec.Body.String())
	}
	var summary model.PlanSummary
	decode(t, rec, &summary)
	if summary.RoutesCreated != 2 || summary.OrdersScheduled != 7 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = do(t, mux, http.MethodGet, "/v1/plan/"+summary.BatchID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get plan: %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/v1/routes", "")
	var routes struct {
		Routes []model.Route `json:"routes"`
	}
	decode(t, rec, &routes)
	if len(routes.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes.Routes))
	}
	routeID := routes.Routes[0].ID

	rec = do(t, mux, http.MethodGet, "/v1/routes/"+routeID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get route: %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/v1/routes/"+routeID+"/itinerary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("itinerary: %d %s", rec.Code, rec.Body.String())
	}
	var itinerary struct {
		Stops    []json.RawMessage `json:"stops"`
		Segments []json.RawMessage `json:"segments"`
	}
	decode(t, rec, &itinerary)
	if len(itinerary.Segments) != len(itinerary.Stops)-1 {
		t.Fatalf("itinerary shape: %d segments, %d stops", len(itinerary.Segments), len(itinerary.Stops))
	}

	rec = do(t, mux, http.MethodPost, "/v1/routes/"+routeID+"/status", `{"status":"in_transit"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/v1/routes/"+routeID+"/status", `{"status":"bogus"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus status should be 422, got %d", rec.Code)
	}
}

func TestDriftCheckAcceptReject(t *testing.T) {
	_, mux := newTestServer(t)
	seedFleet(t, mux, 7)
	if rec := do(t, mux, http.MethodPost, "/v1/plan", ""); rec.Code != http.StatusCreated {
		t.Fatalf("plan: %d", rec.Code)
	}

	// a late order right on the planned corridor
	rec := do(t, mux, http.MethodPost, "/v1/orders", `[{"id":"late","location":{"lat":40.0015,"lon":-75.0}}]`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("late order: %d", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/v1/drift/check", `{"orderId":"late"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("drift check: %d %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Suggestions []model.DriftSuggestion `json:"suggestions"`
	}
	decode(t, rec, &res)
	if len(res.Suggestions) == 0 {
		t.Fatalf("expected at least one insertion candidate")
	}
	best := res.Suggestions[0]
	for i := 0; i+1 < len(res.Suggestions); i++ {
		if res.Suggestions[i].AddedDistanceKm > res.Suggestions[i+1].AddedDistanceKm {
			t.Fatalf("suggestions not ranked ascending")
		}
	}

	rec = do(t, mux, http.MethodGet, "/v1/routes/"+best.RouteID, "")
	var before model.Route
	decode(t, rec, &before)

	rec = do(t, mux, http.MethodPost, "/v1/drift/"+best.ID+"/accept", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/v1/routes/"+best.RouteID, "")
	var after model.Route
	decode(t, rec, &after)
	if len(after.Waypoints) != len(before.Waypoints)+1 {
		t.Fatalf("accept did not insert the waypoint: %d -> %d", len(before.Waypoints), len(after.Waypoints))
	}
	if after.Waypoints[best.InsertIndex].RefID != "late" {
		t.Fatalf("waypoint not at the suggested index")
	}

	// the order is now assigned
	rec = do(t, mux, http.MethodGet, "/v1/orders/late", "")
	var o model.Order
	decode(t, rec, &o)
	if o.Status != model.OrderAssigned || o.RouteID != best.RouteID {
		t.Fatalf("accepted order not bound: %+v", o)
	}

	// a resolved suggestion cannot be resolved again
	rec = do(t, mux, http.MethodPost, "/v1/drift/"+best.ID+"/reject", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("double resolve should be 409, got %d", rec.Code)
	}

	// rejecting another proposed suggestion works once
	if len(res.Suggestions) > 1 {
		other := res.Suggestions[1]
		rec = do(t, mux, http.MethodPost, "/v1/drift/"+other.ID+"/reject", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("reject: %d %s", rec.Code, rec.Body.String())
		}
	}
}

func TestValidationProblems(t *testing.T) {
	_, mux := newTestServer(t)

	rec := do(t, mux, http.MethodPost, "/v1/orders", `[{"location":{"lat":123.0,"lon":0}}]`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("out-of-range latitude should be 422, got %d", rec.Code)
	}
	var p Problem
	decode(t, rec, &p)
	if p.Status != http.StatusUnprocessableEntity || p.Title == "" {
		t.Fatalf("expected problem details, got %+v", p)
	}

	rec = do(t, mux, http.MethodPost, "/v1/orders", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid json should be 400, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/v1/orders/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing order should be 404, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodDelete, "/v1/orders", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodPost, "/v1/orders", `[{"priority":"asap"}]`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown priority should be 422, got %d", rec.Code)
	}
}

func TestSubscriptionsCRUD(t *testing.T) {
	_, mux := newTestServer(t)

	rec := do(t, mux, http.MethodPost, "/v1/subscriptions", `{"url":"http://example.com/hook","events":["plan.completed"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var sub model.Subscription
	decode(t, rec, &sub)
	if sub.ID == "" {
		t.Fatalf("subscription id not assigned")
	}

	rec = do(t, mux, http.MethodPost, "/v1/subscriptions", `{"url":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty subscription should be 422, got %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/v1/subscriptions", "")
	var list struct {
		Subscriptions []model.Subscription `json:"subscriptions"`
	}
	decode(t, rec, &list)
	if len(list.Subscriptions) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(list.Subscriptions))
	}

	rec = do(t, mux, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = do(t, mux, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete should be 404, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	_, mux := newTestServer(t)
	if rec := do(t, mux, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
}

func TestDriverStatusUpdate(t *testing.T) {
	_, mux := newTestServer(t)
	if rec := do(t, mux, http.MethodPost, "/v1/drivers", `[{"id":"d1","name":"Ada"}]`); rec.Code != http.StatusCreated {
		t.Fatalf("create driver: %d", rec.Code)
	}
	rec := do(t, mux, http.MethodPost, "/v1/drivers/d1/status", `{"status":"offline"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("driver status: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodGet, "/v1/drivers?status=offline", "")
	var list struct {
		Drivers []model.Driver `json:"drivers"`
	}
	decode(t, rec, &list)
	if len(list.Drivers) != 1 {
		t.Fatalf("expected the offline driver, got %+v", list.Drivers)
	}
}
