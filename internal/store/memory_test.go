package store

import (
	"context"
	"errors"
	"testing"

	"routeplan/internal/geo"
	"routeplan/internal/model"
)

func seedBatch(t *testing.T, m *Memory) PlanBatch {
	t.Helper()
	ctx := context.Background()
	if _, err := m.CreateOrders(ctx, []model.Order{
		{ID: "o1", Location: &geo.Point{Lat: 0, Lon: 1}},
		{ID: "o2", Location: &geo.Point{Lat: 0, Lon: 2}},
	}); err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if _, err := m.CreateDrivers(ctx, []model.Driver{{ID: "d1", Name: "Dana"}}); err != nil {
		t.Fatalf("create drivers: %v", err)
	}
	return PlanBatch{
		ID: "batch-1",
		Routes: []model.Route{{
			ID:       "r1",
			BatchID:  "batch-1",
			DriverID: "d1",
			Status:   model.RoutePlanned,
			Waypoints: []model.Waypoint{
				{Kind: model.WaypointDepot, Seq: 0, RefID: "depot"},
				{Kind: model.WaypointDelivery, Seq: 1, Location: geo.Point{Lat: 0, Lon: 1}, RefID: "o1"},
				{Kind: model.WaypointDelivery, Seq: 2, Location: geo.Point{Lat: 0, Lon: 2}, RefID: "o2"},
			},
			DistanceKm: 10,
		}},
		Summary:     model.PlanSummary{BatchID: "batch-1", RoutesCreated: 1, OrdersScheduled: 2},
		OrderRoutes: map[string]OrderSlot{"o1": {RouteID: "r1", Seq: 1}, "o2": {RouteID: "r1", Seq: 2}},
		DriverIDs:   []string{"d1"},
	}
}

func TestCommitPlanAppliesEverything(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	batch := seedBatch(t, m)
	if err := m.CommitPlan(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}
	o, err := m.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != model.OrderAssigned || o.RouteID != "r1" || o.Seq != 1 {
		t.Fatalf("order not bound to route: %+v", o)
	}
	drivers, _ := m.ListDrivers(ctx, model.DriverOnRoute)
	if len(drivers) != 1 || drivers[0].ID != "d1" {
		t.Fatalf("driver should be on_route, got %+v", drivers)
	}
	summary, err := m.GetPlanSummary(ctx, "batch-1")
	if err != nil || summary.OrdersScheduled != 2 {
		t.Fatalf("summary lookup: %v %+v", err, summary)
	}
}

func TestCommitPlanAbortsOnCancelledContext(t *testing.T) {
	m := NewMemory()
	batch := seedBatch(t, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.CommitPlan(ctx, batch); err == nil {
		t.Fatalf("cancelled commit must fail")
	}
	routes, _ := m.ListRoutes(context.Background(), "")
	if len(routes) != 0 {
		t.Fatalf("aborted batch must leave nothing behind, found %d routes", len(routes))
	}
	o, _ := m.GetOrder(context.Background(), "o1")
	if o.Status != model.OrderPending {
		t.Fatalf("order mutated by aborted batch: %+v", o)
	}
}

func TestInsertWaypointReindexesAndBindsOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	batch := seedBatch(t, m)
	if err := m.CommitPlan(ctx, batch); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := m.CreateOrders(ctx, []model.Order{{ID: "o3", Location: &geo.Point{Lat: 0, Lon: 1.5}}}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	wp := model.Waypoint{Kind: model.WaypointDelivery, Location: geo.Point{Lat: 0, Lon: 1.5}, RefID: "o3"}
	rt, err := m.InsertWaypoint(ctx, "r1", 2, wp, 0.5)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(rt.Waypoints) != 4 {
		t.Fatalf("expected 4 waypoints, got %d", len(rt.Waypoints))
	}
	if rt.Waypoints[2].RefID != "o3" {
		t.Fatalf("waypoint not at requested index: %+v", rt.Waypoints)
	}
	for i, w := range rt.Waypoints {
		if w.Seq != i {
			t.Fatalf("waypoint %d has stale seq %d", i, w.Seq)
		}
	}
	if rt.DistanceKm != 10.5 {
		t.Fatalf("distance not extended, got %v", rt.DistanceKm)
	}
	o, _ := m.GetOrder(ctx, "o3")
	if o.Status != model.OrderAssigned || o.RouteID != "r1" {
		t.Fatalf("inserted order not bound: %+v", o)
	}
}

func TestInsertWaypointRenumbersOrderSequence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.CommitPlan(ctx, seedBatch(t, m)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := m.CreateOrders(ctx, []model.Order{{ID: "o3", Location: &geo.Point{Lat: 0, Lon: 1.5}}}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	wp := model.Waypoint{Kind: model.WaypointDelivery, Location: geo.Point{Lat: 0, Lon: 1.5}, RefID: "o3"}
	if _, err := m.InsertWaypoint(ctx, "r1", 2, wp, 0.5); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// delivery order along the route is now o1, o3, o2
	want := map[string]int{"o1": 1, "o3": 2, "o2": 3}
	seen := map[int]bool{}
	for id, wantSeq := range want {
		o, err := m.GetOrder(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if o.RouteID != "r1" {
			t.Fatalf("order %s not on route: %+v", id, o)
		}
		if o.Seq != wantSeq {
			t.Fatalf("order %s seq %d, want %d", id, o.Seq, wantSeq)
		}
		if seen[o.Seq] {
			t.Fatalf("duplicate seq %d on route", o.Seq)
		}
		seen[o.Seq] = true
	}
}

func TestInsertWaypointRejectsCompletedRouteAndBadIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.CommitPlan(ctx, seedBatch(t, m)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	wp := model.Waypoint{Kind: model.WaypointDelivery, RefID: "oX"}
	if _, err := m.InsertWaypoint(ctx, "r1", 0, wp, 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("index 0 would displace the depot, want conflict, got %v", err)
	}
	if _, err := m.UpdateRouteStatus(ctx, "r1", model.RouteCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if _, err := m.InsertWaypoint(ctx, "r1", 1, wp, 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("completed route must reject insertion, got %v", err)
	}
	if _, err := m.InsertWaypoint(ctx, "nope", 1, wp, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing route should be not found, got %v", err)
	}
}

func TestCompletingRouteFreesDriver(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.CommitPlan(ctx, seedBatch(t, m)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := m.UpdateRouteStatus(ctx, "r1", model.RouteCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}
	avail, _ := m.ListDrivers(ctx, model.DriverAvailable)
	if len(avail) != 1 || avail[0].ID != "d1" {
		t.Fatalf("driver should be available after completion, got %+v", avail)
	}
}

func TestResolveDriftSuggestionOnlyOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	created, err := m.CreateDriftSuggestions(ctx, []model.DriftSuggestion{{OrderID: "o1", RouteID: "r1", InsertIndex: 1, AddedDistanceKm: 0.3}})
	if err != nil || len(created) != 1 {
		t.Fatalf("create suggestions: %v", err)
	}
	id := created[0].ID
	if created[0].Status != model.DriftProposed {
		t.Fatalf("new suggestion should be proposed, got %s", created[0].Status)
	}
	if _, err := m.ResolveDriftSuggestion(ctx, id, model.DriftAccepted); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := m.ResolveDriftSuggestion(ctx, id, model.DriftRejected); !errors.Is(err, ErrConflict) {
		t.Fatalf("double resolve should conflict, got %v", err)
	}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateOrders(ctx, []model.Order{
		{ID: "a", Location: &geo.Point{Lat: 1, Lon: 1}},
		{ID: "b", Location: &geo.Point{Lat: 1, Lon: 1}},
	})
	if err := m.UpdateOrderStatus(ctx, "a", model.OrderCompleted); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, _ := m.ListOrders(ctx, model.OrderPending)
	if len(pending) != 1 || pending[0].ID != "b" {
		t.Fatalf("unexpected pending set %+v", pending)
	}
	all, _ := m.ListOrders(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}
}

func TestSubscriptionsForEvent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: "http://a", Events: []string{"plan.completed"}})
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: "http://b", Events: []string{"*"}})
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: "http://c", Events: []string{"route.updated"}})
	subs, err := m.GetSubscriptionsForEvent(ctx, "plan.completed")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected the exact and wildcard matches, got %d", len(subs))
	}
	if err := m.DeleteSubscription(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleting missing subscription: %v", err)
	}
}
