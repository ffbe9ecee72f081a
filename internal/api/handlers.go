package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"routeplan/internal/drift"
	"routeplan/internal/metrics"
	"routeplan/internal/model"
	"routeplan/internal/store"
	"routeplan/internal/synth"
	"routeplan/internal/webhooks"
)

// OrdersHandler handles /v1/orders.
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in []OrderIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		orders := make([]model.Order, 0, len(in))
		for i, o := range in {
			if err := o.validate(); err != nil {
				writeProblem(w, http.StatusUnprocessableEntity, "invalid order", fmt.Sprintf("order %d: %v", i, err), r.URL.Path)
				return
			}
			orders = append(orders, o.toModel())
		}
		created, err := s.Store.CreateOrders(r.Context(), orders)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"created": created})
	case http.MethodGet:
		orders, err := s.Store.ListOrders(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// OrderByIDHandler handles /v1/orders/{id}.
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	o, err := s.Store.GetOrder(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "order not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DriversHandler handles /v1/drivers.
func (s *Server) DriversHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in []DriverIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		drivers := make([]model.Driver, 0, len(in))
		for i, d := range in {
			if err := d.validate(); err != nil {
				writeProblem(w, http.StatusUnprocessableEntity, "invalid driver", fmt.Sprintf("driver %d: %v", i, err), r.URL.Path)
				return
			}
			drivers = append(drivers, model.Driver{ID: d.ID, Name: d.Name, Status: d.Status, Location: d.Location})
		}
		created, err := s.Store.CreateDrivers(r.Context(), drivers)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"created": created})
	case http.MethodGet:
		drivers, err := s.Store.ListDrivers(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// DriverByIDHandler handles /v1/drivers/{id}/status.
func (s *Server) DriverByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/drivers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "status" || r.Method != http.MethodPost {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	switch body.Status {
	case model.DriverAvailable, model.DriverOnRoute, model.DriverOffline:
	default:
		writeProblem(w, http.StatusUnprocessableEntity, "invalid status", fmt.Sprintf("unknown driver status %q", body.Status), r.URL.Path)
		return
	}
	if err := s.Store.UpdateDriverStatus(r.Context(), id, body.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "driver not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

// DepotsHandler handles /v1/depots.
func (s *Server) DepotsHandler(w http.ResponseWriter, r *http.Request) {
	s.sitesHandler(w, r, s.Store.CreateDepot, s.Store.ListDepots, "depots")
}

// ParkingHandler handles /v1/parking.
func (s *Server) ParkingHandler(w http.ResponseWriter, r *http.Request) {
	s.sitesHandler(w, r, s.Store.CreateParking, s.Store.ListParking, "parking")
}

func (s *Server) sitesHandler(w http.ResponseWriter, r *http.Request,
	create func(ctx context.Context, p model.NamedPoint) (model.NamedPoint, error),
	list func(ctx context.Context) ([]model.NamedPoint, error),
	key string,
) {
	switch r.Method {
	case http.MethodPost:
		var in SiteIn
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		if err := validatePoint(in.Location); err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "invalid location", err.Error(), r.URL.Path)
			return
		}
		np, err := create(r.Context(), model.NamedPoint{Name: in.Name, Location: in.Location})
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, np)
	case http.MethodGet:
		pts, err := list(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{key: pts})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// PlanHandler handles POST /v1/plan: run one planning batch over all
// pending orders and available drivers.
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	summary, err := s.Planner.Plan(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "planning failed", err.Error(), r.URL.Path)
		return
	}
	s.Pub.Emit(r.Context(), webhooks.EventPlanCompleted, summary)
	writeJSON(w, http.StatusCreated, summary)
}

// PlanByIDHandler handles GET /v1/plan/{batchId}.
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/plan/")
	if id == "" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	summary, err := s.Store.GetPlanSummary(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "plan not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RoutesHandler handles GET /v1/routes.
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	routes, err := s.Store.ListRoutes(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

// RouteByIDHandler handles /v1/routes/{id} plus the /itinerary, /status and
// /events/stream subresources.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/routes/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
			return
		}
		rt, err := s.Store.GetRoute(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "route not found", "", r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	case "itinerary":
		s.routeItinerary(w, r, id)
	case "status":
		s.routeStatus(w, r, id)
	case "events/stream":
		s.routeEventsStream(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
	}
}

// routeItinerary derives the itinerary on demand; it is never persisted.
func (s *Server) routeItinerary(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	rt, err := s.Store.GetRoute(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "route not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	start := rt.StartAt
	if start.IsZero() {
		start = time.Now().UTC()
	}
	it, err := synth.Build(r.Context(), start, rt.Waypoints, s.Provider)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "itinerary failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) routeStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	switch body.Status {
	case model.RoutePlanned, model.RouteInTransit, model.RouteCompleted:
	default:
		writeProblem(w, http.StatusUnprocessableEntity, "invalid status", fmt.Sprintf("unknown route status %q", body.Status), r.URL.Path)
		return
	}
	rt, err := s.Store.UpdateRouteStatus(r.Context(), id, body.Status)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "route not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	evt := RouteEvent{Type: "route.status", Data: map[string]any{"routeId": rt.ID, "status": rt.Status}}
	s.Broker.Publish(rt.ID, evt)
	s.Pub.Emit(r.Context(), webhooks.EventRouteUpdated, map[string]any{"routeId": rt.ID, "status": rt.Status})
	writeJSON(w, http.StatusOK, rt)
}

// routeEventsStream serves live route events over SSE.
func (s *Server) routeEventsStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}

// DriftCheckHandler handles POST /v1/drift/check: evaluate one order
// against all active routes and persist the resulting suggestions.
func (s *Server) DriftCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	var body struct {
		OrderID     string   `json:"orderId"`
		MaxDetourKm *float64 `json:"maxDetourKm,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	order, err := s.Store.GetOrder(r.Context(), body.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "order not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	active, err := s.Store.ListActiveRoutes(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	maxDetour := s.Cfg.Planner.MaxDetourKm
	if body.MaxDetourKm != nil {
		maxDetour = *body.MaxDetourKm
	}
	cands, err := drift.FindInsertionCandidates(r.Context(), order, active, maxDetour, s.Provider)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "drift check failed", err.Error(), r.URL.Path)
		return
	}
	sugg := make([]model.DriftSuggestion, 0, len(cands))
	for _, c := range cands {
		sugg = append(sugg, model.DriftSuggestion{
			OrderID:         order.ID,
			RouteID:         c.RouteID,
			InsertIndex:     c.InsertIndex,
			AddedDistanceKm: c.AddedDistanceKm,
		})
	}
	created, err := s.Store.CreateDriftSuggestions(r.Context(), sugg)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	metrics.DriftSuggestions.WithLabelValues(model.DriftProposed).Add(float64(len(created)))
	if len(created) > 0 {
		s.Pub.Emit(r.Context(), webhooks.EventDriftSuggested, map[string]any{"orderId": order.ID, "suggestions": created})
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": created})
}

// DriftByIDHandler handles /v1/drift/{id} plus /accept and /reject.
func (s *Server) DriftByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/drift/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
			return
		}
		sg, err := s.Store.GetDriftSuggestion(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "suggestion not found", "", r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, sg)
	case "accept":
		s.driftAccept(w, r, id)
	case "reject":
		s.driftResolve(w, r, id, model.DriftRejected)
	default:
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
	}
}

// driftAccept applies the suggested insertion to the route. The store
// serializes concurrent insertions into the same route.
func (s *Server) driftAccept(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	sg, err := s.Store.GetDriftSuggestion(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "suggestion not found", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	order, err := s.Store.GetOrder(r.Context(), sg.OrderID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	if order.Location == nil {
		writeProblem(w, http.StatusConflict, "order unroutable", "order lost its coordinates", r.URL.Path)
		return
	}
	wp := model.Waypoint{Kind: model.WaypointDelivery, Location: *order.Location, RefID: order.ID}
	rt, err := s.Store.InsertWaypoint(r.Context(), sg.RouteID, sg.InsertIndex, wp, sg.AddedDistanceKm)
	if errors.Is(err, store.ErrConflict) {
		writeProblem(w, http.StatusConflict, "route not insertable", err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	resolved, err := s.Store.ResolveDriftSuggestion(r.Context(), id, model.DriftAccepted)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	metrics.DriftSuggestions.WithLabelValues(model.DriftAccepted).Inc()
	evt := RouteEvent{Type: "route.waypoint_inserted", Data: map[string]any{
		"routeId": rt.ID, "orderId": order.ID, "insertIndex": sg.InsertIndex, "addedDistanceKm": sg.AddedDistanceKm,
	}}
	s.Broker.Publish(rt.ID, evt)
	s.Pub.Emit(r.Context(), webhooks.EventRouteUpdated, evt.Data)
	writeJSON(w, http.StatusOK, map[string]any{"suggestion": resolved, "route": rt})
}

func (s *Server) driftResolve(w http.ResponseWriter, r *http.Request, id, status string) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	sg, err := s.Store.ResolveDriftSuggestion(r.Context(), id, status)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "suggestion not found", "", r.URL.Path)
		return
	}
	if errors.Is(err, store.ErrConflict) {
		writeProblem(w, http.StatusConflict, "already resolved", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	metrics.DriftSuggestions.WithLabelValues(status).Inc()
	writeJSON(w, http.StatusOK, sg)
}

// SubscriptionsHandler handles /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var sub model.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		if sub.URL == "" || len(sub.Events) == 0 {
			writeProblem(w, http.StatusUnprocessableEntity, "invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		created, err := s.Store.CreateSubscription(r.Context(), sub)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		subs, err := s.Store.ListSubscriptions(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || r.Method != http.MethodDelete {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "subscription not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Store.ListDepots(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
