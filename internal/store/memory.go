package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"routeplan/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	orderIDs []string
	drivers  map[string]model.Driver
	driverIDs []string
	depots   []model.NamedPoint
	parking  []model.NamedPoint
	routes   map[string]model.Route
	routeIDs []string
	summaries map[string]model.PlanSummary
	drifts   map[string]model.DriftSuggestion
	driftIDs []string
	subs     []model.Subscription

	deliveries  map[string]*memDelivery
	deliveryIDs []string

	// routeMu serializes structural mutation per route; readers take
	// snapshots under mu instead.
	routeMu map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		orders:     map[string]model.Order{},
		drivers:    map[string]model.Driver{},
		routes:     map[string]model.Route{},
		summaries:  map[string]model.PlanSummary{},
		drifts:     map[string]model.DriftSuggestion{},
		deliveries: map[string]*memDelivery{},
		routeMu:    map[string]*sync.Mutex{},
	}
}

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func (m *Memory) CreateOrders(ctx context.Context, orders []model.Order) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.Status == "" {
			o.Status = model.OrderPending
		}
		if o.Priority == "" {
			o.Priority = model.PriorityNormal
		}
		if _, exists := m.orders[o.ID]; !exists {
			m.orderIDs = append(m.orderIDs, o.ID)
		}
		m.orders[o.ID] = o
		created++
	}
	return created, nil
}

func (m *Memory) ListOrders(ctx context.Context, status string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, id := range m.orderIDs {
		o := m.orders[id]
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	if status == model.OrderPending {
		o.RouteID = ""
		o.Seq = 0
	}
	m.orders[id] = o
	return nil
}

func (m *Memory) CreateDrivers(ctx context.Context, drivers []model.Driver) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, d := range drivers {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.Status == "" {
			d.Status = model.DriverAvailable
		}
		if _, exists := m.drivers[d.ID]; !exists {
			m.driverIDs = append(m.driverIDs, d.ID)
		}
		m.drivers[d.ID] = d
		created++
	}
	return created, nil
}

func (m *Memory) ListDrivers(ctx context.Context, status string) ([]model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Driver{}
	for _, id := range m.driverIDs {
		d := m.drivers[id]
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateDriverStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	m.drivers[id] = d
	return nil
}

func (m *Memory) CreateDepot(ctx context.Context, p model.NamedPoint) (model.NamedPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	m.depots = append(m.depots, p)
	return p, nil
}

func (m *Memory) CreateParking(ctx context.Context, p model.NamedPoint) (model.NamedPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	m.parking = append(m.parking, p)
	return p, nil
}

func (m *Memory) ListDepots(ctx context.Context) ([]model.NamedPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.NamedPoint{}, m.depots...), nil
}

func (m *Memory) ListParking(ctx context.Context) ([]model.NamedPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.NamedPoint{}, m.parking...), nil
}

// CommitPlan applies the whole staged batch under one lock so an aborted
// batch never leaves partial assignments behind.
func (m *Memory) CommitPlan(ctx context.Context, batch PlanBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range batch.Routes {
		if _, exists := m.routes[rt.ID]; !exists {
			m.routeIDs = append(m.routeIDs, rt.ID)
		}
		m.routes[rt.ID] = rt
	}
	for orderID, slot := range batch.OrderRoutes {
		o, ok := m.orders[orderID]
		if !ok {
			continue
		}
		o.Status = model.OrderAssigned
		o.RouteID = slot.RouteID
		o.Seq = slot.Seq
		m.orders[orderID] = o
	}
	for _, driverID := range batch.DriverIDs {
		if d, ok := m.drivers[driverID]; ok {
			d.Status = model.DriverOnRoute
			m.drivers[driverID] = d
		}
	}
	m.summaries[batch.ID] = batch.Summary
	return nil
}

func (m *Memory) GetPlanSummary(ctx context.Context, batchID string) (model.PlanSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[batchID]
	if !ok {
		return model.PlanSummary{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetRoute(ctx context.Context, id string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	r.Waypoints = r.CopyWaypoints()
	return r, nil
}

func (m *Memory) ListRoutes(ctx context.Context, status string) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Route{}
	for _, id := range m.routeIDs {
		r := m.routes[id]
		if status == "" || r.Status == status {
			r.Waypoints = r.CopyWaypoints()
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListActiveRoutes(ctx context.Context) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Route{}
	for _, id := range m.routeIDs {
		r := m.routes[id]
		if r.Status == model.RoutePlanned || r.Status == model.RouteInTransit {
			r.Waypoints = r.CopyWaypoints()
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) UpdateRouteStatus(ctx context.Context, id, status string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	r.Status = status
	m.routes[id] = r
	if status == model.RouteCompleted {
		if d, ok := m.drivers[r.DriverID]; ok && d.Status == model.DriverOnRoute {
			d.Status = model.DriverAvailable
			m.drivers[r.DriverID] = d
		}
	}
	return r, nil
}

func (m *Memory) lockRoute(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.routeMu[id]
	if !ok {
		l = &sync.Mutex{}
		m.routeMu[id] = l
	}
	return l
}

func (m *Memory) InsertWaypoint(ctx context.Context, routeID string, index int, wp model.Waypoint, addedKm float64) (model.Route, error) {
	l := m.lockRoute(routeID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	if r.Status == model.RouteCompleted {
		return model.Route{}, ErrConflict
	}
	if index < 1 || index > len(r.Waypoints) {
		return model.Route{}, ErrConflict
	}
	wps := r.CopyWaypoints()
	wps = append(wps[:index], append([]model.Waypoint{wp}, wps[index:]...)...)
	for i := range wps {
		wps[i].Seq = i
	}
	r.Waypoints = wps
	r.DistanceKm += addedKm
	m.routes[routeID] = r

	// orders carry a 1-based delivery sequence, not the waypoint index;
	// renumber every delivery on the route so stops after the insertion
	// point shift too
	seq := 0
	for _, w := range wps {
		if w.Kind != model.WaypointDelivery {
			continue
		}
		seq++
		o, ok := m.orders[w.RefID]
		if !ok {
			continue
		}
		if w.RefID == wp.RefID {
			o.Status = model.OrderAssigned
			o.RouteID = routeID
		}
		o.Seq = seq
		m.orders[w.RefID] = o
	}
	return r, nil
}

func (m *Memory) CreateDriftSuggestions(ctx context.Context, sugg []model.DriftSuggestion) ([]model.DriftSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DriftSuggestion, 0, len(sugg))
	for _, s := range sugg {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.Status == "" {
			s.Status = model.DriftProposed
		}
		m.drifts[s.ID] = s
		m.driftIDs = append(m.driftIDs, s.ID)
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) GetDriftSuggestion(ctx context.Context, id string) (model.DriftSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.drifts[id]
	if !ok {
		return model.DriftSuggestion{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ResolveDriftSuggestion(ctx context.Context, id, status string) (model.DriftSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.drifts[id]
	if !ok {
		return model.DriftSuggestion{}, ErrNotFound
	}
	if s.Status != model.DriftProposed {
		return model.DriftSuggestion{}, ErrConflict
	}
	s.Status = status
	m.drifts[id] = s
	return s, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription{}, m.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.subs[:0]
	found := false
	for _, s := range m.subs {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	m.subs = out
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
		NextAttemptAt:   time.Now(),
	}
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.deliveries[id]; d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}
