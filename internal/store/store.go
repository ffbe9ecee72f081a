package store

import (
	"context"
	"errors"
	"time"

	"routeplan/internal/model"
)

// PlanBatch is the staged outcome of one planning invocation. It commits
// atomically: either every route, order mutation and driver transition
// lands, or none do.
type PlanBatch struct {
	ID      string
	Routes  []model.Route
	Summary model.PlanSummary
	// OrderRoutes maps order id -> (route id, 1-based sequence).
	OrderRoutes map[string]OrderSlot
	// DriverIDs lists drivers transitioned to on_route by this batch.
	DriverIDs []string
}

type OrderSlot struct {
	RouteID string
	Seq     int
}

// WebhookDelivery is one pending outbound notification.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

// Store is the persistence interface used by the planning engine and API.
type Store interface {
	// Orders
	CreateOrders(ctx context.Context, orders []model.Order) (created int, err error)
	ListOrders(ctx context.Context, status string) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string) error

	// Drivers
	CreateDrivers(ctx context.Context, drivers []model.Driver) (int, error)
	ListDrivers(ctx context.Context, status string) ([]model.Driver, error)
	UpdateDriverStatus(ctx context.Context, id, status string) error

	// Depots / parking
	CreateDepot(ctx context.Context, p model.NamedPoint) (model.NamedPoint, error)
	CreateParking(ctx context.Context, p model.NamedPoint) (model.NamedPoint, error)
	ListDepots(ctx context.Context) ([]model.NamedPoint, error)
	ListParking(ctx context.Context) ([]model.NamedPoint, error)

	// Planning
	CommitPlan(ctx context.Context, batch PlanBatch) error
	GetPlanSummary(ctx context.Context, batchID string) (model.PlanSummary, error)

	// Routes
	GetRoute(ctx context.Context, id string) (model.Route, error)
	ListRoutes(ctx context.Context, status string) ([]model.Route, error)
	ListActiveRoutes(ctx context.Context) ([]model.Route, error)
	UpdateRouteStatus(ctx context.Context, id, status string) (model.Route, error)
	// InsertWaypoint splices a delivery stop into an active route at the
	// given waypoint index and binds the order to the route. Mutations are
	// serialized per route.
	InsertWaypoint(ctx context.Context, routeID string, index int, wp model.Waypoint, addedKm float64) (model.Route, error)

	// Drift suggestions
	CreateDriftSuggestions(ctx context.Context, sugg []model.DriftSuggestion) ([]model.DriftSuggestion, error)
	GetDriftSuggestion(ctx context.Context, id string) (model.DriftSuggestion, error)
	ResolveDriftSuggestion(ctx context.Context, id, status string) (model.DriftSuggestion, error)

	// Webhook subscriptions and deliveries
	CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")

// ErrConflict reports an invalid state transition, such as inserting into a
// completed route.
var ErrConflict = errors.New("conflict")
