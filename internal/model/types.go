package model

// Core domain types for the planning engine.

import (
	"time"

	"routeplan/internal/geo"
)

// Priority is the ordinal urgency of an order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps a priority to its ordinal weight; unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// TimeWindow bounds a delivery. Either side may be unset.
type TimeWindow struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Order statuses.
const (
	OrderPending   = "pending"
	OrderAssigned  = "assigned"
	OrderInTransit = "in_transit"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
)

type Order struct {
	ID              string      `json:"id"`
	Location        *geo.Point  `json:"location"` // nil means unroutable
	Window          *TimeWindow `json:"timeWindow,omitempty"`
	Priority        Priority    `json:"priority"`
	Status          string      `json:"status"`
	ParkingRequired bool        `json:"parkingRequired,omitempty"`
	RouteID         string      `json:"routeId,omitempty"`
	Seq             int         `json:"seq,omitempty"` // position within the route, 1-based; 0 when unassigned
}

// Routable reports whether the order carries coordinates.
func (o Order) Routable() bool { return o.Location != nil }

// Driver statuses.
const (
	DriverAvailable = "available"
	DriverOnRoute   = "on_route"
	DriverOffline   = "offline"
)

type Driver struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Status      string     `json:"status"`
	Location    *geo.Point `json:"location,omitempty"`
	CurrentLoad int        `json:"currentLoad"` // order count on active routes
}

// Waypoint kinds.
const (
	WaypointDepot    = "depot"
	WaypointParking  = "parking"
	WaypointDelivery = "delivery"
)

// Waypoint is one stop on a route. RefID points at the originating
// depot, parking location, or order depending on Kind.
type Waypoint struct {
	Kind     string    `json:"kind"`
	Seq      int       `json:"seq"`
	Location geo.Point `json:"location"`
	RefID    string    `json:"refId"`
}

// Route statuses.
const (
	RoutePlanned   = "planned"
	RouteInTransit = "in_transit"
	RouteCompleted = "completed"
)

type Route struct {
	ID              string     `json:"id"`
	BatchID         string     `json:"batchId,omitempty"`
	DriverID        string     `json:"driverId"`
	Name            string     `json:"name,omitempty"`
	Color           string     `json:"color,omitempty"`
	Status          string     `json:"status"`
	Waypoints       []Waypoint `json:"waypoints"`
	DistanceKm      float64    `json:"distanceKm"`
	DurationMin     float64    `json:"durationMin"`
	UsedRoadNetwork bool       `json:"usedRoadNetwork"`
	Method          string     `json:"method,omitempty"` // solver | nearest_neighbor_fallback
	ImprovementPct  float64    `json:"improvementPct"`
	Small           bool       `json:"small,omitempty"` // cluster could not reach the minimum size
	StartAt         time.Time  `json:"startAt,omitempty"`
}

// CopyWaypoints returns an independent snapshot of the stop list.
func (r Route) CopyWaypoints() []Waypoint {
	out := make([]Waypoint, len(r.Waypoints))
	copy(out, r.Waypoints)
	return out
}

// NamedPoint is a depot or parking location.
type NamedPoint struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Location geo.Point `json:"location"`
}

// PlanSummary is the batch-level outcome reported to callers.
type PlanSummary struct {
	BatchID               string    `json:"batchId"`
	RoutesCreated         int       `json:"routesCreated"`
	OrdersScheduled       int       `json:"ordersScheduled"`
	OrdersUnscheduled     []string  `json:"ordersUnscheduled"`
	TotalDistanceKm       float64   `json:"totalDistanceKm"`
	TotalTimeMin          float64   `json:"totalTimeMinutes"`
	DriversUsed           int       `json:"driversUsed"`
	AvgOrdersPerRoute     float64   `json:"avgOrdersPerRoute"`
	AvgDistancePerRouteKm float64   `json:"avgDistancePerRouteKm"`
	Warnings              []string  `json:"warnings,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Drift suggestion statuses.
const (
	DriftProposed = "proposed"
	DriftAccepted = "accepted"
	DriftRejected = "rejected"
)

// DriftSuggestion proposes absorbing a new order into an active route.
type DriftSuggestion struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"orderId"`
	RouteID         string  `json:"routeId"`
	InsertIndex     int     `json:"insertIndex"` // waypoint index the delivery would take
	AddedDistanceKm float64 `json:"addedDistanceKm"`
	Status          string  `json:"status"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
