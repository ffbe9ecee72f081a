// Package planner runs the batch planning pipeline: cluster pending orders,
// assign clusters to drivers, sequence each route concurrently, then commit
// the whole batch atomically.
package planner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"routeplan/internal/assign"
	"routeplan/internal/cluster"
	"routeplan/internal/distance"
	"routeplan/internal/metrics"
	"routeplan/internal/model"
	"routeplan/internal/sequence"
	"routeplan/internal/store"
)

// Params tunes one planning run.
type Params struct {
	MaxRadiusKm      float64
	MinClusterSize   int
	MaxClusterSize   int
	Strategy         assign.Strategy
	Solver           sequence.Solver
	SolverBudget     time.Duration
	ParkingMaxWalkKm float64
}

type Planner struct {
	Store    store.Store
	Provider distance.Provider
	Params   Params
}

// routeColors is cycled over routes in driver-id order so a dispatch board
// can tell routes apart at a glance.
var routeColors = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#008080", "#9a6324",
}

// Plan executes one batch over all pending orders and available drivers.
// Nothing persists unless the whole batch succeeds; degraded distance
// accuracy and solver fallbacks produce warnings, never errors.
func (pl *Planner) Plan(ctx context.Context) (model.PlanSummary, error) {
	started := time.Now()
	summary, err := pl.plan(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.PlanBatches.WithLabelValues(outcome).Inc()
	metrics.PlanDuration.Observe(time.Since(started).Seconds())
	return summary, err
}

func (pl *Planner) plan(ctx context.Context) (model.PlanSummary, error) {
	orders, err := pl.Store.ListOrders(ctx, model.OrderPending)
	if err != nil {
		return model.PlanSummary{}, fmt.Errorf("planner: list orders: %w", err)
	}
	drivers, err := pl.Store.ListDrivers(ctx, model.DriverAvailable)
	if err != nil {
		return model.PlanSummary{}, fmt.Errorf("planner: list drivers: %w", err)
	}
	depots, err := pl.Store.ListDepots(ctx)
	if err != nil {
		return model.PlanSummary{}, fmt.Errorf("planner: list depots: %w", err)
	}
	if len(depots) == 0 {
		return model.PlanSummary{}, fmt.Errorf("planner: no depot configured")
	}
	depot := depots[0]
	parking, err := pl.Store.ListParking(ctx)
	if err != nil {
		return model.PlanSummary{}, fmt.Errorf("planner: list parking: %w", err)
	}

	batchID := uuid.New().String()
	summary := model.PlanSummary{BatchID: batchID, CreatedAt: time.Now().UTC()}

	part := cluster.Partition(orders, cluster.Params{
		MaxRadiusKm: pl.Params.MaxRadiusKm,
		MinSize:     pl.Params.MinClusterSize,
		MaxSize:     pl.Params.MaxClusterSize,
	})
	summary.OrdersUnscheduled = append(summary.OrdersUnscheduled, part.Unroutable...)
	for _, id := range part.Unroutable {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("order %s has no coordinates", id))
	}

	assigned, unassigned := assign.Assign(part.Clusters, drivers, pl.Params.Strategy)
	for _, c := range unassigned {
		summary.OrdersUnscheduled = append(summary.OrdersUnscheduled, c.OrderIDs...)
	}
	if len(unassigned) > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("%d clusters unassigned: not enough available drivers", len(unassigned)))
	}

	byID := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	driverByID := make(map[string]model.Driver, len(drivers))
	for _, d := range drivers {
		driverByID[d.ID] = d
	}

	// Sequence every assigned route concurrently. Each route works on its
	// own cluster; the shared distance provider is safe for concurrent use.
	routes := make([]model.Route, len(assigned))
	errs := make([]error, len(assigned))
	var wg sync.WaitGroup
	for i, a := range assigned {
		wg.Add(1)
		go func(i int, a assign.Assignment) {
			defer wg.Done()
			routes[i], errs[i] = pl.sequenceRoute(ctx, batchID, depot, parking, a, byID, driverByID[a.DriverID], i)
		}(i, a)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return model.PlanSummary{}, e
		}
	}

	batch := store.PlanBatch{ID: batchID, OrderRoutes: map[string]store.OrderSlot{}}
	for _, rt := range routes {
		batch.Routes = append(batch.Routes, rt)
		batch.DriverIDs = append(batch.DriverIDs, rt.DriverID)
		seq := 0
		for _, wp := range rt.Waypoints {
			if wp.Kind != model.WaypointDelivery {
				continue
			}
			seq++
			batch.OrderRoutes[wp.RefID] = store.OrderSlot{RouteID: rt.ID, Seq: seq}
		}
		summary.RoutesCreated++
		summary.OrdersScheduled += deliveryCount(rt)
		summary.TotalDistanceKm += rt.DistanceKm
		summary.TotalTimeMin += rt.DurationMin
		if rt.Method == sequence.MethodFallback {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("route %s sequenced by nearest-neighbor fallback", rt.ID))
		}
		if !rt.UsedRoadNetwork {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("route %s uses geometric distance estimates", rt.ID))
		}
		if rt.Small {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("route %s is below the minimum cluster size", rt.ID))
		}
	}
	summary.DriversUsed = summary.RoutesCreated
	if summary.RoutesCreated > 0 {
		summary.AvgOrdersPerRoute = float64(summary.OrdersScheduled) / float64(summary.RoutesCreated)
		summary.AvgDistancePerRouteKm = summary.TotalDistanceKm / float64(summary.RoutesCreated)
	}
	sort.Strings(summary.OrdersUnscheduled)
	batch.Summary = summary

	if err := ctx.Err(); err != nil {
		return model.PlanSummary{}, err
	}
	if err := pl.Store.CommitPlan(ctx, batch); err != nil {
		return model.PlanSummary{}, fmt.Errorf("planner: commit batch %s: %w", batchID, err)
	}
	log.Printf("planner: batch %s committed: %d routes, %d orders scheduled, %d unscheduled",
		batchID, summary.RoutesCreated, summary.OrdersScheduled, len(summary.OrdersUnscheduled))
	return summary, nil
}

func (pl *Planner) sequenceRoute(ctx context.Context, batchID string, depot model.NamedPoint, parking []model.NamedPoint, a assign.Assignment, orders map[string]model.Order, driver model.Driver, idx int) (model.Route, error) {
	deliveries := make([]sequence.Delivery, 0, a.Cluster.Size())
	for _, id := range a.Cluster.OrderIDs {
		o := orders[id]
		deliveries = append(deliveries, sequence.Delivery{
			OrderID:         o.ID,
			Point:           *o.Location,
			Priority:        o.Priority,
			Window:          o.Window,
			ParkingRequired: o.ParkingRequired,
		})
	}
	plan, err := sequence.Sequence(ctx, depot, parking, deliveries, pl.Provider, sequence.Options{
		Solver:           pl.Params.Solver,
		Budget:           pl.Params.SolverBudget,
		ParkingMaxWalkKm: pl.Params.ParkingMaxWalkKm,
	})
	if err != nil {
		return model.Route{}, fmt.Errorf("planner: sequence cluster for driver %s: %w", a.DriverID, err)
	}
	return model.Route{
		ID:              uuid.New().String(),
		BatchID:         batchID,
		DriverID:        a.DriverID,
		Name:            routeName(driver, idx),
		Color:           routeColors[idx%len(routeColors)],
		Status:          model.RoutePlanned,
		Waypoints:       plan.Waypoints,
		DistanceKm:      plan.DistanceKm,
		DurationMin:     plan.DurationMin,
		UsedRoadNetwork: plan.UsedRoadNetwork,
		Method:          plan.Method,
		ImprovementPct:  plan.ImprovementPct,
		Small:           a.Cluster.Small,
		StartAt:         time.Now().UTC(),
	}, nil
}

func deliveryCount(rt model.Route) int {
	n := 0
	for _, wp := range rt.Waypoints {
		if wp.Kind == model.WaypointDelivery {
			n++
		}
	}
	return n
}

// routeName labels a route with the driver's initials, e.g. "Route JD-3".
func routeName(d model.Driver, idx int) string {
	initials := ""
	for _, part := range strings.Fields(d.Name) {
		r, _ := utf8.DecodeRuneInString(part)
		initials += string(unicode.ToUpper(r))
	}
	if initials == "" {
		initials = "R"
	}
	return fmt.Sprintf("Route %s-%d", initials, idx+1)
}
