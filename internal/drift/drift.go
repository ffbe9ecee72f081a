// Package drift detects when a newly arrived order could be absorbed into
// an already-dispatched route with acceptable detour. It only proposes;
// acceptance is an external decision and the monitor never mutates a route.
package drift

import (
	"context"
	"fmt"
	"sort"

	"routeplan/internal/distance"
	"routeplan/internal/model"
)

// Candidate is one feasible insertion point, ranked by added distance.
type Candidate struct {
	RouteID         string  `json:"routeId"`
	InsertIndex     int     `json:"insertIndex"` // waypoint index the new stop would take
	AddedDistanceKm float64 `json:"addedDistanceKm"`
}

// FindInsertionCandidates evaluates every adjacent waypoint pair of every
// active route against the new order's point. The marginal cost of slotting
// the order between a and b is d(a,new)+d(new,b)-d(a,b); candidates beyond
// maxDetourKm are discarded and the rest are returned ascending by added
// distance. Each route's waypoints are read from an independent snapshot so
// concurrent evaluation never observes a partially updated stop list.
func FindInsertionCandidates(ctx context.Context, order model.Order, activeRoutes []model.Route, maxDetourKm float64, provider distance.Provider) ([]Candidate, error) {
	if !order.Routable() {
		return nil, fmt.Errorf("drift: order %s has no coordinates", order.ID)
	}
	pt := *order.Location

	var out []Candidate
	for _, rt := range activeRoutes {
		wps := rt.CopyWaypoints()
		for i := 0; i+1 < len(wps); i++ {
			a, b := wps[i], wps[i+1]
			toNew, err := provider.Pairwise(ctx, a.Location, pt)
			if err != nil {
				return nil, fmt.Errorf("drift: route %s leg %d: %w", rt.ID, i, err)
			}
			fromNew, err := provider.Pairwise(ctx, pt, b.Location)
			if err != nil {
				return nil, fmt.Errorf("drift: route %s leg %d: %w", rt.ID, i, err)
			}
			direct, err := provider.Pairwise(ctx, a.Location, b.Location)
			if err != nil {
				return nil, fmt.Errorf("drift: route %s leg %d: %w", rt.ID, i, err)
			}
			added := toNew.DistanceKm + fromNew.DistanceKm - direct.DistanceKm
			if added < 0 {
				added = 0
			}
			if added > maxDetourKm {
				continue
			}
			out = append(out, Candidate{RouteID: rt.ID, InsertIndex: i + 1, AddedDistanceKm: added})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedDistanceKm != out[j].AddedDistanceKm {
			return out[i].AddedDistanceKm < out[j].AddedDistanceKm
		}
		if out[i].RouteID != out[j].RouteID {
			return out[i].RouteID < out[j].RouteID
		}
		return out[i].InsertIndex < out[j].InsertIndex
	})
	return out, nil
}
