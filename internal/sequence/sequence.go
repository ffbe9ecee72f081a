// Package sequence orders the stops of a single route. It prefers a
// combinatorial solver bounded by a wall-clock budget and falls back to a
// greedy nearest-neighbor heuristic when no solver is available or the
// solver fails.
package sequence

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"routeplan/internal/distance"
	"routeplan/internal/geo"
	"routeplan/internal/metrics"
	"routeplan/internal/model"
)

// Optimization methods recorded on the plan.
const (
	MethodSolver   = "solver"
	MethodFallback = "nearest_neighbor_fallback"
)

// Delivery is one stop to be sequenced.
type Delivery struct {
	OrderID         string
	Point           geo.Point
	Priority        model.Priority
	Window          *model.TimeWindow
	ParkingRequired bool
}

// Options tune a single sequencing run.
type Options struct {
	Solver           Solver        // nil selects the fallback path
	Budget           time.Duration // solver wall-clock budget
	ParkingMaxWalkKm float64
}

// Plan is the sequenced result plus its cost summary.
type Plan struct {
	Waypoints       []model.Waypoint
	DistanceKm      float64
	DurationMin     float64
	Method          string
	ImprovementPct  float64
	UsedRoadNetwork bool
}

// Problem is the open-path instance handed to a solver. Index 0 is the
// depot; index i+1 is deliveries[i]. The path starts at the depot and has
// no return leg.
type Problem struct {
	Dist       [][]float64
	Priorities []int    // rank per delivery
	Precedence [][2]int // delivery index a must be visited before b
	Budget     time.Duration
}

// Solver produces a visiting order (delivery indices). Implementations
// must return their best-found solution when the budget expires rather
// than block, and must respect context cancellation.
type Solver interface {
	Solve(ctx context.Context, p Problem) ([]int, error)
}

// Sequence orders deliveries starting from depot. Distance provider
// failures degrade accuracy, not correctness; only context cancellation
// or an empty matrix aborts.
func Sequence(ctx context.Context, depot model.NamedPoint, parking []model.NamedPoint, deliveries []Delivery, provider distance.Provider, opts Options) (Plan, error) {
	if len(deliveries) == 0 {
		return Plan{
			Waypoints: []model.Waypoint{{Kind: model.WaypointDepot, Seq: 0, Location: depot.Location, RefID: depot.ID}},
			Method:    MethodFallback,
		}, nil
	}

	pts := make([]geo.Point, 0, len(deliveries)+1)
	pts = append(pts, depot.Location)
	for _, d := range deliveries {
		pts = append(pts, d.Point)
	}
	mat, err := provider.Matrix(ctx, pts)
	if err != nil {
		return Plan{}, fmt.Errorf("sequence: distance matrix: %w", err)
	}

	naive := make([]int, len(deliveries))
	for i := range naive {
		naive[i] = i
	}
	naiveDist := pathDistance(mat.DistanceKm, naive)

	prec := windowPrecedence(deliveries)
	order, method := solveOrder(ctx, deliveries, mat, prec, opts)
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	metrics.SequenceMethods.WithLabelValues(method).Inc()

	seqDist := pathDistance(mat.DistanceKm, order)
	// Neither heuristic is guaranteed to beat the input order on every
	// instance. Keep the input order when it is shorter, unless that would
	// break a window precedence the solver satisfied.
	if seqDist > naiveDist && (method == MethodFallback || respectsPrecedence(naive, prec)) {
		order = naive
		seqDist = naiveDist
	}
	seqDur := pathDuration(mat.DurationMin, order)

	// Improvement over the naive input order is computed the same way for
	// both paths so callers can display it uniformly.
	improvement := 0.0
	if naiveDist > 0 {
		improvement = (naiveDist - seqDist) / naiveDist * 100
	}

	return Plan{
		Waypoints:       buildWaypoints(depot, parking, deliveries, order, opts.ParkingMaxWalkKm),
		DistanceKm:      seqDist,
		DurationMin:     seqDur,
		Method:          method,
		ImprovementPct:  improvement,
		UsedRoadNetwork: mat.UsedRoadNetwork(),
	}, nil
}

func solveOrder(ctx context.Context, deliveries []Delivery, mat distance.MatrixResult, prec [][2]int, opts Options) ([]int, string) {
	if opts.Solver != nil {
		p := Problem{
			Dist:       mat.DistanceKm,
			Priorities: priorityRanks(deliveries),
			Precedence: prec,
			Budget:     opts.Budget,
		}
		order, err := opts.Solver.Solve(ctx, p)
		if err == nil && validOrder(order, len(deliveries)) {
			return order, MethodSolver
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("sequence: solver failed, using nearest-neighbor fallback: %v", err)
		}
	}
	return NearestNeighbor(mat.DistanceKm, deliveries), MethodFallback
}

// NearestNeighbor greedily picks the closest unvisited delivery from the
// current position, starting at the depot (matrix row 0). Ties break by
// higher priority, then lower order id. Time windows are advisory here.
func NearestNeighbor(dist [][]float64, deliveries []Delivery) []int {
	n := len(deliveries)
	visited := make([]bool, n)
	order := make([]int, 0, n)
	cur := 0 // depot row
	for len(order) < n {
		best := -1
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			di, db := dist[cur][i+1], dist[cur][best+1]
			switch {
			case di < db:
				best = i
			case di == db:
				ri, rb := deliveries[i].Priority.Rank(), deliveries[best].Priority.Rank()
				if ri > rb || (ri == rb && deliveries[i].OrderID < deliveries[best].OrderID) {
					best = i
				}
			}
		}
		visited[best] = true
		order = append(order, best)
		cur = best + 1
	}
	return order
}

// windowPrecedence derives hard ordering constraints: when one delivery's
// window ends strictly before another's begins, the first must be visited
// first.
func windowPrecedence(deliveries []Delivery) [][2]int {
	var prec [][2]int
	for i, a := range deliveries {
		if a.Window == nil || a.Window.End == nil {
			continue
		}
		for j, b := range deliveries {
			if i == j || b.Window == nil || b.Window.Start == nil {
				continue
			}
			if a.Window.End.Before(*b.Window.Start) {
				prec = append(prec, [2]int{i, j})
			}
		}
	}
	return prec
}

func priorityRanks(deliveries []Delivery) []int {
	out := make([]int, len(deliveries))
	for i, d := range deliveries {
		out[i] = d.Priority.Rank()
	}
	return out
}

// pathDistance sums the open path depot -> order[0] -> ... -> order[n-1].
func pathDistance(dist [][]float64, order []int) float64 {
	total := 0.0
	cur := 0
	for _, idx := range order {
		total += dist[cur][idx+1]
		cur = idx + 1
	}
	return total
}

func pathDuration(dur [][]float64, order []int) float64 {
	total := 0.0
	cur := 0
	for _, idx := range order {
		total += dur[cur][idx+1]
		cur = idx + 1
	}
	return total
}

func respectsPrecedence(order []int, prec [][2]int) bool {
	if len(prec) == 0 {
		return true
	}
	pos := make([]int, len(order))
	for p, idx := range order {
		pos[idx] = p
	}
	for _, pr := range prec {
		if pos[pr[0]] > pos[pr[1]] {
			return false
		}
	}
	return true
}

func validOrder(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}

// buildWaypoints lays out depot, parking and delivery stops with sequential
// indices. A parking waypoint precedes each delivery that requires one and
// is reused across consecutive deliveries sharing the same parking spot.
func buildWaypoints(depot model.NamedPoint, parking []model.NamedPoint, deliveries []Delivery, order []int, maxWalkKm float64) []model.Waypoint {
	wps := []model.Waypoint{{Kind: model.WaypointDepot, Seq: 0, Location: depot.Location, RefID: depot.ID}}
	lastParking := ""
	for _, idx := range order {
		d := deliveries[idx]
		if d.ParkingRequired {
			if p := nearestParking(d.Point, parking, maxWalkKm); p != nil && p.ID != lastParking {
				wps = append(wps, model.Waypoint{Kind: model.WaypointParking, Seq: len(wps), Location: p.Location, RefID: p.ID})
				lastParking = p.ID
			}
		} else {
			lastParking = ""
		}
		wps = append(wps, model.Waypoint{Kind: model.WaypointDelivery, Seq: len(wps), Location: d.Point, RefID: d.OrderID})
	}
	return wps
}

func nearestParking(pt geo.Point, parking []model.NamedPoint, maxWalkKm float64) *model.NamedPoint {
	if maxWalkKm <= 0 {
		maxWalkKm = 0.6
	}
	cands := append([]model.NamedPoint(nil), parking...)
	sort.Slice(cands, func(i, j int) bool { return cands[i].ID < cands[j].ID })
	best := -1
	bestD := 0.0
	for i, p := range cands {
		d := geo.HaversineKm(pt, p.Location)
		if d > maxWalkKm {
			continue
		}
		if best == -1 || d < bestD {
			best, bestD = i, d
		}
	}
	if best == -1 {
		return nil
	}
	p := cands[best]
	return &p
}
