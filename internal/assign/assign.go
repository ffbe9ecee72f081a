// Package assign maps order clusters onto available drivers.
package assign

import (
	"sort"

	"routeplan/internal/cluster"
	"routeplan/internal/model"
)

// Strategy selects the assignment policy.
type Strategy string

const (
	// Balanced hands the largest cluster to the least-loaded driver.
	// Greedy rather than globally optimal: predictable, and good enough
	// for fleet-sized inputs.
	Balanced Strategy = "balanced"
	// RoundRobin cycles through drivers in id order.
	RoundRobin Strategy = "roundrobin"
)

// Assignment binds one cluster to one driver for the current batch.
type Assignment struct {
	Cluster  cluster.Cluster
	DriverID string
}

// Assign pairs clusters with drivers. Each driver takes at most one cluster
// per batch; when clusters outnumber drivers the excess is returned as
// unassigned rather than forced onto an overloaded driver. Offline drivers
// are never candidates. Ties break by driver id and by lowest member order
// id, so assignment is deterministic.
func Assign(clusters []cluster.Cluster, drivers []model.Driver, strategy Strategy) (assigned []Assignment, unassigned []cluster.Cluster) {
	pool := make([]model.Driver, 0, len(drivers))
	for _, d := range drivers {
		if d.Status == model.DriverOffline {
			continue
		}
		pool = append(pool, d)
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	order := make([]cluster.Cluster, len(clusters))
	copy(order, clusters)

	switch strategy {
	case RoundRobin:
		sort.Slice(order, func(i, j int) bool { return order[i].OrderIDs[0] < order[j].OrderIDs[0] })
		for i, c := range order {
			if i >= len(pool) {
				unassigned = append(unassigned, c)
				continue
			}
			assigned = append(assigned, Assignment{Cluster: c, DriverID: pool[i].ID})
		}
	default: // Balanced
		sort.Slice(order, func(i, j int) bool {
			if order[i].Size() != order[j].Size() {
				return order[i].Size() > order[j].Size()
			}
			return order[i].OrderIDs[0] < order[j].OrderIDs[0]
		})
		loads := make(map[string]int, len(pool))
		taken := make(map[string]bool, len(pool))
		for _, d := range pool {
			loads[d.ID] = d.CurrentLoad
		}
		for _, c := range order {
			best := ""
			for _, d := range pool {
				if taken[d.ID] {
					continue
				}
				if best == "" || loads[d.ID] < loads[best] {
					best = d.ID
				}
			}
			if best == "" {
				unassigned = append(unassigned, c)
				continue
			}
			taken[best] = true
			loads[best] += c.Size()
			assigned = append(assigned, Assignment{Cluster: c, DriverID: best})
		}
	}

	sort.Slice(assigned, func(i, j int) bool { return assigned[i].DriverID < assigned[j].DriverID })
	return assigned, unassigned
}
