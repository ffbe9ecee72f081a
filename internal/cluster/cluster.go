// Package cluster partitions geotagged orders into geographically coherent
// groups bounded by a travel radius and a target size range.
package cluster

import (
	"sort"

	"routeplan/internal/geo"
	"routeplan/internal/model"
)

// Params bound the partitioning.
type Params struct {
	MaxRadiusKm float64
	MinSize     int
	MaxSize     int
}

// Cluster is a transient grouping of orders used to seed one route.
// It is never persisted.
type Cluster struct {
	OrderIDs []string
	Centroid geo.Point
	// Small marks a cluster that could not reach MinSize through merging.
	// Such clusters are kept intact rather than dropped.
	Small bool

	points []geo.Point
}

// Size returns the number of orders in the cluster.
func (c Cluster) Size() int { return len(c.OrderIDs) }

// Result separates the partition from orders that cannot be routed.
type Result struct {
	Clusters   []Cluster
	Unroutable []string // order ids without coordinates
}

type member struct {
	id string
	pt geo.Point
}

// Partition groups orders by transitive proximity: two orders within
// MaxRadiusKm of each other land in the same group, and groups chain
// through shared neighbors. Oversize groups are bisected on their widest
// geographic axis; undersize groups merge into their nearest neighbor when
// the union stays within MaxSize. Output is deterministic for a given
// input set: members sort by order id and clusters by lowest member id.
func Partition(orders []model.Order, p Params) Result {
	var res Result

	routable := make([]member, 0, len(orders))
	for _, o := range orders {
		if !o.Routable() {
			res.Unroutable = append(res.Unroutable, o.ID)
			continue
		}
		routable = append(routable, member{id: o.ID, pt: *o.Location})
	}
	sort.Slice(routable, func(i, j int) bool { return routable[i].id < routable[j].id })
	sort.Strings(res.Unroutable)
	if len(routable) == 0 {
		return res
	}

	// Transitive grouping via union-find over the radius graph.
	parent := make([]int, len(routable))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := 0; i < len(routable); i++ {
		for j := i + 1; j < len(routable); j++ {
			if geo.HaversineKm(routable[i].pt, routable[j].pt) <= p.MaxRadiusKm {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}
	groups := map[int][]member{}
	for i, m := range routable {
		r := find(i)
		groups[r] = append(groups[r], m)
	}

	var clusters []Cluster
	for _, ms := range groups {
		clusters = append(clusters, newCluster(ms))
	}

	clusters = splitOversize(clusters, p.MaxSize)
	clusters = mergeUndersize(clusters, p)

	sortClusters(clusters)
	res.Clusters = clusters
	return res
}

func newCluster(ms []member) Cluster {
	sort.Slice(ms, func(i, j int) bool { return ms[i].id < ms[j].id })
	c := Cluster{}
	for _, m := range ms {
		c.OrderIDs = append(c.OrderIDs, m.id)
		c.points = append(c.points, m.pt)
	}
	c.Centroid = geo.Centroid(c.points)
	return c
}

func (c Cluster) members() []member {
	ms := make([]member, len(c.OrderIDs))
	for i := range c.OrderIDs {
		ms[i] = member{id: c.OrderIDs[i], pt: c.points[i]}
	}
	return ms
}

// splitOversize bisects clusters larger than maxSize on their widest
// geographic axis until every piece fits.
func splitOversize(clusters []Cluster, maxSize int) []Cluster {
	if maxSize <= 0 {
		return clusters
	}
	var out []Cluster
	stack := append([]Cluster(nil), clusters...)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.Size() <= maxSize {
			out = append(out, c)
			continue
		}
		a, b := bisect(c)
		stack = append(stack, a, b)
	}
	return out
}

// bisect splits a cluster at the median of its widest axis. Axis spans are
// measured in kilometers so latitude and longitude compare fairly.
func bisect(c Cluster) (Cluster, Cluster) {
	minLat, maxLat := c.points[0].Lat, c.points[0].Lat
	minLon, maxLon := c.points[0].Lon, c.points[0].Lon
	for _, pt := range c.points {
		if pt.Lat < minLat {
			minLat = pt.Lat
		}
		if pt.Lat > maxLat {
			maxLat = pt.Lat
		}
		if pt.Lon < minLon {
			minLon = pt.Lon
		}
		if pt.Lon > maxLon {
			maxLon = pt.Lon
		}
	}
	midLat := (minLat + maxLat) / 2
	latSpan := geo.HaversineKm(geo.Point{Lat: minLat, Lon: minLon}, geo.Point{Lat: maxLat, Lon: minLon})
	lonSpan := geo.HaversineKm(geo.Point{Lat: midLat, Lon: minLon}, geo.Point{Lat: midLat, Lon: maxLon})

	ms := c.members()
	byLat := latSpan >= lonSpan
	sort.Slice(ms, func(i, j int) bool {
		if byLat {
			if ms[i].pt.Lat != ms[j].pt.Lat {
				return ms[i].pt.Lat < ms[j].pt.Lat
			}
		} else {
			if ms[i].pt.Lon != ms[j].pt.Lon {
				return ms[i].pt.Lon < ms[j].pt.Lon
			}
		}
		return ms[i].id < ms[j].id
	})

	half := (len(ms) + 1) / 2
	return newCluster(ms[:half]), newCluster(ms[half:])
}

// mergeUndersize folds clusters below MinSize into their nearest neighbor
// by centroid distance, provided the union stays within MaxSize. Clusters
// that still cannot reach MinSize are flagged Small and kept.
func mergeUndersize(clusters []Cluster, p Params) []Cluster {
	if p.MinSize <= 1 {
		return clusters
	}
	sortClusters(clusters)
	for {
		// smallest undersize cluster not yet given up on; index order
		// breaks size ties deterministically
		small := -1
		for i, c := range clusters {
			if c.Size() >= p.MinSize || c.Small {
				continue
			}
			if small == -1 || c.Size() < clusters[small].Size() {
				small = i
			}
		}
		if small == -1 {
			break
		}
		target := -1
		best := 0.0
		for i, c := range clusters {
			if i == small {
				continue
			}
			if p.MaxSize > 0 && c.Size()+clusters[small].Size() > p.MaxSize {
				continue
			}
			d := geo.HaversineKm(clusters[small].Centroid, c.Centroid)
			if target == -1 || d < best {
				target, best = i, d
			}
		}
		if target == -1 {
			c := clusters[small]
			c.Small = true
			clusters[small] = c
			continue
		}
		merged := newCluster(append(clusters[small].members(), clusters[target].members()...))
		hi, lo := small, target
		if hi < lo {
			hi, lo = lo, hi
		}
		clusters = append(clusters[:hi], clusters[hi+1:]...)
		clusters[lo] = merged
		sortClusters(clusters)
	}
	return clusters
}

func sortClusters(clusters []Cluster) {
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].OrderIDs[0] < clusters[j].OrderIDs[0]
	})
}
