package cluster

import (
	"fmt"
	"reflect"
	"testing"

	"routeplan/internal/geo"
	"routeplan/internal/model"
)

func order(id string, lat, lon float64) model.Order {
	return model.Order{ID: id, Location: &geo.Point{Lat: lat, Lon: lon}, Status: model.OrderPending}
}

// one degree of latitude is ~111 km, so 0.001 degrees keeps points well
// inside a 2 km radius
func tightLine(n int, prefix string) []model.Order {
	out := make([]model.Order, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, order(fmt.Sprintf("%s%02d", prefix, i), 40.0+float64(i)*0.001, -75.0))
	}
	return out
}

func TestPartitionEveryRoutableOrderExactlyOnce(t *testing.T) {
	orders := append(tightLine(5, "a"), tightLine(4, "b")...)
	orders[3].Location = nil // unroutable
	res := Partition(orders, Params{MaxRadiusKm: 2, MinSize: 1, MaxSize: 10})

	seen := map[string]int{}
	for _, c := range res.Clusters {
		for _, id := range c.OrderIDs {
			seen[id]++
		}
	}
	for _, o := range orders {
		if o.Location == nil {
			if seen[o.ID] != 0 {
				t.Fatalf("unroutable order %s landed in a cluster", o.ID)
			}
			continue
		}
		if seen[o.ID] != 1 {
			t.Fatalf("order %s appears %d times, want exactly once", o.ID, seen[o.ID])
		}
	}
	if !reflect.DeepEqual(res.Unroutable, []string{"a03"}) {
		t.Fatalf("unexpected unroutable list %v", res.Unroutable)
	}
}

func TestPartitionSplitsSevenOrdersIntoFourAndThree(t *testing.T) {
	// seven orders in one dense neighborhood with min 3, max 5 must split
	// into clusters of 4 and 3
	orders := tightLine(7, "o")
	res := Partition(orders, Params{MaxRadiusKm: 2, MinSize: 3, MaxSize: 5})
	if len(res.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(res.Clusters))
	}
	sizes := []int{res.Clusters[0].Size(), res.Clusters[1].Size()}
	if !(sizes[0] == 4 && sizes[1] == 3 || sizes[0] == 3 && sizes[1] == 4) {
		t.Fatalf("expected sizes 4 and 3, got %v", sizes)
	}
}

func TestPartitionMergesUndersizeIntoNearest(t *testing.T) {
	// two orders near a group of three; union is 5 which fits max 6
	orders := tightLine(3, "a")
	orders = append(orders,
		order("b00", 40.05, -75.0), // ~5.5 km away: own radius group
		order("b01", 40.051, -75.0),
	)
	res := Partition(orders, Params{MaxRadiusKm: 2, MinSize: 3, MaxSize: 6})
	if len(res.Clusters) != 1 {
		t.Fatalf("expected merge into 1 cluster, got %d", len(res.Clusters))
	}
	if res.Clusters[0].Size() != 5 {
		t.Fatalf("expected merged size 5, got %d", res.Clusters[0].Size())
	}
	if res.Clusters[0].Small {
		t.Fatalf("merged cluster should not be flagged small")
	}
}

func TestPartitionFlagsSmallWhenMergeWouldOverflow(t *testing.T) {
	// a pair that cannot merge anywhere without exceeding max size
	orders := tightLine(5, "a")
	orders = append(orders,
		order("b00", 40.05, -75.0),
		order("b01", 40.051, -75.0),
	)
	res := Partition(orders, Params{MaxRadiusKm: 2, MinSize: 3, MaxSize: 5})
	var small *Cluster
	for i := range res.Clusters {
		if res.Clusters[i].Small {
			small = &res.Clusters[i]
		}
	}
	if small == nil {
		t.Fatalf("expected a small-flagged cluster, got %+v", res.Clusters)
	}
	if small.Size() != 2 {
		t.Fatalf("small cluster should keep its 2 orders, got %d", small.Size())
	}
}

func TestPartitionDeterministic(t *testing.T) {
	orders := append(tightLine(6, "x"), order("y00", 41.0, -75.0))
	p := Params{MaxRadiusKm: 2, MinSize: 2, MaxSize: 4}
	first := Partition(orders, p)
	for i := 0; i < 5; i++ {
		// shuffle input order; output must not change
		shuffled := append([]model.Order(nil), orders...)
		for j := range shuffled {
			k := (j + i + 1) % len(shuffled)
			shuffled[j], shuffled[k] = shuffled[k], shuffled[j]
		}
		again := Partition(shuffled, p)
		if !reflect.DeepEqual(clusterIDs(first), clusterIDs(again)) {
			t.Fatalf("partition not deterministic:\n%v\n%v", clusterIDs(first), clusterIDs(again))
		}
	}
}

func clusterIDs(r Result) [][]string {
	out := make([][]string, 0, len(r.Clusters))
	for _, c := range r.Clusters {
		out = append(out, c.OrderIDs)
	}
	return out
}

func TestPartitionAllUnroutable(t *testing.T) {
	res := Partition([]model.Order{{ID: "u1"}, {ID: "u0"}}, Params{MaxRadiusKm: 2, MinSize: 1, MaxSize: 5})
	if len(res.Clusters) != 0 {
		t.Fatalf("expected no clusters, got %d", len(res.Clusters))
	}
	if !reflect.DeepEqual(res.Unroutable, []string{"u0", "u1"}) {
		t.Fatalf("unroutable ids should sort ascending, got %v", res.Unroutable)
	}
}
