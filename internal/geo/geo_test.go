package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// one degree of latitude is about 111.2 km
	d := HaversineKm(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	if math.Abs(d-111.19) > 0.5 {
		t.Fatalf("expected ~111.19 km, got %v", d)
	}
	if HaversineKm(Point{Lat: 40, Lon: -75}, Point{Lat: 40, Lon: -75}) != 0 {
		t.Fatalf("identical points should be zero distance")
	}
	// symmetric
	a, b := Point{Lat: 51.5, Lon: -0.12}, Point{Lat: 48.85, Lon: 2.35}
	if HaversineKm(a, b) != HaversineKm(b, a) {
		t.Fatalf("haversine should be symmetric")
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([]Point{{Lat: 0, Lon: 0}, {Lat: 2, Lon: 4}})
	if c.Lat != 1 || c.Lon != 2 {
		t.Fatalf("unexpected centroid %+v", c)
	}
	if (Centroid(nil) != Point{}) {
		t.Fatalf("empty centroid should be zero value")
	}
}

func TestPathKm(t *testing.T) {
	pts := []Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 2}}
	direct := HaversineKm(pts[0], pts[2])
	total := PathKm(pts)
	if math.Abs(total-direct) > 1e-9 {
		t.Fatalf("collinear equatorial path should equal direct distance: %v vs %v", total, direct)
	}
	if PathKm(pts[:1]) != 0 {
		t.Fatalf("single point path should be zero")
	}
}
