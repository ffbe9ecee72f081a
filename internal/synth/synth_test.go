package synth

import (
	"context"
	"math"
	"testing"
	"time"

	"routeplan/internal/distance"
	"routeplan/internal/geo"
	"routeplan/internal/model"
)

func waypoints() []model.Waypoint {
	return []model.Waypoint{
		{Kind: model.WaypointDepot, Seq: 0, Location: geo.Point{Lat: 0, Lon: 0}, RefID: "depot"},
		{Kind: model.WaypointDelivery, Seq: 1, Location: geo.Point{Lat: 0, Lon: 1}, RefID: "o1"},
		{Kind: model.WaypointDelivery, Seq: 2, Location: geo.Point{Lat: 0, Lon: 2}, RefID: "o2"},
	}
}

func TestBuildSegmentsAlignWithStops(t *testing.T) {
	start := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	it, err := Build(context.Background(), start, waypoints(), distance.NewEstimator(0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(it.Segments) != len(it.Stops)-1 {
		t.Fatalf("segment i must connect stop i to i+1: %d segments for %d stops", len(it.Segments), len(it.Stops))
	}
	if it.Stops[0].CumDistanceKm != 0 || !it.Stops[0].ETA.Equal(start) {
		t.Fatalf("first stop should start the clock: %+v", it.Stops[0])
	}
	// cumulative distance is monotone and sums the segments
	sum := 0.0
	for i, seg := range it.Segments {
		sum += seg.DistanceKm
		if math.Abs(it.Stops[i+1].CumDistanceKm-sum) > 1e-9 {
			t.Fatalf("stop %d cumulative %v, want %v", i+1, it.Stops[i+1].CumDistanceKm, sum)
		}
	}
	if math.Abs(it.DistanceKm-sum) > 1e-9 {
		t.Fatalf("itinerary total %v, want %v", it.DistanceKm, sum)
	}
	// ETA advances with cumulative duration
	wantETA := start.Add(time.Duration(it.Stops[2].CumDurationMin * float64(time.Minute)))
	if !it.Stops[2].ETA.Equal(wantETA) {
		t.Fatalf("last ETA %v, want %v", it.Stops[2].ETA, wantETA)
	}
}

func TestBuildDegradedProvenance(t *testing.T) {
	it, err := Build(context.Background(), time.Now(), waypoints(), distance.NewEstimator(0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if it.UsedRoadNetwork {
		t.Fatalf("estimator itinerary must report degraded accuracy")
	}
	for i, seg := range it.Segments {
		if seg.Provenance != distance.FallbackGeometric {
			t.Fatalf("segment %d provenance %s", i, seg.Provenance)
		}
		if len(seg.Geometry) != 2 {
			t.Fatalf("fallback geometry should be the straight segment, got %d points", len(seg.Geometry))
		}
	}
}

func TestBuildEmptyRoute(t *testing.T) {
	it, err := Build(context.Background(), time.Now(), nil, distance.NewEstimator(0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(it.Stops) != 0 || len(it.Segments) != 0 {
		t.Fatalf("empty waypoint list should produce an empty itinerary")
	}
}
