// Package synth derives the driver-facing itinerary from a route's ordered
// waypoint list. The itinerary is never persisted; it can be recomputed at
// any time from the waypoints and the current distance provider state.
package synth

import (
	"context"
	"fmt"
	"time"

	"routeplan/internal/distance"
	"routeplan/internal/geo"
	"routeplan/internal/model"
)

// Segment connects waypoint i to waypoint i+1.
type Segment struct {
	DistanceKm  float64             `json:"distanceKm"`
	DurationMin float64             `json:"durationMin"`
	Geometry    []geo.Point         `json:"geometry"`
	Provenance  distance.Provenance `json:"provenance"`
}

// Stop is a waypoint annotated with cumulative travel cost and ETA.
type Stop struct {
	Waypoint       model.Waypoint `json:"waypoint"`
	CumDistanceKm  float64        `json:"cumDistanceKm"`
	CumDurationMin float64        `json:"cumDurationMin"`
	ETA            time.Time      `json:"eta"`
}

type Itinerary struct {
	Stops           []Stop    `json:"stops"`
	Segments        []Segment `json:"segments"` // len(Segments) == len(Stops)-1
	DistanceKm      float64   `json:"distanceKm"`
	DurationMin     float64   `json:"durationMin"`
	UsedRoadNetwork bool      `json:"usedRoadNetwork"`
}

// Build computes per-waypoint cumulative distance, duration and estimated
// arrival, plus per-segment geometry (road polyline when available, the
// straight segment otherwise).
func Build(ctx context.Context, start time.Time, waypoints []model.Waypoint, provider distance.Provider) (Itinerary, error) {
	it := Itinerary{UsedRoadNetwork: true}
	if len(waypoints) == 0 {
		it.UsedRoadNetwork = false
		return it, nil
	}
	it.Stops = append(it.Stops, Stop{Waypoint: waypoints[0], ETA: start})
	for i := 0; i+1 < len(waypoints); i++ {
		a, b := waypoints[i], waypoints[i+1]
		res, err := provider.Pairwise(ctx, a.Location, b.Location)
		if err != nil {
			return Itinerary{}, fmt.Errorf("synth: segment %d: %w", i, err)
		}
		line, prov, err := provider.Geometry(ctx, []geo.Point{a.Location, b.Location})
		if err != nil {
			return Itinerary{}, fmt.Errorf("synth: segment %d geometry: %w", i, err)
		}
		if res.Provenance != distance.RoadNetwork || prov != distance.RoadNetwork {
			it.UsedRoadNetwork = false
		}
		it.DistanceKm += res.DistanceKm
		it.DurationMin += res.DurationMin
		it.Segments = append(it.Segments, Segment{
			DistanceKm:  res.DistanceKm,
			DurationMin: res.DurationMin,
			Geometry:    line,
			Provenance:  prov,
		})
		it.Stops = append(it.Stops, Stop{
			Waypoint:       b,
			CumDistanceKm:  it.DistanceKm,
			CumDurationMin: it.DurationMin,
			ETA:            start.Add(time.Duration(it.DurationMin * float64(time.Minute))),
		})
	}
	return it, nil
}
